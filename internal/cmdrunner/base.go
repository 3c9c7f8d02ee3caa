package cmdrunner

import (
	"context"
	"os/exec"

	"github.com/lucasew/mise-gettext-builder/pkg/logger"
)

// CommandRunner abstracts external process execution so the gpg and
// container collaborators can be faked in tests.
type CommandRunner interface {
	Run(ctx context.Context, cmd string, args ...string) error
	RunWithOutput(ctx context.Context, cmd string, args ...string) ([]byte, error)
	RunQuiet(ctx context.Context, cmd string, args ...string) ([]byte, error)
	RunAndTrimmedOutput(ctx context.Context, cmd string, args ...string) (string, error)
	LookPath(name string) (string, error)
}

type CommandsRunner struct {
	logger *logger.Logger
}

func NewCommandsRunner() *CommandsRunner {
	return &CommandsRunner{logger: logger.NewLogger("command_runner")}
}

// LookPath resolves a binary on PATH
func (r *CommandsRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

var _ CommandRunner = (*CommandsRunner)(nil)
