package gpg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/lucasew/mise-gettext-builder/internal/cmdrunner"
	"github.com/lucasew/mise-gettext-builder/internal/config"
	"github.com/lucasew/mise-gettext-builder/pkg/logger"
)

var (
	// ErrSignatureInvalid reports that gpg rejected the detached
	// signature for a tarball.
	ErrSignatureInvalid = errors.New("signature verification failed")

	// ErrKeyImportFailed reports that no keyserver delivered the trusted
	// signing keys. It is kept distinct from ErrSignatureInvalid so a
	// network problem is never read as a tampered release.
	ErrKeyImportFailed = errors.New("trusted key import failed")
)

// Mode selects how verification failures are treated
type Mode string

const (
	// ModeStrict fails the build on any verification problem
	ModeStrict Mode = "strict"
	// ModeWarn logs verification problems and continues
	ModeWarn Mode = "warn"
	// ModeSkip performs no signature handling at all
	ModeSkip Mode = "skip"
)

// ParseMode validates a mode string from configuration or flags
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeStrict, ModeWarn, ModeSkip:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("invalid gpg mode %q: must be strict, warn or skip", s)
	}
}

// maxCommandOutput bounds how much gpg output is carried in errors
const maxCommandOutput = 2048

// Verifier checks detached signatures with an external gpg binary.
// Keys are imported into a throwaway home directory per verification so
// the host keyring is never touched.
type Verifier struct {
	cfg    config.GPGConfig
	mode   Mode
	runner cmdrunner.CommandRunner
	logger *logger.Logger
}

// NewVerifier builds a Verifier. The gpg binary must resolve on PATH
// unless the mode is skip.
func NewVerifier(cfg config.GPGConfig, runner cmdrunner.CommandRunner) (*Verifier, error) {
	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}

	if mode != ModeSkip {
		if _, err := runner.LookPath(cfg.Binary); err != nil {
			return nil, fmt.Errorf("gpg binary %q not found: %w", cfg.Binary, err)
		}
	}

	return &Verifier{
		cfg:    cfg,
		mode:   mode,
		runner: runner,
		logger: logger.NewLogger("gpg"),
	}, nil
}

// Mode returns the configured verification mode
func (v *Verifier) Mode() Mode {
	return v.mode
}

// Verify checks tarball against its detached signature, applying the
// configured mode. Skip mode returns immediately without touching gpg
// or any keyserver. Warn mode downgrades failures to log warnings.
func (v *Verifier) Verify(ctx context.Context, tarball, sig string) error {
	if v.mode == ModeSkip {
		return nil
	}

	err := v.verifyDetached(ctx, tarball, sig)
	if err == nil {
		v.logger.WithFields(logger.Fields{
			"tarball": tarball,
		}).Info("Signature verified")
		return nil
	}

	if v.mode == ModeWarn {
		v.logger.WithFields(logger.Fields{
			"tarball": tarball,
			"error":   err,
		}).Warn("Signature verification failed, continuing in warn mode")
		return nil
	}

	return err
}

// verifyDetached imports the trusted keys into a fresh homedir and runs
// the actual gpg verification.
func (v *Verifier) verifyDetached(ctx context.Context, tarball, sig string) error {
	home, err := os.MkdirTemp("", "gettext-builder-gpg-*")
	if err != nil {
		return fmt.Errorf("failed to create gpg home: %w", err)
	}
	defer os.RemoveAll(home)

	if err := os.Chmod(home, 0700); err != nil {
		return fmt.Errorf("failed to restrict gpg home permissions: %w", err)
	}

	if err := v.importKeys(ctx, home); err != nil {
		return err
	}

	args := []string{
		"--batch", "--no-tty",
		"--homedir", home,
		"--trust-model", "always",
		"--verify", sig, tarball,
	}
	out, err := v.runner.RunQuiet(ctx, v.cfg.Binary, args...)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w: %s", tarball, ErrSignatureInvalid, trimOutput(out))
	}

	return nil
}

// importKeys fetches the trusted signing keys, trying each keyserver in
// order until one delivers all of them.
func (v *Verifier) importKeys(ctx context.Context, home string) error {
	var lastErr error
	var lastOut []byte

	for _, ks := range v.cfg.Keyservers {
		args := []string{
			"--batch", "--no-tty",
			"--homedir", home,
			"--keyserver", ks,
			"--recv-keys",
		}
		args = append(args, v.cfg.KeyIDs...)

		out, err := v.runner.RunQuiet(ctx, v.cfg.Binary, args...)
		if err == nil {
			v.logger.WithFields(logger.Fields{
				"keyserver": ks,
				"keys":      len(v.cfg.KeyIDs),
			}).Debug("Imported trusted keys")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		v.logger.WithFields(logger.Fields{
			"keyserver": ks,
			"error":     err,
		}).Warn("Keyserver did not deliver trusted keys")
		lastErr = err
		lastOut = out
	}

	return fmt.Errorf("keys %s: %w: %v: %s",
		strings.Join(v.cfg.KeyIDs, ","), ErrKeyImportFailed, lastErr, trimOutput(lastOut))
}

func trimOutput(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > maxCommandOutput {
		s = s[:maxCommandOutput] + "..."
	}
	return s
}
