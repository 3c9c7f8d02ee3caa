package sandbox

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/lucasew/mise-gettext-builder/internal/config"
	"github.com/lucasew/mise-gettext-builder/pkg/logger"
)

// Sandbox is the private working area of exactly one build job. Nothing
// else reads or writes it between Create and Cleanup.
type Sandbox struct {
	Root    string
	WorkDir string
	OutDir  string

	keep   bool
	logger *logger.Logger
}

// Manager creates and tears down build sandboxes under one root
type Manager struct {
	root      string
	minFreeMB uint64
	keep      bool
	logger    *logger.Logger
}

// NewManager builds a sandbox manager from build configuration
func NewManager(cfg config.BuildConfig) *Manager {
	return &Manager{
		root:      cfg.WorkDir,
		minFreeMB: cfg.MinFreeMB,
		keep:      cfg.KeepSandboxes,
		logger:    logger.NewLogger("sandbox"),
	}
}

// Create makes a fresh sandbox for one (version, target) job. The job ID
// keeps concurrent sandboxes for the same pair from colliding.
func (m *Manager) Create(version, target string, id uuid.UUID) (*Sandbox, error) {
	if err := os.MkdirAll(m.root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sandbox root %s: %w", m.root, err)
	}

	if err := m.checkFreeSpace(); err != nil {
		return nil, err
	}

	short := id.String()[:8]
	root := filepath.Join(m.root, fmt.Sprintf("%s-%s-%s", version, target, short))
	if err := os.Mkdir(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sandbox %s: %w", root, err)
	}

	sb := &Sandbox{
		Root:    root,
		WorkDir: filepath.Join(root, "work"),
		OutDir:  filepath.Join(root, "out"),
		keep:    m.keep,
		logger:  m.logger,
	}

	for _, dir := range []string{sb.WorkDir, sb.OutDir} {
		if err := os.Mkdir(dir, 0755); err != nil {
			os.RemoveAll(root)
			return nil, fmt.Errorf("failed to create sandbox dir %s: %w", dir, err)
		}
	}

	m.logger.WithFields(logger.Fields{
		"sandbox": root,
	}).Debug("Created sandbox")
	return sb, nil
}

// checkFreeSpace rejects new sandboxes when the filesystem under the
// root is close to full, before any download starts.
func (m *Manager) checkFreeSpace() error {
	if m.minFreeMB == 0 {
		return nil
	}

	var st unix.Statfs_t
	if err := unix.Statfs(m.root, &st); err != nil {
		return fmt.Errorf("failed to stat filesystem of %s: %w", m.root, err)
	}

	freeMB := st.Bavail * uint64(st.Bsize) / (1 << 20)
	if freeMB < m.minFreeMB {
		return fmt.Errorf("not enough disk space under %s: %d MB free, %d MB required", m.root, freeMB, m.minFreeMB)
	}
	return nil
}

// Cleanup removes the sandbox. With keep_sandboxes configured it leaves
// the directory behind for inspection and only logs its location.
func (s *Sandbox) Cleanup() error {
	if s.keep {
		s.logger.WithFields(logger.Fields{
			"sandbox": s.Root,
		}).Info("Keeping sandbox for inspection")
		return nil
	}
	return os.RemoveAll(s.Root)
}
