package builder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lucasew/mise-gettext-builder/internal/cmdrunner"
	"github.com/lucasew/mise-gettext-builder/internal/config"
	"github.com/lucasew/mise-gettext-builder/internal/gpg"
	"github.com/lucasew/mise-gettext-builder/internal/mirror"
	"github.com/lucasew/mise-gettext-builder/internal/sandbox"
	"github.com/lucasew/mise-gettext-builder/pkg/archive"
	"github.com/lucasew/mise-gettext-builder/pkg/logger"
)

// ErrArtifactMissing reports a build whose container exited successfully
// but did not leave the expected artifacts behind. Exit status alone is
// never trusted.
var ErrArtifactMissing = errors.New("expected build artifact missing")

// Builder runs single build jobs through their lifecycle: fetch into the
// sandbox, verify, hand off to the build container, then validate and
// collect the artifacts.
type Builder struct {
	cfg            config.BuildConfig
	fetcher        *mirror.Fetcher
	verifier       *gpg.Verifier
	sandboxes      *sandbox.Manager
	runner         cmdrunner.CommandRunner
	toolchains     *Toolchains
	mirrorOverride string
	logger         *logger.Logger
}

// New assembles a Builder from its collaborators
func New(cfg config.BuildConfig, fetcher *mirror.Fetcher, verifier *gpg.Verifier, runner cmdrunner.CommandRunner, toolchains *Toolchains, mirrorOverride string) *Builder {
	return &Builder{
		cfg:            cfg,
		fetcher:        fetcher,
		verifier:       verifier,
		sandboxes:      sandbox.NewManager(cfg),
		runner:         runner,
		toolchains:     toolchains,
		mirrorOverride: mirrorOverride,
		logger:         logger.NewLogger("builder"),
	}
}

// Toolchains exposes the active target table for planning
func (b *Builder) Toolchains() *Toolchains {
	return b.toolchains
}

// Run executes one job to a terminal state. The error return equals
// job.Err and exists only for caller convenience; sibling jobs are never
// affected by it.
func (b *Builder) Run(ctx context.Context, job *Job) error {
	toolchain, err := b.toolchains.Lookup(job.Target)
	if err != nil {
		job.fail(err)
		return job.Err
	}

	if err := ctx.Err(); err != nil {
		job.fail(err)
		return job.Err
	}

	job.StartedAt = time.Now()

	sb, err := b.sandboxes.Create(job.Version, job.Target, job.ID)
	if err != nil {
		job.fail(fmt.Errorf("sandbox: %w", err))
		return job.Err
	}
	job.Sandbox = sb
	defer func() {
		if err := sb.Cleanup(); err != nil {
			b.logger.WithFields(logger.Fields{
				"job":   job.Name(),
				"error": err,
			}).Warn("Sandbox cleanup failed")
		}
	}()

	log := b.logger.WithFields(logger.Fields{
		"job":    job.Name(),
		"job_id": job.ID.String(),
	})

	tarball, sig, err := b.fetchStage(ctx, job)
	if err != nil {
		job.fail(err)
		return job.Err
	}
	log.Info("Sources fetched")

	if err := b.verifyStage(ctx, job, tarball, sig); err != nil {
		job.fail(err)
		return job.Err
	}

	if err := b.buildStage(ctx, job, toolchain); err != nil {
		job.fail(err)
		return job.Err
	}
	log.Info("Container build finished")

	if err := b.packageStage(job); err != nil {
		job.fail(err)
		return job.Err
	}

	if err := job.advance(StatusSucceeded); err != nil {
		job.fail(err)
		return job.Err
	}
	job.FinishedAt = time.Now()
	log.WithFields(logger.Fields{
		"artifacts": len(job.Artifacts),
		"elapsed":   job.FinishedAt.Sub(job.StartedAt).Round(time.Second).String(),
	}).Info("Build succeeded")
	return nil
}

// fetchStage downloads the tarball, and the signature unless
// verification is skipped, into the job's sandbox.
func (b *Builder) fetchStage(ctx context.Context, job *Job) (string, string, error) {
	if err := job.advance(StatusFetching); err != nil {
		return "", "", err
	}

	tarball, err := b.fetcher.FetchTarball(ctx, job.Version, job.Sandbox.WorkDir)
	if err != nil {
		return "", "", err
	}

	if b.verifier.Mode() == gpg.ModeSkip {
		return tarball, "", nil
	}

	sig, err := b.fetcher.FetchSignature(ctx, job.Version, job.Sandbox.WorkDir)
	if err != nil {
		return "", "", err
	}
	return tarball, sig, nil
}

// verifyStage applies the configured signature policy
func (b *Builder) verifyStage(ctx context.Context, job *Job, tarball, sig string) error {
	if err := job.advance(StatusVerifying); err != nil {
		return err
	}
	return b.verifier.Verify(ctx, tarball, sig)
}

// buildStage hands the sandbox to the build container and captures its
// output for diagnosis on failure.
func (b *Builder) buildStage(ctx context.Context, job *Job, toolchain Toolchain) error {
	if err := job.advance(StatusBuilding); err != nil {
		return err
	}

	args := b.containerArgs(job, toolchain)
	out, err := b.runner.RunQuiet(ctx, b.cfg.Command, args...)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		job.Output = string(out)
		return fmt.Errorf("build container failed for %s: %w", job.Name(), err)
	}
	return nil
}

// containerArgs builds the container invocation. The collaborator is
// opaque: it receives the sandbox mounts and environment-style inputs
// and owes us the artifacts in /target.
func (b *Builder) containerArgs(job *Job, toolchain Toolchain) []string {
	env := []string{
		"GETTEXT_VERSION=" + job.Version,
		"BUILD_TARGET=" + job.Target,
		"MIRROR_OVERRIDE=" + b.mirrorOverride,
		"CONFIGURE_HOST=" + toolchain.Host,
		"CONFIGURE_BUILD=" + toolchain.Build,
		"CC=" + toolchain.CC,
		"CXX=" + toolchain.CXX,
		"CONFIGURE_EXTRA_ARGS=" + strings.Join(toolchain.ExtraArgs, " "),
	}

	args := []string{"run", "--rm"}
	for _, e := range env {
		args = append(args, "-e", e)
	}
	args = append(args,
		"-v", job.Sandbox.WorkDir+":/work",
		"-v", job.Sandbox.OutDir+":/target",
		b.cfg.Image,
	)
	return args
}

// packageStage checks that the container delivered exactly the expected
// artifacts and moves them out of the sandbox before it is torn down.
func (b *Builder) packageStage(job *Job) error {
	if err := job.advance(StatusPackaging); err != nil {
		return err
	}

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	names := []string{
		PlatformArtifactName(job.Version, job.Target),
		SourceArtifactName(job.Version),
	}

	for _, name := range names {
		src := filepath.Join(job.Sandbox.OutDir, name)

		if _, err := os.Stat(src); err != nil {
			return fmt.Errorf("%w: %s", ErrArtifactMissing, name)
		}
		if _, err := archive.Inspect(src); err != nil {
			return fmt.Errorf("%w: %s is not a valid archive: %v", ErrArtifactMissing, name, err)
		}

		dest := filepath.Join(b.cfg.OutputDir, name)
		if err := copyFile(src, dest); err != nil {
			return fmt.Errorf("failed to collect artifact %s: %w", name, err)
		}

		artifact, err := describeArtifact(name, dest)
		if err != nil {
			return err
		}
		job.Artifacts = append(job.Artifacts, artifact)
	}

	return nil
}

// describeArtifact records size and checksum for the summary
func describeArtifact(name, path string) (Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to open artifact %s: %w", name, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to stat artifact %s: %w", name, err)
	}

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return Artifact{}, fmt.Errorf("failed to checksum artifact %s: %w", name, err)
	}

	return Artifact{
		Name:   name,
		Path:   path,
		Size:   stat.Size(),
		SHA256: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// copyFile copies an artifact out of the sandbox. The write goes through
// a temp file and a rename: sibling jobs of one version both deliver the
// source artifact into the shared output dir, and the rename keeps the
// slower writer from corrupting the faster one.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), dst)
}
