package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lucasew/mise-gettext-builder/internal/builder"
	"github.com/lucasew/mise-gettext-builder/internal/cmdrunner"
	"github.com/lucasew/mise-gettext-builder/internal/config"
	"github.com/lucasew/mise-gettext-builder/internal/gpg"
	"github.com/lucasew/mise-gettext-builder/internal/mirror"
	"github.com/lucasew/mise-gettext-builder/internal/release"
	"github.com/lucasew/mise-gettext-builder/pkg/helper"
	"github.com/lucasew/mise-gettext-builder/pkg/logger"
	"github.com/lucasew/mise-gettext-builder/pkg/versions"
)

// Options are the per-run inputs from the command line
type Options struct {
	// Versions to build. Empty means build everything upstream has that
	// the release repo is missing.
	Versions []string
	// Targets restricts the configured target list when non-empty
	Targets []string
	// DryRun plans the work set without executing anything
	DryRun bool
	// SkipPublish keeps artifacts local and never contacts the release
	// host for publishing
	SkipPublish bool
	// MirrorOverride is consulted before the configured mirrors
	MirrorOverride string
}

// VersionResult collects the outcome of one version's jobs
type VersionResult struct {
	Version   string
	Jobs      []*builder.Job
	Published *release.Release
	// PublishErr reports why the version was not published, including
	// ErrNothingToPublish when every target failed
	PublishErr error
	// Aborted marks a version whose publish step was suppressed by
	// cancellation
	Aborted bool
}

// Succeeded returns the jobs that built successfully
func (vr *VersionResult) Succeeded() []*builder.Job {
	var out []*builder.Job
	for _, j := range vr.Jobs {
		if j.Status == builder.StatusSucceeded {
			out = append(out, j)
		}
	}
	return out
}

// Result is the outcome of a whole run
type Result struct {
	Versions []*VersionResult
	DryRun   bool
}

// Err distills the run into the process exit decision: any requested
// version ending with zero successful target builds fails the run, as
// does any publish error or an aborted run. Partial target failures on
// a version that still published do not.
func (r *Result) Err() error {
	if r.DryRun {
		return nil
	}

	var problems []string
	for _, vr := range r.Versions {
		if vr.Aborted {
			problems = append(problems, fmt.Sprintf("%s: aborted", vr.Version))
			continue
		}
		if len(vr.Succeeded()) == 0 {
			problems = append(problems, fmt.Sprintf("%s: no successful target builds", vr.Version))
			continue
		}
		if vr.PublishErr != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", vr.Version, vr.PublishErr))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("run failed: %s", strings.Join(problems, "; "))
}

// Orchestrator plans and executes build runs
type Orchestrator struct {
	cfg     *config.Config
	opts    Options
	targets []string

	fetcher   *mirror.Fetcher
	builder   *builder.Builder
	client    *release.Client
	publisher *release.Publisher
	logger    *logger.Logger
}

// New wires the orchestrator's collaborators. Target names are
// validated here, before anything is downloaded or created.
func New(cfg *config.Config, opts Options, runner cmdrunner.CommandRunner) (*Orchestrator, error) {
	targets := opts.Targets
	if len(targets) == 0 {
		targets = cfg.Build.Targets
	}

	toolchains, err := builder.LoadToolchains(cfg.Build.ToolchainsFile)
	if err != nil {
		return nil, err
	}
	if err := toolchains.Validate(targets); err != nil {
		return nil, err
	}

	fetcher := mirror.NewFetcher(cfg.Fetch, opts.MirrorOverride)

	verifier, err := gpg.NewVerifier(cfg.GPG, runner)
	if err != nil {
		return nil, err
	}

	client := release.NewClient(cfg.Release)

	return &Orchestrator{
		cfg:       cfg,
		opts:      opts,
		targets:   targets,
		fetcher:   fetcher,
		builder:   builder.New(cfg.Build, fetcher, verifier, runner, toolchains, opts.MirrorOverride),
		client:    client,
		publisher: release.NewPublisher(client),
		logger:    logger.NewLogger("orchestrator"),
	}, nil
}

// workSet decides which versions this run builds. Explicit versions are
// taken as given; otherwise the upstream listing is diffed against the
// existing release tags and the backlog is built oldest first.
func (o *Orchestrator) workSet(ctx context.Context) ([]string, error) {
	if len(o.opts.Versions) > 0 {
		seen := make(map[string]struct{}, len(o.opts.Versions))
		var vs []string
		for _, v := range o.opts.Versions {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			vs = append(vs, v)
		}
		return vs, nil
	}

	upstream, err := o.fetcher.ListVersions(ctx)
	if err != nil {
		return nil, err
	}

	existing, err := o.client.ListTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list existing releases: %w", err)
	}

	missing := versions.Missing(upstream, existing)
	o.logger.WithFields(logger.Fields{
		"upstream": len(upstream),
		"existing": len(existing),
		"missing":  len(missing),
	}).Info("Computed work set")
	return missing, nil
}

// Run executes the whole flow: plan, build, publish, report
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	workSet, err := o.workSet(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{DryRun: o.opts.DryRun}
	for _, v := range workSet {
		vr := &VersionResult{Version: v}
		for _, t := range o.targets {
			vr.Jobs = append(vr.Jobs, builder.NewJob(v, t))
		}
		result.Versions = append(result.Versions, vr)
	}

	if len(result.Versions) == 0 {
		o.logger.Info("Nothing to build, all upstream versions are published")
		return result, nil
	}

	if o.opts.DryRun {
		return result, nil
	}

	o.execute(ctx, result)
	return result, nil
}

// execute fans the jobs out over a bounded worker pool. Jobs of all
// versions share the pool; each version publishes as soon as its own
// jobs are terminal.
func (o *Orchestrator) execute(ctx context.Context, result *Result) {
	sem := make(chan struct{}, o.cfg.Build.Concurrency)

	var wg sync.WaitGroup
	for _, vr := range result.Versions {
		wg.Add(1)
		go func(vr *VersionResult) {
			defer wg.Done()
			defer helper.RecoverPanic(o.logger, "version-"+vr.Version)
			o.runVersion(ctx, vr, sem)
		}(vr)
	}
	wg.Wait()
}

// runVersion drives one version's jobs to terminal states, then its
// publish gate.
func (o *Orchestrator) runVersion(ctx context.Context, vr *VersionResult, sem chan struct{}) {
	var jobs sync.WaitGroup
	for _, job := range vr.Jobs {
		jobs.Add(1)
		go func(job *builder.Job) {
			defer jobs.Done()
			defer helper.RecoverPanic(o.logger, "job-"+job.Name())

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
			}

			// A cancelled context fails the job fast inside Run.
			if err := o.builder.Run(ctx, job); err != nil {
				o.logger.WithFields(logger.Fields{
					"job":   job.Name(),
					"error": err,
				}).Error("Build job failed")
			}
		}(job)
	}
	jobs.Wait()

	if ctx.Err() != nil {
		vr.Aborted = true
		o.logger.WithFields(logger.Fields{
			"version": vr.Version,
		}).Warn("Run cancelled, version not published")
		return
	}

	if o.opts.SkipPublish {
		return
	}

	rel, err := o.publisher.Publish(ctx, vr.Version, o.uploads(vr), o.releaseNotes(vr))
	if err != nil {
		vr.PublishErr = err
		if errors.Is(err, release.ErrNothingToPublish) {
			o.logger.WithFields(logger.Fields{
				"version": vr.Version,
			}).Error("No successful builds, nothing to publish")
		} else {
			o.logger.WithFields(logger.Fields{
				"version": vr.Version,
				"error":   err,
			}).Error("Publishing failed")
		}
		return
	}
	vr.Published = rel
}

// uploads collects the artifacts of the version's successful jobs. The
// source artifact comes out of every successful job and is uploaded
// once.
func (o *Orchestrator) uploads(vr *VersionResult) []release.Upload {
	seen := make(map[string]struct{})
	var ups []release.Upload
	for _, job := range vr.Succeeded() {
		for _, a := range job.Artifacts {
			if _, ok := seen[a.Name]; ok {
				continue
			}
			seen[a.Name] = struct{}{}
			ups = append(ups, release.Upload{Name: a.Name, Path: a.Path})
		}
	}

	sort.Slice(ups, func(i, j int) bool { return ups[i].Name < ups[j].Name })
	return ups
}

// releaseNotes summarizes the per-target outcomes for the release body
func (o *Orchestrator) releaseNotes(vr *VersionResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated build of gettext %s.\n\n", vr.Version)
	for _, job := range vr.Jobs {
		fmt.Fprintf(&b, "- %s: %s\n", job.Target, job.Status)
	}
	return b.String()
}
