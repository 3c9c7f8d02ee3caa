package builder

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lucasew/mise-gettext-builder/internal/sandbox"
)

// Status is the lifecycle state of one build job
type Status string

const (
	StatusPending   Status = "pending"
	StatusFetching  Status = "fetching"
	StatusVerifying Status = "verifying"
	StatusBuilding  Status = "building"
	StatusPackaging Status = "packaging"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// transitions is the forward-only state machine of a job. Failed is
// reachable from every non-terminal state, nothing leaves a terminal
// state.
var transitions = map[Status][]Status{
	StatusPending:   {StatusFetching, StatusFailed},
	StatusFetching:  {StatusVerifying, StatusFailed},
	StatusVerifying: {StatusBuilding, StatusFailed},
	StatusBuilding:  {StatusPackaging, StatusFailed},
	StatusPackaging: {StatusSucceeded, StatusFailed},
}

// CanTransition reports whether a status change is allowed
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status is an end state
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Artifact is one file produced by a successful build
type Artifact struct {
	Name   string `yaml:"name"`
	Path   string `yaml:"path"`
	Size   int64  `yaml:"size"`
	SHA256 string `yaml:"sha256"`
}

// Job is one (version, target) build. A job owns its sandbox for its
// whole lifetime and never retries: a failure is terminal and the
// orchestrator decides what it means for the version.
type Job struct {
	ID      uuid.UUID
	Version string
	Target  string

	Status    Status
	Sandbox   *sandbox.Sandbox
	Artifacts []Artifact

	// Output carries the collaborator's combined output when the build
	// stage failed, for diagnosis.
	Output string
	Err    error

	StartedAt  time.Time
	FinishedAt time.Time
}

// NewJob creates a pending job for a version and target
func NewJob(version, target string) *Job {
	return &Job{
		ID:      uuid.New(),
		Version: version,
		Target:  target,
		Status:  StatusPending,
	}
}

// Name identifies the job in logs and summaries
func (j *Job) Name() string {
	return fmt.Sprintf("%s/%s", j.Version, j.Target)
}

// advance moves the job to the next lifecycle state
func (j *Job) advance(to Status) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("invalid job transition %s -> %s for %s", j.Status, to, j.Name())
	}
	j.Status = to
	return nil
}

// fail marks the job failed with its cause. Terminal states stick.
func (j *Job) fail(err error) {
	if j.Status.Terminal() {
		return
	}
	j.Status = StatusFailed
	j.Err = err
	j.FinishedAt = time.Now()
}

// PlatformArtifactName is the deterministic per-target artifact name
func PlatformArtifactName(version, target string) string {
	return fmt.Sprintf("%s-%s.tar.gz", version, target)
}

// SourceArtifactName is the deterministic source artifact name
func SourceArtifactName(version string) string {
	return fmt.Sprintf("%s-src.tar.gz", version)
}
