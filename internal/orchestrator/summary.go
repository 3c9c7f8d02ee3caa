package orchestrator

import (
	"fmt"
	"io"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/lucasew/mise-gettext-builder/internal/builder"
)

// Summary is the machine-readable run report, written as YAML for CI
// consumers.
type Summary struct {
	DryRun   bool             `yaml:"dry_run,omitempty"`
	Versions []VersionSummary `yaml:"versions"`
}

// VersionSummary reports one version's outcome
type VersionSummary struct {
	Version   string          `yaml:"version"`
	Published bool            `yaml:"published"`
	ReleaseID int64           `yaml:"release_id,omitempty"`
	Error     string          `yaml:"error,omitempty"`
	Aborted   bool            `yaml:"aborted,omitempty"`
	Targets   []TargetSummary `yaml:"targets"`
}

// TargetSummary reports one build job's outcome
type TargetSummary struct {
	Target    string             `yaml:"target"`
	Status    string             `yaml:"status"`
	Error     string             `yaml:"error,omitempty"`
	Artifacts []builder.Artifact `yaml:"artifacts,omitempty"`
}

// Summarize flattens a run result into its report form
func Summarize(r *Result) *Summary {
	s := &Summary{DryRun: r.DryRun}

	for _, vr := range r.Versions {
		vs := VersionSummary{
			Version:   vr.Version,
			Published: vr.Published != nil,
			Aborted:   vr.Aborted,
		}
		if vr.Published != nil {
			vs.ReleaseID = vr.Published.ID
		}
		if vr.PublishErr != nil {
			vs.Error = vr.PublishErr.Error()
		}

		for _, job := range vr.Jobs {
			ts := TargetSummary{
				Target:    job.Target,
				Status:    string(job.Status),
				Artifacts: job.Artifacts,
			}
			if job.Err != nil {
				ts.Error = job.Err.Error()
			}
			vs.Targets = append(vs.Targets, ts)
		}

		s.Versions = append(s.Versions, vs)
	}

	return s
}

// WriteYAML writes the report as YAML
func (s *Summary) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(s)
}

// WriteTable writes the human-readable report
func (s *Summary) WriteTable(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tTARGET\tSTATUS\tDETAIL")

	for _, vs := range s.Versions {
		for _, ts := range vs.Targets {
			detail := ""
			switch {
			case ts.Error != "":
				detail = ts.Error
			case len(ts.Artifacts) > 0:
				detail = fmt.Sprintf("%d artifacts", len(ts.Artifacts))
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", vs.Version, ts.Target, ts.Status, detail)
		}

		switch {
		case vs.Aborted:
			fmt.Fprintf(tw, "%s\t-\taborted\trun cancelled before publish\n", vs.Version)
		case vs.Published:
			fmt.Fprintf(tw, "%s\t-\tpublished\trelease %d\n", vs.Version, vs.ReleaseID)
		case vs.Error != "":
			fmt.Fprintf(tw, "%s\t-\tnot published\t%s\n", vs.Version, vs.Error)
		}
	}

	tw.Flush()
}
