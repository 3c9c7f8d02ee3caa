package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lucasew/mise-gettext-builder/internal/cmdrunner"
	"github.com/lucasew/mise-gettext-builder/internal/orchestrator"
	"github.com/lucasew/mise-gettext-builder/pkg/logger"
)

var (
	buildTargets       []string
	buildConcurrency   int
	buildDryRun        bool
	buildSkipPublish   bool
	buildMirror        string
	buildGPGMode       string
	buildOutputDir     string
	buildSummaryFile   string
	buildKeepSandboxes bool
	buildOverwrite     bool
)

var BuildCmd = &cobra.Command{
	Use:   "build [version...]",
	Short: "Build and publish gettext releases",
	Long: `Build the given gettext versions, or every upstream version that has
no published release yet, and upload the artifacts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.NewLogger("main")

		applyBuildFlags()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		o, err := orchestrator.New(Cfg, orchestrator.Options{
			Versions:       args,
			Targets:        buildTargets,
			DryRun:         buildDryRun,
			SkipPublish:    buildSkipPublish,
			MirrorOverride: buildMirror,
		}, cmdrunner.NewCommandsRunner())
		if err != nil {
			return err
		}

		result, err := o.Run(ctx)
		if err != nil {
			return err
		}

		summary := orchestrator.Summarize(result)
		summary.WriteTable(os.Stdout)

		if buildSummaryFile != "" {
			if err := writeSummaryFile(summary, buildSummaryFile); err != nil {
				return err
			}
			log.Infof("Summary written to %s", buildSummaryFile)
		}

		return result.Err()
	},
}

// applyBuildFlags overrides the loaded configuration with the build
// command's flags
func applyBuildFlags() {
	if buildConcurrency > 0 {
		Cfg.Build.Concurrency = buildConcurrency
	}
	if buildGPGMode != "" {
		Cfg.GPG.Mode = buildGPGMode
	}
	if buildOutputDir != "" {
		Cfg.Build.OutputDir = buildOutputDir
	}
	if buildKeepSandboxes {
		Cfg.Build.KeepSandboxes = true
	}
	if buildOverwrite {
		Cfg.Release.Overwrite = true
	}
}

func writeSummaryFile(s *orchestrator.Summary, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return s.WriteYAML(f)
}

func init() {
	RootCmd.AddCommand(BuildCmd)
	BuildCmd.Flags().StringArrayVarP(&buildTargets, "target", "t", nil, "build target, repeatable (default: config targets)")
	BuildCmd.Flags().IntVarP(&buildConcurrency, "concurrency", "j", 0, "concurrent build jobs (overrides config file)")
	BuildCmd.Flags().BoolVar(&buildDryRun, "dry-run", false, "plan only, build nothing")
	BuildCmd.Flags().BoolVar(&buildSkipPublish, "skip-publish", false, "build but do not publish releases")
	BuildCmd.Flags().StringVar(&buildMirror, "mirror", "", "mirror URL tried before the configured ones")
	BuildCmd.Flags().StringVar(&buildGPGMode, "gpg-mode", "", "signature policy: strict, warn or skip (overrides config file)")
	BuildCmd.Flags().StringVarP(&buildOutputDir, "output-dir", "o", "", "artifact output directory (overrides config file)")
	BuildCmd.Flags().StringVar(&buildSummaryFile, "summary-file", "", "write a YAML run summary to this file")
	BuildCmd.Flags().BoolVar(&buildKeepSandboxes, "keep-sandboxes", false, "keep build sandboxes for debugging")
	BuildCmd.Flags().BoolVar(&buildOverwrite, "overwrite", false, "replace existing release assets")
}
