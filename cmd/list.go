package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasew/mise-gettext-builder/internal/cmdrunner"
	"github.com/lucasew/mise-gettext-builder/internal/orchestrator"
)

var listMissingOnly bool

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "List upstream gettext versions",
	Long:  `List every version available on the GNU mirrors and whether it already has a published release.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		o, err := orchestrator.New(Cfg, orchestrator.Options{}, cmdrunner.NewCommandsRunner())
		if err != nil {
			return err
		}

		entries, err := o.List(ctx, listMissingOnly)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tPUBLISHED")
		for _, e := range entries {
			published := "no"
			if e.Published {
				published = "yes"
			}
			fmt.Fprintf(tw, "%s\t%s\n", e.Version, published)
		}
		return tw.Flush()
	},
}

func init() {
	RootCmd.AddCommand(ListCmd)
	ListCmd.Flags().BoolVar(&listMissingOnly, "missing", false, "only versions without a release")
}
