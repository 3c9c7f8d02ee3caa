package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lucasew/mise-gettext-builder/internal/config"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	Cfg       *config.Config
	Version   string
)

var RootCmd = &cobra.Command{
	Use:   "gettext-builder",
	Short: "Build and publish GNU gettext releases",
	Long: `gettext-builder downloads gettext release tarballs from the GNU
mirrors, verifies their signatures, builds them for every configured
target inside a container toolchain and publishes the resulting
tarballs as release assets.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute(version string) error {
	Version = version
	return RootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides config file)")
	RootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format, text or json (overrides config file)")
}

func initConfig() {
	var err error

	// Load configuration
	Cfg, err = config.LoadConfig(cfgFile)
	if err != nil {
		fmt.Printf("Fatal: Configuration could not be loaded: %v\n", err)
		os.Exit(1)
	}

	// Command line flags win over the config file
	if logLevel != "" {
		Cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		Cfg.Logging.Format = logFormat
	}

	if err := config.InitLogger(&Cfg.Logging); err != nil {
		fmt.Printf("Fatal: Logger could not be initialized: %v\n", err)
		os.Exit(1)
	}
}
