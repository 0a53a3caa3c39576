package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "painscan",
	Short: "Find the code that will hurt you later, and how much it will hurt",
	Long: `painscan scans a public GitHub or GitLab repository for code-quality and
security issues, explains each one with a "future pain" timeline, and
compiles a prioritized remediation roadmap.

Get started:
  painscan onboard    Interactive setup wizard
  painscan scan       Scan a repository and print the roadmap
  painscan serve      Start the HTTP API with live progress streaming
  painscan watch      Follow a running scan in the terminal
  painscan rules      List the detection rules`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ~/.painscan/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable verbose/debug output")

	rootCmd.Version = Version
	rootCmd.AddCommand(
		onboardCmd,
		scanCmd,
		serveCmd,
		watchCmd,
		rulesCmd,
		configCmd,
	)
}

func initConfig() {
	// A local .env is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Ignoring unreadable .env file", "error", err)
	}
	if verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
		slog.Debug("Verbose logging enabled")
	}
}
