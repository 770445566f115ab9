// ABOUTME: Main entry point for the regverify CLI application
// ABOUTME: Sets up the root command and executes the CLI
package main

import (
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/gillisandrew/regverify/internal/cmd"
	"github.com/gillisandrew/regverify/internal/cmd/auth"
	"github.com/gillisandrew/regverify/internal/cmd/list"
	"github.com/gillisandrew/regverify/internal/cmd/report"
	"github.com/gillisandrew/regverify/internal/cmd/run"
)

var (
	// Global flags
	settingsPath string
	verbose      bool
	quiet        bool

	// Build-time variables (injected via -ldflags)
	Version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "regverify",
	Short: "Registration lifecycle verifier for insights-client",
	Long: `Regverify drives the installed insights-client through register and
unregister cycles and checks the machine-id and sentinel files it leaves
behind. It is meant to run on a disposable host that is registered with
subscription-manager.

Each run writes a JSON report that can be attested, inspected and pushed to
an OCI registry.`,
	PersistentPreRun: func(command *cobra.Command, args []string) {
		configureLogger()
	},
}

// Commands read the context when they run, after flags are parsed
var cmdContext = &cmd.CommandContext{
	Logger: pterm.DefaultLogger.WithTime(false).WithLevel(pterm.LogLevelInfo).WithWriter(os.Stderr),
}

func init() {
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", "", "Path to settings file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging (debug level)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Enable quiet mode (warnings and errors only)")
	rootCmd.Version = Version
}

// configureLogger applies the parsed global flags to the shared command context
func configureLogger() {
	level := pterm.LogLevelInfo
	if quiet {
		level = pterm.LogLevelWarn
	} else if verbose {
		level = pterm.LogLevelDebug
	}

	// Configure logger to write to stderr to keep stdout clean
	cmdContext.Logger = pterm.DefaultLogger.WithTime(false).WithLevel(level).WithWriter(os.Stderr)

	cmdContext.SettingsPath = settingsPath
	cmdContext.Version = Version
}

func main() {
	rootCmd.AddCommand(run.NewRunCommand(cmdContext))
	rootCmd.AddCommand(list.NewListCommand(cmdContext))
	rootCmd.AddCommand(auth.NewAuthCommand(cmdContext))
	rootCmd.AddCommand(report.NewReportCommand(cmdContext))

	if err := rootCmd.Execute(); err != nil {
		cmdContext.Logger.Error("Command execution failed", cmdContext.Logger.Args("error", err))
		os.Exit(1)
	}
}
