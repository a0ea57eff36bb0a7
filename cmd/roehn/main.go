// Roehn is a command line client for Roehn Wizard home-automation processors.
//
// It discovers processors and their modules over the HSN_S-UDP protocol,
// drives loads and shades through the processor's text command port, and
// follows keypad button events. The serve command turns it into a bridge
// that republishes button events over WebSocket and MQTT.
//
// Usage:
//
//	roehn [command] [flags]
//
// See 'roehn --help' for available commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/muurk/roehn/internal/command"
	"github.com/muurk/roehn/internal/config"
	"github.com/muurk/roehn/internal/logging"
	"github.com/muurk/roehn/internal/ui"
	"github.com/muurk/roehn/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	logging.Sync()
	if err != nil {
		reportError(err)
		os.Exit(1)
	}
}

// reportError prints processor failures with troubleshooting advice and
// everything else as a single line
func reportError(err error) {
	var cmdErr *command.Error
	switch {
	case jsonOutput || !errors.As(err, &cmdErr):
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	case command.IsValidationError(err):
		fmt.Fprintf(os.Stderr, "Error: %s\n", command.ShortMessage(err))
	default:
		ui.NewPrinter(os.Stderr).PrintFailure("Command failed", err)
	}
}

// Global flags
var (
	configPath string
	logLevel   string
	jsonOutput bool
	outPath    string
)

// registry is the loaded configuration file, available to every command
var registry *config.Registry

var rootCmd = &cobra.Command{
	Use:   "roehn",
	Short: "Roehn Wizard processor utility",
	Long: `A command line client for Roehn Wizard home-automation processors.

Discovers processors and modules over UDP (port 2006), sends load and shade
commands over the text command port (23), and follows keypad button events.

Processors can be addressed by IP or by a name saved with 'roehn config add'.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}
		registry = reg

		level := logLevel
		if level == "" && os.Getenv(logging.LogLevelEnvVar) == "" {
			level = registry.Preferences.LogLevel
		}
		return logging.Initialize(level)
	},
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $"+config.ConfigEnvVar+" or the user config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); default: $"+logging.LogLevelEnvVar)
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output JSON")
	rootCmd.PersistentFlags().StringVar(&outPath, "out", "", "Write JSON output to file (with --json)")

	rootCmd.AddCommand(versionCmd)
}

func loadRegistry() (*config.Registry, error) {
	var (
		reg *config.Registry
		err error
	)
	if configPath != "" {
		reg, err = config.LoadFile(configPath)
	} else {
		reg, err = config.LoadRegistry()
	}
	if err != nil {
		return nil, err
	}
	if reg.Preferences == nil {
		reg.Preferences = &config.Preferences{}
	}
	return reg, nil
}

func saveRegistry() error {
	if configPath != "" {
		return registry.SaveFile(configPath)
	}
	return registry.Save()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if jsonOutput {
			_ = emitJSON(cmd, version.Get())
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "roehn %s\n", strings.TrimSpace(version.Full()))
	},
}
