package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/roehn/internal/client"
	"github.com/muurk/roehn/internal/config"
	"github.com/muurk/roehn/internal/resources"
	"github.com/muurk/roehn/internal/ui"
)

// Connection flags shared by processor commands. They override the
// preferences in the config file only when set on the command line.
var (
	udpPort         int
	udpTimeout      time.Duration
	probes          int
	maxPages        int
	tcpPort         int
	responseTimeout time.Duration
	resourcesPath   string
)

func addUDPFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&udpPort, "port", 2006, "UDP port")
	cmd.Flags().DurationVar(&udpTimeout, "timeout", time.Second, "Reply window per probe or page")
	cmd.Flags().IntVar(&probes, "probes", 2, "Number of request attempts")
	cmd.Flags().IntVar(&maxPages, "max-pages", 32, "Safety cap on device pagination")
}

func addTCPFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&tcpPort, "tcp-port", 23, "Text command port")
	cmd.Flags().DurationVar(&responseTimeout, "response-timeout", 350*time.Millisecond, "Reply window per text command")
}

func addResourcesFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&resourcesPath, "resources", "", "Roehn Wizard installation or driver bundle directory")
}

// resolveProcessor maps a name or host argument to a processor entry
func resolveProcessor(arg string) *config.Processor {
	return registry.Resolve(arg)
}

// clientConfig builds the client settings for p from defaults, config file
// preferences and command line flags, in that order.
func clientConfig(cmd *cobra.Command, p *config.Processor) (client.Config, error) {
	cfg := client.DefaultConfig(p.Host)
	prefs := registry.Preferences

	if p.UDPPort > 0 {
		cfg.UDPPort = p.UDPPort
	}
	if p.TCPPort > 0 {
		cfg.TCPPort = p.TCPPort
	}
	if prefs.Timeout > 0 {
		cfg.Timeout = prefs.Timeout
	}
	if prefs.Probes > 0 {
		cfg.Probes = prefs.Probes
	}
	if prefs.MaxPages > 0 {
		cfg.MaxPages = prefs.MaxPages
	}
	if prefs.ResponseTimeout > 0 {
		cfg.ResponseTimeout = prefs.ResponseTimeout
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.UDPPort = udpPort
	}
	if flags.Changed("timeout") {
		cfg.Timeout = udpTimeout
	}
	if flags.Changed("probes") {
		cfg.Probes = probes
	}
	if flags.Changed("max-pages") {
		cfg.MaxPages = maxPages
	}
	if flags.Changed("tcp-port") {
		cfg.TCPPort = tcpPort
	}
	if flags.Changed("response-timeout") {
		cfg.ResponseTimeout = responseTimeout
	}

	if flags.Lookup("resources") != nil {
		idx, err := loadResources()
		if err != nil {
			return cfg, err
		}
		if len(idx.Modules) > 0 || len(idx.Keypads) > 0 {
			cfg.Resources = idx
		}
	}
	return cfg, nil
}

func newClient(cmd *cobra.Command, arg string) (*client.Client, error) {
	cfg, err := clientConfig(cmd, resolveProcessor(arg))
	if err != nil {
		return nil, err
	}
	return client.New(cfg)
}

// loadResources loads driver metadata from --resources, the configured
// resources path and ROEHN_WIZARD_RESOURCES_PATH.
func loadResources() (*resources.Index, error) {
	var paths []string
	if resourcesPath != "" {
		paths = append(paths, resourcesPath)
	}
	if p := registry.Preferences.ResourcesPath; p != "" {
		paths = append(paths, p)
	}
	return resources.LoadIndex(paths...)
}

// emitJSON writes v as indented JSON to --out, or to stdout
func emitJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	data = append(data, '\n')

	if outPath != "" {
		if err := os.WriteFile(outPath, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", outPath, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", outPath)
		return nil
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func printer(cmd *cobra.Command) *ui.Printer {
	return ui.NewPrinter(cmd.OutOrStdout())
}
