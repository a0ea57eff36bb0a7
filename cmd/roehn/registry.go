package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/muurk/roehn/internal/command"
	"github.com/muurk/roehn/internal/config"
	"github.com/muurk/roehn/internal/ui"
)

// Config flags
var (
	addUDPPort int
	addTCPPort int
	addSerial  string
	assumeYes  bool
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configAddCmd)
	configCmd.AddCommand(configRemoveCmd)

	configAddCmd.Flags().IntVar(&addUDPPort, "udp-port", 0, "UDP port (0 = 2006)")
	configAddCmd.Flags().IntVar(&addTCPPort, "tcp-port", 0, "Text command port (0 = 23)")
	configAddCmd.Flags().StringVar(&addSerial, "serial", "", "Processor serial as shown by 'roehn discover'")

	configRemoveCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage saved processors",
	Long: `Saved processors can be used by name wherever a command takes <ip|name>.
The config file lives in the user config directory unless --config or
` + config.ConfigEnvVar + ` points elsewhere.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List saved processors",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	if jsonOutput {
		return emitJSON(cmd, redacted(registry))
	}

	p := printer(cmd)
	if path := registryPath(); path != "" {
		p.PrintNote("Config file: %s", path)
	}
	if len(registry.Processors) == 0 {
		p.PrintNote("No saved processors. Add one with 'roehn config add <name> <host>'.")
		return nil
	}
	p.Println(ui.RenderRegistry(registry))
	if registry.MQTT != nil && registry.MQTT.Broker != "" {
		p.PrintNote("MQTT broker: %s", registry.MQTT.Broker)
	}
	return nil
}

var configAddCmd = &cobra.Command{
	Use:   "add <name> <host>",
	Short: "Save a processor under a name",
	Example: `  roehn config add home 192.168.51.10
  roehn config add office 10.0.0.20 --serial RW1234567`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigAdd,
}

func runConfigAdd(cmd *cobra.Command, args []string) error {
	name, host := args[0], args[1]
	if strings.ContainsAny(name, " \t") {
		return command.NewValidationError(fmt.Sprintf("invalid name %q: names cannot contain spaces", name))
	}

	serial := strings.TrimSpace(addSerial)
	replaced := registry.Processor(name) != nil
	registry.SetProcessor(name, &config.Processor{
		Host:    host,
		UDPPort: addUDPPort,
		TCPPort: addTCPPort,
		Serial:  serial,
	})
	if err := saveRegistry(); err != nil {
		return err
	}

	title := "Processor saved"
	if replaced {
		title = "Processor updated"
	}
	printer(cmd).PrintResult(ui.NewSuccessResult(title).
		AddDetail("Name", name).
		AddDetail("Host", host).
		AddDetail("Serial", firstNonEmpty(serial, "-")))
	return nil
}

var configRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Forget a saved processor",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigRemove,
}

func runConfigRemove(cmd *cobra.Command, args []string) error {
	name := args[0]
	p := registry.Processor(name)
	if p == nil {
		return command.NewValidationError(fmt.Sprintf("no saved processor named %q", name))
	}

	if !assumeYes {
		ok := ui.Confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Remove saved processor", []string{
			fmt.Sprintf("%s (%s) will be removed from the config file", name, p.Host),
		})
		if !ok {
			printer(cmd).PrintNote("Cancelled")
			return nil
		}
	}

	registry.RemoveProcessor(name)
	if err := saveRegistry(); err != nil {
		return err
	}
	printer(cmd).PrintResult(ui.NewSuccessResult("Processor removed").AddDetail("Name", name))
	return nil
}

// redacted returns a copy of reg safe to print
func redacted(reg *config.Registry) *config.Registry {
	out := *reg
	if reg.MQTT != nil && reg.MQTT.Password != "" {
		m := *reg.MQTT
		m.Password = "********"
		out.MQTT = &m
	}
	return &out
}

func registryPath() string {
	if configPath != "" {
		return configPath
	}
	path, err := config.GetConfigPath()
	if err != nil {
		return ""
	}
	return path
}
