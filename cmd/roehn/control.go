package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/roehn/internal/client"
	"github.com/muurk/roehn/internal/command"
	"github.com/muurk/roehn/internal/protocol"
	"github.com/muurk/roehn/internal/ui"
)

// Identify flags
var (
	identifyDuration time.Duration
	identifyInterval time.Duration
	noBeep           bool
)

func init() {
	rootCmd.AddCommand(identifyCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(getLoadCmd)
	rootCmd.AddCommand(shadeCmd)
}

var identifyCmd = &cobra.Command{
	Use:   "identify <ip|name> <serial>",
	Short: "Make a module blink (and beep) to locate it",
	Long: `Repeatedly send the identify packet for a module serial so the module
signals itself. The serial is the 6-byte hex shown by 'roehn devices'.`,
	Example: `  roehn identify 192.168.51.10 29:11:00:09:DB:4E
  roehn identify home 29-11-00-09-DB-4E --duration 10s --no-beep`,
	Args: cobra.ExactArgs(2),
	RunE: runIdentify,
}

func init() {
	identifyCmd.Flags().IntVar(&udpPort, "port", 2006, "UDP port")
	identifyCmd.Flags().DurationVar(&identifyDuration, "duration", 3*time.Second, "Total send duration")
	identifyCmd.Flags().DurationVar(&identifyInterval, "interval", 300*time.Millisecond, "Send interval")
	identifyCmd.Flags().BoolVar(&noBeep, "no-beep", false, "Disable the beep flag in the identify payload")
}

func runIdentify(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd, args[0])
	if err != nil {
		return err
	}
	defer c.Close()

	serial := strings.ToUpper(args[1])
	beep := !noBeep

	var sent int
	op := func(ctx context.Context) ([]ui.Field, error) {
		var err error
		sent, err = c.Identify(ctx, serial, beep, identifyDuration, identifyInterval)
		if err != nil {
			return nil, err
		}
		return []ui.Field{
			{Key: "Packets sent", Value: strconv.Itoa(sent)},
			{Key: "Serial", Value: serial},
			{Key: "Beep", Value: onOff(beep)},
		}, nil
	}

	if jsonOutput {
		if _, err := op(cmd.Context()); err != nil {
			return err
		}
		return emitJSON(cmd, map[string]any{"processor": c.Host(), "serial": serial, "beep": beep, "sent": sent})
	}

	return ui.NewRunner(ui.RunnerConfig{
		Title:   "Identify",
		Command: "roehn identify",
		Params: []ui.Field{
			{Key: "Processor", Value: c.Host()},
			{Key: "Serial", Value: serial},
		},
		Expect: identifyDuration,
		Output: cmd.OutOrStdout(),
	}).Run(cmd.Context(), op)
}

// target is a module addressed either by control address or by serial
type target struct {
	address int
	device  *protocol.DeviceInfo
}

// resolveTarget parses a control address, or looks a serial up in the
// processor's module table.
func resolveTarget(ctx context.Context, c *client.Client, arg string) (target, error) {
	addr, isSerial, err := parseTarget(arg)
	if err != nil {
		return target{}, err
	}
	if !isSerial {
		return target{address: addr}, nil
	}

	devices, err := c.QueryDevices(ctx)
	if err != nil {
		return target{}, err
	}
	dev, ok := client.DeviceBySerial(devices, arg)
	if !ok {
		return target{}, command.NewValidationError(fmt.Sprintf("no module with serial %s on %s", arg, c.Host()))
	}
	return target{address: dev.ControlAddress(), device: &dev}, nil
}

// parseTarget classifies arg as a control address or a module serial.
// Anything that is neither is a validation error, without any network I/O.
func parseTarget(arg string) (address int, isSerial bool, err error) {
	if n, err := strconv.Atoi(strings.TrimSpace(arg)); err == nil {
		if n < 0 {
			return 0, false, command.NewValidationError(fmt.Sprintf("invalid address %d", n))
		}
		return n, false, nil
	}
	if _, err := protocol.ParseSerialHex(arg); err == nil {
		return 0, true, nil
	}
	return 0, false, command.NewValidationError(fmt.Sprintf("invalid address or serial %q", arg))
}

// controlReport is the JSON shape of load and shade commands
type controlReport struct {
	Processor string `json:"processor"`
	Address   int    `json:"address"`
	Channel   int    `json:"channel"`
	Command   string `json:"command"`
	Requested *int   `json:"requested,omitempty"`
	Level     *int   `json:"level"`
	Confirmed bool   `json:"confirmed"`
}

func printControl(cmd *cobra.Command, r controlReport) error {
	if jsonOutput {
		return emitJSON(cmd, r)
	}

	var res *ui.Result
	title := fmt.Sprintf("%s %d/%d", r.Command, r.Address, r.Channel)
	if r.Level != nil {
		res = ui.NewSuccessResult(title)
	} else {
		res = ui.NewWarningResult(title + " not confirmed")
	}
	res.AddDetail("Processor", r.Processor)
	if r.Requested != nil {
		res.AddDetail("Requested", strconv.Itoa(*r.Requested))
	}
	if r.Level != nil {
		res.AddDetail("Level", strconv.Itoa(*r.Level))
	} else {
		res.AddDetail("Reply", "none within the response window")
	}
	printer(cmd).PrintResult(res)
	return nil
}

var loadCmd = &cobra.Command{
	Use:   "load <ip|name> <address|serial> <channel> <level>",
	Short: "Set a load channel level (0-100)",
	Example: `  roehn load 192.168.51.10 12 1 75
  roehn load home 29:11:00:09:DB:4E 2 0`,
	Args: cobra.ExactArgs(4),
	RunE: runLoad,
}

func init() {
	addTCPFlags(loadCmd)
}

func runLoad(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd, args[0])
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := cmd.Context()
	t, err := resolveTarget(ctx, c, args[1])
	if err != nil {
		return err
	}
	channel, err := parseInt("channel", args[2])
	if err != nil {
		return err
	}
	level, err := parseInt("level", args[3])
	if err != nil {
		return err
	}

	var (
		reported int
		ok       bool
	)
	if t.device != nil {
		reported, ok, err = c.SetDeviceLoad(ctx, *t.device, channel, level)
	} else {
		reported, ok, err = c.SetLoad(ctx, t.address, channel, level)
	}
	if err != nil {
		return err
	}

	requested := protocol.ClampLevel(level)
	r := controlReport{Processor: c.Host(), Address: t.address, Channel: channel, Command: "LOAD", Requested: &requested, Confirmed: ok}
	if ok {
		r.Level = &reported
	}
	return printControl(cmd, r)
}

var getLoadCmd = &cobra.Command{
	Use:   "getload <ip|name> <address|serial> <channel>",
	Short: "Read a load channel level",
	Args:  cobra.ExactArgs(3),
	RunE:  runGetLoad,
}

func init() {
	addTCPFlags(getLoadCmd)
}

func runGetLoad(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd, args[0])
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := cmd.Context()
	t, err := resolveTarget(ctx, c, args[1])
	if err != nil {
		return err
	}
	channel, err := parseInt("channel", args[2])
	if err != nil {
		return err
	}

	level, ok, err := c.QueryLoad(ctx, t.address, channel)
	if err != nil {
		return err
	}
	r := controlReport{Processor: c.Host(), Address: t.address, Channel: channel, Command: "GETLOAD", Confirmed: ok}
	if ok {
		r.Level = &level
	}
	return printControl(cmd, r)
}

var shadeCmd = &cobra.Command{
	Use:   "shade",
	Short: "Move or position a shade channel",
	Example: `  roehn shade up 192.168.51.10 14 1
  roehn shade set home 14 2 40`,
}

func init() {
	for _, move := range []command.ShadeMove{command.ShadeUp, command.ShadeDown, command.ShadeStop} {
		sub := &cobra.Command{
			Use:   strings.ToLower(string(move)) + " <ip|name> <address|serial> <channel>",
			Short: "Send " + string(move) + " to a shade channel",
			Args:  cobra.ExactArgs(3),
			RunE:  shadeMoveRunner(move),
		}
		addTCPFlags(sub)
		shadeCmd.AddCommand(sub)
	}

	setCmd := &cobra.Command{
		Use:   "set <ip|name> <address|serial> <channel> <level>",
		Short: "Move a shade channel to a level (0-100)",
		Args:  cobra.ExactArgs(4),
		RunE:  runShadeSet,
	}
	addTCPFlags(setCmd)
	shadeCmd.AddCommand(setCmd)
}

func shadeMoveRunner(move command.ShadeMove) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd, args[0])
		if err != nil {
			return err
		}
		defer c.Close()

		ctx := cmd.Context()
		t, err := resolveTarget(ctx, c, args[1])
		if err != nil {
			return err
		}
		channel, err := parseInt("channel", args[2])
		if err != nil {
			return err
		}

		var (
			level int
			ok    bool
		)
		switch move {
		case command.ShadeUp:
			level, ok, err = c.ShadeUp(ctx, t.address, channel)
		case command.ShadeDown:
			level, ok, err = c.ShadeDown(ctx, t.address, channel)
		default:
			level, ok, err = c.ShadeStop(ctx, t.address, channel)
		}
		if err != nil {
			return err
		}

		r := controlReport{Processor: c.Host(), Address: t.address, Channel: channel, Command: "SHADE " + string(move), Confirmed: ok}
		if ok {
			r.Level = &level
		}
		return printControl(cmd, r)
	}
}

func runShadeSet(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd, args[0])
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := cmd.Context()
	t, err := resolveTarget(ctx, c, args[1])
	if err != nil {
		return err
	}
	channel, err := parseInt("channel", args[2])
	if err != nil {
		return err
	}
	level, err := parseInt("level", args[3])
	if err != nil {
		return err
	}

	var reported int
	if t.device != nil {
		reported, err = c.ShadeSetDevice(ctx, *t.device, channel, level)
	} else {
		reported, err = c.ShadeSet(ctx, t.address, channel, level)
	}
	if err != nil {
		return err
	}

	// ShadeSet falls back to the requested level, so the result is always
	// reported; confirmation is unknown.
	requested := protocol.ClampLevel(level)
	return printControl(cmd, controlReport{
		Processor: c.Host(),
		Address:   t.address,
		Channel:   channel,
		Command:   "SHADE SET",
		Requested: &requested,
		Level:     &reported,
	})
}

func parseInt(name, value string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, command.NewValidationError(fmt.Sprintf("invalid %s %q", name, value))
	}
	return n, nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
