package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/roehn/internal/client"
	"github.com/muurk/roehn/internal/discovery"
	"github.com/muurk/roehn/internal/protocol"
	"github.com/muurk/roehn/internal/ui"
)

// Discovery flags
var (
	scanTimeout   time.Duration
	scanProbes    int
	probeInterval time.Duration
	broadcastAddr string
	subnet        string
	sweepLimit    int
	saveSeen      bool
	includeEmpty  bool
	deviceTimeout time.Duration
	withDevices   bool
	browseTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(scanAllCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(processorInfoCmd)
	rootCmd.AddCommand(bridgesCmd)
}

func addScanFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&udpPort, "port", 2006, "UDP port")
	cmd.Flags().DurationVar(&scanTimeout, "timeout", discovery.DefaultScanTimeout, "Listen window after the probes")
	cmd.Flags().IntVar(&scanProbes, "probes", discovery.DefaultScanProbes, "Number of broadcast probes")
	cmd.Flags().DurationVar(&probeInterval, "probe-interval", discovery.DefaultProbeInterval, "Delay between probes")
	cmd.Flags().StringVar(&broadcastAddr, "broadcast-ip", "", "Broadcast address (default: 255.255.255.255)")
	cmd.Flags().StringVar(&subnet, "subnet", "", "Optional unicast sweep subnet, e.g. 192.168.51.0/24")
	cmd.Flags().IntVar(&sweepLimit, "sweep-limit", 0, "Cap on swept hosts (0 = all hosts in subnet)")
}

func newScanner() *discovery.Scanner {
	s := discovery.NewScanner()
	s.Port = udpPort
	s.Timeout = scanTimeout
	s.Probes = scanProbes
	s.ProbeInterval = probeInterval
	s.SweepLimit = sweepLimit

	prefs := registry.Preferences
	s.BroadcastAddr = firstNonEmpty(broadcastAddr, prefs.BroadcastAddr, discovery.DefaultBroadcastAddr)
	s.Subnet = firstNonEmpty(subnet, prefs.Subnet)
	return s
}

// expectedScan estimates how long a scan takes, for the progress bar
func expectedScan(s *discovery.Scanner) time.Duration {
	d := s.Timeout + time.Duration(s.Probes)*s.ProbeInterval
	if s.Subnet != "" {
		d += time.Duration(s.Probes) * s.Timeout
	}
	return d
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Broadcast discover processors",
	Long: `Find Roehn processors on the local network.

Discover requests are broadcast on UDP port 2006 and every processor that
answers within the listen window is listed. Networks that drop broadcasts can
be swept host by host with --subnet.`,
	Example: `  # Broadcast discovery
  roehn discover

  # Also sweep a subnet and remember addresses of saved processors
  roehn discover --subnet 192.168.51.0/24 --save

  # JSON for scripting
  roehn discover --json --out processors.json`,
	Args: cobra.NoArgs,
	RunE: runDiscover,
}

func init() {
	addScanFlags(discoverCmd)
	discoverCmd.Flags().BoolVar(&saveSeen, "save", false, "Record the address of saved processors that answered")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	scanner := newScanner()

	var processors []*protocol.ProcessorInfo
	op := func(ctx context.Context) ([]ui.Field, error) {
		var err error
		processors, err = scanner.Discover(ctx)
		if err != nil {
			return nil, err
		}
		return []ui.Field{{Key: "Processors", Value: strconv.Itoa(len(processors))}}, nil
	}

	runner := ui.NewRunner(ui.RunnerConfig{
		Title:   "Discover",
		Command: "roehn discover",
		Params: []ui.Field{
			{Key: "Broadcast", Value: fmt.Sprintf("%s:%d", scanner.BroadcastAddr, scanner.Port)},
			{Key: "Subnet", Value: firstNonEmpty(scanner.Subnet, "-")},
		},
		Expect: expectedScan(scanner),
		Output: cmd.OutOrStdout(),
		Quiet:  jsonOutput,
	})

	if jsonOutput {
		if _, err := op(cmd.Context()); err != nil {
			return err
		}
	} else if err := runner.Run(cmd.Context(), op); err != nil {
		return err
	}

	if saveSeen {
		if err := recordSightings(processors); err != nil {
			return err
		}
	}

	if jsonOutput {
		return emitJSON(cmd, nonNil(processors))
	}
	p := printer(cmd)
	if len(processors) == 0 {
		p.PrintNote("No processors found. Try --subnet if broadcasts are filtered.")
		return nil
	}
	p.Newline()
	p.Println(ui.RenderProcessors(processors))
	return nil
}

// recordSightings updates saved processors that answered discovery
func recordSightings(processors []*protocol.ProcessorInfo) error {
	now := time.Now()
	changed := false
	for _, p := range processors {
		if registry.MarkSeen(p.Serial, p.Address(), now) {
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return saveRegistry()
}

var scanAllCmd = &cobra.Command{
	Use:   "scan-all",
	Short: "Discover processors, then enumerate devices on each",
	Args:  cobra.NoArgs,
	RunE:  runScanAll,
}

func init() {
	addScanFlags(scanAllCmd)
	addResourcesFlag(scanAllCmd)
	scanAllCmd.Flags().DurationVar(&deviceTimeout, "device-timeout", discovery.DefaultTimeout, "Per-page device enumeration timeout")
	scanAllCmd.Flags().IntVar(&maxPages, "max-pages", discovery.DefaultMaxPages, "Safety cap on pagination")
	scanAllCmd.Flags().BoolVar(&includeEmpty, "include-empty", false, "Include processors with 0 devices")
}

func runScanAll(cmd *cobra.Command, args []string) error {
	scanner := newScanner()
	template := discovery.Session{
		Port:     scanner.Port,
		Timeout:  deviceTimeout,
		Probes:   discovery.DefaultProbes,
		MaxPages: maxPages,
	}

	var results []discovery.ProcessorDevices
	op := func(ctx context.Context) ([]ui.Field, error) {
		var err error
		results, err = scanner.ScanAll(ctx, template, includeEmpty)
		if err != nil {
			return nil, err
		}
		modules := 0
		for _, r := range results {
			modules += len(r.Devices)
		}
		return []ui.Field{
			{Key: "Processors", Value: strconv.Itoa(len(results))},
			{Key: "Modules", Value: strconv.Itoa(modules)},
		}, nil
	}

	if jsonOutput {
		if _, err := op(cmd.Context()); err != nil {
			return err
		}
		return emitJSON(cmd, map[string]any{"results": nonNil(results)})
	}

	runner := ui.NewRunner(ui.RunnerConfig{
		Title:   "Scan",
		Command: "roehn scan-all",
		Params:  []ui.Field{{Key: "Broadcast", Value: fmt.Sprintf("%s:%d", scanner.BroadcastAddr, scanner.Port)}},
		Expect:  expectedScan(scanner),
		Output:  cmd.OutOrStdout(),
	})
	if err := runner.Run(cmd.Context(), op); err != nil {
		return err
	}

	idx, err := loadResources()
	if err != nil {
		return err
	}
	p := printer(cmd)
	p.Newline()
	p.Println(ui.RenderScan(results, idx))
	return nil
}

var devicesCmd = &cobra.Command{
	Use:   "devices <ip|name>",
	Short: "Enumerate connected devices on one processor",
	Long: `List the modules registered on a processor.

The processor returns its module table in pages of up to 24 records; the
pages are requested until a short page arrives. With driver resources
available (--resources or ROEHN_WIZARD_RESOURCES_PATH) the dimmer and shade
channels of each module are shown.`,
	Example: `  roehn devices 192.168.51.10
  roehn devices home --resources "C:\Program Files\Roehn\Wizard"
  roehn devices home --json`,
	Args: cobra.ExactArgs(1),
	RunE: runDevices,
}

func init() {
	addUDPFlags(devicesCmd)
	addResourcesFlag(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	cfg, err := clientConfig(cmd, resolveProcessor(args[0]))
	if err != nil {
		return err
	}
	c, err := client.New(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	devices, err := c.QueryDevices(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return emitJSON(cmd, nonNil(devices))
	}

	p := printer(cmd)
	p.PrintHeader(ui.NewHeader("Modules", "roehn devices").
		AddParam("Processor", c.Host()).
		AddParam("Modules", strconv.Itoa(len(devices))))
	if len(devices) == 0 {
		p.PrintResult(ui.NewWarningResult("No modules answered").
			AddDetail("Processor", c.Host()).
			AddDetail("Hint", "check the IP and try --timeout 3s"))
		return nil
	}
	p.Println(ui.RenderDevices(devices, cfg.Resources))
	return nil
}

var processorInfoCmd = &cobra.Command{
	Use:   "processor-info <ip|name>",
	Short: "Query processor discovery and BIOS/capacity info",
	Args:  cobra.ExactArgs(1),
	RunE:  runProcessorInfo,
}

func init() {
	addUDPFlags(processorInfoCmd)
	processorInfoCmd.Flags().BoolVar(&withDevices, "with-devices", false, "Include device enumeration in output")
}

// processorReport is the JSON shape of processor-info
type processorReport struct {
	TargetIP  string                  `json:"target_ip"`
	Port      int                     `json:"port"`
	Processor *protocol.ProcessorInfo `json:"processor"`
	Bios      *protocol.BiosInfo      `json:"bios"`
	Devices   []protocol.DeviceInfo   `json:"devices,omitempty"`
}

func runProcessorInfo(cmd *cobra.Command, args []string) error {
	cfg, err := clientConfig(cmd, resolveProcessor(args[0]))
	if err != nil {
		return err
	}
	c, err := client.New(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	report := processorReport{TargetIP: c.Host(), Port: cfg.UDPPort}
	ctx := cmd.Context()

	if withDevices {
		snap, err := c.Refresh(ctx)
		switch {
		case errors.Is(err, client.ErrNoResponse):
		case err != nil:
			return err
		default:
			report.Processor, report.Bios, report.Devices = snap.Processor, snap.Bios, nonNil(snap.Devices)
		}
	} else {
		if report.Processor, err = c.QueryProcessorInfo(ctx); err != nil {
			return err
		}
		if report.Bios, err = c.QueryBiosInfo(ctx); err != nil {
			return err
		}
	}

	if jsonOutput {
		return emitJSON(cmd, report)
	}

	p := printer(cmd)
	h := ui.NewHeader("Processor", "roehn processor-info").
		AddParam("Target", fmt.Sprintf("%s:%d", report.TargetIP, report.Port))
	if report.Processor != nil {
		h.AddParam("Name", report.Processor.Name).
			AddParam("Serial", report.Processor.Serial).
			AddParam("Version", report.Processor.Version).
			AddParam("IP", report.Processor.Address()).
			AddParam("Mask", report.Processor.Mask).
			AddParam("Gateway", report.Processor.Gateway).
			AddParam("MAC", report.Processor.MAC)
	} else {
		h.AddParam("Discovery", "no response")
	}
	p.PrintHeader(h)

	if report.Bios != nil {
		p.Println(ui.RenderBios(report.Bios))
	} else {
		p.PrintNote("BIOS: no response")
	}
	if withDevices {
		p.PrintNote("Devices: %d record(s)", len(report.Devices))
	}
	return nil
}

var bridgesCmd = &cobra.Command{
	Use:   "bridges",
	Short: "Find running event bridges over mDNS",
	Long: `Browse the local network for 'roehn serve' instances that advertise
their WebSocket event feed as ` + discovery.BridgeServiceType + `.`,
	Args: cobra.NoArgs,
	RunE: runBridges,
}

func init() {
	bridgesCmd.Flags().DurationVar(&browseTimeout, "timeout", discovery.DefaultBrowseTimeout, "Browse duration")
}

func runBridges(cmd *cobra.Command, args []string) error {
	bridges, err := discovery.BrowseBridges(cmd.Context(), browseTimeout)
	if err != nil {
		return err
	}
	if jsonOutput {
		return emitJSON(cmd, nonNil(bridges))
	}
	p := printer(cmd)
	if len(bridges) == 0 {
		p.PrintNote("No bridges found.")
		return nil
	}
	p.Println(ui.RenderBridges(bridges))
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// nonNil keeps empty results as [] rather than null in JSON
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
