package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/muurk/roehn/internal/command"
	"github.com/muurk/roehn/internal/discovery"
	"github.com/muurk/roehn/internal/events"
	"github.com/muurk/roehn/internal/logging"
	"github.com/muurk/roehn/internal/protocol"
	"github.com/muurk/roehn/internal/resources"
)

// ErrNoResponse is returned by Refresh when none of the queries got a reply.
var ErrNoResponse = errors.New("no response from Roehn processor")

// Config holds the connection settings for one processor. Zero values fall
// back to the protocol defaults.
type Config struct {
	Host string

	UDPPort  int
	Timeout  time.Duration
	Probes   int
	MaxPages int

	TCPPort         int
	DialTimeout     time.Duration
	ResponseTimeout time.Duration
	MaxLines        int

	Backoff     time.Duration
	IdleTimeout time.Duration

	// Resources resolves module channels; nil disables channel lookups.
	Resources resources.Lookup
}

// DefaultConfig returns the protocol defaults for host
func DefaultConfig(host string) Config {
	return Config{
		Host:            host,
		UDPPort:         discovery.DefaultPort,
		Timeout:         discovery.DefaultTimeout,
		Probes:          discovery.DefaultProbes,
		MaxPages:        discovery.DefaultMaxPages,
		TCPPort:         command.DefaultPort,
		DialTimeout:     command.DefaultDialTimeout,
		ResponseTimeout: command.DefaultResponseTimeout,
		MaxLines:        command.DefaultMaxLines,
		Backoff:         events.DefaultBackoff,
		IdleTimeout:     events.DefaultIdleTimeout,
	}
}

// Client talks to one Roehn processor. Queries and commands open their own
// sockets and may run concurrently; the event listener is a single
// long-lived goroutine owned by the client.
type Client struct {
	session   *discovery.Session
	channel   *command.Channel
	listener  *events.Listener
	resources resources.Lookup
	log       *zap.Logger
}

// Snapshot is the result of one Refresh
type Snapshot struct {
	Processor *protocol.ProcessorInfo `json:"processor,omitempty"`
	Bios      *protocol.BiosInfo      `json:"bios,omitempty"`
	Devices   []protocol.DeviceInfo   `json:"devices"`
	At        time.Time               `json:"at"`
}

// New creates a client for cfg.Host
func New(cfg Config) (*Client, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, command.NewValidationError("processor host is required")
	}
	def := DefaultConfig(host)

	session := discovery.NewSession(host)
	session.Port = intOr(cfg.UDPPort, def.UDPPort)
	session.Timeout = durationOr(cfg.Timeout, def.Timeout)
	session.Probes = intOr(cfg.Probes, def.Probes)
	session.MaxPages = intOr(cfg.MaxPages, def.MaxPages)

	channel := command.NewChannel(host)
	channel.Port = intOr(cfg.TCPPort, def.TCPPort)
	channel.DialTimeout = durationOr(cfg.DialTimeout, def.DialTimeout)
	channel.ResponseTimeout = durationOr(cfg.ResponseTimeout, def.ResponseTimeout)
	channel.MaxLines = intOr(cfg.MaxLines, def.MaxLines)

	listener := events.NewListener(host)
	listener.Port = channel.Port
	listener.Backoff = durationOr(cfg.Backoff, def.Backoff)
	listener.IdleTimeout = durationOr(cfg.IdleTimeout, def.IdleTimeout)

	return &Client{
		session:   session,
		channel:   channel,
		listener:  listener,
		resources: cfg.Resources,
		log:       logging.Named("client").With(zap.String("host", host)),
	}, nil
}

// Host returns the processor host
func (c *Client) Host() string {
	return c.session.Host
}

// QueryProcessorInfo returns nil without an error when the processor is silent
func (c *Client) QueryProcessorInfo(ctx context.Context) (*protocol.ProcessorInfo, error) {
	return c.session.QueryProcessorInfo(ctx)
}

// QueryBiosInfo returns nil without an error when the processor is silent
func (c *Client) QueryBiosInfo(ctx context.Context) (*protocol.BiosInfo, error) {
	return c.session.QueryBiosInfo(ctx)
}

// QueryDevices enumerates the modules connected to the processor
func (c *Client) QueryDevices(ctx context.Context) ([]protocol.DeviceInfo, error) {
	return c.session.QueryDevices(ctx)
}

// Identify makes the module with the given serial ("AA:BB:CC:DD:EE:FF")
// signal itself for duration. It returns the number of packets sent.
func (c *Client) Identify(ctx context.Context, serialHex string, beep bool, duration, interval time.Duration) (int, error) {
	serial, err := protocol.ParseSerialHex(serialHex)
	if err != nil {
		return 0, command.NewValidationError(err.Error())
	}
	return c.session.Identify(ctx, serial, beep, duration, interval)
}

// Refresh runs the processor, BIOS and device queries concurrently
func (c *Client) Refresh(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		info, err := c.session.QueryProcessorInfo(gctx)
		snap.Processor = info
		return err
	})
	g.Go(func() error {
		bios, err := c.session.QueryBiosInfo(gctx)
		snap.Bios = bios
		return err
	})
	g.Go(func() error {
		devices, err := c.session.QueryDevices(gctx)
		snap.Devices = devices
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("refresh %s: %w", c.Host(), err)
	}

	if snap.Processor == nil && snap.Bios == nil && len(snap.Devices) == 0 {
		return nil, ErrNoResponse
	}
	snap.At = time.Now()

	c.log.Debug("Snapshot refreshed",
		zap.Bool("processor", snap.Processor != nil),
		zap.Bool("bios", snap.Bios != nil),
		zap.Int("devices", len(snap.Devices)),
	)
	return &snap, nil
}

// SetLoad sets a load channel to level (clamped to 0..100). ok is false when
// the processor did not confirm.
func (c *Client) SetLoad(ctx context.Context, address, channel, level int) (reported int, ok bool, err error) {
	return c.channel.SetLoad(ctx, address, channel, level)
}

// QueryLoad reads the level of a load channel
func (c *Client) QueryLoad(ctx context.Context, address, channel int) (int, bool, error) {
	return c.channel.QueryLoad(ctx, address, channel)
}

func (c *Client) ShadeUp(ctx context.Context, address, channel int) (int, bool, error) {
	return c.channel.Shade(ctx, command.ShadeUp, address, channel)
}

func (c *Client) ShadeDown(ctx context.Context, address, channel int) (int, bool, error) {
	return c.channel.Shade(ctx, command.ShadeDown, address, channel)
}

func (c *Client) ShadeStop(ctx context.Context, address, channel int) (int, bool, error) {
	return c.channel.Shade(ctx, command.ShadeStop, address, channel)
}

// ShadeSet moves a shade to level. Without a confirmation it reports the
// clamped requested level.
func (c *Client) ShadeSet(ctx context.Context, address, channel, level int) (int, error) {
	return c.channel.ShadeSet(ctx, address, channel, level)
}

// SetDeviceLoad is SetLoad addressed through the device's control address
func (c *Client) SetDeviceLoad(ctx context.Context, dev protocol.DeviceInfo, channel, level int) (int, bool, error) {
	return c.SetLoad(ctx, dev.ControlAddress(), channel, level)
}

// ShadeSetDevice is ShadeSet addressed through the device's control address
func (c *Client) ShadeSetDevice(ctx context.Context, dev protocol.DeviceInfo, channel, level int) (int, error) {
	return c.ShadeSet(ctx, dev.ControlAddress(), channel, level)
}

// StartEventListener starts the button event listener. Calling it again
// while the listener runs has no effect.
func (c *Client) StartEventListener(ctx context.Context) {
	c.listener.Start(ctx)
}

// StopEventListener stops the listener and waits for it to exit
func (c *Client) StopEventListener() {
	c.listener.Stop()
}

func (c *Client) ListenerState() events.State {
	return c.listener.State()
}

// ButtonState returns the last action seen for a button
func (c *Client) ButtonState(address, button int) (events.Action, bool) {
	return c.listener.ButtonState(address, button)
}

func (c *Client) ButtonLastChanged(address, button int) (time.Time, bool) {
	return c.listener.LastChanged(address, button)
}

// ButtonSnapshot returns every known button state, ordered by address
func (c *Client) ButtonSnapshot() []events.ButtonStatus {
	return c.listener.Snapshot()
}

// AddButtonListener registers h for button events. The returned function
// removes it; h is never called after that function returns.
func (c *Client) AddButtonListener(h events.Handler) (remove func()) {
	return c.listener.AddHandler(h)
}

// DimmerChannels lists the dimmable channels of dev, or nil without resources
func (c *Client) DimmerChannels(dev protocol.DeviceInfo) []int {
	return c.channels(dev, resources.SlotDimmer)
}

// ShadeChannels lists the shade channels of dev, or nil without resources
func (c *Client) ShadeChannels(dev protocol.DeviceInfo) []int {
	return c.channels(dev, resources.SlotShade)
}

// Module returns the driver metadata of dev
func (c *Client) Module(dev protocol.DeviceInfo) (*resources.ModuleDriver, bool) {
	if c.resources == nil {
		return nil, false
	}
	return c.resources.Module(dev.Model, dev.ExtendedModel, dev.DevModel)
}

func (c *Client) channels(dev protocol.DeviceInfo, slot string) []int {
	m, ok := c.Module(dev)
	if !ok {
		return nil
	}
	return m.Channels(slot)
}

// Close stops the event listener
func (c *Client) Close() error {
	c.listener.Stop()
	return nil
}

// DeviceBySerial finds a device by serial, ignoring case and separators
func DeviceBySerial(devices []protocol.DeviceInfo, serial string) (protocol.DeviceInfo, bool) {
	want, err := protocol.ParseSerialHex(serial)
	if err != nil {
		return protocol.DeviceInfo{}, false
	}
	for _, d := range devices {
		if got, err := protocol.ParseSerialHex(d.SerialHex); err == nil && got == want {
			return d, true
		}
	}
	return protocol.DeviceInfo{}, false
}

func intOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
