package discovery

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/muurk/roehn/internal/logging"
	"github.com/muurk/roehn/internal/protocol"
)

const (
	// DefaultScanTimeout is how long a scan listens for replies
	DefaultScanTimeout = 3 * time.Second

	// DefaultScanProbes is the number of discover datagrams a scan sends
	DefaultScanProbes = 3

	// DefaultProbeInterval separates consecutive broadcast probes
	DefaultProbeInterval = 100 * time.Millisecond

	// DefaultBroadcastAddr is the limited broadcast address
	DefaultBroadcastAddr = "255.255.255.255"
)

// Scanner finds processors on the local network by broadcasting discover
// requests, optionally followed by a unicast sweep of a subnet for networks
// that filter broadcasts.
type Scanner struct {
	Port          int
	Timeout       time.Duration
	Probes        int
	ProbeInterval time.Duration
	BroadcastAddr string

	// Subnet enables the unicast sweep when set (CIDR, e.g. "192.168.51.0/24")
	Subnet string
	// SweepLimit caps the number of swept hosts (0 = every host in Subnet)
	SweepLimit int
}

// NewScanner creates a scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Port:          DefaultPort,
		Timeout:       DefaultScanTimeout,
		Probes:        DefaultScanProbes,
		ProbeInterval: DefaultProbeInterval,
		BroadcastAddr: DefaultBroadcastAddr,
	}
}

// Discover returns every processor that answered, deduplicated by serial and
// address and sorted by address then serial. The broadcast phase always
// listens for the whole Timeout. A scan with no replies is not an error.
func (s *Scanner) Discover(ctx context.Context) ([]*protocol.ProcessorInfo, error) {
	found := make(map[string]*protocol.ProcessorInfo)

	if err := s.broadcast(ctx, found); err != nil {
		return nil, err
	}

	if s.Subnet != "" {
		hosts, err := HostsFromSubnet(s.Subnet, s.SweepLimit)
		if err != nil {
			return nil, err
		}
		if err := s.sweep(ctx, hosts, found); err != nil {
			return nil, err
		}
	}

	logging.Info("Discovery finished", zap.Int("processors", len(found)))
	return sortProcessors(found), nil
}

func (s *Scanner) broadcast(ctx context.Context, found map[string]*protocol.ProcessorInfo) error {
	target, err := resolve(s.broadcastAddr(), s.port())
	if err != nil {
		return err
	}
	conn, err := listen(ctx)
	if err != nil {
		return err
	}
	defer conn.close()

	packet := protocol.BuildDiscover()
	for i := 0; i < max(1, s.Probes); i++ {
		if err := conn.send(target, packet); err != nil {
			return err
		}
		if err := sleep(ctx, s.ProbeInterval); err != nil {
			return err
		}
	}

	return conn.receive(ctx, nil, s.timeout(), collect(found))
}

// sweep sends a discover request to every host, once per probe, listening
// for the full timeout after each round.
func (s *Scanner) sweep(ctx context.Context, hosts []string, found map[string]*protocol.ProcessorInfo) error {
	conn, err := listen(ctx)
	if err != nil {
		return err
	}
	defer conn.close()

	targets := make([]*net.UDPAddr, 0, len(hosts))
	for _, host := range hosts {
		addr, err := resolve(host, s.port())
		if err != nil {
			return err
		}
		targets = append(targets, addr)
	}

	packet := protocol.BuildDiscover()
	for i := 0; i < max(1, s.Probes); i++ {
		for _, target := range targets {
			if err := conn.send(target, packet); err != nil {
				logging.Debug("Sweep send failed", zap.String("target", target.String()), zap.Error(err))
			}
		}
		if err := conn.receive(ctx, nil, s.timeout(), collect(found)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) port() int {
	if s.Port <= 0 {
		return DefaultPort
	}
	return s.Port
}

func (s *Scanner) timeout() time.Duration {
	if s.Timeout <= 0 {
		return DefaultScanTimeout
	}
	return s.Timeout
}

func (s *Scanner) broadcastAddr() string {
	if s.BroadcastAddr == "" {
		return DefaultBroadcastAddr
	}
	return s.BroadcastAddr
}

// collect records every valid discover reply, later sightings replacing
// earlier ones with the same key. It never ends the wait early.
func collect(found map[string]*protocol.ProcessorInfo) acceptFunc {
	return func(data []byte, from string) bool {
		info, err := protocol.ParseProcessorResponse(data, from)
		if err == nil {
			found[info.Key()] = info
		}
		return false
	}
}

func sortProcessors(found map[string]*protocol.ProcessorInfo) []*protocol.ProcessorInfo {
	list := make([]*protocol.ProcessorInfo, 0, len(found))
	for _, info := range found {
		list = append(list, info)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Address() != list[j].Address() {
			return list[i].Address() < list[j].Address()
		}
		return list[i].Serial < list[j].Serial
	})
	return list
}

// HostsFromSubnet lists the usable host addresses of an IPv4 CIDR, excluding
// the network and broadcast addresses of subnets larger than /31. A positive
// limit keeps only the first limit hosts.
func HostsFromSubnet(cidr string, limit int) ([]string, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return nil, fmt.Errorf("invalid subnet %q: %w", cidr, err)
	}
	prefix = prefix.Masked()
	if !prefix.Addr().Is4() {
		return nil, fmt.Errorf("invalid subnet %q: only IPv4 is supported", cidr)
	}

	bits := prefix.Bits()
	var hosts []string
	addr := prefix.Addr()
	if bits < 31 {
		addr = addr.Next()
	}
	for ; prefix.Contains(addr); addr = addr.Next() {
		if bits < 31 && !prefix.Contains(addr.Next()) {
			break // broadcast address
		}
		hosts = append(hosts, addr.String())
		if limit > 0 && len(hosts) >= limit {
			break
		}
	}
	return hosts, nil
}

// ProcessorDevices pairs a discovered processor with its enumerated modules.
type ProcessorDevices struct {
	Processor *protocol.ProcessorInfo `json:"processor"`
	Devices   []protocol.DeviceInfo   `json:"devices"`
}

// ScanAll discovers processors and enumerates the modules of each one
// concurrently, using session as the template for per-processor settings.
// Processors without modules are dropped unless includeEmpty is set.
func (s *Scanner) ScanAll(ctx context.Context, session Session, includeEmpty bool) ([]ProcessorDevices, error) {
	processors, err := s.Discover(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]ProcessorDevices, len(processors))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range processors {
		g.Go(func() error {
			sess := session
			sess.Host = p.Address()
			if sess.Port <= 0 {
				sess.Port = s.port()
			}
			devices, err := sess.QueryDevices(gctx)
			if err != nil {
				return err
			}
			results[i] = ProcessorDevices{Processor: p, Devices: devices}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := results[:0]
	for _, r := range results {
		if len(r.Devices) > 0 || includeEmpty {
			out = append(out, r)
		}
	}
	return out, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
