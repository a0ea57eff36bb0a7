package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// BridgeServiceType is the mDNS service type announced by "roehn serve"
	BridgeServiceType = "_roehn._tcp"

	// ServiceDomain is the mDNS domain
	ServiceDomain = "local."

	// DefaultBrowseTimeout bounds a bridge browse
	DefaultBrowseTimeout = 3 * time.Second
)

// Bridge is a running event feed found over mDNS.
type Bridge struct {
	Instance     string            `json:"instance"`
	Hostname     string            `json:"hostname"`
	IP           string            `json:"ip"`
	Port         int               `json:"port"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	DiscoveredAt time.Time         `json:"discovered_at"`
}

// Processor returns the processor address the bridge is attached to, if it
// announced one.
func (b *Bridge) Processor() string {
	return b.Metadata["processor"]
}

func (b *Bridge) String() string {
	return fmt.Sprintf("Roehn bridge %s at %s:%d (processor %s)", b.Instance, b.IP, b.Port, orDash(b.Processor()))
}

// Advertisement is a registered mDNS announcement.
type Advertisement struct {
	server *zeroconf.Server
}

// Advertise announces a bridge instance on port with the given TXT metadata
// until Shutdown is called.
func Advertise(instance string, port int, metadata map[string]string) (*Advertisement, error) {
	txt := make([]string, 0, len(metadata))
	for k, v := range metadata {
		txt = append(txt, k+"="+v)
	}
	sort.Strings(txt)

	server, err := zeroconf.Register(instance, BridgeServiceType, ServiceDomain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	return &Advertisement{server: server}, nil
}

// Shutdown withdraws the announcement.
func (a *Advertisement) Shutdown() {
	if a != nil && a.server != nil {
		a.server.Shutdown()
	}
}

// BrowseBridges lists bridges announcing themselves within timeout.
func BrowseBridges(ctx context.Context, timeout time.Duration) ([]*Bridge, error) {
	if timeout <= 0 {
		timeout = DefaultBrowseTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan struct{})
	var (
		mu      sync.Mutex
		bridges []*Bridge
	)

	go func() {
		defer close(done)
		for entry := range entries {
			if b := parseServiceEntry(entry); b != nil {
				mu.Lock()
				bridges = append(bridges, b)
				mu.Unlock()
			}
		}
	}()

	if err := resolver.Browse(ctx, BridgeServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()
	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
	}

	mu.Lock()
	defer mu.Unlock()
	return append([]*Bridge(nil), bridges...), nil
}

// parseServiceEntry converts a zeroconf entry to a Bridge, or nil when the
// entry carries no usable address.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Bridge {
	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		key, value, _ := strings.Cut(txt, "=")
		metadata[key] = value
	}

	return &Bridge{
		Instance:     entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         entry.Port,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
