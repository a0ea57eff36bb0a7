package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/roehn/internal/logging"
	"github.com/muurk/roehn/internal/protocol"
)

const (
	// DefaultPort is the processor's HSN_S-UDP port
	DefaultPort = 2006

	// DefaultTimeout is how long to wait for a reply to one probe or page
	DefaultTimeout = 1 * time.Second

	// DefaultProbes is the number of attempts for single-shot queries
	DefaultProbes = 2

	// DefaultMaxPages caps device enumeration
	DefaultMaxPages = 32
)

// Session performs request/reply exchanges with one processor over UDP.
// Every call opens its own socket, so a Session is safe for concurrent use.
type Session struct {
	Host     string
	Port     int
	Timeout  time.Duration
	Probes   int
	MaxPages int
}

// NewSession creates a session for host with default settings.
func NewSession(host string) *Session {
	return &Session{
		Host:     host,
		Port:     DefaultPort,
		Timeout:  DefaultTimeout,
		Probes:   DefaultProbes,
		MaxPages: DefaultMaxPages,
	}
}

// QueryProcessorInfo asks the processor to identify itself. It returns nil
// without an error when no valid reply arrives within the probe budget.
func (s *Session) QueryProcessorInfo(ctx context.Context) (*protocol.ProcessorInfo, error) {
	var info *protocol.ProcessorInfo
	err := s.query(ctx, protocol.BuildDiscover(), func(data []byte, from string) bool {
		parsed, err := protocol.ParseProcessorResponse(data, from)
		if err != nil {
			return false
		}
		info = parsed
		return true
	})
	return info, err
}

// QueryBiosInfo reads the processor's firmware version and capacity
// counters. It returns nil without an error when the processor stays silent.
func (s *Session) QueryBiosInfo(ctx context.Context) (*protocol.BiosInfo, error) {
	var info *protocol.BiosInfo
	err := s.query(ctx, protocol.BuildGetBios(), func(data []byte, _ string) bool {
		parsed, err := protocol.ParseBiosResponse(data)
		if err != nil {
			return false
		}
		info = parsed
		return true
	})
	return info, err
}

// QueryDevices enumerates every module attached to the processor, one page
// per request. Enumeration ends at the first silent page, at a short page,
// after MaxPages requests, or when the processor reports an index that was
// already requested. Records from earlier pages are always returned.
func (s *Session) QueryDevices(ctx context.Context) ([]protocol.DeviceInfo, error) {
	conn, target, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.close()

	log := logging.Named("discovery").With(zap.String("host", s.Host))

	var devices []protocol.DeviceInfo
	requested := make(map[int]bool)
	readIndex := 0

	for page := 0; page < s.maxPages(); page++ {
		requested[readIndex] = true
		if err := conn.send(target, protocol.BuildGetConnectedDevices(uint16(readIndex))); err != nil {
			return devices, err
		}

		var reply *protocol.DevicesPage
		err := conn.receive(ctx, target, s.timeout(), func(data []byte, from string) bool {
			parsed, err := protocol.ParseDevicesResponse(data, from)
			if err != nil {
				return false
			}
			reply = parsed
			return true
		})
		if err != nil {
			return devices, err
		}
		if reply == nil {
			log.Debug("device page timed out", zap.Int("read_index", readIndex))
			break
		}

		devices = append(devices, reply.Devices...)
		log.Debug("device page received",
			zap.Int("read_index", reply.ReadIndex),
			zap.Int("registers_qty", reply.RegistersQty),
		)

		if reply.Final() {
			break
		}
		next := reply.NextIndex()
		if requested[next] || next > 0xFFFF {
			log.Warn("device enumeration stopped on repeated read index", zap.Int("read_index", next))
			break
		}
		readIndex = next
	}

	return devices, nil
}

// Identify sends identify requests for the module with the given serial
// every interval until duration elapses, making it blink (and beep when beep
// is set). It returns the number of requests sent.
func (s *Session) Identify(ctx context.Context, serial [protocol.SerialSize]byte, beep bool, duration, interval time.Duration) (int, error) {
	conn, target, err := s.open(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.close()

	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	packet := protocol.BuildIdentify(serial, beep)
	deadline := time.Now().Add(duration)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sent := 0
	for time.Now().Before(deadline) {
		if err := conn.send(target, packet); err != nil {
			return sent, err
		}
		sent++

		select {
		case <-ctx.Done():
			return sent, ctx.Err()
		case <-ticker.C:
		}
	}
	return sent, nil
}

// query runs a single-shot exchange: up to Probes sends, each followed by a
// Timeout wait for an accepted reply from the target.
func (s *Session) query(ctx context.Context, packet []byte, accept acceptFunc) error {
	conn, target, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer conn.close()

	probes := s.Probes
	if probes < 1 {
		probes = 1
	}

	var accepted bool
	wrapped := func(data []byte, from string) bool {
		accepted = accept(data, from)
		return accepted
	}

	for i := 0; i < probes; i++ {
		if err := conn.send(target, packet); err != nil {
			return err
		}
		if err := conn.receive(ctx, target, s.timeout(), wrapped); err != nil {
			return err
		}
		if accepted {
			return nil
		}
	}
	return nil
}

func (s *Session) open(ctx context.Context) (*udpConn, *net.UDPAddr, error) {
	target, err := resolve(s.Host, s.port())
	if err != nil {
		return nil, nil, err
	}
	conn, err := listen(ctx)
	if err != nil {
		return nil, nil, err
	}
	return conn, target, nil
}

func (s *Session) port() int {
	if s.Port <= 0 {
		return DefaultPort
	}
	return s.Port
}

func (s *Session) timeout() time.Duration {
	if s.Timeout <= 0 {
		return DefaultTimeout
	}
	return s.Timeout
}

func (s *Session) maxPages() int {
	if s.MaxPages <= 0 {
		return DefaultMaxPages
	}
	return s.MaxPages
}

func resolve(host string, port int) (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve processor address %s: %w", host, err)
	}
	return addr, nil
}

// acceptFunc inspects one datagram and reports whether it ends the wait.
type acceptFunc func(data []byte, from string) bool

// udpConn is an unconnected UDP socket that closes itself when its context
// is cancelled, unblocking any pending read.
type udpConn struct {
	pc   *net.UDPConn
	stop func() bool
}

func listen(ctx context.Context) (*udpConn, error) {
	pc, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("failed to open UDP socket: %w", err)
	}
	return &udpConn{
		pc:   pc,
		stop: context.AfterFunc(ctx, func() { pc.Close() }),
	}, nil
}

func (c *udpConn) close() {
	c.stop()
	c.pc.Close()
}

func (c *udpConn) send(to *net.UDPAddr, packet []byte) error {
	logging.LogDatagram("sent", to.String(), packet)
	if _, err := c.pc.WriteToUDP(packet, to); err != nil {
		return fmt.Errorf("failed to send to %s: %w", to, err)
	}
	return nil
}

// receive reads datagrams for up to window. When target is non-nil, datagrams
// from any other IP are ignored. It returns as soon as accept returns true;
// a window that expires is not an error.
func (c *udpConn) receive(ctx context.Context, target *net.UDPAddr, window time.Duration, accept acceptFunc) error {
	if err := c.pc.SetReadDeadline(time.Now().Add(window)); err != nil {
		return err
	}

	buf := make([]byte, protocol.MaxDatagramSize)
	for {
		n, from, err := c.pc.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil
			}
			return fmt.Errorf("failed to read UDP reply: %w", err)
		}

		data := buf[:n]
		logging.LogDatagram("received", from.String(), data)
		if target != nil && !from.IP.Equal(target.IP) {
			continue
		}
		if accept(data, from.IP.String()) {
			return nil
		}
	}
}
