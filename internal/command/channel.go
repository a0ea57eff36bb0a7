package command

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/roehn/internal/logging"
)

const (
	// DefaultPort is the processor's telnet-style command port
	DefaultPort = 23

	// DefaultDialTimeout bounds connection establishment
	DefaultDialTimeout = 1 * time.Second

	// DefaultResponseTimeout is how long replies are collected after sending
	DefaultResponseTimeout = 350 * time.Millisecond

	// DefaultMaxLines caps the reply lines collected per command
	DefaultMaxLines = 20

	readChunk = 4096
)

// Channel sends text commands to a processor. Each command uses a fresh TCP
// connection, so a Channel is safe for concurrent use.
type Channel struct {
	Host            string
	Port            int
	DialTimeout     time.Duration
	ResponseTimeout time.Duration
	MaxLines        int
}

// NewChannel creates a channel to host with default settings
func NewChannel(host string) *Channel {
	return &Channel{
		Host:            host,
		Port:            DefaultPort,
		DialTimeout:     DefaultDialTimeout,
		ResponseTimeout: DefaultResponseTimeout,
		MaxLines:        DefaultMaxLines,
	}
}

// Address returns the host:port the channel dials
func (c *Channel) Address() string {
	port := c.Port
	if port <= 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Exchange sends one command line and returns the non-blank lines received
// until the response window closes, MaxLines lines arrive, or the processor
// hangs up. Only a failure to connect or send is an error; the processor also
// pushes unsolicited lines, so callers must pick their reply out of the result.
func (c *Channel) Exchange(ctx context.Context, cmd string) ([]string, error) {
	addr := c.Address()

	dialer := net.Dialer{Timeout: durationOr(c.DialTimeout, DefaultDialTimeout)}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewNetworkError("failed to connect to processor", addr, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	logging.LogLine("sent", addr, cmd)
	if err := conn.SetWriteDeadline(time.Now().Add(durationOr(c.DialTimeout, DefaultDialTimeout))); err != nil {
		return nil, NewNetworkError("failed to prepare command", addr, err)
	}
	if _, err := conn.Write([]byte(cmd + "\r\n")); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewNetworkError("failed to send command", addr, err)
	}

	lines := c.collect(conn, addr)
	if ctx.Err() != nil {
		return lines, ctx.Err()
	}
	return lines, nil
}

func (c *Channel) collect(conn net.Conn, addr string) []string {
	maxLines := c.MaxLines
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	if err := conn.SetReadDeadline(time.Now().Add(durationOr(c.ResponseTimeout, DefaultResponseTimeout))); err != nil {
		return nil
	}

	var (
		lines   []string
		pending []byte
	)
	chunk := make([]byte, readChunk)
	for len(lines) < maxLines {
		n, err := conn.Read(chunk)
		pending = append(pending, chunk[:n]...)

		for len(lines) < maxLines {
			idx := bytes.IndexByte(pending, '\n')
			if idx < 0 {
				break
			}
			line := cleanLine(pending[:idx])
			pending = pending[idx+1:]
			if line == "" {
				continue
			}
			logging.LogLine("received", addr, line)
			lines = append(lines, line)
		}

		if err != nil {
			// timeout, EOF and resets all end the exchange
			logging.Debug("Response window closed",
				zap.String("addr", addr),
				zap.Int("lines", len(lines)),
				zap.Int("discarded_bytes", len(pending)),
				zap.Error(err),
			)
			break
		}
	}
	return lines
}

// cleanLine decodes a raw line as ASCII, dropping other bytes, and trims it.
func cleanLine(raw []byte) string {
	var b strings.Builder
	for _, c := range raw {
		if c < 0x80 {
			b.WriteByte(c)
		}
	}
	return strings.TrimSpace(b.String())
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
