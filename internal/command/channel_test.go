package command

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProcessor accepts command connections on 127.0.0.1 and writes the raw
// replies its handler returns.
type fakeProcessor struct {
	ln     net.Listener
	handle func(cmd string) string
	// hold keeps connections open after replying
	hold bool

	mu       sync.Mutex
	commands []string
}

func newFakeProcessor(t *testing.T, hold bool, handle func(cmd string) string) *fakeProcessor {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeProcessor{ln: ln, handle: handle, hold: hold}
	go f.serve()
	t.Cleanup(func() { ln.Close() })
	return f
}

func (f *fakeProcessor) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			line, err := bufio.NewReader(conn).ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.TrimRight(line, "\r\n")
			f.mu.Lock()
			f.commands = append(f.commands, line)
			f.mu.Unlock()

			_, _ = conn.Write([]byte(f.handle(cmd)))
			if f.hold {
				_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
				_, _ = conn.Read(make([]byte, 1))
			}
		}()
	}
}

func (f *fakeProcessor) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func (f *fakeProcessor) channel() *Channel {
	addr := f.ln.Addr().(*net.TCPAddr)
	c := NewChannel("127.0.0.1")
	c.Port = addr.Port
	c.ResponseTimeout = 200 * time.Millisecond
	return c
}

func TestExchangeCollectsLines(t *testing.T) {
	fake := newFakeProcessor(t, false, func(string) string {
		return "R:BTN PRESS 4 1\r\n\r\n  \nR:LOAD 10 2 40\r\nPARTIAL"
	})

	lines, err := fake.channel().Exchange(context.Background(), "GETLOAD 10 2")
	require.NoError(t, err)
	assert.Equal(t, []string{"R:BTN PRESS 4 1", "R:LOAD 10 2 40"}, lines)
	assert.Equal(t, []string{"GETLOAD 10 2\r\n"}, fake.received())
}

func TestExchangeMaxLines(t *testing.T) {
	fake := newFakeProcessor(t, true, func(string) string {
		return strings.Repeat("NOISE\n", 30)
	})
	c := fake.channel()
	c.MaxLines = 5
	c.ResponseTimeout = time.Second

	start := time.Now()
	lines, err := c.Exchange(context.Background(), "GETLOAD 1 1")
	require.NoError(t, err)
	assert.Len(t, lines, 5)
	assert.Less(t, time.Since(start), 900*time.Millisecond, "line cap ends the exchange early")
}

func TestExchangeResponseTimeout(t *testing.T) {
	fake := newFakeProcessor(t, true, func(string) string { return "R:LOAD 1 1 5\n" })
	c := fake.channel()
	c.ResponseTimeout = 100 * time.Millisecond

	start := time.Now()
	lines, err := c.Exchange(context.Background(), "GETLOAD 1 1")
	require.NoError(t, err)
	assert.Equal(t, []string{"R:LOAD 1 1 5"}, lines)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExchangeConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	c := NewChannel("127.0.0.1")
	c.Port = port

	_, err = c.Exchange(context.Background(), "GETLOAD 1 1")
	require.Error(t, err)
	assert.True(t, IsNetworkError(err))

	var cmdErr *Error
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, ErrTypeConnectionRefused, cmdErr.Type)
	assert.Equal(t, net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), cmdErr.Host)
}

func TestExchangeCancelled(t *testing.T) {
	fake := newFakeProcessor(t, true, func(string) string { return "" })
	c := fake.channel()
	c.ResponseTimeout = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := c.Exchange(ctx, "GETLOAD 1 1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestChannelAddress(t *testing.T) {
	c := NewChannel("10.0.0.9")
	assert.Equal(t, "10.0.0.9:23", c.Address())
	c.Port = 0
	assert.Equal(t, "10.0.0.9:23", c.Address())
}
