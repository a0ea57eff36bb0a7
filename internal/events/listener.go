package events

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/roehn/internal/logging"
)

const (
	// DefaultPort is the processor's text port, which also carries events
	DefaultPort = 23

	// DefaultBackoff is the pause between a disconnect and the next attempt
	DefaultBackoff = 2 * time.Second

	// DefaultDialTimeout bounds each connection attempt
	DefaultDialTimeout = 5 * time.Second

	// DefaultIdleTimeout is the read deadline between lines. An idle
	// connection is normal; the deadline only bounds each read.
	DefaultIdleTimeout = 30 * time.Second

	// MaxLineLength is the longest event line kept; longer lines are dropped.
	// Trailing tokens after the button id are allowed, so the cap only bounds
	// memory for a peer that never sends a newline.
	MaxLineLength = 1 << 20

	readBufferSize = 4096
)

// State is the listener's connection state
type State int32

const (
	StateStopped State = iota
	StateConnecting
	StateConnected
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Handler receives button events on the listener goroutine. It should return
// quickly; a panicking handler is recovered and logged.
type Handler func(ButtonEvent)

type handlerEntry struct {
	fn      Handler
	mu      sync.Mutex
	removed atomic.Bool
}

// Listener keeps a connection to a processor's text port open, reconnecting
// after failures, and turns "R:BTN" lines into button state and events.
type Listener struct {
	Host        string
	Port        int
	Backoff     time.Duration
	DialTimeout time.Duration
	IdleTimeout time.Duration

	state atomic.Int32
	log   *zap.Logger

	statesMu sync.RWMutex
	states   map[ButtonKey]ButtonStatus

	handlersMu sync.RWMutex
	handlers   []*handlerEntry
	invoking   atomic.Pointer[handlerEntry]

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewListener creates a stopped listener for host with default settings
func NewListener(host string) *Listener {
	return &Listener{
		Host:        host,
		Port:        DefaultPort,
		Backoff:     DefaultBackoff,
		DialTimeout: DefaultDialTimeout,
		IdleTimeout: DefaultIdleTimeout,
		states:      make(map[ButtonKey]ButtonStatus),
		log:         logging.Named("events").With(zap.String("host", host)),
	}
}

// Start launches the listener goroutine. It is a no-op when already running.
// The listener runs until Stop is called or ctx is cancelled.
func (l *Listener) Start(ctx context.Context) {
	l.runMu.Lock()
	defer l.runMu.Unlock()

	if l.done != nil {
		select {
		case <-l.done:
		default:
			return
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.setState(StateConnecting)
	go l.run(runCtx, l.done)
}

// Stop cancels the listener, interrupting any blocked dial, read or backoff,
// and returns once the goroutine has exited. Button state is kept.
func (l *Listener) Stop() {
	l.runMu.Lock()
	defer l.runMu.Unlock()

	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
	l.cancel = nil
}

// State returns the current connection state
func (l *Listener) State() State {
	return State(l.state.Load())
}

// Running reports whether the listener goroutine is active
func (l *Listener) Running() bool {
	return l.State() != StateStopped
}

// ButtonState returns the last action seen for a button.
func (l *Listener) ButtonState(address, button int) (Action, bool) {
	l.statesMu.RLock()
	defer l.statesMu.RUnlock()
	s, ok := l.states[ButtonKey{Address: address, Button: button}]
	return s.Action, ok
}

// LastChanged returns when a button last produced an event.
func (l *Listener) LastChanged(address, button int) (time.Time, bool) {
	l.statesMu.RLock()
	defer l.statesMu.RUnlock()
	s, ok := l.states[ButtonKey{Address: address, Button: button}]
	return s.LastChanged, ok
}

// Snapshot returns every known button state ordered by address and button.
func (l *Listener) Snapshot() []ButtonStatus {
	l.statesMu.RLock()
	out := make([]ButtonStatus, 0, len(l.states))
	for _, s := range l.states {
		out = append(out, s)
	}
	l.statesMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Address != out[j].Address {
			return out[i].Address < out[j].Address
		}
		return out[i].Button < out[j].Button
	})
	return out
}

// AddHandler registers h for every following event and returns a function
// that unregisters it. Once the remove function returns, h is not invoked
// again. Handlers added during a dispatch first see the next event.
func (l *Listener) AddHandler(h Handler) (remove func()) {
	entry := &handlerEntry{fn: h}

	l.handlersMu.Lock()
	l.handlers = append(l.handlers, entry)
	l.handlersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.handlersMu.Lock()
			for i, e := range l.handlers {
				if e == entry {
					l.handlers = append(l.handlers[:i:i], l.handlers[i+1:]...)
					break
				}
			}
			l.handlersMu.Unlock()

			// A handler removing itself cannot wait for its own invocation.
			if l.invoking.Load() == entry {
				entry.removed.Store(true)
				return
			}
			entry.mu.Lock()
			entry.removed.Store(true)
			entry.mu.Unlock()
		})
	}
}

func (l *Listener) setState(s State) {
	if State(l.state.Swap(int32(s))) != s {
		l.log.Debug("listener state", zap.Stringer("state", s))
	}
}

func (l *Listener) address() string {
	port := l.Port
	if port <= 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(l.Host, strconv.Itoa(port))
}

func (l *Listener) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer l.setState(StateStopped)

	backoff := l.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}

	for {
		l.setState(StateConnecting)
		err := l.session(ctx)
		if ctx.Err() != nil {
			return
		}
		l.log.Warn("event listener disconnected", zap.Error(err), zap.Duration("backoff", backoff))

		l.setState(StateBackoff)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session runs one connection until it fails or ctx is cancelled.
func (l *Listener) session(ctx context.Context) error {
	addr := l.address()
	dialTimeout := l.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	idle := l.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}

	dialer := net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	l.setState(StateConnected)
	logging.LogConnection(addr, "event_listener_connected")

	reader := bufio.NewReaderSize(conn, readBufferSize)
	var (
		pending  []byte
		overflow bool
	)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
			return err
		}
		frag, err := reader.ReadSlice('\n')
		if !overflow {
			pending = append(pending, frag...)
			if len(pending) > MaxLineLength {
				overflow = true
				pending = pending[:0]
			}
		}

		switch {
		case err == nil:
			if !overflow {
				l.handleLine(addr, pending)
			} else {
				l.log.Debug("dropped oversized line")
			}
			pending = pending[:0]
			overflow = false
		case errors.Is(err, bufio.ErrBufferFull):
		case isTimeout(err):
			if ctx.Err() != nil {
				return ctx.Err()
			}
		default:
			return err
		}
	}
}

func (l *Listener) handleLine(addr string, raw []byte) {
	line := cleanLine(raw)
	if line == "" {
		return
	}
	logging.LogLine("received", addr, line)

	ev, ok := ParseButtonEvent(line)
	if !ok {
		return
	}
	ev.At = time.Now().UTC()

	l.statesMu.Lock()
	l.states[ev.ButtonKey] = ButtonStatus{ButtonKey: ev.ButtonKey, Action: ev.Action, LastChanged: ev.At}
	l.statesMu.Unlock()

	l.dispatch(ev)
}

func (l *Listener) dispatch(ev ButtonEvent) {
	l.handlersMu.RLock()
	entries := make([]*handlerEntry, len(l.handlers))
	copy(entries, l.handlers)
	l.handlersMu.RUnlock()

	for _, entry := range entries {
		l.invoke(entry, ev)
	}
}

func (l *Listener) invoke(entry *handlerEntry, ev ButtonEvent) {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.removed.Load() {
		return
	}

	l.invoking.Store(entry)
	defer l.invoking.Store(nil)
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("button handler panicked",
				zap.Any("panic", r),
				zap.Stringer("button", ev.ButtonKey),
				zap.String("action", string(ev.Action)),
			)
		}
	}()

	entry.fn(ev)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func cleanLine(raw []byte) string {
	var b strings.Builder
	for _, c := range raw {
		if c < 0x80 {
			b.WriteByte(c)
		}
	}
	return strings.TrimSpace(b.String())
}
