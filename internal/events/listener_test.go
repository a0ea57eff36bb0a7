package events

import (
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProcessor hands every accepted text connection to the test.
type fakeProcessor struct {
	ln    net.Listener
	conns chan net.Conn
}

func newFakeProcessor(t *testing.T) *fakeProcessor {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeProcessor{ln: ln, conns: make(chan net.Conn, 8)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			f.conns <- conn
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		for {
			select {
			case c := <-f.conns:
				c.Close()
			default:
				return
			}
		}
	})
	return f
}

func (f *fakeProcessor) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-f.conns:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not connect")
		return nil
	}
}

func (f *fakeProcessor) listener() *Listener {
	l := NewListener("127.0.0.1")
	l.Port = f.ln.Addr().(*net.TCPAddr).Port
	l.Backoff = 50 * time.Millisecond
	return l
}

func send(t *testing.T, conn net.Conn, lines ...string) {
	t.Helper()
	_, err := conn.Write([]byte(strings.Join(lines, "\r\n") + "\r\n"))
	require.NoError(t, err)
}

func TestListenerPressNotifiesEachHandlerOnce(t *testing.T) {
	fake := newFakeProcessor(t)
	l := fake.listener()

	var first, second atomic.Int32
	var got ButtonEvent
	var mu sync.Mutex
	l.AddHandler(func(ev ButtonEvent) {
		mu.Lock()
		got = ev
		mu.Unlock()
		first.Add(1)
	})
	l.AddHandler(func(ButtonEvent) { second.Add(1) })

	l.Start(context.Background())
	defer l.Stop()

	conn := fake.accept(t)
	require.Eventually(t, func() bool { return l.State() == StateConnected }, time.Second, 5*time.Millisecond)

	send(t, conn, "WELCOME", "R:LOAD 42 1 10", "", "R:BTN PRESS 42 3")

	require.Eventually(t, func() bool { return first.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)

	action, ok := l.ButtonState(42, 3)
	assert.True(t, ok)
	assert.Equal(t, ActionPress, action)

	changed, ok := l.LastChanged(42, 3)
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now(), changed, 5*time.Second)

	mu.Lock()
	assert.Equal(t, ButtonKey{Address: 42, Button: 3}, got.ButtonKey)
	assert.Equal(t, ActionPress, got.Action)
	mu.Unlock()

	_, ok = l.ButtonState(42, 4)
	assert.False(t, ok, "no state is created for unseen buttons")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), first.Load())
	assert.Equal(t, int32(1), second.Load())
}

func TestListenerStateSurvivesReconnect(t *testing.T) {
	fake := newFakeProcessor(t)
	l := fake.listener()
	l.Start(context.Background())
	defer l.Stop()

	conn := fake.accept(t)
	send(t, conn, "R:BTN HOLD 7 2")
	require.Eventually(t, func() bool {
		a, ok := l.ButtonState(7, 2)
		return ok && a == ActionHold
	}, time.Second, 5*time.Millisecond)

	conn.Close()

	conn = fake.accept(t)
	action, ok := l.ButtonState(7, 2)
	assert.True(t, ok)
	assert.Equal(t, ActionHold, action)

	send(t, conn, "R:BTN RELEASE 7 2", "R:BTN DOUBLE 8 1")
	require.Eventually(t, func() bool { return len(l.Snapshot()) == 2 }, time.Second, 5*time.Millisecond)

	snap := l.Snapshot()
	assert.Equal(t, ButtonKey{Address: 7, Button: 2}, snap[0].ButtonKey)
	assert.Equal(t, ActionRelease, snap[0].Action)
	assert.Equal(t, ButtonKey{Address: 8, Button: 1}, snap[1].ButtonKey)
}

func TestListenerRecoversHandlerPanic(t *testing.T) {
	fake := newFakeProcessor(t)
	l := fake.listener()

	var after atomic.Int32
	l.AddHandler(func(ButtonEvent) { panic("boom") })
	l.AddHandler(func(ButtonEvent) { after.Add(1) })

	l.Start(context.Background())
	defer l.Stop()

	conn := fake.accept(t)
	send(t, conn, "R:BTN PRESS 1 1", "R:BTN PRESS 1 2")

	require.Eventually(t, func() bool { return after.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateConnected, l.State(), "a panicking handler does not drop the connection")
}

func TestListenerRemoveHandler(t *testing.T) {
	fake := newFakeProcessor(t)
	l := fake.listener()

	var removed, kept atomic.Int32
	remove := l.AddHandler(func(ButtonEvent) { removed.Add(1) })
	l.AddHandler(func(ButtonEvent) { kept.Add(1) })

	var selfRemove func()
	var self atomic.Int32
	selfRemove = l.AddHandler(func(ButtonEvent) {
		self.Add(1)
		selfRemove()
	})

	l.Start(context.Background())
	defer l.Stop()
	conn := fake.accept(t)

	send(t, conn, "R:BTN PRESS 5 1")
	require.Eventually(t, func() bool { return kept.Load() == 1 }, time.Second, 5*time.Millisecond)

	remove()
	remove()
	send(t, conn, "R:BTN RELEASE 5 1")
	require.Eventually(t, func() bool { return kept.Load() == 2 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(1), removed.Load())
	assert.Equal(t, int32(1), self.Load())
}

func TestListenerAcceptsLongTrailingTokens(t *testing.T) {
	fake := newFakeProcessor(t)
	l := fake.listener()

	var count atomic.Int32
	l.AddHandler(func(ButtonEvent) { count.Add(1) })
	l.Start(context.Background())
	defer l.Stop()

	conn := fake.accept(t)
	send(t, conn, "R:BTN PRESS 9 9 "+strings.Repeat("extra ", 2000))

	require.Eventually(t, func() bool { return count.Load() == 1 }, time.Second, 5*time.Millisecond)
	action, ok := l.ButtonState(9, 9)
	require.True(t, ok)
	assert.Equal(t, ActionPress, action)
}

func TestListenerDropsOversizedLine(t *testing.T) {
	fake := newFakeProcessor(t)
	l := fake.listener()

	var count atomic.Int32
	l.AddHandler(func(ButtonEvent) { count.Add(1) })
	l.Start(context.Background())
	defer l.Stop()

	conn := fake.accept(t)
	send(t, conn, "R:BTN PRESS 9 9 "+strings.Repeat("x", 2*MaxLineLength), "R:BTN PRESS 9 1")

	require.Eventually(t, func() bool { return count.Load() == 1 }, time.Second, 5*time.Millisecond)
	_, ok := l.ButtonState(9, 9)
	assert.False(t, ok)
	_, ok = l.ButtonState(9, 1)
	assert.True(t, ok)
}

func TestListenerStopWhileConnected(t *testing.T) {
	fake := newFakeProcessor(t)
	l := fake.listener()
	l.IdleTimeout = time.Minute

	l.Start(context.Background())
	fake.accept(t)
	require.Eventually(t, func() bool { return l.State() == StateConnected }, time.Second, 5*time.Millisecond)

	start := time.Now()
	l.Stop()
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateStopped, l.State())
	assert.False(t, l.Running())

	l.Stop()
}

func TestListenerStopDuringBackoff(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	l := NewListener("127.0.0.1")
	l.Port = port
	l.Backoff = time.Minute

	l.Start(context.Background())
	require.Eventually(t, func() bool { return l.State() == StateBackoff }, 2*time.Second, 5*time.Millisecond)

	start := time.Now()
	l.Stop()
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateStopped, l.State())
}

func TestListenerRestart(t *testing.T) {
	fake := newFakeProcessor(t)
	l := fake.listener()

	l.Start(context.Background())
	l.Start(context.Background())
	conn := fake.accept(t)
	send(t, conn, "R:BTN PRESS 3 3")
	require.Eventually(t, func() bool {
		_, ok := l.ButtonState(3, 3)
		return ok
	}, time.Second, 5*time.Millisecond)
	l.Stop()

	l.Start(context.Background())
	defer l.Stop()
	fake.accept(t)

	_, ok := l.ButtonState(3, 3)
	assert.True(t, ok)

	select {
	case <-fake.conns:
		t.Fatal("second Start while running must not open another connection")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestListenerContextCancel(t *testing.T) {
	fake := newFakeProcessor(t)
	l := fake.listener()

	ctx, cancel := context.WithCancel(context.Background())
	l.Start(ctx)
	fake.accept(t)

	cancel()
	require.Eventually(t, func() bool { return l.State() == StateStopped }, time.Second, 5*time.Millisecond)
	l.Stop()
}
