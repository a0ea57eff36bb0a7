package ui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/roehn/internal/command"
	"github.com/muurk/roehn/internal/config"
	"github.com/muurk/roehn/internal/events"
	"github.com/muurk/roehn/internal/protocol"
	"github.com/muurk/roehn/internal/resources"
)

func TestHeaderKeepsParamOrder(t *testing.T) {
	h := NewHeader("Modules", "roehn devices").
		SetWidth(80).
		AddParam("Processor", "192.168.51.10").
		AddParam("Skipped", "").
		AddParam("Timeout", "1s")

	out := h.Render()
	assert.Contains(t, out, "MODULES")
	assert.Contains(t, out, "roehn devices")
	assert.NotContains(t, out, "Skipped")

	proc := strings.Index(out, "Processor:")
	timeout := strings.Index(out, "Timeout:")
	require.NotEqual(t, -1, proc)
	require.NotEqual(t, -1, timeout)
	assert.Less(t, proc, timeout)
}

func TestResultBoxes(t *testing.T) {
	ok := NewSuccessResult("Load set").SetWidth(80).AddDetail("Level", "75")
	out := ok.Render()
	assert.Contains(t, out, "SUCCESS")
	assert.Contains(t, out, "Load set")
	assert.Contains(t, out, "Level:")

	err := &command.Error{Type: command.ErrTypeTimeout, Message: "dial timed out"}
	out = NewFailureResult("Load set", err).SetWidth(80).Render()
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "Processor not responding")
	assert.Contains(t, out, "Try increasing --timeout")

	out = NewWarningResult("No modules").SetWidth(80).Render()
	assert.Contains(t, out, "WARNING")
}

func TestFormatChannels(t *testing.T) {
	tests := []struct {
		in   []int
		want string
	}{
		{nil, "-"},
		{[]int{3}, "3"},
		{[]int{1, 2, 3, 4}, "1-4"},
		{[]int{1, 2, 5, 7, 8}, "1-2,5,7-8"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatChannels(tt.in))
	}
}

func TestFormatAge(t *testing.T) {
	assert.Equal(t, "now", FormatAge(-time.Second))
	assert.Equal(t, "now", FormatAge(200*time.Millisecond))
	assert.Equal(t, "42s ago", FormatAge(42*time.Second))
	assert.Equal(t, "3m ago", FormatAge(3*time.Minute+10*time.Second))
	assert.Equal(t, "2h ago", FormatAge(2*time.Hour))
}

type stubLookup map[string]*resources.ModuleDriver

func (s stubLookup) Module(model, _ string, _ int) (*resources.ModuleDriver, bool) {
	m, ok := s[model]
	return m, ok
}

func (s stubLookup) Keypad(string, string, int) (*resources.KeypadDriver, bool) {
	return nil, false
}

func TestRenderDevicesWithChannels(t *testing.T) {
	lookup := stubLookup{
		"RA-DIM4": {Slots: []resources.Slot{
			{InitialPort: 1, Capacity: 4, SlotType: 2, SlotName: resources.SlotDimmer},
		}},
	}
	devices := []protocol.DeviceInfo{
		{HsnetID: 101, DeviceID: 12, Model: "RA-DIM4", SerialHex: "00A1B2C3", Port: 1},
		{HsnetID: 102, DeviceID: 0, Model: "RA-KP6", Port: 2},
	}

	out := RenderDevices(devices, lookup)
	assert.Contains(t, out, "RA-DIM4")
	assert.Contains(t, out, "1-4")
	assert.Contains(t, out, "00A1B2C3")
	// device id 0 falls back to the hsnet id
	assert.Contains(t, out, "102")

	out = RenderDevices(devices, nil)
	assert.NotContains(t, out, "1-4")
}

func TestRenderButtonsAndRegistry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := RenderButtons([]events.ButtonStatus{
		{ButtonKey: events.ButtonKey{Address: 12, Button: 3}, Action: events.ActionHold, LastChanged: now.Add(-5 * time.Second)},
	}, now)
	assert.Contains(t, out, "HOLD")
	assert.Contains(t, out, "5s ago")

	reg := config.NewRegistry()
	reg.SetProcessor("home", &config.Processor{Host: "192.168.51.10", Serial: "ABCD"})
	out = RenderRegistry(reg)
	assert.Contains(t, out, "home")
	assert.Contains(t, out, "192.168.51.10")
	assert.Contains(t, out, "default")
}

func TestConfirm(t *testing.T) {
	var out bytes.Buffer
	assert.True(t, Confirm(strings.NewReader("yes\n"), &out, "Remove processor", []string{"home"}))
	assert.Contains(t, out.String(), "Remove processor")

	assert.True(t, Confirm(strings.NewReader("Y"), &out, "x", nil))
	assert.False(t, Confirm(strings.NewReader("n\n"), &out, "x", nil))
	assert.False(t, Confirm(strings.NewReader(""), &out, "x", nil))
}

func TestRunnerReportsOutcome(t *testing.T) {
	var out bytes.Buffer
	r := NewRunner(RunnerConfig{
		Title:   "Identify",
		Command: "roehn identify 00A1B2C3",
		Params:  []Field{{Key: "Processor", Value: "192.168.51.10"}},
		Expect:  50 * time.Millisecond,
		Output:  &out,
	})
	r.tick = 5 * time.Millisecond

	err := r.Run(context.Background(), func(ctx context.Context) ([]Field, error) {
		time.Sleep(20 * time.Millisecond)
		return []Field{{Key: "Packets", Value: "4"}}, nil
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "IDENTIFY")
	assert.Contains(t, out.String(), "Identify complete")
	assert.Contains(t, out.String(), "Packets:")
	assert.Contains(t, out.String(), "100%")

	out.Reset()
	boom := errors.New("boom")
	r = NewRunner(RunnerConfig{Title: "Identify", Output: &out, Quiet: true})
	err = r.Run(context.Background(), func(ctx context.Context) ([]Field, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NotContains(t, out.String(), "IDENTIFY")
	assert.Contains(t, out.String(), "Identify failed")
}

type fakeSource struct {
	mu       sync.Mutex
	state    events.State
	snapshot []events.ButtonStatus
	handlers []events.Handler
}

func (f *fakeSource) AddButtonListener(h events.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, h)
	return func() {}
}

func (f *fakeSource) ButtonSnapshot() []events.ButtonStatus {
	return f.snapshot
}

func (f *fakeSource) ListenerState() events.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func TestMonitorModel(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{
		state: events.StateConnecting,
		snapshot: []events.ButtonStatus{
			{ButtonKey: events.ButtonKey{Address: 20, Button: 1}, Action: events.ActionRelease, LastChanged: now},
		},
	}
	feed := make(chan events.ButtonEvent, 1)
	m := NewMonitorModel("192.168.51.10", src, feed)
	m.now = func() time.Time { return now }

	require.Len(t, m.table.Rows(), 1)
	assert.Contains(t, m.View(), "connecting")

	next, cmd := m.Update(buttonMsg(events.ButtonEvent{
		ButtonKey: events.ButtonKey{Address: 12, Button: 3},
		Action:    events.ActionPress,
		At:        now,
	}))
	require.NotNil(t, cmd)
	m = next.(MonitorModel)
	assert.Equal(t, 1, m.count)

	rows := m.table.Rows()
	require.Len(t, rows, 2)
	// sorted by address
	assert.Equal(t, "12", rows[0][0])
	assert.Equal(t, "PRESS", rows[0][2])
	assert.Contains(t, m.View(), "last 12/3")

	src.mu.Lock()
	src.state = events.StateConnected
	src.mu.Unlock()
	next, _ = m.Update(monitorTickMsg(now))
	m = next.(MonitorModel)
	assert.Contains(t, m.View(), "connected")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'c'}})
	m = next.(MonitorModel)
	assert.Empty(t, m.table.Rows())

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestMonitorFeedClosed(t *testing.T) {
	feed := make(chan events.ButtonEvent)
	close(feed)
	msg := waitForButton(feed)()
	assert.IsType(t, feedClosedMsg{}, msg)
}
