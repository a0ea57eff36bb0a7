package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseButtonEvent(t *testing.T) {
	tests := []struct {
		line   string
		want   ButtonEvent
		wantOK bool
	}{
		{line: "R:BTN PRESS 42 3", want: event(42, 3, ActionPress), wantOK: true},
		{line: "R:BTN release 42 3", want: event(42, 3, ActionRelease), wantOK: true},
		{line: "R:BTN HOLD 1 12 trailing", want: event(1, 12, ActionHold), wantOK: true},
		{line: "R:BTN DOUBLE 65000 1", want: event(65000, 1, ActionDouble), wantOK: true},
		{line: "R:BTN PRESS 42"},
		{line: "R:BTN TAP 42 3"},
		{line: "R:BTN PRESS 0 3"},
		{line: "R:BTN PRESS 42 -1"},
		{line: "R:BTN PRESS x 3"},
		{line: "R:BTNPRESS 42 3"},
		{line: "R:LOAD 42 3 50"},
		{line: " R:BTN PRESS 42 3"},
		{line: ""},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := ParseButtonEvent(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func event(address, button int, action Action) ButtonEvent {
	return ButtonEvent{ButtonKey: ButtonKey{Address: address, Button: button}, Action: action}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "backoff", StateBackoff.String())
	assert.Equal(t, "State(9)", State(9).String())
}
