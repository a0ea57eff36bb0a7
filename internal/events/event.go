package events

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EventPrefix starts every button event line
const EventPrefix = "R:BTN "

// Action is what happened to a keypad button
type Action string

const (
	ActionPress   Action = "PRESS"
	ActionRelease Action = "RELEASE"
	ActionHold    Action = "HOLD"
	ActionDouble  Action = "DOUBLE"
)

// Valid reports whether a is one of the known button actions
func (a Action) Valid() bool {
	switch a {
	case ActionPress, ActionRelease, ActionHold, ActionDouble:
		return true
	}
	return false
}

// ButtonKey identifies a keypad button by module control address and button id
type ButtonKey struct {
	Address int `json:"address"`
	Button  int `json:"button"`
}

func (k ButtonKey) String() string {
	return fmt.Sprintf("%d/%d", k.Address, k.Button)
}

// ButtonEvent is one parsed "R:BTN" line
type ButtonEvent struct {
	ButtonKey
	Action Action    `json:"action"`
	At     time.Time `json:"at"`
}

// ButtonStatus is the cached state of one button
type ButtonStatus struct {
	ButtonKey
	Action      Action    `json:"action"`
	LastChanged time.Time `json:"last_changed"`
}

// ParseButtonEvent parses "R:BTN <ACTION> <address> <button>". The action is
// case-insensitive; address and button must be positive. Extra tokens are
// ignored. The returned event has no timestamp.
func ParseButtonEvent(line string) (ButtonEvent, bool) {
	if !strings.HasPrefix(line, EventPrefix) {
		return ButtonEvent{}, false
	}
	parts := strings.Fields(line)
	if len(parts) < 4 {
		return ButtonEvent{}, false
	}

	action := Action(strings.ToUpper(parts[1]))
	if !action.Valid() {
		return ButtonEvent{}, false
	}
	address, err := strconv.Atoi(parts[2])
	if err != nil || address <= 0 {
		return ButtonEvent{}, false
	}
	button, err := strconv.Atoi(parts[3])
	if err != nil || button <= 0 {
		return ButtonEvent{}, false
	}

	return ButtonEvent{
		ButtonKey: ButtonKey{Address: address, Button: button},
		Action:    action,
	}, true
}
