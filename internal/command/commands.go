package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/muurk/roehn/internal/protocol"
)

// Reply verbs
const (
	LoadReply  = "R:LOAD"
	ShadeReply = "R:SHADE"
)

// ShadeMove is a shade movement command
type ShadeMove string

const (
	ShadeUp   ShadeMove = "UP"
	ShadeDown ShadeMove = "DOWN"
	ShadeStop ShadeMove = "STOP"
)

// Reply is a parsed "<verb> <address> <channel> <level>" line
type Reply struct {
	Address int
	Channel int
	Level   int
}

// ParseReply parses line as a reply of the given verb (LoadReply or
// ShadeReply).
func ParseReply(line, verb string) (Reply, bool) {
	if !strings.HasPrefix(line, verb+" ") {
		return Reply{}, false
	}
	parts := strings.Fields(line)
	if len(parts) < 4 {
		return Reply{}, false
	}

	var nums [3]int
	for i := range nums {
		v, err := strconv.Atoi(parts[i+1])
		if err != nil {
			return Reply{}, false
		}
		nums[i] = v
	}
	return Reply{Address: nums[0], Channel: nums[1], Level: nums[2]}, true
}

// MatchReply returns the level of the first line that is a verb reply for
// exactly address and channel.
func MatchReply(lines []string, verb string, address, channel int) (int, bool) {
	for _, line := range lines {
		r, ok := ParseReply(line, verb)
		if ok && r.Address == address && r.Channel == channel {
			return r.Level, true
		}
	}
	return 0, false
}

// SetLoad sets a load channel to level (clamped to 0..100) and returns the
// level the processor reported. ok is false when no matching reply arrived.
func (c *Channel) SetLoad(ctx context.Context, address, channel, level int) (reported int, ok bool, err error) {
	if err := validate(address, channel); err != nil {
		return 0, false, err
	}
	cmd := fmt.Sprintf("LOAD %d %d %d", address, channel, protocol.ClampLevel(level))
	return c.roundTrip(ctx, cmd, LoadReply, address, channel)
}

// QueryLoad reads the current level of a load channel.
func (c *Channel) QueryLoad(ctx context.Context, address, channel int) (int, bool, error) {
	if err := validate(address, channel); err != nil {
		return 0, false, err
	}
	return c.roundTrip(ctx, fmt.Sprintf("GETLOAD %d %d", address, channel), LoadReply, address, channel)
}

// Shade starts or stops a shade movement and returns the reported position.
func (c *Channel) Shade(ctx context.Context, move ShadeMove, address, channel int) (int, bool, error) {
	switch move {
	case ShadeUp, ShadeDown, ShadeStop:
	default:
		return 0, false, NewValidationError(fmt.Sprintf("unknown shade movement %q", move))
	}
	if err := validate(address, channel); err != nil {
		return 0, false, err
	}
	return c.roundTrip(ctx, fmt.Sprintf("SHADE %s %d %d", move, address, channel), ShadeReply, address, channel)
}

// ShadeSet moves a shade to level (clamped to 0..100; 0 is down). Without a
// matching reply the requested level is returned, assuming the processor
// complied.
func (c *Channel) ShadeSet(ctx context.Context, address, channel, level int) (int, error) {
	if err := validate(address, channel); err != nil {
		return 0, err
	}
	level = protocol.ClampLevel(level)
	reported, ok, err := c.roundTrip(ctx, fmt.Sprintf("SHADE SET %d %d %d", address, channel, level), ShadeReply, address, channel)
	if err != nil {
		return 0, err
	}
	if !ok {
		return level, nil
	}
	return reported, nil
}

func (c *Channel) roundTrip(ctx context.Context, cmd, verb string, address, channel int) (int, bool, error) {
	lines, err := c.Exchange(ctx, cmd)
	if err != nil {
		return 0, false, err
	}
	level, ok := MatchReply(lines, verb, address, channel)
	return level, ok, nil
}

func validate(address, channel int) error {
	if address < 0 {
		return NewValidationError(fmt.Sprintf("invalid device address %d", address))
	}
	if channel < 0 {
		return NewValidationError(fmt.Sprintf("invalid channel %d", channel))
	}
	return nil
}
