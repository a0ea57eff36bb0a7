package protocol

import (
	"bytes"
	"errors"
	"fmt"
)

// Header is the magic prefix of every HSN_S-UDP datagram.
const Header = "HSN_S-UDP"

// Datagram layout constants
const (
	HeaderSize   = len(Header) // 9 bytes
	OpcodeOffset = HeaderSize  // [9] command
	SubOpOffset  = HeaderSize + 1

	// MaxDatagramSize is large enough for any reply the processor sends
	MaxDatagramSize = 8192
)

// Opcodes (byte 9) and sub-opcodes (byte 10)
const (
	OpIdentify         = 1
	OpDiscover         = 3
	OpBios             = 4
	OpConnectedDevices = 100

	SubOpDiscover         = 0
	SubOpIdentify         = 1
	SubOpBios             = 9
	SubOpConnectedDevices = 1
)

// Minimum reply sizes
const (
	MinDiscoverReply  = 15
	FullDiscoverReply = 82 // below this only the processor name is present
	MinBiosReply      = 15
	MinDevicesReply   = 23 // replies must be strictly longer than 22 bytes
)

var (
	// ErrShortPacket is returned when a datagram is shorter than its message minimum.
	ErrShortPacket = errors.New("protocol: packet too short")

	// ErrBadHeader is returned when a datagram does not start with the magic header.
	ErrBadHeader = errors.New("protocol: bad magic header")

	// ErrUnexpectedOpcode is returned when a datagram carries a different opcode pair.
	ErrUnexpectedOpcode = errors.New("protocol: unexpected opcode")
)

// checkFrame validates length, magic header and opcode pair of a reply.
func checkFrame(data []byte, minLen int, op, subOp byte) error {
	if len(data) < minLen {
		return fmt.Errorf("%w: %d bytes (need %d)", ErrShortPacket, len(data), minLen)
	}
	if !bytes.Equal(data[:HeaderSize], []byte(Header)) {
		return ErrBadHeader
	}
	if data[OpcodeOffset] != op || data[SubOpOffset] != subOp {
		return fmt.Errorf("%w: got %d/%d, want %d/%d",
			ErrUnexpectedOpcode, data[OpcodeOffset], data[SubOpOffset], op, subOp)
	}
	return nil
}

// HasHeader reports whether data starts with the magic header.
func HasHeader(data []byte) bool {
	return len(data) >= HeaderSize && bytes.Equal(data[:HeaderSize], []byte(Header))
}

// cString reads a NUL-terminated ASCII string starting at start, limited to
// maxLen bytes (0 = until end of data). Non-ASCII bytes are dropped and the
// result is trimmed.
func cString(data []byte, start, maxLen int) string {
	if start < 0 || start >= len(data) {
		return ""
	}
	end := len(data)
	if maxLen > 0 && start+maxLen < end {
		end = start + maxLen
	}
	chunk := data[start:end]
	if nul := bytes.IndexByte(chunk, 0); nul >= 0 {
		chunk = chunk[:nul]
	}
	return asciiTrim(chunk)
}

// fixedString decodes a fixed-width ASCII field, removing every NUL byte.
func fixedString(field []byte) string {
	return asciiTrim(bytes.ReplaceAll(field, []byte{0}, nil))
}

func asciiTrim(b []byte) string {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c < 0x80 {
			out = append(out, c)
		}
	}
	return string(bytes.TrimSpace(out))
}
