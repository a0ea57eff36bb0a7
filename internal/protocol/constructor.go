package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Request builders for HSN_S-UDP datagrams.

// IdentifyPacketSize is the fixed size of an identify request
const IdentifyPacketSize = 28

// SerialSize is the number of raw bytes in a module serial number
const SerialSize = 6

func withHeader(body ...byte) []byte {
	packet := make([]byte, 0, HeaderSize+len(body))
	packet = append(packet, Header...)
	return append(packet, body...)
}

// BuildDiscover constructs a processor discovery request.
//
//	[0-8]   header
//	[9-12]  03 00 00 00
func BuildDiscover() []byte {
	return withHeader(OpDiscover, SubOpDiscover, 0, 0)
}

// BuildGetBios constructs a BIOS/capacity request.
//
//	[0-8]   header
//	[9-11]  04 09 00
func BuildGetBios() []byte {
	return withHeader(OpBios, SubOpBios, 0)
}

// BuildGetConnectedDevices constructs a device enumeration request for the
// page starting at readIndex.
//
//	[0-8]   header
//	[9-10]  64 01
//	[11-12] read index (little-endian uint16)
//	[13]    00
func BuildGetConnectedDevices(readIndex uint16) []byte {
	return withHeader(OpConnectedDevices, SubOpConnectedDevices,
		byte(readIndex), byte(readIndex>>8), 0)
}

// BuildIdentify constructs a request that makes the module with the given
// serial blink its LEDs, and beep when beep is true.
//
//	[0-8]   header
//	[9-16]  01 01 00 10 7d 01 ff 00
//	[17-22] module serial
//	[23-26] 04 ee 00 00
//	[27]    beep flag
func BuildIdentify(serial [SerialSize]byte, beep bool) []byte {
	packet := make([]byte, IdentifyPacketSize)
	copy(packet, Header)
	copy(packet[9:17], []byte{OpIdentify, SubOpIdentify, 0, 16, 125, 1, 0xFF, 0})
	copy(packet[17:23], serial[:])
	copy(packet[23:27], []byte{4, 238, 0, 0})
	if beep {
		packet[27] = 1
	}
	return packet
}

// ParseSerialHex parses a module serial written as six hex bytes separated by
// ':' or '-' (e.g. "29:11:00:09:DB:4E").
func ParseSerialHex(text string) ([SerialSize]byte, error) {
	var serial [SerialSize]byte

	tokens := strings.Split(strings.ReplaceAll(text, "-", ":"), ":")
	if len(tokens) != SerialSize {
		return serial, fmt.Errorf("serial must have %d bytes (format: AA:BB:CC:DD:EE:FF)", SerialSize)
	}

	for i, token := range tokens {
		token = strings.TrimSpace(token)
		if len(token) == 0 || len(token) > 2 {
			return serial, fmt.Errorf("invalid serial byte %q", token)
		}
		v, err := strconv.ParseUint(token, 16, 8)
		if err != nil {
			return serial, fmt.Errorf("invalid serial byte %q: %w", token, err)
		}
		serial[i] = byte(v)
	}

	return serial, nil
}

// FormatSerialHex renders raw serial bytes as colon-separated uppercase hex.
func FormatSerialHex(serial []byte) string {
	parts := make([]string, len(serial))
	for i, b := range serial {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}
