package protocol

import (
	"errors"
	"testing"
)

func TestCheckFrame(t *testing.T) {
	valid := []byte("HSN_S-UDP\x04\x09\x00\x01\x02\x03")

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{name: "valid", data: valid},
		{name: "short", data: valid[:14], wantErr: ErrShortPacket},
		{name: "bad header", data: append([]byte("HSN_C-UDP"), valid[9:]...), wantErr: ErrBadHeader},
		{name: "wrong sub-opcode", data: append([]byte("HSN_S-UDP\x04\x08"), valid[11:]...), wantErr: ErrUnexpectedOpcode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkFrame(tt.data, MinBiosReply, OpBios, SubOpBios)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("checkFrame() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCString(t *testing.T) {
	data := []byte("xxABC\x00DEF  \xffGH ")

	tests := []struct {
		name          string
		start, maxLen int
		want          string
	}{
		{"stops at NUL", 2, 0, "ABC"},
		{"max length", 2, 2, "AB"},
		{"trims and drops non-ascii", 6, 0, "DEF  GH"},
		{"out of range", 40, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cString(data, tt.start, tt.maxLen); got != tt.want {
				t.Errorf("cString(%d, %d) = %q, want %q", tt.start, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestFixedString(t *testing.T) {
	if got := fixedString([]byte("RD\x008\x00\x00 ")); got != "RD8" {
		t.Errorf("fixedString = %q, want %q", got, "RD8")
	}
}
