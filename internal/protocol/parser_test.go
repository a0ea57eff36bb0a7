package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discoverReply(size int) []byte {
	f := make([]byte, size)
	copy(f, Header)
	f[9] = OpDiscover
	f[10] = SubOpDiscover
	copy(f[12:], "ROEHN-PROC\x00junk")
	if size >= FullDiscoverReply {
		copy(f[32:36], []byte{2, 5, 1, 0})
		copy(f[42:], "PX1234\x00")
		copy(f[62:66], []byte{192, 168, 1, 50})
		copy(f[66:70], []byte{255, 255, 255, 0})
		copy(f[70:74], []byte{192, 168, 1, 1})
		copy(f[74:80], []byte{0x00, 0x1a, 0x2b, 0xc3, 0xd4, 0xef})
	}
	return f
}

func biosReply(size int) []byte {
	f := make([]byte, size)
	copy(f, Header)
	f[9] = OpBios
	f[10] = SubOpBios
	f[12], f[13], f[14] = 3, 1, 7
	put := func(off int, v uint16) {
		if off+2 <= size {
			binary.LittleEndian.PutUint16(f[off:], v)
		}
	}
	if size > 15 {
		f[15] = 64
	}
	put(16, 1000)
	put(20, 11)
	put(22, 12)
	put(26, 200)
	put(28, 20)
	put(30, 100)
	put(32, 10)
	put(34, 512)
	put(36, 65535)
	put(38, 300)
	put(40, 30)
	return f
}

type record struct {
	status, port     byte
	hsnet, device    uint16
	devModel         byte
	fw               [3]byte
	model, extended  string
	serial           [6]byte
	crc, eeprom, bmp uint16
}

func (r record) bytes() []byte {
	b := make([]byte, DeviceRecordSize)
	b[0] = r.status
	b[1] = r.port
	binary.LittleEndian.PutUint16(b[3:5], r.hsnet)
	binary.LittleEndian.PutUint16(b[5:7], r.device)
	b[7] = r.devModel
	copy(b[8:11], r.fw[:])
	copy(b[11:18], r.model)
	copy(b[18:28], r.extended)
	copy(b[28:34], r.serial[:])
	binary.BigEndian.PutUint16(b[34:36], r.crc)
	binary.LittleEndian.PutUint16(b[36:38], r.eeprom)
	binary.LittleEndian.PutUint16(b[38:40], r.bmp)
	return b
}

func devicesReply(headerLen, registerLen, qty int, readIndex uint16, records ...record) []byte {
	f := make([]byte, HeaderSize+3+headerLen)
	copy(f, Header)
	f[9] = OpConnectedDevices
	f[10] = SubOpConnectedDevices
	f[12] = byte(headerLen)
	f[13] = byte(registerLen)
	f[14] = byte(qty)
	binary.LittleEndian.PutUint16(f[16:18], readIndex)
	for _, r := range records {
		rec := make([]byte, registerLen)
		copy(rec, r.bytes())
		f = append(f, rec...)
	}
	for len(f) <= 22 {
		f = append(f, 0)
	}
	return f
}

func TestParseProcessorResponse(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr error
		verify  func(t *testing.T, info *ProcessorInfo)
	}{
		{
			name: "full reply",
			data: discoverReply(FullDiscoverReply),
			verify: func(t *testing.T, info *ProcessorInfo) {
				assert.Equal(t, "ROEHN-PROC", info.Name)
				assert.Equal(t, "2.5.1.0", info.Version)
				assert.Equal(t, "PX1234", info.Serial)
				assert.Equal(t, "192.168.1.50", info.IP)
				assert.Equal(t, "255.255.255.0", info.Mask)
				assert.Equal(t, "192.168.1.1", info.Gateway)
				assert.Equal(t, "00:1A:2B:C3:D4:EF", info.MAC)
				assert.Equal(t, "10.0.0.9", info.SourceIP)
				assert.Equal(t, "192.168.1.50", info.Address())
			},
		},
		{
			name: "short reply only has name",
			data: discoverReply(40),
			verify: func(t *testing.T, info *ProcessorInfo) {
				assert.Equal(t, "ROEHN-PROC", info.Name)
				assert.Empty(t, info.Version)
				assert.Empty(t, info.Serial)
				assert.Empty(t, info.IP)
				assert.Equal(t, "10.0.0.9", info.Address())
			},
		},
		{
			name:    "too short",
			data:    discoverReply(14),
			wantErr: ErrShortPacket,
		},
		{
			name: "bad header",
			data: func() []byte {
				f := discoverReply(FullDiscoverReply)
				f[0] = 'X'
				return f
			}(),
			wantErr: ErrBadHeader,
		},
		{
			name: "wrong opcode",
			data: func() []byte {
				f := discoverReply(FullDiscoverReply)
				f[10] = 1
				return f
			}(),
			wantErr: ErrUnexpectedOpcode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := ParseProcessorResponse(tt.data, "10.0.0.9")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, info)
				return
			}
			require.NoError(t, err)
			tt.verify(t, info)
		})
	}
}

func TestParseBiosResponse(t *testing.T) {
	t.Run("minimum reply", func(t *testing.T) {
		info, err := ParseBiosResponse(biosReply(15))
		require.NoError(t, err)
		assert.Equal(t, "3.1.7", info.Version)
		assert.Equal(t, 3, info.MajorVersion)
		assert.Equal(t, 1, info.MinorVersion)
		assert.Equal(t, 7, info.PatchVersion)
		assert.Zero(t, info.MaxModules)
	})

	t.Run("16 bytes populates max modules only", func(t *testing.T) {
		info, err := ParseBiosResponse(biosReply(16))
		require.NoError(t, err)
		assert.Equal(t, 64, info.MaxModules)
		assert.Zero(t, info.MaxUnits)
		assert.Zero(t, info.EventBlock)
		assert.Zero(t, info.CadScenes)
	})

	t.Run("full reply", func(t *testing.T) {
		info, err := ParseBiosResponse(biosReply(42))
		require.NoError(t, err)
		assert.Equal(t, 64, info.MaxModules)
		assert.Equal(t, 1000, info.MaxUnits)
		assert.Equal(t, 11, info.EventBlock)
		assert.Equal(t, 12, info.StringVarBlock)
		assert.Equal(t, 200, info.MaxScripts)
		assert.Equal(t, 20, info.CadScripts)
		assert.Equal(t, 100, info.MaxProcedures)
		assert.Equal(t, 10, info.CadProcedures)
		assert.Equal(t, 512, info.MaxVar)
		assert.Equal(t, 0, info.CadVar, "cad_var above 65000 means unsupported")
		assert.Equal(t, 300, info.MaxScenes)
		assert.Equal(t, 30, info.CadScenes)
	})

	t.Run("cad var kept when plausible", func(t *testing.T) {
		data := biosReply(42)
		binary.LittleEndian.PutUint16(data[36:38], 65000)
		info, err := ParseBiosResponse(data)
		require.NoError(t, err)
		assert.Equal(t, 65000, info.CadVar)
	})

	t.Run("gaps stop at threshold", func(t *testing.T) {
		info, err := ParseBiosResponse(biosReply(21))
		require.NoError(t, err)
		assert.Equal(t, 1000, info.MaxUnits)
		assert.Zero(t, info.EventBlock)
	})

	t.Run("rejects", func(t *testing.T) {
		_, err := ParseBiosResponse(biosReply(14))
		assert.ErrorIs(t, err, ErrShortPacket)

		data := biosReply(20)
		data[9] = OpDiscover
		_, err = ParseBiosResponse(data)
		assert.ErrorIs(t, err, ErrUnexpectedOpcode)
	})
}

func TestParseDevicesResponse(t *testing.T) {
	dimmer := record{
		status:   1,
		port:     2,
		hsnet:    17,
		device:   1201,
		devModel: 2,
		fw:       [3]byte{1, 4, 9},
		model:    "RD8\x00\x00",
		extended: "DIM8-220",
		serial:   [6]byte{0x29, 0x11, 0x00, 0x09, 0xDB, 0x4E},
		crc:      0xABCD,
		eeprom:   0x0102,
		bmp:      0x8001,
	}
	keypad := record{hsnet: 18, device: 255, devModel: 3, model: "KP4", serial: [6]byte{1, 2, 3, 4, 5, 6}}

	t.Run("decodes records", func(t *testing.T) {
		page, err := ParseDevicesResponse(devicesReply(8, 44, 2, 5, dimmer, keypad), "10.0.0.9")
		require.NoError(t, err)
		require.Len(t, page.Devices, 2)

		d := page.Devices[0]
		assert.Equal(t, "10.0.0.9", d.ProcessorIP)
		assert.Equal(t, 1, d.Status)
		assert.Equal(t, 2, d.Port)
		assert.Equal(t, 17, d.HsnetID)
		assert.Equal(t, 1201, d.DeviceID)
		assert.Equal(t, 2, d.DevModel)
		assert.Equal(t, "1.4.9", d.Firmware)
		assert.Equal(t, "RD8", d.Model)
		assert.Equal(t, "DIM8-220", d.ExtendedModel)
		assert.Equal(t, "29:11:00:09:DB:4E", d.SerialHex)
		assert.Equal(t, 0xABCD, d.CRC, "crc is big-endian")
		assert.Equal(t, 0x0102, d.EEPROMAddress)
		assert.Equal(t, 0x8001, d.Bitmap)
		assert.Equal(t, 1201, d.ControlAddress())

		assert.Equal(t, 18, page.Devices[1].ControlAddress())
		assert.Equal(t, 2, page.RegistersQty)
		assert.Equal(t, 5, page.ReadIndex)
		assert.True(t, page.Final())
		assert.Equal(t, 7, page.NextIndex())
	})

	t.Run("truncated record skipped", func(t *testing.T) {
		data := devicesReply(8, 40, 2, 0, dimmer, keypad)
		data = data[:len(data)-1]
		page, err := ParseDevicesResponse(data, "10.0.0.9")
		require.NoError(t, err)
		assert.Len(t, page.Devices, 1)
	})

	t.Run("full page is not final", func(t *testing.T) {
		records := make([]record, PageFullThreshold)
		for i := range records {
			records[i] = record{hsnet: uint16(i + 1)}
		}
		page, err := ParseDevicesResponse(devicesReply(8, 40, PageFullThreshold, 0, records...), "10.0.0.9")
		require.NoError(t, err)
		assert.Len(t, page.Devices, PageFullThreshold)
		assert.False(t, page.Final())
		assert.Equal(t, PageFullThreshold, page.NextIndex())
	})

	t.Run("rejects", func(t *testing.T) {
		_, err := ParseDevicesResponse(make([]byte, 22), "")
		assert.ErrorIs(t, err, ErrShortPacket)

		data := devicesReply(8, 40, 0, 0)
		data[10] = 0
		_, err = ParseDevicesResponse(data, "")
		assert.ErrorIs(t, err, ErrUnexpectedOpcode)
	})
}

func TestResolveControlAddress(t *testing.T) {
	tests := []struct {
		deviceID, hsnetID, want int
	}{
		{1201, 17, 1201},
		{1, 17, 1},
		{65534, 17, 65534},
		{255, 17, 17},
		{0, 17, 17},
		{65535, 17, 17},
		{-3, 17, 17},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ResolveControlAddress(tt.deviceID, tt.hsnetID),
			"ResolveControlAddress(%d, %d)", tt.deviceID, tt.hsnetID)
	}
}

func TestLevels(t *testing.T) {
	assert.Equal(t, 0, ClampLevel(-20))
	assert.Equal(t, 55, ClampLevel(55))
	assert.Equal(t, 100, ClampLevel(150))

	assert.Equal(t, 0, LevelFromBrightness(0))
	assert.Equal(t, 50, LevelFromBrightness(128))
	assert.Equal(t, 100, LevelFromBrightness(255))
	assert.Equal(t, 100, LevelFromBrightness(400))

	assert.Equal(t, 0, BrightnessFromLevel(0))
	assert.Equal(t, 128, BrightnessFromLevel(50))
	assert.Equal(t, 255, BrightnessFromLevel(100))
	assert.Equal(t, 255, BrightnessFromLevel(180))
}
