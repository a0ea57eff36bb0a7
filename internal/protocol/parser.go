package protocol

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Device enumeration constants
const (
	// DeviceRecordSize is the fixed size of one decoded device record
	DeviceRecordSize = 40

	// PageFullThreshold is the record count of a full enumeration page. A reply
	// reporting fewer records is the last page.
	PageFullThreshold = 24

	// CadVarUnsupported is the largest cad_var value treated as real; larger
	// values mean the firmware does not report it.
	CadVarUnsupported = 65000
)

// ProcessorInfo is the decoded reply to a Discover request.
type ProcessorInfo struct {
	SourceIP string `json:"source_ip"`
	Name     string `json:"name"`
	Version  string `json:"version"`
	Serial   string `json:"serial"`
	IP       string `json:"ip"`
	Mask     string `json:"mask"`
	Gateway  string `json:"gateway"`
	MAC      string `json:"mac"`
}

// Address returns the processor's self-reported IP, falling back to the
// source address of the reply.
func (p *ProcessorInfo) Address() string {
	if p.IP != "" {
		return p.IP
	}
	return p.SourceIP
}

// Key identifies a processor across discovery replies.
func (p *ProcessorInfo) Key() string {
	return p.Serial + "|" + p.Address()
}

func (p *ProcessorInfo) String() string {
	return fmt.Sprintf("Roehn Processor %s (serial %s, version %s) at %s",
		orDash(p.Name), orDash(p.Serial), orDash(p.Version), p.Address())
}

// BiosInfo is the decoded reply to a GetBios request. Counters the reply was
// too short to contain are left at zero.
type BiosInfo struct {
	Version        string `json:"version"`
	MajorVersion   int    `json:"major_version"`
	MinorVersion   int    `json:"minor_version"`
	PatchVersion   int    `json:"patch_version"`
	MaxModules     int    `json:"max_modules"`
	MaxUnits       int    `json:"max_units"`
	EventBlock     int    `json:"event_block"`
	StringVarBlock int    `json:"string_var_block"`
	MaxScripts     int    `json:"max_scripts"`
	CadScripts     int    `json:"cad_scripts"`
	MaxProcedures  int    `json:"max_procedures"`
	CadProcedures  int    `json:"cad_procedures"`
	MaxVar         int    `json:"max_var"`
	CadVar         int    `json:"cad_var"`
	MaxScenes      int    `json:"max_scenes"`
	CadScenes      int    `json:"cad_scenes"`
}

// DeviceInfo is one module record from a GetConnectedDevices reply.
type DeviceInfo struct {
	ProcessorIP   string `json:"processor_ip"`
	Port          int    `json:"port"`
	HsnetID       int    `json:"hsnet_id"`
	DeviceID      int    `json:"device_id"`
	DevModel      int    `json:"dev_model"`
	Firmware      string `json:"fw"`
	Model         string `json:"model"`
	ExtendedModel string `json:"extended_model"`
	SerialHex     string `json:"serial_hex"`
	Status        int    `json:"status"`
	CRC           int    `json:"crc"`
	EEPROMAddress int    `json:"eeprom_address"`
	Bitmap        int    `json:"bitmap"`
}

// ControlAddress returns the address text commands must use for this module.
func (d *DeviceInfo) ControlAddress() int {
	return ResolveControlAddress(d.DeviceID, d.HsnetID)
}

// DisplayName returns the extended model, model, or serial based name.
func (d *DeviceInfo) DisplayName() string {
	switch {
	case d.ExtendedModel != "":
		return d.ExtendedModel
	case d.Model != "":
		return d.Model
	default:
		return "Module " + d.SerialHex
	}
}

func (d *DeviceInfo) String() string {
	return fmt.Sprintf("%s HSNET %d (device_id=%d, serial=%s, fw=%s)",
		d.DisplayName(), d.HsnetID, d.DeviceID, d.SerialHex, d.Firmware)
}

// DevicesPage is one decoded page of a device enumeration.
type DevicesPage struct {
	Devices      []DeviceInfo
	RegistersQty int // record count reported by the processor
	ReadIndex    int // index of the first record on this page, as reported
}

// Final reports whether this page signals the end of the enumeration.
func (p *DevicesPage) Final() bool {
	return p.RegistersQty < PageFullThreshold
}

// NextIndex is the read index to request for the following page. The
// processor may skip entries, so it is derived from the reported index.
func (p *DevicesPage) NextIndex() int {
	return p.ReadIndex + p.RegistersQty
}

// ParseProcessorResponse decodes a Discover reply received from sourceIP.
// Replies shorter than FullDiscoverReply only populate Name.
//
// Layout (full reply):
//
//	[12+]    name (NUL-terminated)
//	[32-35]  firmware version
//	[42-57]  serial (NUL-terminated, max 16)
//	[62-65]  ip
//	[66-69]  mask
//	[70-73]  gateway
//	[74-79]  MAC
func ParseProcessorResponse(data []byte, sourceIP string) (*ProcessorInfo, error) {
	if err := checkFrame(data, MinDiscoverReply, OpDiscover, SubOpDiscover); err != nil {
		return nil, err
	}

	info := &ProcessorInfo{
		SourceIP: sourceIP,
		Name:     cString(data, 12, 0),
	}
	if len(data) >= FullDiscoverReply {
		info.Version = dotted(data[32:36])
		info.Serial = cString(data, 42, 16)
		info.IP = dotted(data[62:66])
		info.Mask = dotted(data[66:70])
		info.Gateway = dotted(data[70:74])
		info.MAC = FormatSerialHex(data[74:80])
	}
	return info, nil
}

// biosField is one optional little-endian counter of a BIOS reply.
type biosField struct {
	minLen int
	offset int
	width  int // 1 or 2 bytes
	dst    func(*BiosInfo) *int
}

var biosFields = []biosField{
	{16, 15, 1, func(b *BiosInfo) *int { return &b.MaxModules }},
	{18, 16, 2, func(b *BiosInfo) *int { return &b.MaxUnits }},
	{22, 20, 2, func(b *BiosInfo) *int { return &b.EventBlock }},
	{24, 22, 2, func(b *BiosInfo) *int { return &b.StringVarBlock }},
	{28, 26, 2, func(b *BiosInfo) *int { return &b.MaxScripts }},
	{30, 28, 2, func(b *BiosInfo) *int { return &b.CadScripts }},
	{32, 30, 2, func(b *BiosInfo) *int { return &b.MaxProcedures }},
	{34, 32, 2, func(b *BiosInfo) *int { return &b.CadProcedures }},
	{36, 34, 2, func(b *BiosInfo) *int { return &b.MaxVar }},
	{38, 36, 2, func(b *BiosInfo) *int { return &b.CadVar }},
	{40, 38, 2, func(b *BiosInfo) *int { return &b.MaxScenes }},
	{42, 40, 2, func(b *BiosInfo) *int { return &b.CadScenes }},
}

// ParseBiosResponse decodes a GetBios reply. Each capacity counter is only
// decoded when the reply is long enough to contain it.
func ParseBiosResponse(data []byte) (*BiosInfo, error) {
	if err := checkFrame(data, MinBiosReply, OpBios, SubOpBios); err != nil {
		return nil, err
	}

	major, minor, patch := int(data[12]), int(data[13]), int(data[14])
	info := &BiosInfo{
		Version:      fmt.Sprintf("%d.%d.%d", major, minor, patch),
		MajorVersion: major,
		MinorVersion: minor,
		PatchVersion: patch,
	}

	for _, f := range biosFields {
		if len(data) < f.minLen {
			break
		}
		v := int(data[f.offset])
		if f.width == 2 {
			v = int(binary.LittleEndian.Uint16(data[f.offset : f.offset+2]))
		}
		*f.dst(info) = v
	}

	if info.CadVar > CadVarUnsupported {
		info.CadVar = 0
	}
	return info, nil
}

// ParseDevicesResponse decodes one GetConnectedDevices page received from
// sourceIP.
//
// Page header:
//
//	[12]     header_len
//	[13]     register_len
//	[14]     registers_qty
//	[16-17]  read_index (little-endian)
//
// Records start at 9+3+header_len and are register_len bytes apart. Records
// with fewer than DeviceRecordSize bytes remaining are skipped.
func ParseDevicesResponse(data []byte, sourceIP string) (*DevicesPage, error) {
	if err := checkFrame(data, MinDevicesReply, OpConnectedDevices, SubOpConnectedDevices); err != nil {
		return nil, err
	}

	headerLen := int(data[12])
	registerLen := int(data[13])
	qty := int(data[14])
	page := &DevicesPage{
		RegistersQty: qty,
		ReadIndex:    int(binary.LittleEndian.Uint16(data[16:18])),
		Devices:      make([]DeviceInfo, 0, qty),
	}

	base := HeaderSize + 3 + headerLen
	for i := 0; i < qty; i++ {
		pos := base + i*registerLen
		if pos+DeviceRecordSize > len(data) {
			break
		}
		page.Devices = append(page.Devices, decodeDeviceRecord(data[pos:pos+DeviceRecordSize], sourceIP))
	}

	return page, nil
}

// decodeDeviceRecord decodes a 40-byte device record.
//
//	[0]      status
//	[1]      port
//	[3-4]    hsnet_id (LE)
//	[5-6]    device_id (LE)
//	[7]      dev_model
//	[8-10]   firmware
//	[11-17]  model
//	[18-27]  extended model
//	[28-33]  serial
//	[34-35]  crc (BE)
//	[36-37]  eeprom address (LE)
//	[38-39]  bitmap (LE)
func decodeDeviceRecord(rec []byte, sourceIP string) DeviceInfo {
	return DeviceInfo{
		ProcessorIP:   sourceIP,
		Status:        int(rec[0]),
		Port:          int(rec[1]),
		HsnetID:       int(binary.LittleEndian.Uint16(rec[3:5])),
		DeviceID:      int(binary.LittleEndian.Uint16(rec[5:7])),
		DevModel:      int(rec[7]),
		Firmware:      dotted(rec[8:11]),
		Model:         fixedString(rec[11:18]),
		ExtendedModel: fixedString(rec[18:28]),
		SerialHex:     FormatSerialHex(rec[28:34]),
		CRC:           int(binary.BigEndian.Uint16(rec[34:36])),
		EEPROMAddress: int(binary.LittleEndian.Uint16(rec[36:38])),
		Bitmap:        int(binary.LittleEndian.Uint16(rec[38:40])),
	}
}

func dotted(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = strconv.Itoa(int(v))
	}
	return strings.Join(parts, ".")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
