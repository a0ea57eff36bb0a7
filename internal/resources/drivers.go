package resources

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Slot type names by SlotType value
var SlotTypeNames = map[int]string{
	1: "relay",
	2: "dimmer",
	3: "key",
	6: "sensor",
	7: "shade",
}

// Slot names used by control surfaces
const (
	SlotRelay  = "relay"
	SlotDimmer = "dimmer"
	SlotKey    = "key"
	SlotSensor = "sensor"
	SlotShade  = "shade"
)

// Slot is one group of same-typed channels on a module.
type Slot struct {
	InitialPort   int      `json:"initial_port"`
	Capacity      int      `json:"capacity"`
	SlotType      int      `json:"slot_type"`
	SlotName      string   `json:"slot_name"`
	IO            *int     `json:"io,omitempty"`
	UnitComposers []string `json:"unit_composers,omitempty"`
}

// ModuleDriver describes a module model.
type ModuleDriver struct {
	SourceFile           string `json:"source_file"`
	GUID                 string `json:"guid"`
	ModelBaseName        string `json:"model_base_name"`
	FirmwareName         string `json:"firmware_name"`
	FirmwareExtendedName string `json:"firmware_extended_name"`
	DevModel             *int   `json:"dev_model,omitempty"`
	TypeCategory         *int   `json:"type_category,omitempty"`
	MaxUnits             *int   `json:"max_units,omitempty"`
	MaxUnitsInScene      *int   `json:"max_units_in_scene,omitempty"`
	Image                string `json:"image,omitempty"`
	Slots                []Slot `json:"slots"`
}

// Channels lists the channel numbers of every slot named slotName, in slot
// order and without duplicates. Slots without an initial port start at 1.
func (m *ModuleDriver) Channels(slotName string) []int {
	if m == nil {
		return nil
	}
	var channels []int
	seen := make(map[int]bool)
	for _, slot := range m.Slots {
		if slot.SlotName != slotName || slot.Capacity <= 0 {
			continue
		}
		start := slot.InitialPort
		if start <= 0 {
			start = 1
		}
		for i := 0; i < slot.Capacity; i++ {
			ch := start + i
			if seen[ch] {
				continue
			}
			seen[ch] = true
			channels = append(channels, ch)
		}
	}
	return channels
}

func (m *ModuleDriver) tokens() []string {
	return tokenCandidates(m.ModelBaseName, m.FirmwareName, m.FirmwareExtendedName, m.SourceFile)
}

// KeypadDriver describes a keypad model.
type KeypadDriver struct {
	SourceFile           string `json:"source_file"`
	ModelBaseName        string `json:"model_base_name"`
	FirmwareName         string `json:"firmware_name"`
	FirmwareExtendedName string `json:"firmware_extended_name"`
	ModelID              *int   `json:"model_id,omitempty"`
	MaxButtons           int    `json:"max_buttons"`
}

func (k *KeypadDriver) tokens() []string {
	return tokenCandidates(k.ModelBaseName, k.FirmwareName, k.FirmwareExtendedName, k.SourceFile)
}

var nonToken = regexp.MustCompile(`[^A-Z0-9]`)

// NormalizeToken reduces a model name to uppercase letters and digits.
func NormalizeToken(value string) string {
	return nonToken.ReplaceAllString(strings.ToUpper(value), "")
}

func tokenCandidates(base, firmware, extended, source string) []string {
	stem := sourceName(source)
	stem = strings.TrimSuffix(stem, filepath.Ext(stem))

	var out []string
	for _, v := range []string{base, firmware, extended, stem} {
		if t := NormalizeToken(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// flexInt decodes a JSON number or numeric string; anything else is unset.
type flexInt struct {
	v   int
	set bool
}

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	text := strings.Trim(string(data), `"`)
	if n, err := strconv.Atoi(text); err == nil {
		f.v, f.set = n, true
		return nil
	}
	if n, err := strconv.ParseFloat(text, 64); err == nil && n == float64(int(n)) {
		f.v, f.set = int(n), true
	}
	return nil
}

func (f flexInt) ptr() *int {
	if !f.set {
		return nil
	}
	v := f.v
	return &v
}

func (f flexInt) or0() int {
	return f.v
}

// flexString decodes any JSON scalar as text.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	if string(data) == "null" {
		*f = ""
		return nil
	}
	*f = flexString(bytes.TrimSpace(data))
	return nil
}

type rawSlot struct {
	SlotType      flexInt `json:"SlotType"`
	InitialPort   flexInt `json:"InitialPort"`
	SlotCapacity  flexInt `json:"SlotCapacity"`
	IO            flexInt `json:"IO"`
	UnitComposers []struct {
		Name flexString `json:"Name"`
	} `json:"UnitComposers"`
}

type rawModule struct {
	SourceFile           string          `json:"_source_file"`
	GUID                 flexString      `json:"Guid"`
	ModelBaseName        flexString      `json:"modelBaseName"`
	FirmwareName         flexString      `json:"FirmwareName"`
	FirmwareExtendedName flexString      `json:"FirmwareExtendedName"`
	Type                 flexInt         `json:"Type"`
	TypeCategory         flexInt         `json:"TypeCategory"`
	MaxUnits             flexInt         `json:"MaxUnits"`
	MaxUnitsInScene      flexInt         `json:"MaxUnitsInScene"`
	Image                json.RawMessage `json:"Image"`
	Slots                []rawSlot       `json:"Slots"`
}

func (r *rawModule) driver(source string) *ModuleDriver {
	m := &ModuleDriver{
		SourceFile:           source,
		GUID:                 string(r.GUID),
		ModelBaseName:        string(r.ModelBaseName),
		FirmwareName:         string(r.FirmwareName),
		FirmwareExtendedName: string(r.FirmwareExtendedName),
		DevModel:             r.Type.ptr(),
		TypeCategory:         r.TypeCategory.ptr(),
		MaxUnits:             r.MaxUnits.ptr(),
		MaxUnitsInScene:      r.MaxUnitsInScene.ptr(),
	}
	var image struct {
		Value flexString `json:"value"`
	}
	if json.Unmarshal(r.Image, &image) == nil {
		m.Image = strings.TrimSpace(string(image.Value))
	}

	for _, rs := range r.Slots {
		slot := Slot{
			InitialPort: rs.InitialPort.or0(),
			Capacity:    rs.SlotCapacity.or0(),
			SlotType:    rs.SlotType.or0(),
			IO:          rs.IO.ptr(),
		}
		slot.SlotName = SlotTypeNames[slot.SlotType]
		if slot.SlotName == "" {
			slot.SlotName = "unknown"
		}
		for _, c := range rs.UnitComposers {
			if name := strings.TrimSpace(string(c.Name)); name != "" {
				slot.UnitComposers = append(slot.UnitComposers, name)
			}
		}
		m.Slots = append(m.Slots, slot)
	}
	return m
}

type rawKeypad struct {
	SourceFile           string     `json:"_source_file"`
	ModelBaseName        flexString `json:"modelBaseName"`
	FirmwareName         flexString `json:"FirmwareName"`
	FirmwareExtendedName flexString `json:"FirmwareExtendedName"`
	ModelID              flexInt    `json:"ModelID"`
	MaxButtons           flexInt    `json:"MaxButtons"`
	Layouts              []struct {
		ButtonCount flexInt `json:"buttonCount"`
	} `json:"layouts"`
	LayoutsAlt []struct {
		ButtonCount flexInt `json:"buttonCount"`
	} `json:"Layouts"`
}

func (r *rawKeypad) driver(source string) *KeypadDriver {
	k := &KeypadDriver{
		SourceFile:           source,
		ModelBaseName:        string(r.ModelBaseName),
		FirmwareName:         string(r.FirmwareName),
		FirmwareExtendedName: string(r.FirmwareExtendedName),
		ModelID:              r.ModelID.ptr(),
		MaxButtons:           r.MaxButtons.or0(),
	}
	layouts := r.Layouts
	if len(layouts) == 0 {
		layouts = r.LayoutsAlt
	}
	for _, l := range layouts {
		if n := l.ButtonCount.or0(); n > k.MaxButtons {
			k.MaxButtons = n
		}
	}
	return k
}
