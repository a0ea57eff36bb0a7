package resources

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/muurk/roehn/internal/logging"
)

// ResourcesEnvVar points at a Roehn Wizard "Resources" directory
const ResourcesEnvVar = "ROEHN_WIZARD_RESOURCES_PATH"

// Bundle file names, as written by "roehn resources export"
const (
	ModuleBundleFile = "module_drivers.json"
	KeypadBundleFile = "keypad_drivers.json"
)

// Lookup resolves the driver metadata of a discovered module. Consumers take
// this interface so they can run without any resources at all.
type Lookup interface {
	Module(model, extendedModel string, devModel int) (*ModuleDriver, bool)
	Keypad(model, extendedModel string, devModel int) (*KeypadDriver, bool)
}

// Index is an in-memory Lookup over module and keypad drivers.
type Index struct {
	Root    string          `json:"root,omitempty"`
	Modules []*ModuleDriver `json:"modules"`
	Keypads []*KeypadDriver `json:"keypads"`

	modulesByToken    map[string]*ModuleDriver
	modulesByDevModel map[int]*ModuleDriver
	keypadsByToken    map[string]*KeypadDriver
	keypadsByModelID  map[int]*KeypadDriver
}

var _ Lookup = (*Index)(nil)

// NewIndex indexes the given drivers. Later modules override earlier ones
// for the same token or dev_model; for keypads the one with the most buttons
// wins, ties going to the later one.
func NewIndex(modules []*ModuleDriver, keypads []*KeypadDriver) *Index {
	idx := &Index{
		Modules:           modules,
		Keypads:           keypads,
		modulesByToken:    make(map[string]*ModuleDriver),
		modulesByDevModel: make(map[int]*ModuleDriver),
		keypadsByToken:    make(map[string]*KeypadDriver),
		keypadsByModelID:  make(map[int]*KeypadDriver),
	}

	for _, m := range modules {
		for _, t := range m.tokens() {
			idx.modulesByToken[t] = m
		}
		if m.DevModel != nil {
			idx.modulesByDevModel[*m.DevModel] = m
		}
	}

	for _, k := range keypads {
		for _, t := range k.tokens() {
			if existing, ok := idx.keypadsByToken[t]; !ok || k.MaxButtons >= existing.MaxButtons {
				idx.keypadsByToken[t] = k
			}
		}
		if k.ModelID != nil {
			if existing, ok := idx.keypadsByModelID[*k.ModelID]; !ok || k.MaxButtons >= existing.MaxButtons {
				idx.keypadsByModelID[*k.ModelID] = k
			}
		}
	}
	return idx
}

// Module finds a module driver by extended model, then model, then dev_model.
func (idx *Index) Module(model, extendedModel string, devModel int) (*ModuleDriver, bool) {
	if idx == nil {
		return nil, false
	}
	for _, name := range []string{extendedModel, model} {
		if t := NormalizeToken(name); t != "" {
			if m, ok := idx.modulesByToken[t]; ok {
				return m, true
			}
		}
	}
	m, ok := idx.modulesByDevModel[devModel]
	return m, ok
}

// Keypad finds a keypad driver by extended model, then model, then model id.
func (idx *Index) Keypad(model, extendedModel string, devModel int) (*KeypadDriver, bool) {
	if idx == nil {
		return nil, false
	}
	for _, name := range []string{extendedModel, model} {
		if t := NormalizeToken(name); t != "" {
			if k, ok := idx.keypadsByToken[t]; ok {
				return k, true
			}
		}
	}
	k, ok := idx.keypadsByModelID[devModel]
	return k, ok
}

// LoadIndex builds an index from driver resources. Each path may be a bundle
// file, a directory holding bundle files, or a Roehn Wizard installation
// ("Resources" or its parent). Paths that do not exist are skipped, and
// ROEHN_WIZARD_RESOURCES_PATH is tried after them. Unreadable driver files
// are skipped with a warning; finding nothing yields an empty index.
func LoadIndex(paths ...string) (*Index, error) {
	if env := os.Getenv(ResourcesEnvVar); env != "" {
		paths = append(paths, env)
	}

	var (
		modules []*ModuleDriver
		keypads []*KeypadDriver
		root    string
	)

	for _, p := range paths {
		p = expandHome(p)
		info, err := os.Stat(p)
		if err != nil {
			continue
		}

		if !info.IsDir() {
			m, k, err := readBundle(p)
			if err != nil {
				return nil, err
			}
			modules, keypads = append(modules, m...), append(keypads, k...)
			continue
		}

		for _, name := range []string{ModuleBundleFile, KeypadBundleFile} {
			if bundle := filepath.Join(p, name); fileExists(bundle) {
				m, k, err := readBundle(bundle)
				if err != nil {
					return nil, err
				}
				modules, keypads = append(modules, m...), append(keypads, k...)
			}
		}

		if root == "" {
			if r, ok := resolveRoot(p); ok {
				root = r
				modules = append(modules, readDriverDir(filepath.Join(r, "Drivers", "Modules"), decodeModule)...)
				keypads = append(keypads, readDriverDir(filepath.Join(r, "Drivers", "Keypads"), decodeKeypad)...)
			}
		}
	}

	idx := NewIndex(modules, keypads)
	idx.Root = root
	logging.Debug("Resources loaded",
		zap.String("root", root),
		zap.Int("modules", len(modules)),
		zap.Int("keypads", len(keypads)),
	)
	return idx, nil
}

// WriteBundle writes the index drivers as bundle files into dir, so the
// metadata can be used on machines without a Roehn Wizard installation.
func (idx *Index) WriteBundle(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create bundle directory: %w", err)
	}

	modules := make([]map[string]any, 0, len(idx.Modules))
	for _, m := range idx.Modules {
		modules = append(modules, encodeModule(m))
	}
	keypads := make([]map[string]any, 0, len(idx.Keypads))
	for _, k := range idx.Keypads {
		keypads = append(keypads, encodeKeypad(k))
	}

	if err := writeJSON(filepath.Join(dir, ModuleBundleFile), modules); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, KeypadBundleFile), keypads)
}

func resolveRoot(p string) (string, bool) {
	if strings.EqualFold(filepath.Base(p), "resources") && dirExists(filepath.Join(p, "Drivers", "Modules")) {
		return p, true
	}
	if r := filepath.Join(p, "Resources"); dirExists(filepath.Join(r, "Drivers", "Modules")) {
		return r, true
	}
	return "", false
}

// readBundle reads a JSON array of driver objects. Files named like the
// keypad bundle hold keypads; anything else holds modules.
func readBundle(path string) ([]*ModuleDriver, []*KeypadDriver, error) {
	data, err := readJSONFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read driver bundle %s: %w", path, err)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, nil, fmt.Errorf("driver bundle %s is not a JSON array: %w", path, err)
	}

	isKeypad := strings.Contains(strings.ToLower(filepath.Base(path)), "keypad")
	var (
		modules []*ModuleDriver
		keypads []*KeypadDriver
	)
	for _, item := range items {
		if isKeypad {
			if k, ok := decodeKeypad(item, path); ok {
				keypads = append(keypads, k)
			}
			continue
		}
		if m, ok := decodeModule(item, path); ok {
			modules = append(modules, m)
		}
	}
	return modules, keypads, nil
}

func readDriverDir[T any](dir string, decode func([]byte, string) (T, bool)) []T {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil
	}
	sort.Strings(files)

	var out []T
	for _, f := range files {
		data, err := readJSONFile(f)
		if err != nil {
			logging.Warn("Skipping unreadable driver file", zap.String("file", f), zap.Error(err))
			continue
		}
		if d, ok := decode(data, f); ok {
			out = append(out, d)
		}
	}
	return out
}

// decodeModule decodes one module driver object. Bundle entries may name
// their original file in "_source_file".
func decodeModule(data []byte, source string) (*ModuleDriver, bool) {
	var raw rawModule
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false
	}
	if raw.SourceFile != "" {
		source = source + ":" + raw.SourceFile
	}
	return raw.driver(source), true
}

func decodeKeypad(data []byte, source string) (*KeypadDriver, bool) {
	var raw rawKeypad
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false
	}
	if raw.SourceFile != "" {
		source = source + ":" + raw.SourceFile
	}
	return raw.driver(source), true
}

func encodeModule(m *ModuleDriver) map[string]any {
	slots := make([]map[string]any, 0, len(m.Slots))
	for _, s := range m.Slots {
		composers := make([]map[string]string, 0, len(s.UnitComposers))
		for _, c := range s.UnitComposers {
			composers = append(composers, map[string]string{"Name": c})
		}
		slot := map[string]any{
			"SlotType":      s.SlotType,
			"InitialPort":   s.InitialPort,
			"SlotCapacity":  s.Capacity,
			"UnitComposers": composers,
		}
		if s.IO != nil {
			slot["IO"] = *s.IO
		}
		slots = append(slots, slot)
	}

	out := map[string]any{
		"_source_file":         sourceName(m.SourceFile),
		"Guid":                 m.GUID,
		"modelBaseName":        m.ModelBaseName,
		"FirmwareName":         m.FirmwareName,
		"FirmwareExtendedName": m.FirmwareExtendedName,
		"Slots":                slots,
	}
	putInt(out, "Type", m.DevModel)
	putInt(out, "TypeCategory", m.TypeCategory)
	putInt(out, "MaxUnits", m.MaxUnits)
	putInt(out, "MaxUnitsInScene", m.MaxUnitsInScene)
	if m.Image != "" {
		out["Image"] = map[string]string{"value": m.Image}
	}
	return out
}

func encodeKeypad(k *KeypadDriver) map[string]any {
	out := map[string]any{
		"_source_file":         sourceName(k.SourceFile),
		"modelBaseName":        k.ModelBaseName,
		"FirmwareName":         k.FirmwareName,
		"FirmwareExtendedName": k.FirmwareExtendedName,
		"MaxButtons":           k.MaxButtons,
	}
	putInt(out, "ModelID", k.ModelID)
	return out
}

// sourceName is the driver file name, without any bundle prefix.
func sourceName(source string) string {
	name := filepath.Base(source)
	if i := strings.LastIndex(name, ":"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func putInt(m map[string]any, key string, v *int) {
	if v != nil {
		m[key] = *v
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// readJSONFile reads a file and strips a UTF-8 byte order mark.
func readJSONFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")), nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

func dirExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
