package resources

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dimmerDriver = `{
  "Guid": "0b6e",
  "modelBaseName": "RL4-DIM",
  "FirmwareName": "DIM4",
  "FirmwareExtendedName": "DIM4-X",
  "Type": "12",
  "TypeCategory": 2,
  "MaxUnits": 8,
  "Image": {"value": " dim4.png "},
  "Slots": [
    {"SlotType": 2, "InitialPort": 1, "SlotCapacity": 4, "UnitComposers": [{"Name": "Dimmer"}]},
    {"SlotType": 3, "InitialPort": 5, "SlotCapacity": 2},
    {"SlotType": 2, "InitialPort": 3, "SlotCapacity": 3}
  ]
}`

const shadeDriver = `{
  "modelBaseName": "SHD-2",
  "Type": 14,
  "Image": "not an object",
  "Slots": [{"SlotType": 7, "SlotCapacity": 2}, {"SlotType": 9, "SlotCapacity": 1}]
}`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func wizardTree(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	res := filepath.Join(base, "Resources")
	writeFile(t, filepath.Join(res, "Drivers", "Modules", "RL4DIM.json"), "\xef\xbb\xbf"+dimmerDriver)
	writeFile(t, filepath.Join(res, "Drivers", "Modules", "SHD2.json"), shadeDriver)
	writeFile(t, filepath.Join(res, "Drivers", "Modules", "broken.json"), "{not json")
	writeFile(t, filepath.Join(res, "Drivers", "Keypads", "KP4.json"),
		`{"modelBaseName": "KP", "ModelID": 40, "layouts": [{"buttonCount": 2}, {"buttonCount": 4}]}`)
	writeFile(t, filepath.Join(res, "Drivers", "Keypads", "KP8.json"),
		`{"modelBaseName": "KP", "ModelID": 40, "Layouts": [{"buttonCount": "8"}]}`)
	return base
}

func TestLoadIndexFromWizardTree(t *testing.T) {
	t.Setenv(ResourcesEnvVar, "")
	base := wizardTree(t)

	idx, err := LoadIndex(filepath.Join(base, "missing"), base)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "Resources"), idx.Root)
	require.Len(t, idx.Modules, 2)
	require.Len(t, idx.Keypads, 2)

	dim, ok := idx.Module("", "DIM4-X", 0)
	require.True(t, ok)
	assert.Equal(t, "RL4-DIM", dim.ModelBaseName)
	require.NotNil(t, dim.DevModel)
	assert.Equal(t, 12, *dim.DevModel)
	assert.Equal(t, "dim4.png", dim.Image)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, dim.Channels(SlotDimmer))
	assert.Equal(t, []int{5, 6}, dim.Channels(SlotKey))
	assert.Equal(t, []string{"Dimmer"}, dim.Slots[0].UnitComposers)

	shade, ok := idx.Module("unknown", "", 14)
	require.True(t, ok)
	assert.Empty(t, shade.Image)
	assert.Equal(t, []int{1, 2}, shade.Channels(SlotShade))
	assert.Equal(t, "unknown", shade.Slots[1].SlotName)

	kp, ok := idx.Keypad("kp", "", 0)
	require.True(t, ok)
	assert.Equal(t, 8, kp.MaxButtons)

	kp, ok = idx.Keypad("", "", 40)
	require.True(t, ok)
	assert.Equal(t, 8, kp.MaxButtons)
}

func TestLoadIndexFromResourcesDir(t *testing.T) {
	t.Setenv(ResourcesEnvVar, "")
	base := wizardTree(t)

	idx, err := LoadIndex(filepath.Join(base, "Resources"))
	require.NoError(t, err)
	assert.Len(t, idx.Modules, 2)
}

func TestLoadIndexFromEnv(t *testing.T) {
	base := wizardTree(t)
	t.Setenv(ResourcesEnvVar, base)

	idx, err := LoadIndex()
	require.NoError(t, err)
	_, ok := idx.Module("SHD-2", "", 0)
	assert.True(t, ok)
}

func TestLoadIndexNothingFound(t *testing.T) {
	t.Setenv(ResourcesEnvVar, "")

	idx, err := LoadIndex(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, idx.Modules)
	_, ok := idx.Module("RL4-DIM", "", 12)
	assert.False(t, ok)
}

func TestLookupBySourceFileStem(t *testing.T) {
	t.Setenv(ResourcesEnvVar, "")
	idx, err := LoadIndex(wizardTree(t))
	require.NoError(t, err)

	m, ok := idx.Module("rl4dim", "", 0)
	require.True(t, ok)
	assert.Equal(t, "RL4-DIM", m.ModelBaseName)
}

func TestBundleRoundTrip(t *testing.T) {
	t.Setenv(ResourcesEnvVar, "")
	idx, err := LoadIndex(wizardTree(t))
	require.NoError(t, err)

	out := t.TempDir()
	require.NoError(t, idx.WriteBundle(out))

	loaded, err := LoadIndex(out)
	require.NoError(t, err)
	assert.Empty(t, loaded.Root)
	require.Len(t, loaded.Modules, 2)
	require.Len(t, loaded.Keypads, 2)

	dim, ok := loaded.Module("", "", 12)
	require.True(t, ok)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, dim.Channels(SlotDimmer))
	assert.Equal(t, "dim4.png", dim.Image)

	// the original file stem survives the bundle
	_, ok = loaded.Module("RL4DIM", "", 0)
	assert.True(t, ok)
}

func TestLoadIndexInvalidBundle(t *testing.T) {
	t.Setenv(ResourcesEnvVar, "")
	path := filepath.Join(t.TempDir(), ModuleBundleFile)
	writeFile(t, path, `{"not": "an array"}`)

	_, err := LoadIndex(path)
	assert.Error(t, err)
}

func TestNilIndex(t *testing.T) {
	var idx *Index
	_, ok := idx.Module("a", "b", 1)
	assert.False(t, ok)
	_, ok = idx.Keypad("a", "b", 1)
	assert.False(t, ok)
}

func TestNormalizeToken(t *testing.T) {
	assert.Equal(t, "RL4DIM", NormalizeToken(" rl4-dim "))
	assert.Equal(t, "", NormalizeToken("--"))
}
