package protocol

// Control address and level helpers shared by the text channel and the
// outer surfaces.

// ReservedDeviceID is the device_id value a module reports when it has no
// control address of its own.
const ReservedDeviceID = 255

// Level bounds accepted by LOAD and SHADE SET
const (
	MinLevel = 0
	MaxLevel = 100

	// MaxBrightness is the top of the 0..255 brightness scale used by MQTT
	// and UI consumers
	MaxBrightness = 255
)

// ResolveControlAddress returns deviceID when it is a usable control address
// (1..65534, not ReservedDeviceID), and hsnetID otherwise.
func ResolveControlAddress(deviceID, hsnetID int) int {
	if deviceID >= 1 && deviceID <= 65534 && deviceID != ReservedDeviceID {
		return deviceID
	}
	return hsnetID
}

// ClampLevel forces level into MinLevel..MaxLevel.
func ClampLevel(level int) int {
	if level < MinLevel {
		return MinLevel
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}

// LevelFromBrightness converts a 0..255 brightness into a 0..100 level,
// rounding to nearest.
func LevelFromBrightness(brightness int) int {
	if brightness <= 0 {
		return 0
	}
	if brightness >= MaxBrightness {
		return MaxLevel
	}
	return (brightness*MaxLevel + MaxBrightness/2) / MaxBrightness
}

// BrightnessFromLevel converts a 0..100 level into a 0..255 brightness,
// rounding to nearest.
func BrightnessFromLevel(level int) int {
	level = ClampLevel(level)
	return (level*MaxBrightness + MaxLevel/2) / MaxLevel
}
