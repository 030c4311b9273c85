package camera

import "sort"

// Preset names
const (
	PresetDefault  = "default"
	PresetCloseup  = "closeup"
	PresetFullbody = "fullbody"
	PresetSide     = "side"
)

// Presets returns all available presets keyed by name.
func Presets() map[string]Preset {
	return map[string]Preset{
		PresetDefault: {
			Name:     PresetDefault,
			Position: [3]float64{0, 1.35, 1.6},
			Target:   [3]float64{0, 1.3, 0},
			FOV:      30,
		},
		// Portrait framing of the face.
		PresetCloseup: {
			Name:     PresetCloseup,
			Position: [3]float64{0, 1.45, 0.6},
			Target:   [3]float64{0, 1.42, 0},
			FOV:      24,
		},
		PresetFullbody: {
			Name:     PresetFullbody,
			Position: [3]float64{0, 1.0, 3.2},
			Target:   [3]float64{0, 0.9, 0},
			FOV:      35,
		},
		PresetSide: {
			Name:     PresetSide,
			Position: [3]float64{1.4, 1.4, 0.9},
			Target:   [3]float64{0, 1.35, 0},
			FOV:      30,
		},
	}
}

// PresetNames returns preset names in sorted order.
func PresetNames() []string {
	presets := Presets()
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPreset returns the named preset.
func GetPreset(name string) (Preset, bool) {
	p, ok := Presets()[name]
	return p, ok
}
