// Package aspect maps aspect-ratio presets to image dimensions.
//
// All functions in this package are pure: they read only the fixed preset
// table and their arguments.
package aspect

import "strings"

// Dimension constraints shared by the presets.
const (
	// DefaultMaxSize is the long-side limit used when none is given.
	DefaultMaxSize = 1024

	// MinSide is the floor applied to both sides after rounding.
	MinSide = 256

	// Multiple is the granularity every computed side is rounded up to.
	Multiple = 32

	// FallbackSide is returned for both sides when the preset is unknown.
	FallbackSide = 768
)

// DefaultPreset is the preset selected when a form is first shown.
const DefaultPreset = "1:1 Square"

// Preset is a named aspect ratio.
type Preset struct {
	Name        string  `json:"name"`
	Ratio       float64 `json:"ratio"`
	Description string  `json:"description"`
}

var presets = []Preset{
	{Name: "1:1 Square", Ratio: 1.0, Description: "Square format"},
	{Name: "4:3 Standard", Ratio: 4.0 / 3.0, Description: "Standard photo"},
	{Name: "3:4 Portrait", Ratio: 3.0 / 4.0, Description: "Vertical portrait"},
	{Name: "16:9 Widescreen", Ratio: 16.0 / 9.0, Description: "Widescreen/landscape"},
	{Name: "9:16 Story", Ratio: 9.0 / 16.0, Description: "Instagram story"},
	{Name: "3:2 Classic", Ratio: 3.0 / 2.0, Description: "Classic 35mm"},
	{Name: "2:3 Classic Portrait", Ratio: 2.0 / 3.0, Description: "Classic portrait"},
	{Name: "21:9 Cinema", Ratio: 21.0 / 9.0, Description: "Ultra-wide cinema"},
}

var byName = func() map[string]Preset {
	m := make(map[string]Preset, len(presets))
	for _, p := range presets {
		m[p.Name] = p
	}
	return m
}()

// Presets returns the preset table in display order.
// The returned slice is a copy and may be modified by the caller.
func Presets() []Preset {
	out := make([]Preset, len(presets))
	copy(out, presets)
	return out
}

// Lookup returns the preset with the given name.
func Lookup(name string) (Preset, bool) {
	p, ok := byName[name]
	return p, ok
}

// CalculateDimensions returns the (height, width) for the named preset so that
// the long side equals maxSize, both sides are multiples of 32 and at least 256.
//
// If rounding pushes a side past maxSize, that side is clamped to maxSize and
// the other side is recomputed from the ratio. Unknown names yield 768x768.
func CalculateDimensions(name string, maxSize int) (height, width int) {
	p, ok := byName[name]
	if !ok {
		return FallbackSide, FallbackSide
	}
	ratio := p.Ratio

	if ratio >= 1.0 {
		width = maxSize
		height = int(float64(maxSize) / ratio)
	} else {
		height = maxSize
		width = int(float64(maxSize) * ratio)
	}

	height = max(MinSide, roundUp(height))
	width = max(MinSide, roundUp(width))

	if height > maxSize {
		height = maxSize
		width = roundUp(int(float64(height) * ratio))
	} else if width > maxSize {
		width = maxSize
		height = roundUp(int(float64(width) / ratio))
	}

	return height, width
}

// Dimensions is CalculateDimensions with DefaultMaxSize.
func Dimensions(name string) (height, width int) {
	return CalculateDimensions(name, DefaultMaxSize)
}

func roundUp(n int) int {
	return ((n + Multiple - 1) / Multiple) * Multiple
}

// Label returns the short ratio text of a preset name ("16:9" for
// "16:9 Widescreen").
func Label(name string) string {
	if i := strings.IndexByte(name, ' '); i > 0 {
		return name[:i]
	}
	return name
}

// Preview box bounds for the visual selector, in CSS pixels.
const (
	previewMax = 40.0
	previewMin = 12.0
)

// PreviewBox returns the width and height of the small box drawn for a ratio
// in the visual selector.
func PreviewBox(ratio float64) (width, height float64) {
	if ratio >= 1.0 {
		width = previewMax
		height = previewMax / ratio
	} else {
		height = previewMax
		width = previewMax * ratio
	}
	return max(width, previewMin), max(height, previewMin)
}
