package app

import (
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// ColorTheme represents a predefined colour scheme for motor duty
// visualization.
type ColorTheme string

const (
	DefaultTheme   ColorTheme = "default"   // Black to blue to yellow to red
	ClassicTheme   ColorTheme = "classic"   // Blue to red transition
	GrayscaleTheme ColorTheme = "grayscale" // Black to white transition
	JungleTheme    ColorTheme = "jungle"    // Dark green to yellow transition
	ThermalTheme   ColorTheme = "thermal"   // Black to red to yellow to white
	MarineTheme    ColorTheme = "marine"    // Deep blue to cyan to white

	DefaultColorMapSize = 256 // Default number of colors in the map
)

// Bounds is the value range a ColorMapper spreads its colours over.
type Bounds struct {
	Min float64
	Max float64
}

// ColorMapper maps values to colours through a pre-computed gradient.
type ColorMapper struct {
	colorMap      []color.Color // Pre-computed colors
	theme         func(float64) color.Color
	themeName     ColorTheme
	size          int
	valuePerIndex float64
	boundsMin     float64
}

// NewColorMapper creates a colour mapper of DefaultColorMapSize colours.
func NewColorMapper(theme ColorTheme, bounds Bounds) *ColorMapper {
	return NewColorMapperWithSize(theme, bounds, DefaultColorMapSize)
}

// NewColorMapperWithSize creates a colour mapper with size pre-computed
// colours.
func NewColorMapperWithSize(theme ColorTheme, bounds Bounds, size int) *ColorMapper {
	if size <= 1 {
		size = DefaultColorMapSize
	}

	cm := &ColorMapper{
		colorMap:  make([]color.Color, size),
		theme:     getColorTheme(theme),
		themeName: theme,
		size:      size,
	}
	cm.UpdateBounds(bounds)
	return cm
}

// UpdateBounds updates the value bounds and recomputes the colour map
func (cm *ColorMapper) UpdateBounds(bounds Bounds) {
	if bounds.Max <= bounds.Min {
		bounds.Max = bounds.Min + 1
	}
	cm.boundsMin = bounds.Min
	cm.valuePerIndex = (bounds.Max - bounds.Min) / float64(cm.size-1)

	for i := 0; i < cm.size; i++ {
		cm.colorMap[i] = cm.theme(float64(i) / float64(cm.size-1))
	}
}

// GetColor returns the colour for v, clamped to the bounds.
func (cm *ColorMapper) GetColor(v float64) color.Color {
	if math.IsNaN(v) {
		return cm.colorMap[0]
	}

	index := int((v - cm.boundsMin) / cm.valuePerIndex)
	if index < 0 {
		return cm.colorMap[0]
	}
	if index >= cm.size {
		return cm.colorMap[cm.size-1]
	}
	return cm.colorMap[index]
}

// ThemeName returns the current color theme name
func (cm *ColorMapper) ThemeName() ColorTheme {
	return cm.themeName
}

// Size returns the color map size
func (cm *ColorMapper) Size() int {
	return cm.size
}

func hsv(h, s, v float64) color.Color {
	return colorful.Hsv(math.Mod(h+360, 360), clamp01(s), clamp01(v)).Clamped()
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func getColorTheme(theme ColorTheme) func(float64) color.Color {
	switch theme {
	case ClassicTheme:
		return func(v float64) color.Color {
			return hsv(240-(v*240), 0.9+(v*0.1), math.Pow(v, 0.7))
		}

	case GrayscaleTheme:
		return func(v float64) color.Color {
			g := uint8(math.Pow(v, 0.7) * 255)
			return color.RGBA{R: g, G: g, B: g, A: 255}
		}

	case JungleTheme:
		return func(v float64) color.Color {
			return hsv(120-(v*60), 1.0, 0.3+(math.Pow(v, 0.6)*0.7))
		}

	case ThermalTheme:
		return func(v float64) color.Color {
			if v < 0.33 {
				return color.RGBA{R: uint8((v * 3) * 255), A: 255}
			}
			if v < 0.66 {
				return color.RGBA{R: 255, G: uint8(((v - 0.33) * 3) * 255), A: 255}
			}
			return color.RGBA{R: 255, G: 255, B: uint8(clamp01((v-0.66)*3) * 255), A: 255}
		}

	case MarineTheme:
		return func(v float64) color.Color {
			return hsv(240-(v*60), 1.0-(v*0.8), 0.3+(math.Pow(v, 0.6)*0.7))
		}

	default:
		return func(v float64) color.Color {
			v = clamp01(v)
			enhanced := math.Pow(v, 0.7)

			switch {
			case v < 0.25:
				return hsv(240, 1.0, enhanced*4)
			case v < 0.5:
				return hsv(240-((v-0.25)*240), 1.0, enhanced*1.5)
			case v < 0.75:
				p := (v - 0.5) * 4
				return hsv(180-(p*120), 1.0, math.Min(1.0, enhanced*1.5))
			default:
				p := (v - 0.75) * 4
				return hsv(60-(p*60), 1.0, 1.0)
			}
		}
	}
}

var (
	pitchColor = hsv(210, 0.85, 0.8)
	rollColor  = hsv(20, 0.9, 0.9)
	gridColor  = color.RGBA{R: 0xDD, G: 0xDD, B: 0xDD, A: 0xFF}
	axisColor  = color.RGBA{R: 0x88, G: 0x88, B: 0x88, A: 0xFF}
	noData     = color.RGBA{R: 0xF0, G: 0xF0, B: 0xF0, A: 0xFF}
)

// stateColors give each lifecycle state its own hue on the state band.
var stateColors = map[string]color.Color{
	"CALIBRATING":        hsv(50, 0.7, 0.95),
	"WAITING_CONTROLLER": hsv(200, 0.3, 0.85),
	"FLYING":             hsv(130, 0.7, 0.75),
	"LANDING":            hsv(0, 0.75, 0.9),
}

func stateColor(state string) color.Color {
	if c, ok := stateColors[state]; ok {
		return c
	}
	return axisColor
}
