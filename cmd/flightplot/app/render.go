package app

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"
)

const (
	fontSize = 12.0

	defaultAttitudeHeight = 300
	defaultStateHeight    = 12
	defaultDutyRowHeight  = 24
	panelGap              = 14

	// Default border sizes in pixels
	defaultTopBorder    = 30
	defaultLeftBorder   = 80
	defaultBottomBorder = 110
	defaultRightBorder  = 30

	defaultTimeFormat     = "15:04:05"
	defaultDatetimeFormat = time.DateTime
)

// BorderConfig defines the sizes of white space around the plot
type BorderConfig struct {
	Top    int // Space for the time scale
	Left   int // Space for the value scales
	Bottom int // Space for the information bar
	Right  int // Right padding
}

// RenderConfig holds all configuration options for flight visualization
type RenderConfig struct {
	// Time display configuration
	TimeFormat     string         // Format string for time labels (e.g. "15:04:05")
	DatetimeFormat string         // Format string for date/time display
	Location       *time.Location // Timezone for time display

	// Visual configuration
	FontSize       float64    // Font size in points
	ColorTheme     ColorTheme // Colour scheme for motor duty
	AttitudeHeight int        // Height of the attitude panel
	DutyRowHeight  int        // Height of one motor row
	NoAnnotations  bool

	BorderConfig BorderConfig
}

// layout is where each panel sits inside the image.
type layout struct {
	attitude image.Rectangle
	state    image.Rectangle
	duty     image.Rectangle
}

// FlightRenderer draws a recorded flight: attitude traces, a state band and
// a motor duty heat strip sharing one time axis.
type FlightRenderer struct {
	colorMap *ColorMapper
	config   RenderConfig
}

// NewFlightRenderer creates a new renderer with the given configuration
func NewFlightRenderer(config RenderConfig) (*FlightRenderer, error) {
	if config.TimeFormat == "" {
		config.TimeFormat = defaultTimeFormat
	}
	if config.DatetimeFormat == "" {
		config.DatetimeFormat = defaultDatetimeFormat
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}
	if config.AttitudeHeight == 0 {
		config.AttitudeHeight = defaultAttitudeHeight
	}
	if config.DutyRowHeight == 0 {
		config.DutyRowHeight = defaultDutyRowHeight
	}
	if config.BorderConfig.Top == 0 {
		config.BorderConfig.Top = defaultTopBorder
	}
	if config.BorderConfig.Left == 0 {
		config.BorderConfig.Left = defaultLeftBorder
	}
	if config.BorderConfig.Bottom == 0 {
		config.BorderConfig.Bottom = defaultBottomBorder
	}
	if config.BorderConfig.Right == 0 {
		config.BorderConfig.Right = defaultRightBorder
	}
	if config.AttitudeHeight < 20 || config.DutyRowHeight < 1 {
		return nil, fmt.Errorf("panel sizes too small: attitude %d, duty row %d", config.AttitudeHeight, config.DutyRowHeight)
	}

	return &FlightRenderer{
		config:   config,
		colorMap: NewColorMapper(config.ColorTheme, Bounds{Min: 0, Max: 100}),
	}, nil
}

func (r *FlightRenderer) layout(width int) layout {
	b := r.config.BorderConfig
	top := b.Top

	var l layout
	l.attitude = image.Rect(b.Left, top, b.Left+width, top+r.config.AttitudeHeight)
	top = l.attitude.Max.Y + panelGap
	l.state = image.Rect(b.Left, top, b.Left+width, top+defaultStateHeight)
	top = l.state.Max.Y + panelGap
	l.duty = image.Rect(b.Left, top, b.Left+width, top+4*r.config.DutyRowHeight)
	return l
}

// Render draws flight into an image width pixels wide, not counting borders.
func (r *FlightRenderer) Render(flight *FlightData, width int) (*image.RGBA, error) {
	if len(flight.Snapshots) == 0 {
		return nil, fmt.Errorf("no snapshots to render")
	}

	l := r.layout(width)
	b := r.config.BorderConfig
	img := image.NewRGBA(image.Rect(0, 0, l.duty.Max.X+b.Right, l.duty.Max.Y+b.Bottom))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	cols := flight.Columns(width)
	scale := flight.AngleScale()

	r.drawAttitudeGrid(img, l.attitude, scale)
	r.drawTraces(img, l.attitude, cols, scale)
	r.drawStates(img, l.state, cols)
	r.drawDuty(img, l.duty, cols)

	if r.config.NoAnnotations {
		return img, nil
	}

	ann, err := newAnnotator(annotatorConfig{
		TimeFormat:     r.config.TimeFormat,
		DatetimeFormat: r.config.DatetimeFormat,
		Location:       r.config.Location,
		FontSize:       r.config.FontSize,
	})
	if err != nil {
		return nil, fmt.Errorf("creating annotator: %w", err)
	}
	if err = ann.annotate(img, l, flight, scale); err != nil {
		return nil, fmt.Errorf("drawing annotations: %w", err)
	}
	return img, nil
}

// angleToY maps an angle to a row inside area; +scale is the top edge.
func angleToY(area image.Rectangle, angle, scale float64) int {
	angle = max(-scale, min(scale, angle))
	h := float64(area.Dy() - 1)
	return area.Min.Y + int((scale-angle)/(2*scale)*h+0.5)
}

func (r *FlightRenderer) drawAttitudeGrid(img *image.RGBA, area image.Rectangle, scale float64) {
	step := scale / 2
	for a := -scale; a <= scale; a += step {
		c := gridColor
		if a == 0 {
			c = axisColor
		}
		y := angleToY(area, a, scale)
		for x := area.Min.X; x < area.Max.X; x++ {
			img.Set(x, y, c)
		}
	}
	for y := area.Min.Y; y < area.Max.Y; y++ {
		img.Set(area.Min.X-1, y, axisColor)
	}
}

func (r *FlightRenderer) drawTraces(img *image.RGBA, area image.Rectangle, cols []Column, scale float64) {
	traces := []struct {
		c     color.Color
		value func(Column) float64
	}{
		{rollColor, func(c Column) float64 { return c.Roll }},
		{pitchColor, func(c Column) float64 { return c.Pitch }},
	}

	for _, tr := range traces {
		prev := -1
		for i, c := range cols {
			if c.Samples == 0 && prev < 0 {
				continue
			}
			y := angleToY(area, tr.value(c), scale)
			if prev < 0 {
				prev = y
			}
			// join to the previous column so steep changes stay visible
			lo, hi := min(prev, y), max(prev, y)
			for yy := lo; yy <= hi; yy++ {
				img.Set(area.Min.X+i, yy, tr.c)
			}
			prev = y
		}
	}
}

func (r *FlightRenderer) drawStates(img *image.RGBA, area image.Rectangle, cols []Column) {
	for i, c := range cols {
		col := noData
		if c.State != "" {
			col = toRGBA(stateColor(c.State))
		}
		for y := area.Min.Y; y < area.Max.Y; y++ {
			img.Set(area.Min.X+i, y, col)
		}
	}
}

func (r *FlightRenderer) drawDuty(img *image.RGBA, area image.Rectangle, cols []Column) {
	rowHeight := area.Dy() / 4
	for i, c := range cols {
		for m := range c.Duty {
			var col color.Color = noData
			if c.State != "" {
				col = r.colorMap.GetColor(c.Duty[m])
			}
			top := area.Min.Y + m*rowHeight
			for y := top; y < top+rowHeight-1; y++ {
				img.Set(area.Min.X+i, y, col)
			}
		}
	}
}

func toRGBA(c color.Color) color.RGBA {
	r, g, b, a := c.RGBA()
	return color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(a >> 8)}
}
