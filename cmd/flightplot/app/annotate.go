package app

import (
	"fmt"
	"image"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	dpi     float64 = 72
	spacing float64 = 1.3

	timeLabelSpacing = 150 // pixels between time labels
)

type annotatorConfig struct {
	TimeFormat     string
	DatetimeFormat string
	Location       *time.Location
	FontSize       float64
}

type annotator struct {
	context *freetype.Context
	config  annotatorConfig
}

func newAnnotator(config annotatorConfig) (*annotator, error) {
	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	context := freetype.NewContext()
	context.SetDPI(dpi)
	context.SetFont(parsedFont)
	context.SetFontSize(config.FontSize)
	context.SetSrc(image.Black)
	context.SetHinting(font.HintingFull)

	return &annotator{context: context, config: config}, nil
}

func (a *annotator) annotate(img *image.RGBA, l layout, flight *FlightData, scale float64) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	ops := []struct {
		msg string
		fn  func() error
	}{
		{"drawing time scale", func() error { return a.drawTimeScale(img, l, flight) }},
		{"drawing angle scale", func() error { return a.drawAngleScale(l, scale) }},
		{"drawing panel labels", func() error { return a.drawPanelLabels(l) }},
		{"drawing info", func() error { return a.drawInfo(l, flight) }},
	}
	for _, op := range ops {
		if err := op.fn(); err != nil {
			return fmt.Errorf("%s: %w", op.msg, err)
		}
	}
	return nil
}

func (a *annotator) drawTimeScale(img *image.RGBA, l layout, flight *FlightData) error {
	width := l.attitude.Dx()
	count := max(1, width/timeLabelSpacing)
	span := flight.Duration()

	for si := 0; si < count; si++ {
		px := l.attitude.Min.X + si*width/count
		at := flight.TimestampStart.Add(time.Duration(int64(span) * int64(si) / int64(count)))

		// tick down to the attitude panel
		for y := l.attitude.Min.Y - 8; y < l.attitude.Min.Y; y++ {
			img.Set(px, y, axisColor)
		}

		pt := freetype.Pt(px+3, l.attitude.Min.Y-10)
		if _, err := a.context.DrawString(at.In(a.config.Location).Format(a.config.TimeFormat), pt); err != nil {
			return err
		}
	}
	return nil
}

func (a *annotator) drawAngleScale(l layout, scale float64) error {
	step := scale / 2
	for v := -scale; v <= scale; v += step {
		y := angleToY(l.attitude, v, scale)
		pt := freetype.Pt(l.attitude.Min.X-45, y+4)
		if _, err := a.context.DrawString(fmt.Sprintf("%+.0f°", v), pt); err != nil {
			return err
		}
	}
	return nil
}

func (a *annotator) drawPanelLabels(l layout) error {
	left := 5

	pt := freetype.Pt(left, l.state.Max.Y-1)
	if _, err := a.context.DrawString("state", pt); err != nil {
		return err
	}

	rowHeight := l.duty.Dy() / 4
	for m := 0; m < 4; m++ {
		pt = freetype.Pt(left, l.duty.Min.Y+m*rowHeight+rowHeight/2+4)
		if _, err := a.context.DrawString(fmt.Sprintf("M%d duty", m+1), pt); err != nil {
			return err
		}
	}

	pt = freetype.Pt(l.attitude.Max.X-140, l.attitude.Min.Y+14)
	_, err := a.context.DrawString("pitch (blue), roll (orange)", pt)
	return err
}

func (a *annotator) drawInfo(l layout, flight *FlightData) error {
	loc := a.config.Location
	width := l.attitude.Dx()

	saturated := 0.0
	if n := len(flight.Snapshots); n > 0 {
		saturated = float64(flight.SaturatedSamples) / float64(n) * 100
	}
	battery := "unknown"
	if flight.MinBattery > 0 {
		battery = fmt.Sprintf("%s mV", humanize.Comma(int64(flight.MinBattery)))
	}

	lines := []string{
		fmt.Sprintf("Flight: %s (%s)", flight.Session.FlightID, flight.Session.Airframe),
		fmt.Sprintf("Start: %s, end: %s, duration: %s",
			flight.TimestampStart.In(loc).Format(a.config.DatetimeFormat),
			flight.TimestampEnd.In(loc).Format(a.config.DatetimeFormat),
			flight.Duration().Round(time.Millisecond)),
		fmt.Sprintf("Snapshots: %s, 1 pixel = %.3f seconds", humanize.Comma(int64(len(flight.Snapshots))), flight.SecondsPerColumn(width)),
		fmt.Sprintf("Saturated: %.1f%%, lowest battery: %s", saturated, battery),
	}

	pt := freetype.Pt(l.duty.Min.X, l.duty.Max.Y+int(a.config.FontSize*2))
	for _, s := range lines {
		if _, err := a.context.DrawString(s, pt); err != nil {
			return err
		}
		pt.Y += a.context.PointToFixed(a.config.FontSize * spacing)
	}

	return nil
}
