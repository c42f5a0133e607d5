package app

import (
	"math"
	"time"

	"github.com/roman-kulish/quadrotor-fc/internal/storage"
	"github.com/roman-kulish/quadrotor-fc/internal/telemetry"
)

const minAngleScale = 5.0 // degrees

// Column is every snapshot that falls into one horizontal pixel, averaged.
type Column struct {
	Pitch     float64
	Roll      float64
	Duty      [4]float64
	State     string
	Saturated bool
	Samples   int
}

// FlightData accumulates the snapshots of one flight.
type FlightData struct {
	Session          *storage.Session
	TimestampStart   time.Time
	TimestampEnd     time.Time
	Snapshots        []telemetry.Snapshot
	MaxAngle         float64
	SaturatedSamples int
	MinBattery       int
}

func NewFlightData(session *storage.Session) *FlightData {
	return &FlightData{Session: session}
}

func (f *FlightData) Update(s *telemetry.Snapshot) {
	if f.TimestampStart.IsZero() || f.TimestampStart.After(s.Timestamp) {
		f.TimestampStart = s.Timestamp
	}
	if f.TimestampEnd.IsZero() || f.TimestampEnd.Before(s.Timestamp) {
		f.TimestampEnd = s.Timestamp
	}

	f.MaxAngle = max(f.MaxAngle, math.Abs(s.Pitch), math.Abs(s.Roll))
	if s.Saturated {
		f.SaturatedSamples++
	}
	if s.BatteryMillivolts > 0 && (f.MinBattery == 0 || s.BatteryMillivolts < f.MinBattery) {
		f.MinBattery = s.BatteryMillivolts
	}

	f.Snapshots = append(f.Snapshots, *s)
}

// Duration is the time covered by the flight.
func (f *FlightData) Duration() time.Duration {
	return f.TimestampEnd.Sub(f.TimestampStart)
}

// AngleScale is the symmetric vertical range of the attitude panel: the
// largest angle seen rounded up to a multiple of five degrees.
func (f *FlightData) AngleScale() float64 {
	return max(minAngleScale, math.Ceil(f.MaxAngle/minAngleScale)*minAngleScale)
}

// Columns buckets the snapshots into width time slots. A slot without
// snapshots repeats its left neighbour with Samples set to zero.
func (f *FlightData) Columns(width int) []Column {
	if width <= 0 {
		return nil
	}
	cols := make([]Column, width)
	span := f.Duration()

	for i := range f.Snapshots {
		s := &f.Snapshots[i]

		idx := 0
		if span > 0 {
			idx = int(float64(s.Timestamp.Sub(f.TimestampStart)) / float64(span) * float64(width-1))
		}
		idx = min(max(idx, 0), width-1)

		c := &cols[idx]
		c.Pitch += s.Pitch
		c.Roll += s.Roll
		for m := range c.Duty {
			c.Duty[m] += s.Duty[m]
		}
		c.State = s.State
		c.Saturated = c.Saturated || s.Saturated
		c.Samples++
	}

	for i := range cols {
		c := &cols[i]
		if c.Samples == 0 {
			if i > 0 {
				*c = cols[i-1]
				c.Samples = 0
			}
			continue
		}

		n := float64(c.Samples)
		c.Pitch /= n
		c.Roll /= n
		for m := range c.Duty {
			c.Duty[m] /= n
		}
	}
	return cols
}

// SecondsPerColumn is the time one horizontal pixel stands for.
func (f *FlightData) SecondsPerColumn(width int) float64 {
	if width <= 1 {
		return 0
	}
	return f.Duration().Seconds() / float64(width-1)
}
