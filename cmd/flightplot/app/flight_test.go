package app

import (
	"math"
	"testing"
	"time"

	"github.com/roman-kulish/quadrotor-fc/internal/storage"
	"github.com/roman-kulish/quadrotor-fc/internal/telemetry"
)

var flightStart = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func testFlight(n int, step time.Duration) *FlightData {
	f := NewFlightData(&storage.Session{ID: 1, Airframe: "x250"})
	for i := 0; i < n; i++ {
		f.Update(&telemetry.Snapshot{
			Timestamp:         flightStart.Add(time.Duration(i) * step),
			State:             "FLYING",
			Pitch:             float64(i),
			Roll:              -float64(i) / 2,
			Duty:              [4]float64{10, 20, 30, 40},
			Saturated:         i%4 == 0,
			BatteryMillivolts: 4200 - i,
		})
	}
	return f
}

func TestFlightDataUpdate(t *testing.T) {
	f := testFlight(9, 10*time.Millisecond)

	if !f.TimestampStart.Equal(flightStart) {
		t.Errorf("TimestampStart = %v, want %v", f.TimestampStart, flightStart)
	}
	if f.Duration() != 80*time.Millisecond {
		t.Errorf("Duration() = %v, want 80ms", f.Duration())
	}
	if f.MaxAngle != 8 {
		t.Errorf("MaxAngle = %v, want 8", f.MaxAngle)
	}
	if f.SaturatedSamples != 3 {
		t.Errorf("SaturatedSamples = %d, want 3", f.SaturatedSamples)
	}
	if f.MinBattery != 4192 {
		t.Errorf("MinBattery = %d, want 4192", f.MinBattery)
	}
}

func TestFlightDataUnknownBattery(t *testing.T) {
	f := NewFlightData(&storage.Session{})
	f.Update(&telemetry.Snapshot{Timestamp: flightStart})
	if f.MinBattery != 0 {
		t.Errorf("MinBattery = %d, want 0 when never measured", f.MinBattery)
	}
}

func TestAngleScale(t *testing.T) {
	tests := []struct {
		maxAngle float64
		want     float64
	}{
		{0, 5},
		{3.2, 5},
		{5, 5},
		{5.1, 10},
		{42, 45},
	}
	for _, tt := range tests {
		f := &FlightData{MaxAngle: tt.maxAngle}
		if got := f.AngleScale(); got != tt.want {
			t.Errorf("AngleScale() with max %v = %v, want %v", tt.maxAngle, got, tt.want)
		}
	}
}

func TestColumns(t *testing.T) {
	f := testFlight(5, 100*time.Millisecond)

	t.Run("one column per snapshot", func(t *testing.T) {
		cols := f.Columns(5)
		for i, c := range cols {
			if c.Samples != 1 || c.Pitch != float64(i) {
				t.Errorf("column %d = %+v, want one sample with pitch %d", i, c, i)
			}
		}
	})

	t.Run("averaged", func(t *testing.T) {
		cols := f.Columns(2)
		if cols[0].Samples+cols[1].Samples != 5 {
			t.Fatalf("samples = %d + %d, want 5", cols[0].Samples, cols[1].Samples)
		}
		if cols[1].Samples != 1 || cols[1].Pitch != 4 {
			t.Errorf("last column = %+v, want the last snapshot", cols[1])
		}
		if math.Abs(cols[0].Pitch-1.5) > 1e-9 {
			t.Errorf("first column pitch = %v, want 1.5", cols[0].Pitch)
		}
		if cols[0].Duty != [4]float64{10, 20, 30, 40} {
			t.Errorf("first column duty = %v", cols[0].Duty)
		}
	})

	t.Run("gaps carry forward", func(t *testing.T) {
		cols := f.Columns(9)
		if cols[1].Samples != 0 || cols[1].Pitch != cols[0].Pitch || cols[1].State != "FLYING" {
			t.Errorf("gap column = %+v, want a copy of column 0 without samples", cols[1])
		}
	})

	if f.Columns(0) != nil {
		t.Error("Columns(0) should be nil")
	}
	if got := f.SecondsPerColumn(5); math.Abs(got-0.1) > 1e-9 {
		t.Errorf("SecondsPerColumn(5) = %v, want 0.1", got)
	}
}
