// Package attitude fuses raw inertial samples into pitch and roll estimates
// and calibrates the sensor bias while the airframe sits still.
package attitude

import (
	"errors"
	"math"
)

// ErrNonFiniteSample is returned when a sample carries NaN or Inf on any axis.
var ErrNonFiniteSample = errors.New("sample contains a non-finite value")

// GyroSample holds angular rates in degrees per second.
type GyroSample struct {
	PitchRate float64 `json:"pitchRate"`
	RollRate  float64 `json:"rollRate"`
	YawRate   float64 `json:"yawRate"`
}

// Sub returns g with o subtracted per axis.
func (g GyroSample) Sub(o GyroSample) GyroSample {
	return GyroSample{
		PitchRate: g.PitchRate - o.PitchRate,
		RollRate:  g.RollRate - o.RollRate,
		YawRate:   g.YawRate - o.YawRate,
	}
}

// Finite reports whether every axis is a finite number.
func (g GyroSample) Finite() bool {
	return finite(g.PitchRate, g.RollRate, g.YawRate)
}

// AccelSample holds specific force in units of standard gravity.
type AccelSample struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Sub returns a with o subtracted per axis.
func (a AccelSample) Sub(o AccelSample) AccelSample {
	return AccelSample{X: a.X - o.X, Y: a.Y - o.Y, Z: a.Z - o.Z}
}

// Finite reports whether every axis is a finite number.
func (a AccelSample) Finite() bool {
	return finite(a.X, a.Y, a.Z)
}

// Estimate is the fused attitude in degrees.
type Estimate struct {
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// BiasOffsets are subtracted from every raw sample once calibration is done.
// Accel.Z is the deviation from 1 g, so subtracting it keeps gravity intact.
type BiasOffsets struct {
	Gyro  GyroSample  `json:"gyro"`
	Accel AccelSample `json:"accel"`
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
