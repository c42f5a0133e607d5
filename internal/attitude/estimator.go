package attitude

import (
	"math"
)

// DefaultGyroWeight is the share of the gyro-propagated angle in the fused
// output. The accelerometer gets the remainder.
const DefaultGyroWeight = 0.98

const radToDeg = 180 / math.Pi

// EstimatorOption configures an Estimator.
type EstimatorOption func(*Estimator)

// WithGyroWeight overrides the complementary split. Values outside (0, 1]
// are ignored.
func WithGyroWeight(w float64) EstimatorOption {
	return func(e *Estimator) {
		if w > 0 && w <= 1 {
			e.weightGyro = w
		}
	}
}

// Estimator is a first-order complementary filter for pitch and roll. Yaw is
// rate-only and is never integrated.
type Estimator struct {
	weightGyro float64
	bias       BiasOffsets
	estimate   Estimate
}

// NewEstimator returns an estimator at level attitude with zero bias.
func NewEstimator(opts ...EstimatorOption) *Estimator {
	e := &Estimator{weightGyro: DefaultGyroWeight}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Update subtracts the bias, propagates the previous fused angle by the gyro
// rate over dt seconds and blends it with the accelerometer angle. A sample
// with a non-finite axis leaves the estimate untouched.
func (e *Estimator) Update(g GyroSample, a AccelSample, dt float64) (Estimate, error) {
	if !g.Finite() || !a.Finite() || math.IsNaN(dt) || math.IsInf(dt, 0) {
		return e.estimate, ErrNonFiniteSample
	}

	g = g.Sub(e.bias.Gyro)
	a = a.Sub(e.bias.Accel)

	accPitch, accRoll := AccelAngles(a)
	wa := 1 - e.weightGyro

	e.estimate.Pitch = e.weightGyro*(e.estimate.Pitch+g.PitchRate*dt) + wa*accPitch
	e.estimate.Roll = e.weightGyro*(e.estimate.Roll+g.RollRate*dt) + wa*accRoll

	return e.estimate, nil
}

// Correct returns g with the gyro bias removed.
func (e *Estimator) Correct(g GyroSample) GyroSample {
	return g.Sub(e.bias.Gyro)
}

// Hold returns the last fused estimate.
func (e *Estimator) Hold() Estimate {
	return e.estimate
}

// SetBias installs calibration offsets for subsequent updates.
func (e *Estimator) SetBias(b BiasOffsets) {
	e.bias = b
}

// Bias returns the installed calibration offsets.
func (e *Estimator) Bias() BiasOffsets {
	return e.bias
}

// Reset returns the filter state to level. The bias is kept.
func (e *Estimator) Reset() {
	e.estimate = Estimate{}
}

// AccelAngles derives pitch and roll in degrees from the gravity vector.
func AccelAngles(a AccelSample) (pitch, roll float64) {
	pitch = math.Atan2(a.Y, math.Sqrt(a.X*a.X+a.Z*a.Z)) * radToDeg
	roll = math.Atan2(-a.X, math.Sqrt(a.Y*a.Y+a.Z*a.Z)) * radToDeg
	return pitch, roll
}
