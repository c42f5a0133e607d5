package attitude

import (
	"errors"
	"math"
	"time"
)

// ErrNoSamples is returned by Finish when nothing was accumulated.
var ErrNoSamples = errors.New("no calibration samples accumulated")

const (
	DefaultCalibrationWindow = 10 * time.Second
	DefaultGyroThreshold     = 2.0  // deg/s away from the running bias
	DefaultAccelThreshold    = 0.05 // g away from the running bias and from 1 g on Z
)

// CalibratorOption configures a Calibrator.
type CalibratorOption func(*Calibrator)

// WithWindow sets how long the airframe must stay still.
func WithWindow(d time.Duration) CalibratorOption {
	return func(c *Calibrator) {
		c.window = d
	}
}

// WithGyroThreshold sets the per-axis stillness threshold for angular rates.
func WithGyroThreshold(v float64) CalibratorOption {
	return func(c *Calibrator) {
		c.gyroThreshold = v
	}
}

// WithAccelThreshold sets the per-axis stillness threshold for acceleration.
func WithAccelThreshold(v float64) CalibratorOption {
	return func(c *Calibrator) {
		c.accelThreshold = v
	}
}

// Calibrator accumulates a running bias estimate over a continuous still
// window. Any motion restarts the window and discards the accumulator.
//
// A sensor that returns the same reading forever looks perfectly still, so a
// stuck IMU finishes calibration on a frozen bias.
type Calibrator struct {
	window         time.Duration
	gyroThreshold  float64
	accelThreshold float64

	started time.Time

	gyroSum  GyroSample
	accelSum AccelSample
	n        int

	lastGyro  GyroSample
	lastAccel AccelSample
	hasLast   bool
}

// NewCalibrator returns a calibrator whose window starts at now.
func NewCalibrator(now time.Time, opts ...CalibratorOption) *Calibrator {
	c := &Calibrator{
		window:         DefaultCalibrationWindow,
		gyroThreshold:  DefaultGyroThreshold,
		accelThreshold: DefaultAccelThreshold,
		started:        now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Still reports whether the sample is within thresholds of the running bias
// (the mean of the current window) and Z reads about 1 g. Before the window
// holds a sample the last cached sample is the reference, and the very first
// sample is judged on Z only.
func (c *Calibrator) Still(g GyroSample, a AccelSample) bool {
	if math.Abs(a.Z-1) > c.accelThreshold {
		return false
	}

	refGyro, refAccel, ok := c.reference()
	if !ok {
		return true
	}

	d := g.Sub(refGyro)
	if math.Abs(d.PitchRate) > c.gyroThreshold ||
		math.Abs(d.RollRate) > c.gyroThreshold ||
		math.Abs(d.YawRate) > c.gyroThreshold {
		return false
	}

	da := a.Sub(refAccel)
	return math.Abs(da.X) <= c.accelThreshold &&
		math.Abs(da.Y) <= c.accelThreshold &&
		math.Abs(da.Z) <= c.accelThreshold
}

func (c *Calibrator) reference() (GyroSample, AccelSample, bool) {
	if c.n == 0 {
		return c.lastGyro, c.lastAccel, c.hasLast
	}

	n := float64(c.n)
	return GyroSample{
			PitchRate: c.gyroSum.PitchRate / n,
			RollRate:  c.gyroSum.RollRate / n,
			YawRate:   c.gyroSum.YawRate / n,
		}, AccelSample{
			X: c.accelSum.X / n,
			Y: c.accelSum.Y / n,
			Z: c.accelSum.Z / n,
		}, true
}

// Remaining reports whether the still window has not yet elapsed at now.
func (c *Calibrator) Remaining(now time.Time) bool {
	return c.Elapsed(now) < c.window
}

// Elapsed returns the time spent in the current window.
func (c *Calibrator) Elapsed(now time.Time) time.Duration {
	return now.Sub(c.started)
}

// Add folds a sample into the accumulator and refreshes the last-sample
// cache. Non-finite samples are rejected and change nothing.
func (c *Calibrator) Add(g GyroSample, a AccelSample) error {
	if !g.Finite() || !a.Finite() {
		return ErrNonFiniteSample
	}

	c.gyroSum.PitchRate += g.PitchRate
	c.gyroSum.RollRate += g.RollRate
	c.gyroSum.YawRate += g.YawRate
	c.accelSum.X += a.X
	c.accelSum.Y += a.Y
	c.accelSum.Z += a.Z
	c.n++

	c.remember(g, a)
	return nil
}

// Restart discards the accumulator and starts a new window at now. A finite
// sample refreshes the last-sample cache so the next sample is judged
// against it.
func (c *Calibrator) Restart(now time.Time, g GyroSample, a AccelSample) {
	c.gyroSum = GyroSample{}
	c.accelSum = AccelSample{}
	c.n = 0
	c.started = now

	if g.Finite() && a.Finite() {
		c.remember(g, a)
	}
}

// Finish returns the mean offsets over the accumulated window.
func (c *Calibrator) Finish() (BiasOffsets, error) {
	if c.n == 0 {
		return BiasOffsets{}, ErrNoSamples
	}

	n := float64(c.n)
	return BiasOffsets{
		Gyro: GyroSample{
			PitchRate: c.gyroSum.PitchRate / n,
			RollRate:  c.gyroSum.RollRate / n,
			YawRate:   c.gyroSum.YawRate / n,
		},
		Accel: AccelSample{
			X: c.accelSum.X / n,
			Y: c.accelSum.Y / n,
			Z: c.accelSum.Z/n - 1,
		},
	}, nil
}

// Samples returns the number of samples in the current window.
func (c *Calibrator) Samples() int {
	return c.n
}

// Window returns the configured still window.
func (c *Calibrator) Window() time.Duration {
	return c.window
}

func (c *Calibrator) remember(g GyroSample, a AccelSample) {
	c.lastGyro = g
	c.lastAccel = a
	c.hasLast = true
}
