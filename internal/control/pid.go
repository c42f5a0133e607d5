// Package control holds the attitude PID controllers and the X-quad motor
// mixer.
package control

import (
	"time"
)

// Gains are the proportional, integral and derivative coefficients.
type Gains struct {
	Kp float64 `yaml:"kp" json:"kp"`
	Ki float64 `yaml:"ki" json:"ki"`
	Kd float64 `yaml:"kd" json:"kd"`
}

// PID is a single-axis controller. It is not safe for concurrent use; gain
// updates from other goroutines must be handed over to the owner.
type PID struct {
	gains Gains

	integral   float64
	lastError  float64
	lastUpdate time.Time
	stamped    bool

	period time.Duration
}

// DefaultPeriod is the nominal control period used when none is given.
const DefaultPeriod = 5 * time.Millisecond

// NewPID returns a controller whose first update uses period as dt.
func NewPID(gains Gains, period time.Duration) *PID {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &PID{gains: gains, period: period}
}

// Update advances the controller with error e observed at now and returns
// the control output. When there is no previous timestamp, or the clock did
// not advance, dt falls back to the nominal period.
func (p *PID) Update(e float64, now time.Time) float64 {
	dt := p.period.Seconds()
	if p.stamped {
		if d := now.Sub(p.lastUpdate).Seconds(); d > 0 {
			dt = d
		}
	}

	p.integral += e * dt
	derivative := (e - p.lastError) / dt

	p.lastError = e
	p.lastUpdate = now
	p.stamped = true

	return p.gains.Kp*e + p.gains.Ki*p.integral + p.gains.Kd*derivative
}

// Reset clears the integral and the last error and stamps now as the last
// update time.
func (p *PID) Reset(now time.Time) {
	p.integral = 0
	p.lastError = 0
	p.lastUpdate = now
	p.stamped = true
}

// UpdateConstants swaps the gains in place. Integral state is kept.
func (p *PID) UpdateConstants(g Gains) {
	p.gains = g
}

// Gains returns the current gains.
func (p *PID) Gains() Gains {
	return p.gains
}

// Integral returns the accumulated integral term before scaling by Ki.
func (p *PID) Integral() float64 {
	return p.integral
}

// LastError returns the error seen by the previous update.
func (p *PID) LastError() float64 {
	return p.lastError
}
