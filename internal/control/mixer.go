package control

import (
	"fmt"
	"time"

	"github.com/roman-kulish/quadrotor-fc/internal/attitude"
)

// Axis selects one of the three attitude controllers. The values match the
// selector byte used by gain-update packets.
type Axis uint8

const (
	AxisPitch Axis = 1
	AxisRoll  Axis = 2
	AxisYaw   Axis = 3
)

func (a Axis) String() string {
	switch a {
	case AxisPitch:
		return "pitch"
	case AxisRoll:
		return "roll"
	case AxisYaw:
		return "yaw"
	default:
		return fmt.Sprintf("axis(%d)", uint8(a))
	}
}

// Valid reports whether a names a controller.
func (a Axis) Valid() bool {
	return a >= AxisPitch && a <= AxisYaw
}

const (
	MaxThrust = 1000.0 // command scale
	MaxDuty   = 100.0  // motor output scale, percent

	DefaultMinThrust = 5.0 // percent
	DefaultFloorDuty = 0.0 // percent
)

// Setpoint is the pilot command: pitch and roll angles in degrees, yaw rate
// in degrees per second and thrust on the 0-1000 scale.
type Setpoint struct {
	Pitch   float64
	Roll    float64
	YawRate float64
	Thrust  float64
}

// Outputs holds four motor duties in percent, numbered front-left,
// front-right, rear-right, rear-left. Saturated marks the channels that had
// to be clamped.
type Outputs struct {
	Duty      [4]float64 `json:"duty"`
	Saturated [4]bool    `json:"saturated"`
}

// Saturation reports whether any channel was clamped.
func (o Outputs) Saturation() bool {
	for _, s := range o.Saturated {
		if s {
			return true
		}
	}
	return false
}

// Floor returns outputs with every channel at duty.
func Floor(duty float64) Outputs {
	return Outputs{Duty: [4]float64{duty, duty, duty, duty}}
}

// MixX combines thrust and the three axis corrections, all in percent, for
// an X-configuration quad and clamps every channel to [0, 100].
func MixX(thrust, pitch, roll, yaw float64) Outputs {
	raw := [4]float64{
		thrust + pitch + roll + yaw,
		thrust + pitch - roll - yaw,
		thrust - pitch - roll + yaw,
		thrust - pitch + roll - yaw,
	}

	var out Outputs
	for i, v := range raw {
		out.Duty[i], out.Saturated[i] = constrain(v, 0, MaxDuty)
	}
	return out
}

// MixerOption configures a Mixer.
type MixerOption func(*Mixer)

// WithMinThrust sets the thrust in percent below which the controllers are
// held in reset and the motors sit at the floor duty.
func WithMinThrust(percent float64) MixerOption {
	return func(m *Mixer) {
		m.minThrust = percent
	}
}

// WithFloorDuty sets the duty in percent used while below minimum thrust.
func WithFloorDuty(percent float64) MixerOption {
	return func(m *Mixer) {
		m.floorDuty = percent
	}
}

// Mixer runs the pitch, roll and yaw controllers and mixes their output into
// motor duties.
type Mixer struct {
	pitch *PID
	roll  *PID
	yaw   *PID

	minThrust float64
	floorDuty float64
}

// NewMixer returns a mixer with one controller per axis.
func NewMixer(pitch, roll, yaw Gains, period time.Duration, opts ...MixerOption) *Mixer {
	m := &Mixer{
		pitch:     NewPID(pitch, period),
		roll:      NewPID(roll, period),
		yaw:       NewPID(yaw, period),
		minThrust: DefaultMinThrust,
		floorDuty: DefaultFloorDuty,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mix computes motor outputs for sp given the fused attitude and the current
// yaw rate. Pitch and roll are angle-controlled, yaw is rate-controlled.
func (m *Mixer) Mix(sp Setpoint, est attitude.Estimate, yawRate float64, now time.Time) Outputs {
	thrust := mapRange(sp.Thrust, 0, MaxThrust, 0, MaxDuty)
	if thrust < m.minThrust {
		m.Reset(now)
		return Floor(m.floorDuty)
	}

	pitch := m.pitch.Update(sp.Pitch-est.Pitch, now)
	roll := m.roll.Update(sp.Roll-est.Roll, now)
	yaw := m.yaw.Update(sp.YawRate-yawRate, now)

	return MixX(thrust, pitch, roll, yaw)
}

// Reset clears all three controllers.
func (m *Mixer) Reset(now time.Time) {
	m.pitch.Reset(now)
	m.roll.Reset(now)
	m.yaw.Reset(now)
}

// PID returns the controller for axis, or nil for an unknown axis.
func (m *Mixer) PID(axis Axis) *PID {
	switch axis {
	case AxisPitch:
		return m.pitch
	case AxisRoll:
		return m.roll
	case AxisYaw:
		return m.yaw
	default:
		return nil
	}
}

// FloorDuty returns the duty used while below minimum thrust.
func (m *Mixer) FloorDuty() float64 {
	return m.floorDuty
}
