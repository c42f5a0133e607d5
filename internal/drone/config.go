// Package drone runs the flight lifecycle: calibration, waiting for the
// ground station, flight and landing, one control tick at a time.
package drone

import (
	"errors"
	"fmt"
	"time"

	"github.com/roman-kulish/quadrotor-fc/internal/actuator"
	"github.com/roman-kulish/quadrotor-fc/internal/attitude"
	"github.com/roman-kulish/quadrotor-fc/internal/control"
	"github.com/roman-kulish/quadrotor-fc/internal/imu"
	"github.com/roman-kulish/quadrotor-fc/internal/indicator"
	"github.com/roman-kulish/quadrotor-fc/internal/protocol"
	"github.com/roman-kulish/quadrotor-fc/internal/telemetry"
)

// Config holds the tuning of the lifecycle.
type Config struct {
	Period time.Duration // nominal control period

	CalibrationWindow time.Duration
	GyroThreshold     float64 // deg/s
	AccelThreshold    float64 // g

	Pitch control.Gains
	Roll  control.Gains
	Yaw   control.Gains

	MinThrust float64 // percent
	FloorDuty float64 // percent

	LowBatteryMillivolts      int
	CriticalBatteryMillivolts int
	BatteryEvery              int // ticks between battery reads

	TelemetryEvery int // ticks between unsolicited telemetry packets, 0 disables

	LandingRampPerSecond float64 // thrust units per second
	TouchdownHeight      float64 // cm, 0 disables the rangefinder check
}

// DefaultConfig returns the reference tuning: 200 Hz, a ten-second still
// window and a 3.4 V / 3.2 V single-cell battery.
func DefaultConfig() Config {
	return Config{
		Period:                    control.DefaultPeriod,
		CalibrationWindow:         attitude.DefaultCalibrationWindow,
		GyroThreshold:             attitude.DefaultGyroThreshold,
		AccelThreshold:            attitude.DefaultAccelThreshold,
		Pitch:                     control.Gains{Kp: 1.2, Ki: 0.05, Kd: 0.02},
		Roll:                      control.Gains{Kp: 1.2, Ki: 0.05, Kd: 0.02},
		Yaw:                       control.Gains{Kp: 0.8, Ki: 0.01},
		MinThrust:                 control.DefaultMinThrust,
		FloorDuty:                 control.DefaultFloorDuty,
		LowBatteryMillivolts:      3400,
		CriticalBatteryMillivolts: 3200,
		BatteryEvery:              200,
		TelemetryEvery:            20,
		LandingRampPerSecond:      250,
		TouchdownHeight:           8,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Period <= 0 {
		return errors.New("period must be positive")
	}
	if c.CalibrationWindow <= 0 {
		return errors.New("calibration window must be positive")
	}
	if c.GyroThreshold <= 0 || c.AccelThreshold <= 0 {
		return errors.New("stillness thresholds must be positive")
	}
	if c.CriticalBatteryMillivolts > c.LowBatteryMillivolts {
		return fmt.Errorf("critical battery %d mV is above low battery %d mV", c.CriticalBatteryMillivolts, c.LowBatteryMillivolts)
	}
	if c.MinThrust < 0 || c.MinThrust > control.MaxDuty {
		return fmt.Errorf("min thrust %v%% out of range", c.MinThrust)
	}
	if c.FloorDuty < 0 || c.FloorDuty > control.MaxDuty {
		return fmt.Errorf("floor duty %v%% out of range", c.FloorDuty)
	}
	if c.BatteryEvery < 1 {
		return errors.New("battery cadence must be at least one tick")
	}
	if c.TelemetryEvery < 0 {
		return errors.New("telemetry cadence must not be negative")
	}
	if c.LandingRampPerSecond <= 0 {
		return errors.New("landing ramp must be positive")
	}
	return nil
}

// Link is the ground station side of the tick.
type Link interface {
	TryRecvCommand() (protocol.Command, bool)
	IsConnected() bool
	Gains() <-chan protocol.GainUpdate
	TelemetryRequested() bool
	Send(p protocol.Packet) bool
}

// BatterySource reports the battery voltage.
type BatterySource interface {
	ReadMillivolts() (int, error)
}

// Rangefinder reports the latest distance in cm, negative when unavailable.
type Rangefinder interface {
	Latest() float64
}

// Deps are the collaborators the drone drives. Rangefinder, Indicators and
// Telemetry are optional.
type Deps struct {
	IMU         imu.Source
	Link        Link
	Motors      actuator.Sink
	Battery     BatterySource
	Rangefinder Rangefinder
	Indicators  *indicator.Panel
	Telemetry   telemetry.Sink
}

func (d Deps) validate() error {
	var errs []error
	if d.IMU == nil {
		errs = append(errs, errors.New("imu is required"))
	}
	if d.Link == nil {
		errs = append(errs, errors.New("link is required"))
	}
	if d.Motors == nil {
		errs = append(errs, errors.New("motors are required"))
	}
	if d.Battery == nil {
		errs = append(errs, errors.New("battery is required"))
	}
	return errors.Join(errs...)
}
