// Package telemetry carries per-tick flight snapshots from the control loop
// to the runner's outputs.
package telemetry

import (
	"time"
)

// Provider returns the most recent snapshot, or nil before the first one.
type Provider interface {
	Get() *Snapshot
}

// Sink receives one snapshot per control tick. Publish must not block.
type Sink interface {
	Publish(s Snapshot)
}

// Snapshot is the state of the aircraft at the end of a control tick.
type Snapshot struct {
	Timestamp         time.Time  `json:"timestamp"`         // Tick time
	State             string     `json:"state"`             // Lifecycle state name
	Pitch             float64    `json:"pitch"`             // Fused pitch angle in degrees
	Roll              float64    `json:"roll"`              // Fused roll angle in degrees
	YawRate           float64    `json:"yawRate"`           // Bias-corrected yaw rate in deg/s
	Thrust            float64    `json:"thrust"`            // Thrust in effect, 0-1000
	Duty              [4]float64 `json:"duty"`              // Motor duty in percent
	Saturated         bool       `json:"saturated"`         // Any motor clamped this tick
	BatteryMillivolts int        `json:"batteryMillivolts"` // Last good battery reading, 0 if none yet
	LowBattery        bool       `json:"lowBattery"`        // Below the low-battery threshold
	Distance          float64    `json:"distance"`          // Rangefinder distance in cm, -1 if none
	Connected         bool       `json:"connected"`         // Ground station link up
	SensorFault       bool       `json:"sensorFault"`       // IMU sample rejected this tick
}
