// Package imu reads raw inertial samples: angular rates in degrees per second
// and accelerations in g.
package imu

import (
	"errors"
	"sync"

	"github.com/roman-kulish/quadrotor-fc/internal/attitude"
)

// ErrNotConnected is returned when the sensor's identity register does not
// read back as expected.
var ErrNotConnected = errors.New("imu not connected")

// Source produces one gyro and accelerometer sample per call. The gyro x,
// y and z axes map to pitch rate, roll rate and yaw rate.
type Source interface {
	ReadRaw() (attitude.GyroSample, attitude.AccelSample, error)
}

// Sim is an in-memory Source for bench runs and tests.
type Sim struct {
	mu    sync.Mutex
	gyro  attitude.GyroSample
	accel attitude.AccelSample
	err   error
	reads int
}

// NewSim returns a simulated IMU lying level and still.
func NewSim() *Sim {
	return &Sim{accel: attitude.AccelSample{Z: 1}}
}

// Set replaces the sample returned by subsequent reads.
func (s *Sim) Set(g attitude.GyroSample, a attitude.AccelSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gyro, s.accel = g, a
}

// Fail makes subsequent reads return err. A nil err restores normal reads.
func (s *Sim) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Reads returns the number of ReadRaw calls so far.
func (s *Sim) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *Sim) ReadRaw() (attitude.GyroSample, attitude.AccelSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.err != nil {
		return attitude.GyroSample{}, attitude.AccelSample{}, s.err
	}
	return s.gyro, s.accel, nil
}
