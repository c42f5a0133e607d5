package imu

import (
	"fmt"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/lsm6ds3tr"

	"github.com/roman-kulish/quadrotor-fc/internal/attitude"
)

// LSM6DS3TR reads the ST LSM6DS3TR-C six-axis sensor.
type LSM6DS3TR struct {
	dev *lsm6ds3tr.Device
}

// NewLSM6DS3TR configures the sensor on bus for ±2 g and ±2000 dps at
// 833 Hz and checks that it answers.
func NewLSM6DS3TR(bus drivers.I2C) (*LSM6DS3TR, error) {
	dev := lsm6ds3tr.New(bus)
	err := dev.Configure(lsm6ds3tr.Configuration{
		AccelRange:      lsm6ds3tr.ACCEL_2G,
		AccelSampleRate: lsm6ds3tr.ACCEL_SR_833,
		GyroRange:       lsm6ds3tr.GYRO_2000DPS,
		GyroSampleRate:  lsm6ds3tr.GYRO_SR_833,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring lsm6ds3tr: %w", err)
	}
	if !dev.Connected() {
		return nil, ErrNotConnected
	}

	return &LSM6DS3TR{dev: dev}, nil
}

func (l *LSM6DS3TR) ReadRaw() (attitude.GyroSample, attitude.AccelSample, error) {
	ax, ay, az, err := l.dev.ReadAcceleration()
	if err != nil {
		return attitude.GyroSample{}, attitude.AccelSample{}, fmt.Errorf("reading acceleration: %w", err)
	}
	gx, gy, gz, err := l.dev.ReadRotation()
	if err != nil {
		return attitude.GyroSample{}, attitude.AccelSample{}, fmt.Errorf("reading rotation: %w", err)
	}

	return fromMicro(gx, gy, gz, ax, ay, az)
}

// fromMicro converts the driver's micro-dps and micro-g readings.
func fromMicro(gx, gy, gz, ax, ay, az int32) (attitude.GyroSample, attitude.AccelSample, error) {
	const micro = 1e-6
	g := attitude.GyroSample{
		PitchRate: float64(gx) * micro,
		RollRate:  float64(gy) * micro,
		YawRate:   float64(gz) * micro,
	}
	a := attitude.AccelSample{
		X: float64(ax) * micro,
		Y: float64(ay) * micro,
		Z: float64(az) * micro,
	}
	return g, a, nil
}
