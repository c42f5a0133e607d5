package imu

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/roman-kulish/quadrotor-fc/internal/attitude"
)

// DefaultMPU6050Address is the address with AD0 tied low.
const DefaultMPU6050Address = 0x68

const (
	regSampleRateDiv = 0x19
	regConfig        = 0x1A
	regGyroConfig    = 0x1B
	regAccelConfig   = 0x1C
	regAccelXOutH    = 0x3B
	regPowerMgmt1    = 0x6B
	regWhoAmI        = 0x75

	powerReset    = 0x80
	powerWake     = 0x00
	clockPLLGyroX = 0x01

	gyroFullScale2000 = 0x18
	accelFullScale2g  = 0x00

	// Sensitivity at the configured full scales.
	gyroLSBPerDPS = 16.4
	accelLSBPerG  = 16384.0

	resetDelay = 100 * time.Millisecond
)

// Registers is the register-level bus access the MPU6050 needs.
type Registers interface {
	ReadRegister(addr uint16, reg byte, buf []byte) error
	WriteRegister(addr uint16, reg byte, buf []byte) error
}

// MPU6050Config selects the sample rate divider and the digital low-pass
// filter setting.
type MPU6050Config struct {
	Address           uint16 `yaml:"address"`
	SampleRateDiv     byte   `yaml:"sampleRateDiv"`
	LowPassFilter     byte   `yaml:"lowPassFilter"`
	SkipIdentityCheck bool   `yaml:"skipIdentityCheck"`
}

// MPU6050 reads the InvenSense MPU-6050 configured for ±2000 dps and ±2 g.
type MPU6050 struct {
	bus   Registers
	addr  uint16
	sleep func(time.Duration)
}

// NewMPU6050 resets and configures the sensor.
func NewMPU6050(bus Registers, cfg MPU6050Config) (*MPU6050, error) {
	return newMPU6050(bus, cfg, time.Sleep)
}

func newMPU6050(bus Registers, cfg MPU6050Config, sleep func(time.Duration)) (*MPU6050, error) {
	m := &MPU6050{bus: bus, addr: cfg.Address, sleep: sleep}
	if m.addr == 0 {
		m.addr = DefaultMPU6050Address
	}

	if !cfg.SkipIdentityCheck {
		var id [1]byte
		if err := bus.ReadRegister(m.addr, regWhoAmI, id[:]); err != nil {
			return nil, fmt.Errorf("reading identity: %w", err)
		}
		// WHO_AM_I holds the upper six bits of the default address
		if id[0]&0x7E != DefaultMPU6050Address {
			return nil, fmt.Errorf("identity 0x%02x: %w", id[0], ErrNotConnected)
		}
	}

	if err := m.write(regPowerMgmt1, powerReset); err != nil {
		return nil, fmt.Errorf("resetting: %w", err)
	}
	m.sleep(resetDelay)

	steps := []struct {
		msg string
		reg byte
		val byte
	}{
		{"waking up", regPowerMgmt1, powerWake},
		{"selecting clock", regPowerMgmt1, clockPLLGyroX},
		{"configuring gyro", regGyroConfig, gyroFullScale2000},
		{"configuring accelerometer", regAccelConfig, accelFullScale2g},
		{"setting sample rate", regSampleRateDiv, cfg.SampleRateDiv},
		{"setting low-pass filter", regConfig, cfg.LowPassFilter & 0x07},
	}
	for _, step := range steps {
		if err := m.write(step.reg, step.val); err != nil {
			return nil, fmt.Errorf("%s: %w", step.msg, err)
		}
	}

	return m, nil
}

func (m *MPU6050) write(reg, val byte) error {
	return m.bus.WriteRegister(m.addr, reg, []byte{val})
}

// ReadRaw reads accelerometer, temperature and gyro registers in one burst.
func (m *MPU6050) ReadRaw() (attitude.GyroSample, attitude.AccelSample, error) {
	var buf [14]byte
	if err := m.bus.ReadRegister(m.addr, regAccelXOutH, buf[:]); err != nil {
		return attitude.GyroSample{}, attitude.AccelSample{}, fmt.Errorf("reading sample: %w", err)
	}
	return decodeMPU6050(buf)
}

func decodeMPU6050(buf [14]byte) (attitude.GyroSample, attitude.AccelSample, error) {
	word := func(i int) float64 {
		return float64(int16(binary.BigEndian.Uint16(buf[i:])))
	}

	a := attitude.AccelSample{
		X: word(0) / accelLSBPerG,
		Y: word(2) / accelLSBPerG,
		Z: word(4) / accelLSBPerG,
	}
	// bytes 6 and 7 hold the die temperature
	g := attitude.GyroSample{
		PitchRate: word(8) / gyroLSBPerDPS,
		RollRate:  word(10) / gyroLSBPerDPS,
		YawRate:   word(12) / gyroLSBPerDPS,
	}
	return g, a, nil
}
