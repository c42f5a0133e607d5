// Package battery reads the flight battery voltage.
package battery

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

const (
	// Samples averaged per reading.
	Samples = 64

	adcFullScaleMillivolts = 3300
	adcMaxRaw              = 4095
)

// ErrOutOfRange is returned for an ADC value outside the converter range.
var ErrOutOfRange = errors.New("adc reading out of range")

// Source reports the battery voltage in millivolts.
type Source interface {
	ReadMillivolts() (int, error)
}

// IIO reads a 12-bit ADC channel exposed by the Linux industrial I/O
// subsystem, e.g. /sys/bus/iio/devices/iio:device0/in_voltage5_raw.
type IIO struct {
	path    string
	divider float64
}

// NewIIO returns a reader for the raw channel file at path. divider is the
// ratio of the battery voltage to the voltage at the ADC pin; zero means 1.
func NewIIO(path string, divider float64) (*IIO, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("checking adc channel: %w", err)
	}
	if divider <= 0 {
		divider = 1
	}
	return &IIO{path: path, divider: divider}, nil
}

// ReadMillivolts averages Samples raw readings and scales them to the
// battery voltage.
func (b *IIO) ReadMillivolts() (int, error) {
	var sum int
	for i := 0; i < Samples; i++ {
		raw, err := b.readRaw()
		if err != nil {
			return 0, err
		}
		sum += raw
	}
	return ToMillivolts(sum/Samples, b.divider), nil
}

func (b *IIO) readRaw() (int, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		return 0, fmt.Errorf("reading adc: %w", err)
	}
	raw, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing adc value: %w", err)
	}
	if raw < 0 || raw > adcMaxRaw {
		return 0, fmt.Errorf("%d: %w", raw, ErrOutOfRange)
	}
	return raw, nil
}

// ToMillivolts converts a raw 12-bit ADC value to millivolts at the battery.
func ToMillivolts(raw int, divider float64) int {
	mv := raw * adcFullScaleMillivolts / adcMaxRaw
	return int(float64(mv) * divider)
}

// Sim is an in-memory battery for bench runs and tests.
type Sim struct {
	mu  sync.Mutex
	mv  int
	err error
}

// NewSim returns a battery reading mv millivolts.
func NewSim(mv int) *Sim {
	return &Sim{mv: mv}
}

// Set changes the reported voltage.
func (s *Sim) Set(mv int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mv = mv
}

// Fail makes subsequent reads return err. A nil err restores normal reads.
func (s *Sim) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Sim) ReadMillivolts() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mv, s.err
}
