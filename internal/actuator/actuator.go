// Package actuator drives the four motors.
package actuator

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Motors is the number of motor outputs.
const Motors = 4

// DefaultPeriod is the PWM period in nanoseconds (20 kHz, above audible
// range for brushed motors).
const DefaultPeriod = 50_000

// Sink accepts a duty cycle in percent per motor, in the order front-left,
// front-right, rear-left, rear-right.
type Sink interface {
	SetMotorDuty(duty [Motors]float64) error
}

// PWM drives the motors through the Linux sysfs PWM interface.
type PWM struct {
	channels [Motors]string
	period   int
	last     [Motors]int
}

// NewPWM exports and enables one channel of chip per motor. chip is a
// directory like /sys/class/pwm/pwmchip0.
func NewPWM(chip string, channels [Motors]int, period int) (*PWM, error) {
	if period <= 0 {
		period = DefaultPeriod
	}
	p := &PWM{period: period}

	for i, ch := range channels {
		dir := filepath.Join(chip, "pwm"+strconv.Itoa(ch))
		if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
			if err = writeInt(filepath.Join(chip, "export"), ch); err != nil {
				return nil, fmt.Errorf("exporting channel %d: %w", ch, err)
			}
		}

		steps := []struct {
			file string
			val  int
		}{
			{"period", period},
			{"duty_cycle", 0},
			{"enable", 1},
		}
		for _, step := range steps {
			if err := writeInt(filepath.Join(dir, step.file), step.val); err != nil {
				return nil, fmt.Errorf("setting %s of channel %d: %w", step.file, ch, err)
			}
		}
		p.channels[i] = dir
	}

	return p, nil
}

// SetMotorDuty writes the duty cycle of every motor whose value changed.
// Out-of-range duties are clamped.
func (p *PWM) SetMotorDuty(duty [Motors]float64) error {
	var errs []error
	for i, d := range duty {
		ns := dutyToNanos(d, p.period)
		if ns == p.last[i] {
			continue
		}
		if err := writeInt(filepath.Join(p.channels[i], "duty_cycle"), ns); err != nil {
			errs = append(errs, fmt.Errorf("motor %d: %w", i+1, err))
			continue
		}
		p.last[i] = ns
	}
	return errors.Join(errs...)
}

// Close drives every motor to zero and disables the channels.
func (p *PWM) Close() error {
	var errs []error
	for i, dir := range p.channels {
		if err := writeInt(filepath.Join(dir, "duty_cycle"), 0); err != nil {
			errs = append(errs, fmt.Errorf("motor %d: %w", i+1, err))
		}
		if err := writeInt(filepath.Join(dir, "enable"), 0); err != nil {
			errs = append(errs, fmt.Errorf("motor %d: %w", i+1, err))
		}
	}
	return errors.Join(errs...)
}

func dutyToNanos(duty float64, period int) int {
	switch {
	case math.IsNaN(duty), duty <= 0:
		return 0
	case duty >= 100:
		return period
	}
	return int(duty * float64(period) / 100)
}

func writeInt(path string, v int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(v)), 0o644)
}

// LogSink logs motor outputs instead of driving hardware.
type LogSink struct {
	logger *slog.Logger

	mu   sync.Mutex
	last [Motors]float64
	set  bool
}

// NewLogSink logs through logger; nil discards.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LogSink{logger: logger}
}

// SetMotorDuty logs the outputs when they change.
func (s *LogSink) SetMotorDuty(duty [Motors]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.set && duty == s.last {
		return nil
	}
	s.last, s.set = duty, true

	s.logger.Debug("motor duty",
		slog.Float64("m1", duty[0]),
		slog.Float64("m2", duty[1]),
		slog.Float64("m3", duty[2]),
		slog.Float64("m4", duty[3]),
	)
	return nil
}

// Last returns the most recent outputs.
func (s *LogSink) Last() [Motors]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
