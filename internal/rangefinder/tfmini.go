package rangefinder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.bug.st/serial"
)

const (
	tfminiHeader    = 0x59
	tfminiFrameSize = 9
	tfminiBaudRate  = 115200

	// Readings weaker than this or at the sentinel distance are unreliable.
	tfminiMinStrength  = 100
	tfminiInvalidRange = 0xFFFF

	readTimeout = 10 * time.Millisecond
	maxBackoff  = time.Second
)

// ErrBadFrame is returned by ParseTFMini for a frame with a wrong header or
// checksum.
var ErrBadFrame = errors.New("bad tfmini frame")

// Option configures a TFMini reader.
type Option func(*TFMini)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *TFMini) {
		t.logger = logger
	}
}

// TFMini reads the Benewake TFMini LiDAR over a UART and stores every
// distance it reports into a Cell.
type TFMini struct {
	port   io.ReadCloser
	cell   *Cell
	logger *slog.Logger

	frame [tfminiFrameSize]byte
	n     int
}

// OpenTFMini opens the serial device at the sensor's default 115200 baud.
func OpenTFMini(dev string, cell *Cell, opts ...Option) (*TFMini, error) {
	port, err := serial.Open(dev, &serial.Mode{BaudRate: tfminiBaudRate})
	if err != nil {
		return nil, fmt.Errorf("opening serial port '%s': %w", dev, err)
	}
	if err = port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("setting read timeout: %w", err)
	}
	return NewTFMini(port, cell, opts...), nil
}

// NewTFMini reads frames from port. A read returning no data is a timeout.
func NewTFMini(port io.ReadCloser, cell *Cell, opts ...Option) *TFMini {
	t := &TFMini{
		port:   port,
		cell:   cell,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run reads until ctx is cancelled. A failing port leaves the cell at
// NoReading and is retried with backoff.
func (t *TFMini) Run(ctx context.Context) error {
	buf := make([]byte, 64)
	backoff := readTimeout
	for ctx.Err() == nil {
		n, err := t.port.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			t.cell.Store(NoReading)
			t.n = 0
			if backoff == readTimeout {
				t.logger.Warn("failed to read rangefinder", slog.String("error", err.Error()))
			}

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = readTimeout
		if n == 0 {
			t.cell.Store(NoReading)
			continue
		}
		for _, b := range buf[:n] {
			t.feed(b)
		}
	}
	return nil
}

func (t *TFMini) feed(b byte) {
	if t.n < 2 && b != tfminiHeader {
		t.n = 0
		return
	}
	t.frame[t.n] = b
	t.n++
	if t.n < tfminiFrameSize {
		return
	}
	t.n = 0

	cm, strength, err := ParseTFMini(t.frame)
	if err != nil {
		t.logger.Debug("dropped rangefinder frame", slog.String("error", err.Error()))
		return
	}
	if strength < tfminiMinStrength || cm == tfminiInvalidRange {
		t.cell.Store(NoReading)
		return
	}
	t.cell.Store(cm)
}

// Close closes the port.
func (t *TFMini) Close() error {
	return t.port.Close()
}

// ParseTFMini decodes one nine-byte frame into a distance in centimetres
// and a signal strength.
func ParseTFMini(frame [tfminiFrameSize]byte) (float64, uint16, error) {
	if frame[0] != tfminiHeader || frame[1] != tfminiHeader {
		return 0, 0, ErrBadFrame
	}
	var sum byte
	for _, b := range frame[:tfminiFrameSize-1] {
		sum += b
	}
	if sum != frame[tfminiFrameSize-1] {
		return 0, 0, fmt.Errorf("checksum 0x%02x != 0x%02x: %w", sum, frame[tfminiFrameSize-1], ErrBadFrame)
	}

	dist := uint16(frame[2]) | uint16(frame[3])<<8
	strength := uint16(frame[4]) | uint16(frame[5])<<8
	return float64(dist), strength, nil
}
