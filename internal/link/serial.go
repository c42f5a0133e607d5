package link

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/roman-kulish/quadrotor-fc/internal/protocol"
)

// SerialTransport carries frames over a UART radio. The byte stream has no
// natural boundaries, so every frame is preceded by its length.
type SerialTransport struct {
	rw io.ReadWriteCloser

	wmu sync.Mutex
}

const maxFrame = protocol.MaxPayload + 1

// OpenSerial opens dev at baud. Reads give up after readTimeout so the hub
// can observe cancellation.
func OpenSerial(dev string, baud int, readTimeout time.Duration) (*SerialTransport, error) {
	port, err := serial.Open(dev, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("opening serial port '%s': %w", dev, err)
	}
	if readTimeout <= 0 {
		readTimeout = pollInterval
	}
	if err = port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("setting read timeout: %w", err)
	}

	return newSerialTransport(port), nil
}

func newSerialTransport(rw io.ReadWriteCloser) *SerialTransport {
	return &SerialTransport{rw: rw}
}

// ReadFrame reads one length-prefixed frame. A read timeout before or in the
// middle of a frame yields ErrTimeout and the partial frame is discarded.
func (s *SerialTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	var size [1]byte
	if err := s.readFull(size[:]); err != nil {
		return nil, err
	}

	n := int(size[0])
	if n < 2 || n > maxFrame {
		// not a valid length; skip the byte and resynchronise on the next one
		return nil, ErrTimeout
	}

	frame := make([]byte, n)
	if err := s.readFull(frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func (s *SerialTransport) readFull(p []byte) error {
	for read := 0; read < len(p); {
		n, err := s.rw.Read(p[read:])
		if err != nil {
			return err
		}
		if n == 0 {
			// the port returns no data and no error on timeout
			return ErrTimeout
		}
		read += n
	}
	return nil
}

// WriteFrame writes the length prefix and the frame in one call.
func (s *SerialTransport) WriteFrame(frame []byte) error {
	if len(frame) > maxFrame {
		return fmt.Errorf("%d bytes: %w", len(frame), protocol.ErrFrameTooLong)
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	out := make([]byte, 0, len(frame)+1)
	out = append(out, byte(len(frame)))
	out = append(out, frame...)
	if _, err := s.rw.Write(out); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Close closes the port.
func (s *SerialTransport) Close() error {
	return s.rw.Close()
}
