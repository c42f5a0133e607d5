// Package protocol implements the checksum-framed packets exchanged with the
// ground station.
//
// A frame is the payload followed by one checksum byte holding the 8-bit sum
// of the payload bytes. Multi-byte fields are little-endian and floats are
// IEEE-754 binary32.
package protocol

import (
	"errors"
	"fmt"
)

// MaxPayload is the largest payload accepted in a single frame.
const MaxPayload = 64

var (
	ErrEmptyPayload  = errors.New("empty payload")
	ErrFrameTooLong  = errors.New("frame exceeds maximum payload length")
	ErrChecksum      = errors.New("checksum mismatch")
	ErrShortPacket   = errors.New("packet too short")
	ErrUnknownPacket = errors.New("unknown packet")
	ErrNonFinite     = errors.New("packet carries a non-finite value")
)

// Checksum returns the additive 8-bit sum of p.
func Checksum(p []byte) byte {
	var sum byte
	for _, b := range p {
		sum += b
	}
	return sum
}

// Encode returns a new frame holding payload and its checksum.
func Encode(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%d bytes: %w", len(payload), ErrFrameTooLong)
	}

	frame := make([]byte, len(payload)+1)
	copy(frame, payload)
	frame[len(payload)] = Checksum(payload)
	return frame, nil
}

// Decode validates frame and returns its payload. The returned slice
// aliases frame.
func Decode(frame []byte) ([]byte, error) {
	if len(frame) < 2 {
		return nil, ErrEmptyPayload
	}

	payload := frame[:len(frame)-1]
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%d bytes: %w", len(payload), ErrFrameTooLong)
	}
	if sum := Checksum(payload); sum != frame[len(frame)-1] {
		return nil, fmt.Errorf("got 0x%02x, want 0x%02x: %w", frame[len(frame)-1], sum, ErrChecksum)
	}
	return payload, nil
}
