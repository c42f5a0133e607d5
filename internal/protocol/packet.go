package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Kind is the leading discriminator byte of a payload.
type Kind byte

const (
	KindCommand   Kind = 0x30
	KindConsole   Kind = 0x40
	KindTelemetry Kind = 0x82
	KindLink      Kind = 0xFF
)

// console sub-types
const (
	consoleGains            byte = 0x51
	consoleTelemetryRequest byte = 0x82
)

// link sub-types
const (
	linkHandshake  byte = 0x01
	linkConnect    byte = 0x01
	linkDisconnect byte = 0x02
)

const (
	commandLen   = 15
	gainsLen     = 15
	telemetryLen = 13
	linkLen      = 3

	// thrust byte 204 maps to full scale
	thrustByteFull = 204
	thrustMax      = 1000.0
)

// Packet is one of Command, GainUpdate, TelemetryRequest, LinkControl or
// Telemetry.
type Packet interface {
	Kind() Kind
	appendPayload(b []byte) []byte
}

// Command is a pilot setpoint. Thrust is on the 0-1000 scale.
type Command struct {
	Roll    float64 `json:"roll"`
	Pitch   float64 `json:"pitch"`
	YawRate float64 `json:"yawRate"`
	Thrust  float64 `json:"thrust"`
}

func (Command) Kind() Kind { return KindCommand }

func (c Command) appendPayload(b []byte) []byte {
	b = append(b, byte(KindCommand))
	b = appendFloat(b, c.Roll)
	b = appendFloat(b, c.Pitch)
	b = appendFloat(b, c.YawRate)
	return append(b, 0x00, ThrustToByte(c.Thrust))
}

// GainUpdate carries new PID gains for one axis: 1 pitch, 2 roll, 3 yaw.
type GainUpdate struct {
	Axis byte    `json:"axis"`
	Kp   float64 `json:"kp"`
	Ki   float64 `json:"ki"`
	Kd   float64 `json:"kd"`
}

func (GainUpdate) Kind() Kind { return KindConsole }

func (g GainUpdate) appendPayload(b []byte) []byte {
	b = append(b, byte(KindConsole), consoleGains, g.Axis)
	b = appendFloat(b, g.Kp)
	b = appendFloat(b, g.Ki)
	return appendFloat(b, g.Kd)
}

// TelemetryRequest asks for an immediate telemetry packet.
type TelemetryRequest struct{}

func (TelemetryRequest) Kind() Kind { return KindConsole }

func (TelemetryRequest) appendPayload(b []byte) []byte {
	return append(b, byte(KindConsole), consoleTelemetryRequest)
}

// LinkControl is the console handshake announcing a connect or a disconnect.
type LinkControl struct {
	Connect bool `json:"connect"`
}

func (LinkControl) Kind() Kind { return KindLink }

func (l LinkControl) appendPayload(b []byte) []byte {
	sub := linkDisconnect
	if l.Connect {
		sub = linkConnect
	}
	return append(b, byte(KindLink), linkHandshake, sub)
}

// Telemetry reports the fused attitude and the measured yaw rate.
type Telemetry struct {
	Pitch   float64 `json:"pitch"`
	Roll    float64 `json:"roll"`
	YawRate float64 `json:"yawRate"`
}

func (Telemetry) Kind() Kind { return KindTelemetry }

func (t Telemetry) appendPayload(b []byte) []byte {
	b = append(b, byte(KindTelemetry))
	b = appendFloat(b, t.Pitch)
	b = appendFloat(b, t.Roll)
	return appendFloat(b, t.YawRate)
}

// Marshal encodes p into a checksummed frame.
func Marshal(p Packet) ([]byte, error) {
	return Encode(p.appendPayload(make([]byte, 0, MaxPayload)))
}

// Parse validates frame and decodes its payload.
func Parse(frame []byte) (Packet, error) {
	payload, err := Decode(frame)
	if err != nil {
		return nil, err
	}
	return ParsePayload(payload)
}

// ParsePayload decodes a payload whose checksum was already verified.
func ParsePayload(p []byte) (Packet, error) {
	if len(p) == 0 {
		return nil, ErrEmptyPayload
	}

	switch Kind(p[0]) {
	case KindCommand:
		return parseCommand(p)

	case KindConsole:
		if len(p) < 2 {
			return nil, fmt.Errorf("console packet: %w", ErrShortPacket)
		}
		switch p[1] {
		case consoleGains:
			return parseGains(p)
		case consoleTelemetryRequest:
			return TelemetryRequest{}, nil
		default:
			return nil, fmt.Errorf("console sub-type 0x%02x: %w", p[1], ErrUnknownPacket)
		}

	case KindLink:
		if len(p) < linkLen {
			return nil, fmt.Errorf("link packet: %w", ErrShortPacket)
		}
		if p[1] != linkHandshake {
			return nil, fmt.Errorf("link sub-type 0x%02x: %w", p[1], ErrUnknownPacket)
		}
		switch p[2] {
		case linkConnect:
			return LinkControl{Connect: true}, nil
		case linkDisconnect:
			return LinkControl{Connect: false}, nil
		default:
			return nil, fmt.Errorf("link action 0x%02x: %w", p[2], ErrUnknownPacket)
		}

	case KindTelemetry:
		return parseTelemetry(p)

	default:
		return nil, fmt.Errorf("kind 0x%02x: %w", p[0], ErrUnknownPacket)
	}
}

func parseCommand(p []byte) (Packet, error) {
	if len(p) < commandLen {
		return nil, fmt.Errorf("command packet %d bytes: %w", len(p), ErrShortPacket)
	}

	c := Command{
		Roll:    readFloat(p[1:5]),
		Pitch:   readFloat(p[5:9]),
		YawRate: readFloat(p[9:13]),
		Thrust:  ThrustFromByte(p[14]),
	}
	if !finite(c.Roll, c.Pitch, c.YawRate) {
		return nil, fmt.Errorf("command packet: %w", ErrNonFinite)
	}
	return c, nil
}

func parseGains(p []byte) (Packet, error) {
	if len(p) < gainsLen {
		return nil, fmt.Errorf("gain packet %d bytes: %w", len(p), ErrShortPacket)
	}

	g := GainUpdate{
		Axis: p[2],
		Kp:   readFloat(p[3:7]),
		Ki:   readFloat(p[7:11]),
		Kd:   readFloat(p[11:15]),
	}
	if !finite(g.Kp, g.Ki, g.Kd) {
		return nil, fmt.Errorf("gain packet: %w", ErrNonFinite)
	}
	return g, nil
}

func parseTelemetry(p []byte) (Packet, error) {
	if len(p) < telemetryLen {
		return nil, fmt.Errorf("telemetry packet %d bytes: %w", len(p), ErrShortPacket)
	}
	return Telemetry{
		Pitch:   readFloat(p[1:5]),
		Roll:    readFloat(p[5:9]),
		YawRate: readFloat(p[9:13]),
	}, nil
}

// ThrustFromByte scales a raw thrust byte to the 0-1000 range.
func ThrustFromByte(b byte) float64 {
	return math.Min(float64(b)*thrustMax/thrustByteFull, thrustMax)
}

// ThrustToByte is the inverse of ThrustFromByte, rounded to the nearest step.
func ThrustToByte(thrust float64) byte {
	if !(thrust > 0) {
		return 0
	}
	if thrust >= thrustMax {
		return thrustByteFull
	}
	return byte(math.Round(thrust * thrustByteFull / thrustMax))
}

func readFloat(b []byte) float64 {
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
}

func appendFloat(b []byte, v float64) []byte {
	return binary.LittleEndian.AppendUint32(b, math.Float32bits(float32(v)))
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
