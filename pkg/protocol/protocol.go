// Package protocol implements the robot's UDP wire format: the broadcast
// discovery handshake and the versioned session messages exchanged with a
// controller.
//
// Every session message is framed as
//
//	[version:u8][type:u8][payload...]
//
// with multi-byte numbers in big-endian order. Only version 1 is defined.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

// Version1 is the only session protocol version.
const Version1 byte = 1

// DiscoveryPort is the well-known port controllers listen on for probes.
const DiscoveryPort = 7500

// MaxMessageSize bounds a single datagram read.
const MaxMessageSize = 64

var (
	ErrUnknownVersion = errors.New("unknown protocol version")
	ErrUnknownType    = errors.New("unknown message type")
	ErrShortPayload   = errors.New("payload too short")
	ErrInvalidText    = errors.New("payload is not valid UTF-8")
	ErrNoPort         = errors.New("discovery reply announces port 0")
)

// MessageType identifies a message sent by the controller.
type MessageType uint8

const (
	TypePong          MessageType = 0
	TypeSetTrack      MessageType = 10
	TypeSetTrim       MessageType = 12
	TypeKick          MessageType = 20
	TypeSetPid        MessageType = 30
	TypeSetForeground MessageType = 31
	TypeSetBackground MessageType = 32
	TypeSetName       MessageType = 40
	TypeSetLedColor   MessageType = 41
)

// ControllerMessage is a decoded message from the controller.
type ControllerMessage interface {
	Type() MessageType
}

// Pong answers a keepalive probe. It carries no payload.
type Pong struct{}

// SetTrack sets the manual left and right track fractions. Values are not
// clamped here.
type SetTrack struct {
	Left, Right float32
}

// SetTrim carries a steering trim. Robots accept it and ignore it.
type SetTrim struct {
	Trim float32
}

// Kick fires the kicker.
type Kick struct{}

// SetPid enables or disables line following.
type SetPid struct {
	Enable bool
}

// SetForeground samples the line color as the foreground reference.
type SetForeground struct{}

// SetBackground samples the floor color as the background reference.
type SetBackground struct{}

// SetName renames the robot.
type SetName struct {
	Name string
}

// SetLedColor selects the robot's team color label.
type SetLedColor struct {
	Color string
}

func (Pong) Type() MessageType          { return TypePong }
func (SetTrack) Type() MessageType      { return TypeSetTrack }
func (SetTrim) Type() MessageType       { return TypeSetTrim }
func (Kick) Type() MessageType          { return TypeKick }
func (SetPid) Type() MessageType        { return TypeSetPid }
func (SetForeground) Type() MessageType { return TypeSetForeground }
func (SetBackground) Type() MessageType { return TypeSetBackground }
func (SetName) Type() MessageType       { return TypeSetName }
func (SetLedColor) Type() MessageType   { return TypeSetLedColor }

// Decode parses one session datagram from the controller. Unknown versions
// and types are reported with ErrUnknownVersion and ErrUnknownType; callers
// are expected to ignore them.
func Decode(b []byte) (ControllerMessage, error) {
	if len(b) < 1 {
		return nil, ErrShortPayload
	}
	if b[0] != Version1 {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, b[0])
	}
	if len(b) < 2 {
		return nil, ErrShortPayload
	}

	t, payload := MessageType(b[1]), b[2:]
	switch t {
	case TypePong:
		return Pong{}, nil
	case TypeSetTrack:
		if len(payload) < 8 {
			return nil, fmt.Errorf("set track: %w", ErrShortPayload)
		}
		return SetTrack{Left: readFloat(payload[0:4]), Right: readFloat(payload[4:8])}, nil
	case TypeSetTrim:
		if len(payload) < 4 {
			return nil, fmt.Errorf("set trim: %w", ErrShortPayload)
		}
		return SetTrim{Trim: readFloat(payload)}, nil
	case TypeKick:
		return Kick{}, nil
	case TypeSetPid:
		if len(payload) < 1 {
			return nil, fmt.Errorf("set pid: %w", ErrShortPayload)
		}
		return SetPid{Enable: payload[0] != 0}, nil
	case TypeSetForeground:
		return SetForeground{}, nil
	case TypeSetBackground:
		return SetBackground{}, nil
	case TypeSetName:
		s, err := readText(payload)
		if err != nil {
			return nil, fmt.Errorf("set name: %w", err)
		}
		return SetName{Name: s}, nil
	case TypeSetLedColor:
		s, err := readText(payload)
		if err != nil {
			return nil, fmt.Errorf("set led color: %w", err)
		}
		return SetLedColor{Color: s}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
}

// Encode frames a controller message as a version 1 datagram.
func Encode(m ControllerMessage) []byte {
	b := []byte{Version1, byte(m.Type())}
	switch m := m.(type) {
	case SetTrack:
		b = appendFloat(b, m.Left)
		b = appendFloat(b, m.Right)
	case SetTrim:
		b = appendFloat(b, m.Trim)
	case SetPid:
		if m.Enable {
			b = append(b, 1)
		} else {
			b = append(b, 0)
		}
	case SetName:
		b = append(b, m.Name...)
	case SetLedColor:
		b = append(b, m.Color...)
	}
	return b
}

func readFloat(b []byte) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(b))
}

func appendFloat(b []byte, f float32) []byte {
	return binary.BigEndian.AppendUint32(b, math.Float32bits(f))
}

func readText(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", ErrInvalidText
	}
	return string(b), nil
}
