package protocol

import (
	"fmt"
	"strings"
)

// TelemetryType identifies a message sent by the robot.
type TelemetryType uint8

const (
	TypeVersion         TelemetryType = 1
	TypeName            TelemetryType = 2
	TypeColorLabel      TelemetryType = 3
	TypeAvailableColors TelemetryType = 4
	TypeRGB             TelemetryType = 5
	TypePower           TelemetryType = 6
)

// Telemetry is a message sent from the robot to the controller.
type Telemetry interface {
	TelemetryType() TelemetryType
}

// VersionInfo reports the robot software version.
type VersionInfo struct{ Version string }

// NameInfo reports the robot name.
type NameInfo struct{ Name string }

// ColorLabel reports the team color label.
type ColorLabel struct{ Label string }

// AvailableColors lists the team color labels the robot accepts.
type AvailableColors struct{ Labels []string }

// RGB is a halved color sensor reading.
type RGB struct{ R, G, B uint8 }

// Power is the battery charge fraction in [0, 1].
type Power struct{ Fraction float32 }

func (VersionInfo) TelemetryType() TelemetryType     { return TypeVersion }
func (NameInfo) TelemetryType() TelemetryType        { return TypeName }
func (ColorLabel) TelemetryType() TelemetryType      { return TypeColorLabel }
func (AvailableColors) TelemetryType() TelemetryType { return TypeAvailableColors }
func (RGB) TelemetryType() TelemetryType             { return TypeRGB }
func (Power) TelemetryType() TelemetryType           { return TypePower }

// EncodeTelemetry frames a telemetry message as a version 1 datagram.
func EncodeTelemetry(t Telemetry) []byte {
	b := []byte{Version1, byte(t.TelemetryType())}
	switch t := t.(type) {
	case VersionInfo:
		b = append(b, t.Version...)
	case NameInfo:
		b = append(b, t.Name...)
	case ColorLabel:
		b = append(b, t.Label...)
	case AvailableColors:
		b = append(b, strings.Join(t.Labels, ";")...)
	case RGB:
		b = append(b, t.R, t.G, t.B)
	case Power:
		b = appendFloat(b, t.Fraction)
	}
	return b
}

// DecodeTelemetry parses a datagram sent by a robot.
func DecodeTelemetry(b []byte) (Telemetry, error) {
	if len(b) < 1 {
		return nil, ErrShortPayload
	}
	if b[0] != Version1 {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, b[0])
	}
	if len(b) < 2 {
		return nil, ErrShortPayload
	}

	t, payload := TelemetryType(b[1]), b[2:]
	switch t {
	case TypeVersion, TypeName, TypeColorLabel, TypeAvailableColors:
		s, err := readText(payload)
		if err != nil {
			return nil, err
		}
		switch t {
		case TypeVersion:
			return VersionInfo{Version: s}, nil
		case TypeName:
			return NameInfo{Name: s}, nil
		case TypeColorLabel:
			return ColorLabel{Label: s}, nil
		default:
			var labels []string
			if s != "" {
				labels = strings.Split(s, ";")
			}
			return AvailableColors{Labels: labels}, nil
		}
	case TypeRGB:
		if len(payload) < 3 {
			return nil, fmt.Errorf("rgb: %w", ErrShortPayload)
		}
		return RGB{R: payload[0], G: payload[1], B: payload[2]}, nil
	case TypePower:
		if len(payload) < 4 {
			return nil, fmt.Errorf("power: %w", ErrShortPayload)
		}
		return Power{Fraction: readFloat(payload)}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
}
