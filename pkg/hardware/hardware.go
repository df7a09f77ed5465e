// Package hardware builds the robot's capability set from configuration.
package hardware

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/gwillem/kickbot/pkg/hardware/bridge"
	"github.com/gwillem/kickbot/pkg/hardware/ev3"
	"github.com/gwillem/kickbot/pkg/hardware/feetech"
	"github.com/gwillem/kickbot/pkg/hardware/sim"
	"github.com/gwillem/kickbot/pkg/robot"
)

// Backend names.
const (
	BackendEV3    = "ev3"
	BackendBridge = "bridge"
	BackendSim    = "sim"
)

// ErrUnknownBackend is returned for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown hardware backend")

// Set is a composed robot.Hardware. Motors and power may come from a
// different device than the sensor and LEDs.
type Set struct {
	robot.MotorDriver
	robot.ColorSensor
	robot.Indicator
	robot.PowerSupply

	closers []robot.Closer
}

// Close releases every opened device.
func (s *Set) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Compose builds a set from base, replacing the motors and power supply with
// servos when servos is non-nil.
func Compose(base robot.Hardware, servos *feetech.Motors) *Set {
	s := &Set{
		MotorDriver: base,
		ColorSensor: base,
		Indicator:   base,
		PowerSupply: base,
	}
	if c, ok := base.(robot.Closer); ok {
		s.closers = append(s.closers, c)
	}
	if servos != nil {
		s.MotorDriver = servos
		s.PowerSupply = servos
		s.closers = append(s.closers, servos)
	}
	return s
}

// Open opens the configured backend and, if enabled, the servo bus.
func Open(cfg robot.HardwareConfig, l hclog.Logger) (*Set, error) {
	if l == nil {
		l = hclog.NewNullLogger()
	}

	var base robot.Hardware
	switch cfg.Backend {
	case BackendEV3, "":
		h, err := ev3.Open(ev3.ConfigFrom(cfg.EV3))
		if err != nil {
			return nil, fmt.Errorf("ev3: %w", err)
		}
		base = h
	case BackendBridge:
		b, err := bridge.Open(cfg.Bridge)
		if err != nil {
			return nil, fmt.Errorf("bridge: %w", err)
		}
		base = b
	case BackendSim:
		base = sim.New()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
	l.Info("Hardware backend ready", "backend", cfg.Backend)

	if !cfg.Feetech.Enabled {
		return Compose(base, nil), nil
	}

	servos, err := feetech.Open(cfg.Feetech)
	if err != nil {
		if c, ok := base.(robot.Closer); ok {
			c.Close()
		}
		return nil, fmt.Errorf("feetech: %w", err)
	}
	l.Info("Servo bus ready", "port", cfg.Feetech.Port,
		"left", cfg.Feetech.LeftID, "right", cfg.Feetech.RightID, "kicker", cfg.Feetech.KickerID)
	return Compose(base, servos), nil
}

var _ robot.Hardware = (*Set)(nil)
