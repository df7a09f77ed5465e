// Package feetech drives the wheels and the kicker with Feetech STS serial bus
// servos. Wheels run in velocity mode, the kicker in position mode. The bus
// supply voltage doubles as the battery reading.
package feetech

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	sts "github.com/hipsterbrown/feetech-servo/feetech"

	"github.com/gwillem/kickbot/pkg/robot"
)

// Operating modes of the STS series.
const (
	ModePosition = 0
	ModeVelocity = 1
)

const (
	// StepsPerRev is the encoder resolution.
	StepsPerRev = 4096
	// MaxVelocity is the goal velocity in steps/s at full duty cycle.
	MaxVelocity = 3400

	stepsPerDegree = float64(StepsPerRev) / 360
	opTimeout      = 500 * time.Millisecond
)

// Servo is the part of a bus servo the driver needs. *sts.Servo
// implements it.
type Servo interface {
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	SetOperatingMode(ctx context.Context, mode int) error
	SetVelocity(ctx context.Context, velocity int) error
	SetPositionWithSpeed(ctx context.Context, position, speed int) error
	Position(ctx context.Context) (int, error)
	Voltage(ctx context.Context) (int, error)
}

type motorState struct {
	mode    int
	enabled bool
	running bool
	duty    int
	speed   int // degrees per second
	offset  int // raw steps at position zero
	stop    robot.StopAction
	timer   *time.Timer
	gen     int
}

// Motors implements robot.MotorDriver and robot.PowerSupply on a servo bus.
// Positions and speeds use degrees so the driving logic is backend neutral.
type Motors struct {
	mu         sync.Mutex
	bus        io.Closer
	servos     map[robot.MotorName]Servo
	state      map[robot.MotorName]*motorState
	minVoltage float64
	maxVoltage float64
}

// New returns a driver for the given servos. minV and maxV bound the battery
// voltage range.
func New(servos map[robot.MotorName]Servo, minV, maxV float64) *Motors {
	m := &Motors{
		servos:     servos,
		state:      map[robot.MotorName]*motorState{},
		minVoltage: minV,
		maxVoltage: maxV,
	}
	for name := range servos {
		m.state[name] = &motorState{mode: -1, stop: robot.StopCoast}
	}
	return m
}

// Open opens the serial bus and maps the configured servo IDs.
func Open(cfg robot.FeetechConfig) (*Motors, error) {
	bus, err := sts.NewBus(sts.BusConfig{
		Port:     cfg.Port,
		BaudRate: cfg.Baud,
		Protocol: sts.ProtocolSTS,
	})
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}
	m := NewOnBus(bus, cfg)
	m.bus = bus
	return m, nil
}

// NewOnBus maps the configured servo IDs on an open bus.
func NewOnBus(bus *sts.Bus, cfg robot.FeetechConfig) *Motors {
	return New(map[robot.MotorName]Servo{
		robot.LeftWheel:  sts.NewServo(bus, cfg.LeftID, nil),
		robot.RightWheel: sts.NewServo(bus, cfg.RightID, nil),
		robot.Kicker:     sts.NewServo(bus, cfg.KickerID, nil),
	}, cfg.MinVoltage, cfg.MaxVoltage)
}

// Close stops every motor and releases the bus.
func (m *Motors) Close() error {
	for name := range m.servos {
		_ = m.Stop(name)
	}
	if m.bus == nil {
		return nil
	}
	return m.bus.Close()
}

// Scan lists the servos answering on a port.
func Scan(ctx context.Context, port string, baud int) ([]sts.FoundServo, error) {
	bus, err := sts.NewBus(sts.BusConfig{
		Port:     port,
		BaudRate: baud,
		Protocol: sts.ProtocolSTS,
		Timeout:  50 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}
	defer bus.Close()
	return bus.Scan(ctx, 1, 20)
}

func (m *Motors) lookup(name robot.MotorName) (Servo, *motorState, error) {
	s, ok := m.servos[name]
	if !ok {
		return nil, nil, fmt.Errorf("no servo for %s", name)
	}
	return s, m.state[name], nil
}

func (m *Motors) SetDutyCycle(name robot.MotorName, percent int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, st, err := m.lookup(name)
	if err != nil {
		return err
	}
	st.duty = percent
	if !st.running || st.mode != ModeVelocity {
		return nil
	}
	ctx, cancel := opContext()
	defer cancel()
	return s.SetVelocity(ctx, dutyToVelocity(percent))
}

func (m *Motors) RunDirect(name robot.MotorName) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, st, err := m.lookup(name)
	if err != nil {
		return err
	}
	ctx, cancel := opContext()
	defer cancel()
	if err := ensureMode(ctx, s, st, ModeVelocity); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	st.running = true
	return s.SetVelocity(ctx, dutyToVelocity(st.duty))
}

func (m *Motors) SetSpeed(name robot.MotorName, speed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, st, err := m.lookup(name)
	if err != nil {
		return err
	}
	st.speed = speed
	return nil
}

// RunTimed turns at the set speed and stops after d.
func (m *Motors) RunTimed(name robot.MotorName, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, st, err := m.lookup(name)
	if err != nil {
		return err
	}
	ctx, cancel := opContext()
	defer cancel()
	if err := ensureMode(ctx, s, st, ModeVelocity); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if err := s.SetVelocity(ctx, degreesToSteps(st.speed)); err != nil {
		return err
	}
	st.running = true
	if st.timer != nil {
		st.timer.Stop()
	}
	st.gen++
	gen := st.gen
	st.timer = time.AfterFunc(d, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if st.gen == gen {
			_ = stop(s, st)
		}
	})
	return nil
}

func (m *Motors) RunToAbsolutePosition(name robot.MotorName, position int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, st, err := m.lookup(name)
	if err != nil {
		return err
	}
	ctx, cancel := opContext()
	defer cancel()
	if err := ensureMode(ctx, s, st, ModePosition); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	st.running = true
	raw := wrap(st.offset + degreesToSteps(position))
	return s.SetPositionWithSpeed(ctx, raw, min(abs(degreesToSteps(st.speed)), MaxVelocity))
}

// Stop halts a motor. Coasting releases torque; brake and hold keep the
// current position.
func (m *Motors) Stop(name robot.MotorName) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, st, err := m.lookup(name)
	if err != nil {
		return err
	}
	return stop(s, st)
}

func stop(s Servo, st *motorState) error {
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.gen++
	st.running = false

	ctx, cancel := opContext()
	defer cancel()
	switch {
	case st.stop == robot.StopCoast:
		st.enabled = false
		return s.Disable(ctx)
	case st.mode == ModeVelocity:
		return s.SetVelocity(ctx, 0)
	default:
		pos, err := s.Position(ctx)
		if err != nil {
			return err
		}
		return s.SetPositionWithSpeed(ctx, pos, 0)
	}
}

// SetPosition defines the current shaft angle as position degrees.
func (m *Motors) SetPosition(name robot.MotorName, position int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, st, err := m.lookup(name)
	if err != nil {
		return err
	}
	ctx, cancel := opContext()
	defer cancel()
	raw, err := s.Position(ctx)
	if err != nil {
		return err
	}
	st.offset = raw - degreesToSteps(position)
	return nil
}

func (m *Motors) SetStopAction(name robot.MotorName, action robot.StopAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, st, err := m.lookup(name)
	if err != nil {
		return err
	}
	st.stop = action
	return nil
}

// ReadVoltageNow reads the bus supply through the first wheel servo.
func (m *Motors) ReadVoltageNow() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, _, err := m.lookup(robot.LeftWheel)
	if err != nil {
		return 0, err
	}
	ctx, cancel := opContext()
	defer cancel()
	tenths, err := s.Voltage(ctx)
	if err != nil {
		return 0, err
	}
	return float64(tenths) / 10, nil
}

func (m *Motors) ReadVoltageMin() (float64, error) { return m.minVoltage, nil }
func (m *Motors) ReadVoltageMax() (float64, error) { return m.maxVoltage, nil }

// ensureMode switches the operating mode, which requires torque off.
func ensureMode(ctx context.Context, s Servo, st *motorState, mode int) error {
	if st.mode == mode && st.enabled {
		return nil
	}
	if st.mode != mode {
		if err := s.Disable(ctx); err != nil {
			return err
		}
		if err := s.SetOperatingMode(ctx, mode); err != nil {
			return err
		}
		st.mode = mode
	}
	if err := s.Enable(ctx); err != nil {
		return err
	}
	st.enabled = true
	return nil
}

func opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opTimeout)
}

func dutyToVelocity(percent int) int {
	return percent * MaxVelocity / 100
}

func degreesToSteps(deg int) int {
	return int(math.Round(float64(deg) * stepsPerDegree))
}

func wrap(raw int) int {
	raw %= StepsPerRev
	if raw < 0 {
		raw += StepsPerRev
	}
	return raw
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

var (
	_ robot.MotorDriver = (*Motors)(nil)
	_ robot.PowerSupply = (*Motors)(nil)
)
