package feetech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sts "github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/kickbot/pkg/robot"
)

type fakeServo struct {
	mu       sync.Mutex
	calls    []string
	position int
	voltage  int
	err      error
}

func (f *fakeServo) record(format string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	return f.err
}

func (f *fakeServo) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeServo) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *fakeServo) Enable(ctx context.Context) error  { return f.record("enable") }
func (f *fakeServo) Disable(ctx context.Context) error { return f.record("disable") }
func (f *fakeServo) SetOperatingMode(ctx context.Context, mode int) error {
	return f.record("mode %d", mode)
}
func (f *fakeServo) SetVelocity(ctx context.Context, v int) error {
	return f.record("velocity %d", v)
}
func (f *fakeServo) SetPositionWithSpeed(ctx context.Context, pos, speed int) error {
	return f.record("position %d speed %d", pos, speed)
}
func (f *fakeServo) Position(ctx context.Context) (int, error) {
	return f.position, f.record("read position")
}
func (f *fakeServo) Voltage(ctx context.Context) (int, error) {
	return f.voltage, f.record("read voltage")
}

func newMotors() (*Motors, map[robot.MotorName]*fakeServo) {
	fakes := map[robot.MotorName]*fakeServo{}
	servos := map[robot.MotorName]Servo{}
	for _, m := range robot.AllMotors() {
		f := &fakeServo{}
		fakes[m] = f
		servos[m] = f
	}
	return New(servos, 6.4, 8.4), fakes
}

func TestWheelDutyCycle(t *testing.T) {
	m, fakes := newMotors()
	left := fakes[robot.LeftWheel]

	require.NoError(t, m.SetDutyCycle(robot.LeftWheel, 0))
	assert.Empty(t, left.Calls(), "duty before run-direct is only stored")

	require.NoError(t, m.RunDirect(robot.LeftWheel))
	require.NoError(t, m.SetDutyCycle(robot.LeftWheel, 50))
	require.NoError(t, m.SetDutyCycle(robot.LeftWheel, -100))

	assert.Equal(t, []string{
		"disable",
		"mode 1",
		"enable",
		"velocity 0",
		"velocity 1700",
		"velocity -3400",
	}, left.Calls())
}

func TestKickerSequence(t *testing.T) {
	m, fakes := newMotors()
	kicker := fakes[robot.Kicker]
	kicker.position = 1000

	require.NoError(t, m.SetStopAction(robot.Kicker, robot.StopBrake))
	require.NoError(t, m.SetSpeed(robot.Kicker, -100))
	require.NoError(t, m.RunTimed(robot.Kicker, time.Hour))
	require.NoError(t, m.Stop(robot.Kicker))
	require.NoError(t, m.SetPosition(robot.Kicker, 0))
	require.NoError(t, m.SetSpeed(robot.Kicker, 90))
	require.NoError(t, m.RunToAbsolutePosition(robot.Kicker, 90))
	require.NoError(t, m.RunToAbsolutePosition(robot.Kicker, 0))

	assert.Equal(t, []string{
		"disable",
		"mode 1",
		"enable",
		"velocity -1138",
		"velocity 0",
		"read position",
		"disable",
		"mode 0",
		"enable",
		"position 2024 speed 1024",
		"position 1000 speed 1024",
	}, kicker.Calls())
}

func TestRunTimedStops(t *testing.T) {
	m, fakes := newMotors()
	kicker := fakes[robot.Kicker]

	require.NoError(t, m.SetStopAction(robot.Kicker, robot.StopBrake))
	require.NoError(t, m.SetSpeed(robot.Kicker, 360))
	require.NoError(t, m.RunTimed(robot.Kicker, 5*time.Millisecond))

	require.Eventually(t, func() bool {
		calls := kicker.Calls()
		return len(calls) > 0 && calls[len(calls)-1] == "velocity 0"
	}, time.Second, time.Millisecond)
	assert.Contains(t, kicker.Calls(), "velocity 4096")
}

func TestRunTimedExpiryIgnoredAfterStop(t *testing.T) {
	m, fakes := newMotors()
	kicker := fakes[robot.Kicker]

	require.NoError(t, m.SetStopAction(robot.Kicker, robot.StopBrake))
	require.NoError(t, m.RunTimed(robot.Kicker, 10*time.Millisecond))
	require.NoError(t, m.Stop(robot.Kicker))
	require.NoError(t, m.RunToAbsolutePosition(robot.Kicker, 10))
	kicker.reset()

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, kicker.Calls())
}

func TestStopCoastReleasesTorque(t *testing.T) {
	m, fakes := newMotors()
	right := fakes[robot.RightWheel]

	require.NoError(t, m.RunDirect(robot.RightWheel))
	require.NoError(t, m.Stop(robot.RightWheel))
	require.NoError(t, m.RunDirect(robot.RightWheel))

	assert.Equal(t, []string{
		"disable", "mode 1", "enable", "velocity 0",
		"disable",
		"enable", "velocity 0",
	}, right.Calls())
}

func TestServoError(t *testing.T) {
	m, fakes := newMotors()
	fakes[robot.LeftWheel].err = errors.New("no response")

	assert.ErrorContains(t, m.RunDirect(robot.LeftWheel), "no response")
}

func TestUnknownMotor(t *testing.T) {
	m := New(map[robot.MotorName]Servo{}, 0, 0)
	assert.Error(t, m.SetDutyCycle(robot.LeftWheel, 1))
}

func TestPower(t *testing.T) {
	m, fakes := newMotors()
	fakes[robot.LeftWheel].voltage = 74

	v, err := m.ReadVoltageNow()
	require.NoError(t, err)
	assert.InDelta(t, 7.4, v, 1e-9)

	lo, _ := m.ReadVoltageMin()
	hi, _ := m.ReadVoltageMax()
	assert.Equal(t, 6.4, lo)
	assert.Equal(t, 8.4, hi)
}

// status builds an STS status packet from servo id.
func status(id byte, params ...byte) []byte {
	pkt := []byte{0xFF, 0xFF, id, byte(len(params) + 2), 0}
	pkt = append(pkt, params...)
	var sum byte
	for _, b := range pkt[2:] {
		sum += b
	}
	return append(pkt, ^sum)
}

func TestOnBus_WritesVelocityPacket(t *testing.T) {
	ack := status(1)
	transport := &sts.MockTransport{
		ReadFunc: func(p []byte) (int, error) { return copy(p, ack), nil },
	}
	bus, err := sts.NewBus(sts.BusConfig{Transport: transport, Timeout: 100 * time.Millisecond})
	require.NoError(t, err)

	cfg := robot.DefaultConfig().Hardware.Feetech
	cfg.LeftID = 1
	m := NewOnBus(bus, cfg)

	require.NoError(t, m.SetDutyCycle(robot.LeftWheel, 50))
	require.NoError(t, m.RunDirect(robot.LeftWheel))

	proto := sts.NewProtocol(sts.ProtocolSTS)
	want := proto.WritePacket(1, sts.RegGoalVelocity.Address, proto.EncodeWord(1700))
	assert.True(t, bytes.HasSuffix(transport.WriteData, want), "last write should set the goal velocity")
}

func TestOnBus_ReadsVoltage(t *testing.T) {
	resp := status(1, 74)
	transport := &sts.MockTransport{
		ReadFunc: func(p []byte) (int, error) { return copy(p, resp), nil },
	}
	bus, err := sts.NewBus(sts.BusConfig{Transport: transport, Timeout: 100 * time.Millisecond})
	require.NoError(t, err)

	cfg := robot.DefaultConfig().Hardware.Feetech
	cfg.LeftID = 1
	m := NewOnBus(bus, cfg)

	v, err := m.ReadVoltageNow()
	require.NoError(t, err)
	assert.InDelta(t, 7.4, v, 1e-9)
}
