// Package sim provides in-memory robot hardware. It records every motor
// command, serves a settable color reading and can be told to fail, which
// makes it the backend for tests and for running the robot without a brick.
package sim

import (
	"sync"
	"time"

	"github.com/gwillem/kickbot/pkg/robot"
)

// Motor is the last state written to a simulated motor.
type Motor struct {
	Duty       int
	Speed      int
	Position   int
	Target     int
	Running    string
	StopAction robot.StopAction
}

// Call is one recorded motor command.
type Call struct {
	Motor robot.MotorName
	Op    string
	Value int
}

// Hardware implements robot.Hardware in memory. It is safe for concurrent use.
type Hardware struct {
	// ReadDelay is slept on every color read to mimic sensor latency.
	ReadDelay time.Duration

	mu       sync.Mutex
	motors   map[robot.MotorName]*Motor
	calls    []Call
	color    robot.Color
	colorFn  func() robot.Color
	reads    int
	left     robot.LEDColor
	right    robot.LEDColor
	voltage  float64
	minV     float64
	maxV     float64
	colorErr error
	motorErr error
	ledErr   error
	powerErr error
}

var _ robot.Hardware = (*Hardware)(nil)

// New returns simulated hardware reading mid-gray with a half charged battery.
func New() *Hardware {
	h := &Hardware{
		ReadDelay: time.Millisecond,
		motors:    make(map[robot.MotorName]*Motor),
		color:     robot.Gray(110),
		voltage:   7.4,
		minV:      6.4,
		maxV:      8.4,
	}
	for _, m := range robot.AllMotors() {
		h.motors[m] = &Motor{}
	}
	return h
}

// SetColor fixes the value returned by the color sensor.
func (h *Hardware) SetColor(c robot.Color) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.color = c
	h.colorFn = nil
}

// SetColorFunc makes every sensor read call fn.
func (h *Hardware) SetColorFunc(fn func() robot.Color) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.colorFn = fn
}

// SetVoltage sets the battery voltage reported by ReadVoltageNow.
func (h *Hardware) SetVoltage(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.voltage = v
}

// FailColor makes sensor reads return err. Pass nil to recover.
func (h *Hardware) FailColor(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.colorErr = err
}

// FailMotors makes motor commands return err. Pass nil to recover.
func (h *Hardware) FailMotors(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.motorErr = err
}

// FailLEDs makes LED writes return err. Pass nil to recover.
func (h *Hardware) FailLEDs(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ledErr = err
}

// FailPower makes voltage reads return err. Pass nil to recover.
func (h *Hardware) FailPower(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.powerErr = err
}

// Motor returns a copy of a motor's state.
func (h *Hardware) Motor(m robot.MotorName) Motor {
	h.mu.Lock()
	defer h.mu.Unlock()
	return *h.motor(m)
}

// Calls returns every recorded motor command in order.
func (h *Hardware) Calls() []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Call(nil), h.calls...)
}

// CallsFor returns the recorded commands of op on motor m.
func (h *Hardware) CallsFor(m robot.MotorName, op string) []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Call
	for _, c := range h.calls {
		if c.Motor == m && c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// ColorReads returns how many times the sensor was read.
func (h *Hardware) ColorReads() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reads
}

// LEDs returns the current left and right LED colors.
func (h *Hardware) LEDs() (left, right robot.LEDColor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.left, h.right
}

func (h *Hardware) motor(m robot.MotorName) *Motor {
	s, ok := h.motors[m]
	if !ok {
		s = &Motor{}
		h.motors[m] = s
	}
	return s
}

func (h *Hardware) record(m robot.MotorName, op string, v int, apply func(*Motor)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.motorErr != nil {
		return h.motorErr
	}
	h.calls = append(h.calls, Call{Motor: m, Op: op, Value: v})
	apply(h.motor(m))
	return nil
}

func (h *Hardware) SetDutyCycle(m robot.MotorName, percent int) error {
	return h.record(m, "duty", percent, func(s *Motor) { s.Duty = percent })
}

func (h *Hardware) RunDirect(m robot.MotorName) error {
	return h.record(m, "run-direct", 0, func(s *Motor) { s.Running = "run-direct" })
}

func (h *Hardware) SetSpeed(m robot.MotorName, speed int) error {
	return h.record(m, "speed", speed, func(s *Motor) { s.Speed = speed })
}

func (h *Hardware) RunTimed(m robot.MotorName, d time.Duration) error {
	return h.record(m, "run-timed", int(d.Milliseconds()), func(s *Motor) { s.Running = "run-timed" })
}

func (h *Hardware) RunToAbsolutePosition(m robot.MotorName, position int) error {
	return h.record(m, "run-to-abs-pos", position, func(s *Motor) {
		s.Running = "run-to-abs-pos"
		s.Target = position
		s.Position = position
	})
}

func (h *Hardware) Stop(m robot.MotorName) error {
	return h.record(m, "stop", 0, func(s *Motor) { s.Running = "" })
}

func (h *Hardware) SetPosition(m robot.MotorName, position int) error {
	return h.record(m, "position", position, func(s *Motor) { s.Position = position })
}

func (h *Hardware) SetStopAction(m robot.MotorName, action robot.StopAction) error {
	return h.record(m, "stop-action", 0, func(s *Motor) { s.StopAction = action })
}

func (h *Hardware) ReadColorRGB() (robot.Color, error) {
	h.mu.Lock()
	delay, err, fn, c := h.ReadDelay, h.colorErr, h.colorFn, h.color
	h.reads++
	h.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return robot.Color{}, err
	}
	if fn != nil {
		return fn(), nil
	}
	return c, nil
}

func (h *Hardware) SetLeftIndicatorColor(c robot.LEDColor) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ledErr != nil {
		return h.ledErr
	}
	h.left = c
	return nil
}

func (h *Hardware) SetRightIndicatorColor(c robot.LEDColor) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ledErr != nil {
		return h.ledErr
	}
	h.right = c
	return nil
}

func (h *Hardware) ReadVoltageNow() (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.voltage, h.powerErr
}

func (h *Hardware) ReadVoltageMin() (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.minV, h.powerErr
}

func (h *Hardware) ReadVoltageMax() (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.maxV, h.powerErr
}
