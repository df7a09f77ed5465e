// Package driving implements the actor that owns the traction motors and the
// kicker. It blends manual and line-following track commands into duty
// cycles and runs the kicker's extend and retract sequence.
package driving

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/gwillem/kickbot/pkg/actor"
	"github.com/gwillem/kickbot/pkg/robot"
)

const (
	// MaxSpeed scales a track fraction to a duty cycle percentage.
	MaxSpeed = 100
	// PidAuthority scales line-following commands before blending.
	PidAuthority = 0.5

	KickerCalibrationSpeed = -100
	KickerWorkingSpeed     = 850
	KickerExtended         = 150
	KickerRest             = 0

	// InboxSize bounds the command queue.
	InboxSize = 64
)

// Command is a message accepted by the driving actor.
type Command interface {
	drivingCommand()
}

// SetTrack sets the manual track fractions.
type SetTrack struct{ Left, Right float32 }

// SetPid sets the line-following track fractions, before PidAuthority.
type SetPid struct{ Left, Right float32 }

// SetTrim is accepted for wire compatibility and has no effect.
type SetTrim struct{ Trim float32 }

// Kick fires the kicker unless a kick is already in flight.
type Kick struct{}

// Stop ends the actor.
type Stop struct{}

func (SetTrack) drivingCommand() {}
func (SetPid) drivingCommand()   {}
func (SetTrim) drivingCommand()  {}
func (Kick) drivingCommand()     {}
func (Stop) drivingCommand()     {}

// Output is a pair of duty cycles written to the wheels.
type Output struct {
	Left, Right int
}

// Config holds the actor's timing.
type Config struct {
	ReceiveTimeout    time.Duration
	KickDuration      time.Duration
	CalibrationRun    time.Duration
	CalibrationSettle time.Duration

	// Observe, if set, is called with every duty cycle pair written.
	Observe func(Output)
}

// DefaultConfig returns the timing of the real kicker.
func DefaultConfig() Config {
	return Config{
		ReceiveTimeout:    100 * time.Millisecond,
		KickDuration:      200 * time.Millisecond,
		CalibrationRun:    2000 * time.Millisecond,
		CalibrationSettle: 500 * time.Millisecond,
	}
}

// Actor owns the wheel and kicker motors.
type Actor struct {
	motors robot.MotorDriver
	inbox  *actor.Mailbox[Command]
	cfg    Config
	l      hclog.Logger
}

// New returns a driving actor. Call Run or Start to operate it.
func New(motors robot.MotorDriver, cfg Config, l hclog.Logger) *Actor {
	if l == nil {
		l = hclog.NewNullLogger()
	}
	return &Actor{
		motors: motors,
		inbox:  actor.NewMailbox[Command](InboxSize),
		cfg:    cfg,
		l:      l,
	}
}

// Inbox returns the actor's command queue.
func (a *Actor) Inbox() *actor.Mailbox[Command] {
	return a.inbox
}

// Send queues a command.
func (a *Actor) Send(ctx context.Context, cmd Command) error {
	return a.inbox.Send(ctx, cmd)
}

// Start runs the actor under supervision until it is stopped or ctx ends.
func (a *Actor) Start(ctx context.Context, restartDelay time.Duration) error {
	defer a.inbox.Close()
	return actor.Supervise(ctx, "driving", a.l, restartDelay, a.Run)
}

// Duty blends a manual and an already scaled line-following fraction into a
// duty cycle percentage.
func Duty(manual, pid float32) int {
	return int(clamp(float64(manual)+float64(pid)) * MaxSpeed)
}

// clamp bounds v to [-1, 1]. NaN becomes -1.
func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < -1:
		return -1
	case v > 1:
		return 1
	}
	return v
}

type state struct {
	left, right       float32
	pidLeft, pidRight float32
	kickStart         time.Time
}

// Run calibrates the kicker, arms the wheels and processes commands until
// Stop. Any motor error ends the run.
func (a *Actor) Run(ctx context.Context) error {
	if err := a.startup(ctx); err != nil {
		return err
	}
	a.l.Info("Driving ready")

	var st state
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if cmd, ok := a.inbox.Recv(ctx, a.cfg.ReceiveTimeout); ok {
			changed := false

			switch c := cmd.(type) {
			case SetTrack:
				st.left, st.right = c.Left, c.Right
				changed = true
			case SetPid:
				st.pidLeft, st.pidRight = c.Left*PidAuthority, c.Right*PidAuthority
				changed = true
			case SetTrim:
				// Trim is accepted but not applied.
			case Kick:
				if st.kickStart.IsZero() {
					st.kickStart = time.Now()
					if err := a.motors.RunToAbsolutePosition(robot.Kicker, KickerExtended); err != nil {
						return fmt.Errorf("extend kicker: %w", err)
					}
					a.l.Debug("Kick")
				}
			case Stop:
				return a.finishKick(ctx, &st)
			}

			if changed {
				if err := a.apply(&st); err != nil {
					return err
				}
			}
		}

		if err := a.checkKick(&st); err != nil {
			return err
		}
	}
}

func (a *Actor) startup(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"set kicker stop action", func() error { return a.motors.SetStopAction(robot.Kicker, robot.StopBrake) }},
		{"set kicker speed", func() error { return a.motors.SetSpeed(robot.Kicker, KickerCalibrationSpeed) }},
		{"run kicker", func() error { return a.motors.RunTimed(robot.Kicker, a.cfg.CalibrationRun) }},
		{"wait for kicker", func() error { return sleep(ctx, a.cfg.CalibrationRun) }},
		{"stop kicker", func() error { return a.motors.Stop(robot.Kicker) }},
		{"settle kicker", func() error { return sleep(ctx, a.cfg.CalibrationSettle) }},
		{"zero kicker", func() error { return a.motors.SetPosition(robot.Kicker, 0) }},
		{"set kicker speed", func() error { return a.motors.SetSpeed(robot.Kicker, KickerWorkingSpeed) }},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}

	for _, m := range robot.Wheels() {
		if err := a.motors.SetDutyCycle(m, 0); err != nil {
			return fmt.Errorf("zero %s: %w", m, err)
		}
	}
	for _, m := range robot.Wheels() {
		if err := a.motors.RunDirect(m); err != nil {
			return fmt.Errorf("run %s: %w", m, err)
		}
	}
	return nil
}

func (a *Actor) apply(st *state) error {
	out := Output{
		Left:  Duty(st.left, st.pidLeft),
		Right: Duty(st.right, st.pidRight),
	}
	if err := a.motors.SetDutyCycle(robot.LeftWheel, out.Left); err != nil {
		return fmt.Errorf("drive left: %w", err)
	}
	if err := a.motors.SetDutyCycle(robot.RightWheel, out.Right); err != nil {
		return fmt.Errorf("drive right: %w", err)
	}
	if a.cfg.Observe != nil {
		a.cfg.Observe(out)
	}
	return nil
}

func (a *Actor) checkKick(st *state) error {
	if st.kickStart.IsZero() || time.Since(st.kickStart) <= a.cfg.KickDuration {
		return nil
	}
	st.kickStart = time.Time{}
	if err := a.motors.RunToAbsolutePosition(robot.Kicker, KickerRest); err != nil {
		return fmt.Errorf("retract kicker: %w", err)
	}
	return nil
}

// finishKick lets an in-flight kick retract before the actor exits.
func (a *Actor) finishKick(ctx context.Context, st *state) error {
	if st.kickStart.IsZero() {
		return nil
	}
	if err := sleep(ctx, a.cfg.KickDuration-time.Since(st.kickStart)+time.Millisecond); err != nil {
		return err
	}
	return a.checkKick(st)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
