package pid

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/gwillem/kickbot/pkg/actor"
	"github.com/gwillem/kickbot/pkg/driving"
	"github.com/gwillem/kickbot/pkg/network"
	"github.com/gwillem/kickbot/pkg/robot"
)

// InboxSize bounds the command queue.
const InboxSize = 64

// Command is a message accepted by the line following actor.
type Command interface {
	pidCommand()
}

// Start enters line following.
type Start struct{}

// Stop leaves line following and stops the wheels.
type Stop struct{}

// SetForeground samples the sensor as the line reference.
type SetForeground struct{}

// SetBackground samples the sensor as the floor reference.
type SetBackground struct{}

func (Start) pidCommand()         {}
func (Stop) pidCommand()          {}
func (SetForeground) pidCommand() {}
func (SetBackground) pidCommand() {}

// Config holds the actor's timing.
type Config struct {
	// IdleTimeout is how long the idle state waits for a command before
	// sampling the sensor for telemetry.
	IdleTimeout time.Duration

	// Observe, if set, is called with every controller step.
	Observe func(Step)
}

// DefaultConfig returns the idle cadence of the robot.
func DefaultConfig() Config {
	return Config{IdleTimeout: 500 * time.Millisecond}
}

// Actor owns the color sensor, the calibration and the controller state.
type Actor struct {
	sensor    robot.ColorSensor
	store     robot.CalibrationStore
	driving   *actor.Mailbox[driving.Command]
	telemetry *actor.Mailbox[network.Command]
	inbox     *actor.Mailbox[Command]
	cfg       Config
	l         hclog.Logger
}

// New returns a line following actor that drives through drv and reports
// sensor readings to telemetry.
func New(sensor robot.ColorSensor, store robot.CalibrationStore, drv *actor.Mailbox[driving.Command], telemetry *actor.Mailbox[network.Command], cfg Config, l hclog.Logger) *Actor {
	if l == nil {
		l = hclog.NewNullLogger()
	}
	return &Actor{
		sensor:    sensor,
		store:     store,
		driving:   drv,
		telemetry: telemetry,
		inbox:     actor.NewMailbox[Command](InboxSize),
		cfg:       cfg,
		l:         l,
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

// Start runs the actor under supervision until ctx ends.
func (a *Actor) Start(ctx context.Context, restartDelay time.Duration) error {
	defer a.inbox.Close()
	return actor.Supervise(ctx, "pid", a.l, restartDelay, a.Run)
}

// Run loads the calibration and serves the idle state, entering line
// following on Start. Sensor errors end the run.
func (a *Actor) Run(ctx context.Context) error {
	cal := a.loadCalibration()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if cmd, ok := a.inbox.Recv(ctx, a.cfg.IdleTimeout); ok {
			switch cmd.(type) {
			case Start:
				if err := a.follow(ctx, &cal); err != nil {
					a.driving.Offer(driving.SetPid{})
					return err
				}
			case Stop:
				// already idle
			case SetForeground:
				if err := a.calibrate(robot.Foreground, &cal); err != nil {
					return err
				}
			case SetBackground:
				if err := a.calibrate(robot.Background, &cal); err != nil {
					return err
				}
			}
		}

		c, err := a.sensor.ReadColorRGB()
		if err != nil {
			return fmt.Errorf("read color: %w", err)
		}
		a.report(c)
	}
}

func (a *Actor) loadCalibration() robot.Calibration {
	var cal robot.Calibration
	for _, role := range []robot.Role{robot.Foreground, robot.Background} {
		c, err := a.store.Load(role)
		if err != nil {
			a.l.Warn("Using default calibration", "role", role, "color", c.String(), "error", err)
		}
		cal.Set(role, c)
	}
	return cal
}

// follow runs the controller until Stop. It always leaves the wheels with a
// zero line-following command on a clean exit.
func (a *Actor) follow(ctx context.Context, cal *robot.Calibration) error {
	a.l.Info("Line following started", "foreground", cal.Foreground.String(), "background", cal.Background.String())

	var st State
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if cmd, ok := a.inbox.TryRecv(); ok {
			stop, err := a.handle(cmd, cal)
			if err != nil {
				return err
			}
			if stop {
				return a.halt(ctx)
			}
		}

		e, err := a.lineError(cal)
		if err != nil {
			return err
		}

		step := st.Update(e)
		if a.cfg.Observe != nil {
			a.cfg.Observe(step)
		}

		if step.Recover {
			stopped, err := a.search(ctx, cal)
			if err != nil {
				return err
			}
			if stopped {
				return a.halt(ctx)
			}
			st.Recovered()
			continue
		}

		a.l.Trace("Step", "error", step.Error, "output", step.Output, "speed", step.Speed, "lost", st.LostLine)
		if err := a.drive(ctx, step.Left, step.Right); err != nil {
			return err
		}
	}
}

// search rotates in place until the line is found again. The inbox is
// polled so Stop ends the search.
func (a *Actor) search(ctx context.Context, cal *robot.Calibration) (stopped bool, err error) {
	a.l.Debug("Line lost, searching")
	left, right := RecoveryTrack()

	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		if cmd, ok := a.inbox.TryRecv(); ok {
			stop, err := a.handle(cmd, cal)
			if err != nil || stop {
				return stop, err
			}
		}

		e, err := a.lineError(cal)
		if err != nil {
			return false, err
		}
		if Found(e) {
			a.l.Debug("Line found")
			return false, nil
		}

		if err := a.drive(ctx, left, right); err != nil {
			return false, err
		}
	}
}

// handle applies a command received while following. It reports whether
// following should stop.
func (a *Actor) handle(cmd Command, cal *robot.Calibration) (bool, error) {
	switch cmd.(type) {
	case Stop:
		return true, nil
	case SetForeground:
		return false, a.calibrate(robot.Foreground, cal)
	case SetBackground:
		return false, a.calibrate(robot.Background, cal)
	}
	return false, nil
}

func (a *Actor) halt(ctx context.Context) error {
	a.l.Info("Line following stopped")
	return a.drive(ctx, 0, 0)
}

func (a *Actor) drive(ctx context.Context, left, right float64) error {
	if err := a.driving.Send(ctx, driving.SetPid{Left: float32(left), Right: float32(right)}); err != nil {
		return fmt.Errorf("send to driving: %w", err)
	}
	return nil
}

func (a *Actor) calibrate(role robot.Role, cal *robot.Calibration) error {
	c, err := a.sensor.ReadColorRGB()
	if err != nil {
		return fmt.Errorf("read %s: %w", role, err)
	}
	cal.Set(role, c)

	if err := a.store.Save(role, c); err != nil {
		a.l.Error("Failed to save calibration", "role", role, "error", err)
	} else {
		a.l.Info("Calibrated", "role", role, "color", c.String())
	}
	return nil
}

func (a *Actor) lineError(cal *robot.Calibration) (float64, error) {
	c, err := a.sensor.ReadColorRGB()
	if err != nil {
		return 0, fmt.Errorf("read color: %w", err)
	}
	a.report(c)
	return LineError(c, *cal), nil
}

// report publishes a reading without blocking; readings are dropped while
// the network is backed up.
func (a *Actor) report(c robot.Color) {
	t := c.Telemetry()
	a.telemetry.Offer(network.Color{R: t[0], G: t[1], B: t[2]})
}
