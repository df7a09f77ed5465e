// Package bridge talks to a microcontroller that owns the motors, the color
// sensor, the LEDs and the battery monitor over a serial line.
//
// Every request is one text line starting with a "#<seq>" tag and is
// answered by one line carrying the same tag, then "OK" followed by optional
// fields or "ERR" followed by a message. Replies with any other tag are late
// answers to timed out requests and are discarded.
//
//	#7 RGB  ->  #7 OK 110 104 98
//
//	M <motor> DUTY <percent>      M <motor> DIRECT
//	M <motor> SPEED <speed>       M <motor> TIMED <ms>
//	M <motor> ABS <position>      M <motor> STOP
//	M <motor> POS <position>      M <motor> STOPACTION <action>
//	RGB          -> OK <r> <g> <b>
//	LED <L|R> <red> <green>
//	VOLT <NOW|MIN|MAX> -> OK <volts>
package bridge

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	serial "go.bug.st/serial"

	"github.com/gwillem/kickbot/pkg/robot"
)

// DefaultTimeout bounds the wait for a reply.
const DefaultTimeout = 200 * time.Millisecond

var (
	// ErrTimeout is returned when the bridge does not answer in time.
	ErrTimeout = errors.New("bridge timeout")
	// ErrRemote wraps an ERR reply.
	ErrRemote = errors.New("bridge error")
	// ErrClosed is returned after the port is gone.
	ErrClosed = errors.New("bridge closed")
)

type reply struct {
	line string
	err  error
}

// Bridge implements robot.Hardware over a line protocol.
type Bridge struct {
	mu      sync.Mutex
	seq     uint32
	port    io.ReadWriteCloser
	lines   chan reply
	timeout time.Duration
}

// Open opens a serial port to the bridge.
func Open(cfg robot.SerialConfig) (*Bridge, error) {
	p, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.Baud})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Port, err)
	}
	return New(p, DefaultTimeout), nil
}

// New starts a bridge on an open stream.
func New(port io.ReadWriteCloser, timeout time.Duration) *Bridge {
	b := &Bridge{
		port:    port,
		lines:   make(chan reply, 8),
		timeout: timeout,
	}
	go b.readLoop()
	return b
}

func (b *Bridge) readLoop() {
	r := bufio.NewReader(b.port)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			b.lines <- reply{err: fmt.Errorf("%w: %v", ErrClosed, err)}
			close(b.lines)
			return
		}
		b.lines <- reply{line: strings.TrimSpace(line)}
	}
}

// Close closes the port.
func (b *Bridge) Close() error {
	return b.port.Close()
}

// request sends one line and returns the fields after OK.
func (b *Bridge) request(format string, args ...any) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	tag := "#" + strconv.FormatUint(uint64(b.seq), 10)
	cmd := fmt.Sprintf(format, args...)
	if _, err := io.WriteString(b.port, tag+" "+cmd+"\n"); err != nil {
		return nil, fmt.Errorf("write %q: %w", cmd, err)
	}

	deadline := time.NewTimer(b.timeout)
	defer deadline.Stop()
	for {
		select {
		case r, ok := <-b.lines:
			if !ok {
				return nil, ErrClosed
			}
			if r.err != nil {
				return nil, r.err
			}
			rest, ours := strings.CutPrefix(r.line, tag+" ")
			if !ours {
				continue
			}
			return parseReply(cmd, rest)
		case <-deadline.C:
			return nil, fmt.Errorf("%w: %q", ErrTimeout, cmd)
		}
	}
}

func parseReply(cmd, line string) ([]string, error) {
	fields := strings.Fields(line)
	switch {
	case len(fields) > 0 && fields[0] == "OK":
		return fields[1:], nil
	case len(fields) > 0 && fields[0] == "ERR":
		return nil, fmt.Errorf("%w: %q: %s", ErrRemote, cmd, strings.Join(fields[1:], " "))
	default:
		return nil, fmt.Errorf("%w: %q: unexpected reply %q", ErrRemote, cmd, line)
	}
}

func (b *Bridge) motor(m robot.MotorName, op string, arg any) error {
	var err error
	if arg == nil {
		_, err = b.request("M %s %s", m, op)
	} else {
		_, err = b.request("M %s %s %v", m, op, arg)
	}
	return err
}

func (b *Bridge) SetDutyCycle(m robot.MotorName, percent int) error {
	return b.motor(m, "DUTY", percent)
}

func (b *Bridge) RunDirect(m robot.MotorName) error {
	return b.motor(m, "DIRECT", nil)
}

func (b *Bridge) SetSpeed(m robot.MotorName, speed int) error {
	return b.motor(m, "SPEED", speed)
}

func (b *Bridge) RunTimed(m robot.MotorName, d time.Duration) error {
	return b.motor(m, "TIMED", d.Milliseconds())
}

func (b *Bridge) RunToAbsolutePosition(m robot.MotorName, position int) error {
	return b.motor(m, "ABS", position)
}

func (b *Bridge) Stop(m robot.MotorName) error {
	return b.motor(m, "STOP", nil)
}

func (b *Bridge) SetPosition(m robot.MotorName, position int) error {
	return b.motor(m, "POS", position)
}

func (b *Bridge) SetStopAction(m robot.MotorName, action robot.StopAction) error {
	return b.motor(m, "STOPACTION", action)
}

func (b *Bridge) ReadColorRGB() (robot.Color, error) {
	fields, err := b.request("RGB")
	if err != nil {
		return robot.Color{}, err
	}
	if len(fields) != 3 {
		return robot.Color{}, fmt.Errorf("%w: RGB: want 3 fields, got %d", ErrRemote, len(fields))
	}
	var v [3]int
	for i, f := range fields {
		if v[i], err = strconv.Atoi(f); err != nil {
			return robot.Color{}, fmt.Errorf("%w: RGB: %v", ErrRemote, err)
		}
	}
	return robot.Color{R: v[0], G: v[1], B: v[2]}, nil
}

func (b *Bridge) SetLeftIndicatorColor(c robot.LEDColor) error {
	_, err := b.request("LED L %d %d", c.Red, c.Green)
	return err
}

func (b *Bridge) SetRightIndicatorColor(c robot.LEDColor) error {
	_, err := b.request("LED R %d %d", c.Red, c.Green)
	return err
}

func (b *Bridge) ReadVoltageNow() (float64, error) { return b.volts("NOW") }
func (b *Bridge) ReadVoltageMin() (float64, error) { return b.volts("MIN") }
func (b *Bridge) ReadVoltageMax() (float64, error) { return b.volts("MAX") }

func (b *Bridge) volts(which string) (float64, error) {
	fields, err := b.request("VOLT %s", which)
	if err != nil {
		return 0, err
	}
	if len(fields) != 1 {
		return 0, fmt.Errorf("%w: VOLT: want 1 field, got %d", ErrRemote, len(fields))
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: VOLT: %v", ErrRemote, err)
	}
	return v, nil
}

var _ robot.Hardware = (*Bridge)(nil)
