package robot

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// ConnectionState is the link state shown on the right status LED.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// LED returns the indicator color for the state.
func (s ConnectionState) LED() LEDColor {
	switch s {
	case Connecting:
		return LEDAmber
	case Connected:
		return LEDGreen
	case Reconnecting:
		return LEDYellow
	default:
		return LEDRed
	}
}

// Identity defaults and the color labels a controller may pick from.
const (
	DefaultName = "EV3"
	ColorOff    = "black"
	nameFile    = "name"
	colorFile   = "color"
	colorLime   = "lime"
	colorYellow = "yellow"
	colorAmber  = "amber"
	colorOrange = "orange"
	colorRed    = "red"
)

// AvailableColors returns the selectable team color labels.
func AvailableColors() []string {
	return []string{colorLime, colorYellow, colorAmber, colorOrange, colorRed}
}

// LabelLED maps a team color label to an LED color. Unknown labels turn the LED off.
func LabelLED(label string) LEDColor {
	switch label {
	case colorLime:
		return LEDGreen
	case colorYellow:
		return LEDYellow
	case colorAmber:
		return LEDAmber
	case colorOrange:
		return LEDOrange
	case colorRed:
		return LEDRed
	default:
		return LEDOff
	}
}

// Status owns the robot identity (name, team color), the status LEDs, the
// power supply and the current connection state. It is not safe for
// concurrent use; a single actor owns it.
type Status struct {
	dir   string
	led   Indicator
	power PowerSupply
	state ConnectionState
}

// NewStatus opens the identity files in dir, creating defaults when absent,
// and renders the LEDs.
func NewStatus(dir string, led Indicator, power PowerSupply) (*Status, error) {
	s := &Status{dir: dir, led: led, power: power, state: Disconnected}

	if _, err := os.Stat(s.path(nameFile)); errors.Is(err, os.ErrNotExist) {
		if err := s.write(nameFile, DefaultName); err != nil {
			return nil, err
		}
	}
	if _, err := os.Stat(s.path(colorFile)); errors.Is(err, os.ErrNotExist) {
		if err := s.write(colorFile, ColorOff); err != nil {
			return nil, err
		}
	}

	return s, s.render()
}

func (s *Status) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *Status) read(name string) string {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (s *Status) write(name, value string) error {
	if err := os.WriteFile(s.path(name), []byte(value), 0644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Name returns the stored robot name.
func (s *Status) Name() string {
	return s.read(nameFile)
}

// SetName stores a new robot name.
func (s *Status) SetName(name string) error {
	return s.write(nameFile, name)
}

// ColorLabel returns the stored team color label.
func (s *Status) ColorLabel() string {
	return s.read(colorFile)
}

// SetColorLabel stores a new team color label and updates the LEDs.
func (s *Status) SetColorLabel(label string) error {
	if err := s.write(colorFile, label); err != nil {
		return err
	}
	return s.render()
}

// ConnectionState returns the last state set.
func (s *Status) ConnectionState() ConnectionState {
	return s.state
}

// SetConnectionState records the link state and updates the LEDs.
func (s *Status) SetConnectionState(state ConnectionState) error {
	s.state = state
	return s.render()
}

// Power returns the battery charge as a fraction in [0, 1].
func (s *Status) Power() (float32, error) {
	now, err := s.power.ReadVoltageNow()
	if err != nil {
		return 0, fmt.Errorf("read voltage: %w", err)
	}
	lo, err := s.power.ReadVoltageMin()
	if err != nil {
		return 0, fmt.Errorf("read min voltage: %w", err)
	}
	hi, err := s.power.ReadVoltageMax()
	if err != nil {
		return 0, fmt.Errorf("read max voltage: %w", err)
	}
	return PowerFraction(now, lo, hi), nil
}

// PowerFraction maps a voltage onto [0, 1] between lo and hi.
func PowerFraction(now, lo, hi float64) float32 {
	if hi <= lo {
		return 0
	}
	f := (now - lo) / (hi - lo)
	if f < 0 || math.IsNaN(f) {
		return 0
	}
	if f > 1 {
		return 1
	}
	return float32(f)
}

func (s *Status) render() error {
	if err := s.led.SetLeftIndicatorColor(LabelLED(s.ColorLabel())); err != nil {
		return fmt.Errorf("set left led: %w", err)
	}
	if err := s.led.SetRightIndicatorColor(s.state.LED()); err != nil {
		return fmt.Errorf("set right led: %w", err)
	}
	return nil
}
