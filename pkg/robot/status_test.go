package robot

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

type fakeLEDs struct {
	left, right LEDColor
	err         error
}

func (f *fakeLEDs) SetLeftIndicatorColor(c LEDColor) error {
	if f.err != nil {
		return f.err
	}
	f.left = c
	return nil
}

func (f *fakeLEDs) SetRightIndicatorColor(c LEDColor) error {
	if f.err != nil {
		return f.err
	}
	f.right = c
	return nil
}

type fakePower struct {
	now, lo, hi float64
}

func (f fakePower) ReadVoltageNow() (float64, error) { return f.now, nil }
func (f fakePower) ReadVoltageMin() (float64, error) { return f.lo, nil }
func (f fakePower) ReadVoltageMax() (float64, error) { return f.hi, nil }

func TestNewStatus_Defaults(t *testing.T) {
	dir := t.TempDir()
	leds := &fakeLEDs{}

	s, err := NewStatus(dir, leds, fakePower{7, 6, 8})
	if err != nil {
		t.Fatalf("NewStatus: %v", err)
	}

	if s.Name() != DefaultName {
		t.Errorf("Name() = %q, want %q", s.Name(), DefaultName)
	}
	if s.ColorLabel() != ColorOff {
		t.Errorf("ColorLabel() = %q, want %q", s.ColorLabel(), ColorOff)
	}
	if leds.left != LEDOff {
		t.Errorf("left LED = %+v, want off", leds.left)
	}
	if leds.right != LEDRed {
		t.Errorf("right LED = %+v, want red", leds.right)
	}

	data, err := os.ReadFile(filepath.Join(dir, "name"))
	if err != nil || string(data) != DefaultName {
		t.Errorf("name file = %q, %v", data, err)
	}
}

func TestNewStatus_KeepsExistingIdentity(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "name"), []byte("Striker\n"), 0644)
	os.WriteFile(filepath.Join(dir, "color"), []byte("amber"), 0644)
	leds := &fakeLEDs{}

	s, err := NewStatus(dir, leds, fakePower{})
	if err != nil {
		t.Fatalf("NewStatus: %v", err)
	}
	if s.Name() != "Striker" {
		t.Errorf("Name() = %q, want Striker", s.Name())
	}
	if leds.left != LEDAmber {
		t.Errorf("left LED = %+v, want amber", leds.left)
	}
}

func TestStatus_Setters(t *testing.T) {
	leds := &fakeLEDs{}
	s, err := NewStatus(t.TempDir(), leds, fakePower{})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.SetName("Goalie"); err != nil {
		t.Fatal(err)
	}
	if s.Name() != "Goalie" {
		t.Errorf("Name() = %q", s.Name())
	}

	if err := s.SetColorLabel("lime"); err != nil {
		t.Fatal(err)
	}
	if leds.left != LEDGreen {
		t.Errorf("left LED = %+v, want green", leds.left)
	}

	states := []struct {
		state ConnectionState
		want  LEDColor
	}{
		{Connecting, LEDAmber},
		{Connected, LEDGreen},
		{Reconnecting, LEDYellow},
		{Disconnected, LEDRed},
	}
	for _, tt := range states {
		if err := s.SetConnectionState(tt.state); err != nil {
			t.Fatal(err)
		}
		if leds.right != tt.want {
			t.Errorf("%v: right LED = %+v, want %+v", tt.state, leds.right, tt.want)
		}
		if s.ConnectionState() != tt.state {
			t.Errorf("ConnectionState() = %v, want %v", s.ConnectionState(), tt.state)
		}
	}
}

func TestStatus_LEDErrorReported(t *testing.T) {
	leds := &fakeLEDs{}
	s, err := NewStatus(t.TempDir(), leds, fakePower{})
	if err != nil {
		t.Fatal(err)
	}

	leds.err = errors.New("sysfs gone")
	if err := s.SetConnectionState(Connected); err == nil {
		t.Error("SetConnectionState should report LED errors")
	}
	if s.ConnectionState() != Connected {
		t.Error("state should be recorded even when the LED write fails")
	}
}

func TestLabelLED(t *testing.T) {
	tests := map[string]LEDColor{
		"lime":   LEDGreen,
		"yellow": LEDYellow,
		"amber":  LEDAmber,
		"orange": LEDOrange,
		"red":    LEDRed,
		"black":  LEDOff,
		"purple": LEDOff,
	}
	for label, want := range tests {
		if got := LabelLED(label); got != want {
			t.Errorf("LabelLED(%q) = %+v, want %+v", label, got, want)
		}
	}
}

func TestPowerFraction(t *testing.T) {
	tests := []struct {
		now, lo, hi float64
		want        float32
	}{
		{7, 6, 8, 0.5},
		{5, 6, 8, 0},
		{9, 6, 8, 1},
		{8, 6, 8, 1},
		{7, 8, 8, 0},
		{math.NaN(), 6, 8, 0},
		{math.Inf(1), 6, 8, 1},
	}
	for _, tt := range tests {
		if got := PowerFraction(tt.now, tt.lo, tt.hi); got != tt.want {
			t.Errorf("PowerFraction(%v, %v, %v) = %v, want %v", tt.now, tt.lo, tt.hi, got, tt.want)
		}
	}

	s := &Status{power: fakePower{7.5, 6, 9}}
	got, err := s.Power()
	if err != nil || got != 0.5 {
		t.Errorf("Power() = %v, %v; want 0.5", got, err)
	}
}

func TestAvailableColors(t *testing.T) {
	got := AvailableColors()
	want := []string{"lime", "yellow", "amber", "orange", "red"}
	if len(got) != len(want) {
		t.Fatalf("AvailableColors() = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("AvailableColors()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
