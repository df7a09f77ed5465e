// Package pid implements autonomous line following: a PID controller over
// the ground color sensor with loss-of-line detection and recovery, and the
// actor that runs it.
package pid

import (
	"math"

	"github.com/gwillem/kickbot/pkg/robot"
)

// Controller gains and limits.
const (
	Kp = 0.4
	Ki = 0.18
	Kd = 0.25

	IntegralMax     = 2.5
	IntegralLimiter = (IntegralMax - 1) / IntegralMax

	SpeedFast   = 1.0
	SpeedNormal = 0.6
	SpeedSlow   = 0.4

	// Countermeasure is the share of the controller output used as
	// differential between the wheels.
	Countermeasure = 0.5

	// DriveMultiplier sets which side of the line the robot follows.
	DriveMultiplier = -1.0

	LostLineThreshold = 0.5
	LostLineJump      = 0.7
	LostLineLimit     = 15
	DriveSlowSteps    = 20
)

// LineError maps a sensor reading onto [-1, 1] between the foreground (line)
// and background (floor) references, signed by DriveMultiplier. A channel
// where both references are equal makes the reading undefined; it is then
// treated as the floor.
func LineError(sensor robot.Color, cal robot.Calibration) float64 {
	fg, bg := cal.Foreground, cal.Background
	r := channel(sensor.R, fg.R, bg.R)
	g := channel(sensor.G, fg.G, bg.G)
	b := channel(sensor.B, fg.B, bg.B)

	v := (r + g + b) / 1.5
	switch {
	case math.IsNaN(v), v > 2:
		v = 2
	case v < 0:
		v = 0
	}
	return (v - 1) * DriveMultiplier
}

func channel(s, fg, bg int) float64 {
	return float64(s-fg) / float64(bg-fg)
}

// Found reports whether a recovery sweep is back on the line.
func Found(err float64) bool {
	return err*DriveMultiplier <= -LostLineThreshold
}

// RecoveryTrack is the rotate-in-place command driven while searching.
func RecoveryTrack() (left, right float64) {
	return SpeedSlow * DriveMultiplier, -SpeedSlow * DriveMultiplier
}

// Step is the result of one controller update.
type Step struct {
	Error      float64
	Integral   float64
	Derivative float64
	Output     float64
	Speed      float64
	Left       float64
	Right      float64

	// Recover is set when the line was lost. No track command should be
	// driven for this step; the caller sweeps until Found and then calls
	// Recovered.
	Recover bool
}

// State is the controller memory of one line-following session. The zero
// value is a fresh session.
type State struct {
	LastError    float64
	HistoryError float64
	Integral     float64
	LostLine     int
	DriveSlow    int
}

// Update advances the controller with a new error sample.
func (s *State) Update(err float64) Step {
	s.Integral = (s.Integral + err) * IntegralLimiter
	derivative := err - s.LastError
	output := Kp*err + Ki*s.Integral + Kd*derivative

	step := Step{Error: err, Integral: s.Integral, Derivative: derivative, Output: output}

	if s.LostLine > LostLineLimit {
		s.Integral = IntegralMax * DriveMultiplier
		s.HistoryError = 0
		s.LastError = 0
		s.LostLine = 0
		step.Recover = true
		return step
	}

	beyond := err*DriveMultiplier > LostLineThreshold
	if s.LostLine > 0 {
		if beyond {
			s.LostLine++
		} else {
			s.LostLine = 0
		}
	} else if math.Abs(s.HistoryError-err) > LostLineJump && beyond && s.DriveSlow == 0 {
		s.LostLine++
	}

	s.HistoryError = s.LastError
	s.LastError = err

	switch {
	case s.DriveSlow > 0:
		s.DriveSlow--
		step.Speed = SpeedSlow
	case math.Abs(s.Integral) < 0.2 && math.Abs(derivative) < 0.2:
		step.Speed = SpeedFast
	case math.Abs(s.Integral) > 1.0:
		step.Speed = SpeedSlow
	default:
		step.Speed = SpeedNormal
	}

	step.Left = step.Speed + Countermeasure*output
	step.Right = step.Speed - Countermeasure*output
	return step
}

// Recovered arms the slow-drive cooldown after a recovery sweep.
func (s *State) Recovered() {
	s.DriveSlow = DriveSlowSteps
}
