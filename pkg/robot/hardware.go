package robot

import "time"

// StopAction selects how a motor behaves when stopped.
type StopAction string

const (
	StopCoast StopAction = "coast"
	StopBrake StopAction = "brake"
	StopHold  StopAction = "hold"
)

// MotorDriver drives the traction motors and the kicker.
//
// Duty cycles are percentages in [-100, 100]. Speeds and positions are in
// backend-native units (tacho counts for ev3dev).
type MotorDriver interface {
	SetDutyCycle(m MotorName, percent int) error
	RunDirect(m MotorName) error
	SetSpeed(m MotorName, speed int) error
	RunTimed(m MotorName, d time.Duration) error
	RunToAbsolutePosition(m MotorName, position int) error
	Stop(m MotorName) error
	SetPosition(m MotorName, position int) error
	SetStopAction(m MotorName, action StopAction) error
}

// ColorSensor reads raw RGB values from the ground color sensor.
type ColorSensor interface {
	ReadColorRGB() (Color, error)
}

// Indicator drives the two status LEDs.
type Indicator interface {
	SetLeftIndicatorColor(c LEDColor) error
	SetRightIndicatorColor(c LEDColor) error
}

// PowerSupply reports battery voltages in volts.
type PowerSupply interface {
	ReadVoltageNow() (float64, error)
	ReadVoltageMin() (float64, error)
	ReadVoltageMax() (float64, error)
}

// Hardware is the full capability set of the robot. Each actor only receives
// the part it owns.
type Hardware interface {
	MotorDriver
	ColorSensor
	Indicator
	PowerSupply
}

// Closer is implemented by backends holding OS resources.
type Closer interface {
	Close() error
}
