// Package robot provides the hardware abstractions, configuration and persisted
// state of the kicker robot.
package robot

// MotorName identifies a motor on the robot.
type MotorName string

// Motor names for the two-wheel kicker robot.
const (
	LeftWheel  MotorName = "left_wheel"
	RightWheel MotorName = "right_wheel"
	Kicker     MotorName = "kicker"
)

// AllMotors returns all motor names in port order (right = A, left = B, kicker = C).
func AllMotors() []MotorName {
	return []MotorName{
		RightWheel,
		LeftWheel,
		Kicker,
	}
}

// Wheels returns the traction motors.
func Wheels() []MotorName {
	return []MotorName{LeftWheel, RightWheel}
}
