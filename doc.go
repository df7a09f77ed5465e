// Package kickbot is the on-board controller of a small networked soccer
// robot. It takes remote control commands over UDP, drives two wheels and a
// kicker, and can follow a line on its own using a ground color sensor.
//
// # Installation
//
//	go install github.com/gwillem/kickbot/cmd/kickbot@latest
//
// # Usage
//
// Write a configuration file for the attached hardware:
//
//	kickbot setup
//
// Start the robot; it searches for a controller on the local network:
//
//	kickbot run
//
// Drive it from a laptop on the same network:
//
//	kickbot station
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/kickbot: CLI with run, station, setup, calibrate and info commands
//   - pkg/actor: mailboxes and the restart-forever supervisor
//   - pkg/driving: wheel and kicker actor
//   - pkg/pid: line following controller and actor
//   - pkg/network: discovery and keepalive actor
//   - pkg/router: fans controller commands out to the actors
//   - pkg/protocol: UDP wire format
//   - pkg/robot: hardware interfaces, configuration, calibration and status
//   - pkg/hardware: ev3dev, Feetech servo, serial bridge and simulated backends
//   - pkg/teleop: controller side of the protocol
//   - pkg/monitor: websocket status feed
package kickbot

// Version is reported to controllers on connect.
const Version = "0.3.0"
