// Package ev3 drives the robot through the ev3dev sysfs interface: tacho
// motors, the color sensor in RGB-RAW mode, the two brick status LEDs and the
// battery.
package ev3

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gwillem/kickbot/pkg/robot"
)

// DefaultRoot is where ev3dev exposes its device classes.
const DefaultRoot = "/sys/class"

const (
	colorMode   = "RGB-RAW"
	microvolts  = 1e6
	leftLED     = "led0"
	rightLED    = "led1"
	statusLEDFn = "brick-status"
)

// Config maps motors and sensors to ev3dev port addresses.
type Config struct {
	Root        string
	LeftPort    string
	RightPort   string
	KickerPort  string
	SensorPort  string
	PowerSupply string
}

// ConfigFrom converts the YAML hardware section.
func ConfigFrom(c robot.EV3Config) Config {
	return Config{
		Root:        DefaultRoot,
		LeftPort:    c.LeftPort,
		RightPort:   c.RightPort,
		KickerPort:  c.KickerPort,
		SensorPort:  c.SensorPort,
		PowerSupply: c.PowerSupply,
	}
}

// Hardware implements robot.Hardware on an EV3 brick.
type Hardware struct {
	motors map[robot.MotorName]device
	sensor device
	power  device
	leds   [2]bicolor
}

type bicolor struct {
	red, green device
	max        int
}

// Open locates every device. All of them must be present.
func Open(cfg Config) (*Hardware, error) {
	if cfg.Root == "" {
		cfg.Root = DefaultRoot
	}

	h := &Hardware{motors: map[robot.MotorName]device{}}
	ports := map[robot.MotorName]string{
		robot.LeftWheel:  cfg.LeftPort,
		robot.RightWheel: cfg.RightPort,
		robot.Kicker:     cfg.KickerPort,
	}
	for _, m := range robot.AllMotors() {
		d, err := findByAddress(cfg.Root, "tacho-motor", ports[m])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m, err)
		}
		h.motors[m] = d
	}

	sensor, err := findByAddress(cfg.Root, "lego-sensor", cfg.SensorPort)
	if err != nil {
		return nil, fmt.Errorf("color sensor: %w", err)
	}
	if err := sensor.write("mode", colorMode); err != nil {
		return nil, fmt.Errorf("color sensor: %w", err)
	}
	h.sensor = sensor

	h.power = device(filepath.Join(cfg.Root, "power_supply", cfg.PowerSupply))

	for i, name := range []string{leftLED, rightLED} {
		led := bicolor{
			red:   device(filepath.Join(cfg.Root, "leds", name+":red:"+statusLEDFn)),
			green: device(filepath.Join(cfg.Root, "leds", name+":green:"+statusLEDFn)),
			max:   255,
		}
		if n, err := led.red.readInt("max_brightness"); err == nil && n > 0 {
			led.max = n
		}
		h.leds[i] = led
	}

	return h, nil
}

func (h *Hardware) motor(m robot.MotorName) (device, error) {
	d, ok := h.motors[m]
	if !ok {
		return "", fmt.Errorf("%w: motor %s", ErrNotFound, m)
	}
	return d, nil
}

func (h *Hardware) set(m robot.MotorName, attr string, v int) error {
	d, err := h.motor(m)
	if err != nil {
		return err
	}
	return d.writeInt(attr, v)
}

func (h *Hardware) command(m robot.MotorName, cmd string) error {
	d, err := h.motor(m)
	if err != nil {
		return err
	}
	return d.write("command", cmd)
}

func (h *Hardware) SetDutyCycle(m robot.MotorName, percent int) error {
	return h.set(m, "duty_cycle_sp", percent)
}

func (h *Hardware) RunDirect(m robot.MotorName) error {
	return h.command(m, "run-direct")
}

func (h *Hardware) SetSpeed(m robot.MotorName, speed int) error {
	return h.set(m, "speed_sp", speed)
}

func (h *Hardware) RunTimed(m robot.MotorName, d time.Duration) error {
	if err := h.set(m, "time_sp", int(d.Milliseconds())); err != nil {
		return err
	}
	return h.command(m, "run-timed")
}

func (h *Hardware) RunToAbsolutePosition(m robot.MotorName, position int) error {
	if err := h.set(m, "position_sp", position); err != nil {
		return err
	}
	return h.command(m, "run-to-abs-pos")
}

func (h *Hardware) Stop(m robot.MotorName) error {
	return h.command(m, "stop")
}

func (h *Hardware) SetPosition(m robot.MotorName, position int) error {
	return h.set(m, "position", position)
}

func (h *Hardware) SetStopAction(m robot.MotorName, action robot.StopAction) error {
	d, err := h.motor(m)
	if err != nil {
		return err
	}
	return d.write("stop_action", string(action))
}

// ReadColorRGB reads the three raw channels.
func (h *Hardware) ReadColorRGB() (robot.Color, error) {
	var v [3]int
	for i := range v {
		n, err := h.sensor.readInt("value" + strconv.Itoa(i))
		if err != nil {
			return robot.Color{}, err
		}
		v[i] = n
	}
	return robot.Color{R: v[0], G: v[1], B: v[2]}, nil
}

func (h *Hardware) SetLeftIndicatorColor(c robot.LEDColor) error {
	return h.leds[0].set(c)
}

func (h *Hardware) SetRightIndicatorColor(c robot.LEDColor) error {
	return h.leds[1].set(c)
}

func (l bicolor) set(c robot.LEDColor) error {
	if err := l.red.writeInt("brightness", int(c.Red)*l.max/255); err != nil {
		return err
	}
	return l.green.writeInt("brightness", int(c.Green)*l.max/255)
}

func (h *Hardware) ReadVoltageNow() (float64, error) {
	return h.volts("voltage_now")
}

func (h *Hardware) ReadVoltageMin() (float64, error) {
	return h.volts("voltage_min_design")
}

func (h *Hardware) ReadVoltageMax() (float64, error) {
	return h.volts("voltage_max_design")
}

func (h *Hardware) volts(attr string) (float64, error) {
	uv, err := h.power.readInt(attr)
	if err != nil {
		return 0, err
	}
	return float64(uv) / microvolts, nil
}

var _ robot.Hardware = (*Hardware)(nil)
