package main

import (
	"fmt"
	"time"

	"github.com/gwillem/kickbot/pkg/hardware"
	"github.com/gwillem/kickbot/pkg/robot"
)

type CalibrateCommand struct {
	Samples int           `long:"samples" default:"10" description:"Number of sensor readings to average"`
	Delay   time.Duration `long:"delay" default:"50ms" description:"Pause between readings"`
	Args    struct {
		Role string `positional-arg-name:"foreground|background" required:"yes"`
	} `positional-args:"yes"`
}

func (c *CalibrateCommand) Execute(args []string) error {
	role := robot.Role(c.Args.Role)
	if role != robot.Foreground && role != robot.Background {
		return fmt.Errorf("unknown reference %q: use foreground or background", c.Args.Role)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	l := newLogger(cfg)

	hw, err := hardware.Open(cfg.Hardware, l.Named("hardware"))
	if err != nil {
		return err
	}
	defer hw.Close()

	ref, err := averageColor(hw, max(c.Samples, 1), c.Delay)
	if err != nil {
		return err
	}

	store := robot.NewCalibrationStore(cfg.DataDir)
	if err := store.Save(role, ref); err != nil {
		return err
	}
	fmt.Printf("%s %s saved to %s\n", successStyle.Render(string(role)), ref, cfg.DataDir)
	return nil
}

// averageColor reads the sensor n times and returns the channel means.
func averageColor(s robot.ColorSensor, n int, delay time.Duration) (robot.Color, error) {
	var sum robot.Color
	for i := range n {
		if i > 0 {
			time.Sleep(delay)
		}
		c, err := s.ReadColorRGB()
		if err != nil {
			return robot.Color{}, fmt.Errorf("read sensor: %w", err)
		}
		sum.R += c.R
		sum.G += c.G
		sum.B += c.B
	}
	return robot.Color{R: sum.R / n, G: sum.G / n, B: sum.B / n}, nil
}
