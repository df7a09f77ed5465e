package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/jessevdk/go-flags"

	"github.com/gwillem/kickbot/pkg/robot"
)

type Options struct {
	Config   string `short:"c" long:"config" default:"kickbot.yml" description:"Configuration file"`
	LogLevel string `long:"log-level" description:"Override the configured log level (trace, debug, info, warn, error)"`

	Run       RunCommand       `command:"run" description:"Run the robot until interrupted"`
	Station   StationCommand   `command:"station" alias:"teleop" description:"Drive a robot from this machine"`
	Setup     SetupCommand     `command:"setup" description:"Detect the hardware and write a configuration file"`
	Calibrate CalibrateCommand `command:"calibrate" description:"Store a line sensor reference"`
	Info      InfoCommand      `command:"info" description:"Show the configured hardware and its readings"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "kickbot - networked soccer robot with line following"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}

// loadConfig reads the configuration file. A missing file yields defaults.
func loadConfig() (*robot.Config, error) {
	cfg, err := robot.LoadConfigFrom(opts.Config)
	if errors.Is(err, fs.ErrNotExist) {
		d := robot.DefaultConfig()
		return &d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", opts.Config, err)
	}
	return cfg, nil
}

func newLogger(cfg *robot.Config) hclog.Logger {
	level := cfg.LogLevel
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:  "kickbot",
		Level: hclog.LevelFromString(level),
		Color: hclog.AutoColor,
	})
}
