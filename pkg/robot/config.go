package robot

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gwillem/kickbot/pkg/actor"
)

const DefaultConfigFile = "kickbot.yml"

// Config holds the robot configuration
type Config struct {
	DataDir      string         `yaml:"data_dir"`
	LogLevel     string         `yaml:"log_level"`
	RestartDelay time.Duration  `yaml:"restart_delay"`
	Hardware     HardwareConfig `yaml:"hardware"`
	Network      NetworkConfig  `yaml:"network"`
	Monitor      MonitorConfig  `yaml:"monitor"`
}

// HardwareConfig selects and configures the hardware backends.
// Backend is one of "ev3", "bridge" or "sim". When Feetech is enabled its
// servos replace the backend's motors and power supply.
type HardwareConfig struct {
	Backend string        `yaml:"backend"`
	EV3     EV3Config     `yaml:"ev3"`
	Bridge  SerialConfig  `yaml:"bridge"`
	Feetech FeetechConfig `yaml:"feetech"`
}

// EV3Config holds ev3dev port addresses.
type EV3Config struct {
	LeftPort    string `yaml:"left_port"`
	RightPort   string `yaml:"right_port"`
	KickerPort  string `yaml:"kicker_port"`
	SensorPort  string `yaml:"sensor_port"`
	PowerSupply string `yaml:"power_supply"`
}

// SerialConfig holds a serial port setting.
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// FeetechConfig holds the servo bus layout.
type FeetechConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Port       string  `yaml:"port"`
	Baud       int     `yaml:"baud"`
	LeftID     int     `yaml:"left_id"`
	RightID    int     `yaml:"right_id"`
	KickerID   int     `yaml:"kicker_id"`
	MaxVoltage float64 `yaml:"max_voltage"`
	MinVoltage float64 `yaml:"min_voltage"`
}

// NetworkConfig holds discovery and keepalive settings.
type NetworkConfig struct {
	DiscoveryPort     int           `yaml:"discovery_port"`
	BroadcastAddr     string        `yaml:"broadcast_addr"`
	DiscoveryTimeout  time.Duration `yaml:"discovery_timeout"`
	PingTimeout       time.Duration `yaml:"ping_timeout"`
	StopTimeout       time.Duration `yaml:"stop_timeout"`
	DisconnectTimeout time.Duration `yaml:"disconnect_timeout"`
}

// MonitorConfig enables the websocket status feed when Addr is set.
type MonitorConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		DataDir:      ".",
		LogLevel:     "info",
		RestartDelay: actor.DefaultRestartDelay,
		Hardware: HardwareConfig{
			Backend: "ev3",
			EV3: EV3Config{
				LeftPort:    "ev3-ports:outB",
				RightPort:   "ev3-ports:outA",
				KickerPort:  "ev3-ports:outC",
				SensorPort:  "ev3-ports:in1",
				PowerSupply: "lego-ev3-battery",
			},
			Bridge: SerialConfig{Port: "/dev/ttyACM0", Baud: 115200},
			Feetech: FeetechConfig{
				Baud:       1_000_000,
				LeftID:     1,
				RightID:    2,
				KickerID:   3,
				MaxVoltage: 8.4,
				MinVoltage: 6.4,
			},
		},
		Network: NetworkConfig{
			DiscoveryPort:     7500,
			BroadcastAddr:     "255.255.255.255",
			DiscoveryTimeout:  5 * time.Second,
			PingTimeout:       100 * time.Millisecond,
			StopTimeout:       300 * time.Millisecond,
			DisconnectTimeout: 5000 * time.Millisecond,
		},
	}
}

// LoadConfigFrom loads configuration from a specific file. Keys missing from
// the file keep their default values.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the config file exists
func ConfigExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
