package robot

import (
	"fmt"
	"os"
	"path/filepath"
)

// Role names one of the two calibration references of the line sensor.
type Role string

// Calibration roles. The role doubles as the file name in the data directory.
const (
	Foreground Role = "foreground" // line color
	Background Role = "background" // floor color
)

// Default calibration references used when nothing valid is stored.
var (
	DefaultForeground = Gray(20)
	DefaultBackground = Gray(200)
)

// DefaultColor returns the fallback reference for a role.
func DefaultColor(role Role) Color {
	if role == Foreground {
		return DefaultForeground
	}
	return DefaultBackground
}

// Calibration holds the two sensor references.
type Calibration struct {
	Foreground Color
	Background Color
}

// Set replaces the reference for a role.
func (c *Calibration) Set(role Role, color Color) {
	switch role {
	case Foreground:
		c.Foreground = color
	case Background:
		c.Background = color
	}
}

// CalibrationStore persists calibration references as "r;g;b" text files.
type CalibrationStore struct {
	Dir string
}

// NewCalibrationStore returns a store rooted at dir.
func NewCalibrationStore(dir string) CalibrationStore {
	return CalibrationStore{Dir: dir}
}

func (s CalibrationStore) path(role Role) string {
	return filepath.Join(s.Dir, string(role))
}

// Load reads the stored reference for role. When the file is missing or
// malformed it returns the role's default together with the reason.
func (s CalibrationStore) Load(role Role) (Color, error) {
	data, err := os.ReadFile(s.path(role))
	if err != nil {
		return DefaultColor(role), fmt.Errorf("read %s calibration: %w", role, err)
	}

	c, err := ParseColor(string(data))
	if err != nil {
		return DefaultColor(role), fmt.Errorf("parse %s calibration: %w", role, err)
	}

	return c, nil
}

// LoadAll loads both references. Errors for missing files are dropped; the
// defaults are used instead.
func (s CalibrationStore) LoadAll() Calibration {
	fg, _ := s.Load(Foreground)
	bg, _ := s.Load(Background)
	return Calibration{Foreground: fg, Background: bg}
}

// Save writes the reference for role.
func (s CalibrationStore) Save(role Role, c Color) error {
	if err := os.WriteFile(s.path(role), []byte(c.String()), 0644); err != nil {
		return fmt.Errorf("write %s calibration: %w", role, err)
	}
	return nil
}
