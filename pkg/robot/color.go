package robot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidColor is returned when a stored color triple cannot be parsed.
var ErrInvalidColor = errors.New("invalid color triple")

// Color is a raw (r, g, b) sensor reading or calibration reference.
type Color struct {
	R, G, B int
}

// Gray returns a color with the same value on every channel.
func Gray(v int) Color {
	return Color{R: v, G: v, B: v}
}

// String formats the color as "r;g;b".
func (c Color) String() string {
	return fmt.Sprintf("%d;%d;%d", c.R, c.G, c.B)
}

// ParseColor parses an "r;g;b" triple. Surrounding whitespace is ignored.
func ParseColor(s string) (Color, error) {
	parts := strings.Split(strings.TrimSpace(s), ";")
	if len(parts) != 3 {
		return Color{}, fmt.Errorf("%w: expected 3 fields, got %d", ErrInvalidColor, len(parts))
	}

	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Color{}, fmt.Errorf("%w: field %d: %v", ErrInvalidColor, i, err)
		}
		v[i] = n
	}

	return Color{R: v[0], G: v[1], B: v[2]}, nil
}

// Telemetry returns the reading halved and clamped to a byte per channel,
// the form reported to the controller.
func (c Color) Telemetry() [3]uint8 {
	return [3]uint8{halfByte(c.R), halfByte(c.G), halfByte(c.B)}
}

func halfByte(v int) uint8 {
	v /= 2
	if v > 255 {
		return 255
	}
	if v < 0 {
		return 0
	}
	return uint8(v)
}

// LEDColor is a brightness pair for the red and green diodes of a bicolor LED.
type LEDColor struct {
	Red, Green uint8
}

// LED colors available on a bicolor status LED.
var (
	LEDOff    = LEDColor{0, 0}
	LEDRed    = LEDColor{255, 0}
	LEDGreen  = LEDColor{0, 255}
	LEDAmber  = LEDColor{255, 255}
	LEDOrange = LEDColor{255, 120}
	LEDYellow = LEDColor{25, 255}
)
