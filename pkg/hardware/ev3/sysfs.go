package ev3

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrNotFound is returned when no device is plugged into a port.
var ErrNotFound = errors.New("device not found")

// device is a directory of sysfs attributes.
type device string

func (d device) read(attr string) (string, error) {
	data, err := os.ReadFile(filepath.Join(string(d), attr))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", attr, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (d device) readInt(attr string) (int, error) {
	s, err := d.read(attr)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", attr, err)
	}
	return n, nil
}

// write sets an attribute. sysfs attributes exist before they are written,
// so a missing file means the device went away.
func (d device) write(attr, value string) error {
	f, err := os.OpenFile(filepath.Join(string(d), attr), os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return fmt.Errorf("write %s: %w", attr, err)
	}
	if _, err := f.WriteString(value); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", attr, err)
	}
	return f.Close()
}

func (d device) writeInt(attr string, v int) error {
	return d.write(attr, strconv.Itoa(v))
}

// findByAddress returns the device of class whose address matches port.
func findByAddress(root, class, port string) (device, error) {
	entries, err := os.ReadDir(filepath.Join(root, class))
	if err != nil {
		return "", fmt.Errorf("list %s: %w", class, err)
	}
	for _, e := range entries {
		d := device(filepath.Join(root, class, e.Name()))
		addr, err := d.read("address")
		if err != nil {
			continue
		}
		if addr == port {
			return d, nil
		}
	}
	return "", fmt.Errorf("%w: %s on %s", ErrNotFound, class, port)
}
