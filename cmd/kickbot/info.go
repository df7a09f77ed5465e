package main

import (
	"fmt"

	"github.com/gwillem/kickbot/pkg/hardware"
	"github.com/gwillem/kickbot/pkg/robot"
)

type InfoCommand struct{}

func (c *InfoCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	l := newLogger(cfg)

	fmt.Println(headerStyle.Render("kickbot info"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━"))
	fmt.Println()

	hw, err := hardware.Open(cfg.Hardware, l.Named("hardware"))
	if err != nil {
		return err
	}
	defer hw.Close()

	status, err := robot.NewStatus(cfg.DataDir, hw, hw)
	if err != nil {
		return err
	}
	cal := robot.NewCalibrationStore(cfg.DataDir).LoadAll()

	rows := [][]string{
		{"name", status.Name()},
		{"team color", status.ColorLabel()},
		{"backend", cfg.Hardware.Backend},
		{"foreground", cal.Foreground.String()},
		{"background", cal.Background.String()},
	}
	if color, err := hw.ReadColorRGB(); err != nil {
		rows = append(rows, []string{"sensor", "error: " + err.Error()})
	} else {
		rows = append(rows, []string{"sensor", color.String()})
	}
	rows = append(rows, voltageRow("voltage", hw.ReadVoltageNow))
	rows = append(rows, voltageRow("voltage min", hw.ReadVoltageMin))
	rows = append(rows, voltageRow("voltage max", hw.ReadVoltageMax))
	if p, err := status.Power(); err != nil {
		rows = append(rows, []string{"power", "error: " + err.Error()})
	} else {
		rows = append(rows, []string{"power", fmt.Sprintf("%.0f%%", p*100)})
	}

	fmt.Println(keyValueTable(rows))
	return nil
}

func voltageRow(label string, read func() (float64, error)) []string {
	v, err := read()
	if err != nil {
		return []string{label, "error: " + err.Error()}
	}
	return []string{label, fmt.Sprintf("%.2f V", v)}
}
