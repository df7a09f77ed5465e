package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	sts "github.com/hipsterbrown/feetech-servo/feetech"
	"go.bug.st/serial"

	"github.com/gwillem/kickbot/pkg/hardware"
	"github.com/gwillem/kickbot/pkg/hardware/feetech"
	"github.com/gwillem/kickbot/pkg/robot"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type SetupCommand struct{}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("kickbot setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━"))
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if robot.ConfigExists(opts.Config) {
		fmt.Println(dimStyle.Render("Starting from " + opts.Config))
		fmt.Println()
	}

	// Step 1: hardware backend
	if err := chooseBackend(cfg); err != nil {
		return abort(err)
	}

	// Step 2: optional servo bus
	fmt.Println()
	fmt.Println(subHeaderStyle.Render("━━━ Servo bus ━━━"))
	fmt.Println()
	if err := setupServos(cfg); err != nil {
		return abort(err)
	}

	// Step 3: robot identity and monitor
	fmt.Println()
	if err := setupRobot(cfg); err != nil {
		return abort(err)
	}

	write, err := confirmWrite(opts.Config, askConfirm)
	if err != nil {
		return abort(err)
	}
	if !write {
		fmt.Println("Configuration not saved.")
		return nil
	}
	if err := cfg.SaveTo(opts.Config); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println(summary(cfg))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", opts.Config)
	fmt.Println()
	fmt.Println("Start the robot with: " + headerStyle.Render("kickbot run"))
	return nil
}

// confirmWrite asks before replacing an existing configuration file.
func confirmWrite(path string, ask func(title string) (bool, error)) (bool, error) {
	if !robot.ConfigExists(path) {
		return true, nil
	}
	return ask(fmt.Sprintf("Overwrite %s?", path))
}

func askConfirm(title string) (bool, error) {
	ok := true
	err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().Title(title).Value(&ok),
	)).Run()
	return ok, err
}

// abort treats a cancelled form as a clean exit.
func abort(err error) error {
	if errors.Is(err, huh.ErrUserAborted) {
		fmt.Println()
		os.Exit(0)
	}
	return err
}

func chooseBackend(cfg *robot.Config) error {
	backend := cfg.Hardware.Backend
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which hardware drives the robot?").
				Options(
					huh.NewOption("EV3 brick (ev3dev)", hardware.BackendEV3),
					huh.NewOption("Microcontroller on a serial port", hardware.BackendBridge),
					huh.NewOption("Simulator", hardware.BackendSim),
				).
				Value(&backend),
		),
	).Run()
	if err != nil {
		return err
	}
	cfg.Hardware.Backend = backend

	switch backend {
	case hardware.BackendEV3:
		return setupEV3(&cfg.Hardware.EV3)
	case hardware.BackendBridge:
		return setupBridge(&cfg.Hardware.Bridge)
	}
	return nil
}

func setupEV3(c *robot.EV3Config) error {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Left wheel port").Value(&c.LeftPort),
			huh.NewInput().Title("Right wheel port").Value(&c.RightPort),
			huh.NewInput().Title("Kicker port").Value(&c.KickerPort),
			huh.NewInput().Title("Color sensor port").Value(&c.SensorPort),
		).Description("ev3dev port addresses"),
	).Run()
}

// serialPorts lists candidate serial ports, skipping Bluetooth ones.
func serialPorts() []string {
	ports, err := serial.GetPortsList()
	if err != nil {
		fmt.Printf("Error listing ports: %v\n", err)
		return nil
	}
	var out []string
	for _, p := range ports {
		if strings.Contains(p, "Bluetooth") {
			continue
		}
		out = append(out, p)
	}
	return out
}

func portOptions(ports []string, current string) []huh.Option[string] {
	var options []huh.Option[string]
	seen := false
	for _, p := range ports {
		options = append(options, huh.NewOption(p, p))
		seen = seen || p == current
	}
	if !seen && current != "" {
		options = append(options, huh.NewOption(current+" (configured)", current))
	}
	return options
}

func setupBridge(c *robot.SerialConfig) error {
	ports := serialPorts()
	if len(ports) == 0 && c.Port == "" {
		return fmt.Errorf("no serial ports found")
	}
	baud := strconv.Itoa(c.Baud)
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which port is the microcontroller on?").
				Options(portOptions(ports, c.Port)...).
				Value(&c.Port),
			huh.NewInput().
				Title("Baud rate").
				Value(&baud).
				Validate(validateInt),
		),
	).Run()
	if err != nil {
		return err
	}
	c.Baud, _ = strconv.Atoi(baud)
	return nil
}

func validateInt(s string) error {
	if _, err := strconv.Atoi(s); err != nil {
		return fmt.Errorf("not a number")
	}
	return nil
}

type servoBus struct {
	port   string
	servos []sts.FoundServo
}

// findServoBuses scans every serial port for Feetech servos.
func findServoBuses(baud int) []servoBus {
	var buses []servoBus
	for _, port := range serialPorts() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		servos, err := feetech.Scan(ctx, port, baud)
		cancel()
		if err != nil || len(servos) == 0 {
			continue
		}
		fmt.Printf("  Found %d servo(s) on %s\n", len(servos), port)
		buses = append(buses, servoBus{port: port, servos: servos})
	}
	return buses
}

func setupServos(cfg *robot.Config) error {
	fc := &cfg.Hardware.Feetech
	enabled := fc.Enabled
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Use Feetech servos for the wheels and kicker?").
				Value(&enabled),
		),
	).Run()
	if err != nil {
		return err
	}
	fc.Enabled = enabled
	if !enabled {
		return nil
	}

	fmt.Println("Scanning for servos...")
	buses := findServoBuses(fc.Baud)
	if len(buses) == 0 {
		fmt.Println("No servos found. Make sure the bus is connected and powered on.")
		fc.Enabled = false
		return nil
	}

	bus := buses[0]
	if len(buses) > 1 {
		var options []huh.Option[int]
		for i, b := range buses {
			options = append(options, huh.NewOption(fmt.Sprintf("%s (%d servos)", b.port, len(b.servos)), i))
		}
		var pick int
		err := huh.NewForm(huh.NewGroup(
			huh.NewSelect[int]().Title("Which bus drives the robot?").Options(options...).Value(&pick),
		)).Run()
		if err != nil {
			return err
		}
		bus = buses[pick]
	}
	fc.Port = bus.port

	var ids []huh.Option[int]
	for _, s := range bus.servos {
		label := fmt.Sprintf("ID %d", s.ID)
		if s.Model != nil {
			label += " (" + s.Model.Name + ")"
		}
		ids = append(ids, huh.NewOption(label, s.ID))
	}
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[int]().Title("Left wheel servo").Options(ids...).Value(&fc.LeftID),
			huh.NewSelect[int]().Title("Right wheel servo").Options(ids...).Value(&fc.RightID),
			huh.NewSelect[int]().Title("Kicker servo").Options(ids...).Value(&fc.KickerID),
		),
	).Run()
	if err != nil {
		return err
	}

	return identifyServos(*fc)
}

// identifyServos wiggles each motor in turn so the user can check the wiring.
func identifyServos(fc robot.FeetechConfig) error {
	motors, err := feetech.Open(fc)
	if err != nil {
		return fmt.Errorf("open servo bus: %w", err)
	}
	defer motors.Close()

	for _, name := range robot.AllMotors() {
		fmt.Printf("\n  Wiggling %s...\n", name)
		if err := wiggle(motors, name); err != nil {
			fmt.Printf("  Error moving %s: %v\n", name, err)
			continue
		}
		var ok bool
		err := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Did the %s move?", name)).
				Affirmative("Yes").
				Negative("No").
				Value(&ok),
		)).Run()
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println(dimStyle.Render("  Check the servo ID and cabling, then run setup again."))
		}
	}
	return nil
}

func wiggle(m *feetech.Motors, name robot.MotorName) error {
	const move = 300 * time.Millisecond
	for _, duty := range []int{30, -30} {
		if err := m.SetDutyCycle(name, duty); err != nil {
			return err
		}
		if err := m.RunTimed(name, move); err != nil {
			return err
		}
		time.Sleep(move + 100*time.Millisecond)
	}
	return m.Stop(name)
}

func setupRobot(cfg *robot.Config) error {
	monitor := cfg.Monitor.Addr != ""
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Data directory").
				Description("Holds the name, team color and sensor calibration").
				Value(&cfg.DataDir),
			huh.NewConfirm().
				Title("Serve the websocket status monitor?").
				Value(&monitor),
		),
	).Run()
	if err != nil {
		return err
	}
	if !monitor {
		cfg.Monitor.Addr = ""
		return nil
	}
	if cfg.Monitor.Addr == "" {
		cfg.Monitor.Addr = ":8080"
	}
	return huh.NewForm(huh.NewGroup(
		huh.NewInput().Title("Monitor address").Value(&cfg.Monitor.Addr),
	)).Run()
}

func summary(cfg *robot.Config) string {
	hw := cfg.Hardware
	rows := [][]string{{"backend", hw.Backend}}
	switch hw.Backend {
	case hardware.BackendEV3:
		rows = append(rows,
			[]string{"left wheel", hw.EV3.LeftPort},
			[]string{"right wheel", hw.EV3.RightPort},
			[]string{"kicker", hw.EV3.KickerPort},
			[]string{"color sensor", hw.EV3.SensorPort},
		)
	case hardware.BackendBridge:
		rows = append(rows, []string{"serial", fmt.Sprintf("%s @ %d", hw.Bridge.Port, hw.Bridge.Baud)})
	}
	if hw.Feetech.Enabled {
		rows = append(rows,
			[]string{"servo bus", hw.Feetech.Port},
			[]string{"servo ids", fmt.Sprintf("left %d, right %d, kicker %d", hw.Feetech.LeftID, hw.Feetech.RightID, hw.Feetech.KickerID)},
		)
	}
	monitor := cfg.Monitor.Addr
	if monitor == "" {
		monitor = "off"
	}
	rows = append(rows, []string{"data dir", cfg.DataDir}, []string{"monitor", monitor})

	return keyValueTable(rows)
}

func keyValueTable(rows [][]string) string {
	keyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return keyStyle
			}
			return cellStyle
		}).
		Render()
}
