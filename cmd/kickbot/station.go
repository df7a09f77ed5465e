package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/kickbot/pkg/protocol"
	"github.com/gwillem/kickbot/pkg/teleop"
)

type StationCommand struct {
	Hz      int           `long:"hz" default:"20" description:"Command repeat rate"`
	Port    int           `long:"port" description:"Discovery port (default from config)"`
	Timeout time.Duration `long:"timeout" default:"2s" description:"Mark the robot gone after this much silence"`
	Speed   float32       `long:"speed" default:"0.6" description:"Initial wheel fraction"`
}

const (
	headerHeight = 3 // title + status + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

// Channel colors of the sensor plot.
var seriesColors = []struct{ name, color string }{
	{"red", "196"},
	{"green", "46"},
	{"blue", "33"},
	{"power", "226"},
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	onlineStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	offlineStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

type stationModel struct {
	ctrl     *teleop.Controller
	chart    *streamlinechart.Model
	state    teleop.State
	speed    float32
	width    int
	height   int
	logs     []string
	quitting bool
}

func (m *stationModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// Messages from the controller
type stateMsg teleop.State
type logMsg string

func waitForState(ctrl *teleop.Controller) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-ctrl.States())
	}
}

func waitForLog(ctrl *teleop.Controller) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-ctrl.Logs())
	}
}

func (m *stationModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 16
	}
	width = max(m.width-borderSize-2, 40)
	height = max(m.height-headerHeight-legendHeight-footerHeight-borderSize, 8)
	return width, height
}

func (m *stationModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func initialStationModel(ctrl *teleop.Controller, speed float32) stationModel {
	chart := streamlinechart.New(80, 16,
		streamlinechart.WithYRange(0, 255),
	)
	for _, s := range seriesColors {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(s.color))
		chart.SetDataSetStyles(s.name, runes.ThinLineStyle, style)
	}

	return stationModel{
		ctrl:  ctrl,
		chart: &chart,
		speed: speed,
	}
}

func (m stationModel) Init() tea.Cmd {
	return tea.Batch(
		waitForState(m.ctrl),
		waitForLog(m.ctrl),
	)
}

// track maps a drive key to wheel fractions.
func track(key string, speed float32) (left, right float32, ok bool) {
	switch key {
	case "up", "w":
		return speed, speed, true
	case "down", "s":
		return -speed, -speed, true
	case "left", "a":
		return -speed / 2, speed / 2, true
	case "right", "d":
		return speed / 2, -speed / 2, true
	case "x", "esc":
		return 0, 0, true
	}
	return 0, 0, false
}

// nextColor returns the label after current, wrapping around.
func nextColor(colors []string, current string) string {
	if len(colors) == 0 {
		return current
	}
	for i, c := range colors {
		if c == current {
			return colors[(i+1)%len(colors)]
		}
	}
	return colors[0]
}

func (m stationModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		key := msg.String()
		if left, right, ok := track(key, m.speed); ok {
			m.report(m.ctrl.SetTrack(left, right))
			return m, nil
		}
		switch key {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case " ":
			m.report(m.ctrl.Kick())
		case "p":
			m.report(m.ctrl.TogglePid())
		case "f":
			m.report(m.ctrl.CalibrateForeground())
		case "b":
			m.report(m.ctrl.CalibrateBackground())
		case "c":
			s := m.ctrl.State()
			m.report(m.ctrl.SetLedColor(nextColor(s.Colors, s.ColorLabel)))
		case "+", "=":
			m.speed = min(m.speed+0.1, 1)
		case "-":
			m.speed = max(m.speed-0.1, 0.1)
		}
		return m, nil

	case stateMsg:
		m.state = teleop.State(msg)
		if m.state.Connected {
			m.chart.PushDataSet("red", float64(m.state.RGB[0]))
			m.chart.PushDataSet("green", float64(m.state.RGB[1]))
			m.chart.PushDataSet("blue", float64(m.state.RGB[2]))
			m.chart.PushDataSet("power", float64(m.state.Power)*255)
			m.chart.DrawAll()
		}
		return m, waitForState(m.ctrl)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.ctrl)
	}

	return m, nil
}

func (m *stationModel) report(err error) {
	if err != nil {
		m.addLog(fmt.Sprintf("[%s] %v", time.Now().Format("15:04:05"), err))
	}
}

func (m stationModel) View() string {
	if m.quitting {
		return "Station stopped.\n"
	}

	var sb strings.Builder

	sb.WriteString(titleStyle.Render("kickbot station"))
	sb.WriteString(fmt.Sprintf(" - %d Hz, speed %.1f", m.ctrl.Hz(), m.speed))
	if m.width > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  [%dx%d]", m.width, m.height)))
	}
	sb.WriteString("\n")
	sb.WriteString(m.statusLine())
	sb.WriteString("\n\n")

	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")
	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20)).
		Foreground(lipgloss.Color("9"))

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("arrows/wasd drive, x stop, space kick, p line follow, f/b calibrate, c color, +/- speed, q quit")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func (m stationModel) statusLine() string {
	s := m.state
	if !s.Connected {
		return offlineStyle.Render("waiting for robot")
	}
	pid := "off"
	if s.Pid {
		pid = "on"
	}
	return onlineStyle.Render(s.Name) + statusStyle.Render(fmt.Sprintf(
		"  %s  v%s  color %s  power %.0f%%  track %.1f/%.1f  line follow %s",
		s.Robot, s.Version, s.ColorLabel, s.Power*100, s.Left, s.Right, pid))
}

func renderLegend() string {
	var items []string
	for _, s := range seriesColors {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(s.color)).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+s.name)
	}
	return strings.Join(items, "  ")
}

func (c *StationCommand) Execute(args []string) error {
	port := c.Port
	if port == 0 {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		port = cfg.Network.DiscoveryPort
	}
	if port == 0 {
		port = protocol.DiscoveryPort
	}

	ctrl, err := teleop.NewController(teleop.Config{
		DiscoveryAddr: ":" + strconv.Itoa(port),
		Hz:            c.Hz,
		Timeout:       c.Timeout,
	})
	if err != nil {
		log.Fatalf("Failed to create controller: %v", err)
	}
	defer ctrl.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := ctrl.Start(ctx); err != nil && err != context.Canceled {
			log.Printf("Controller error: %v", err)
		}
	}()

	p := tea.NewProgram(initialStationModel(ctrl, c.Speed), tea.WithAltScreen())
	_, err = p.Run()

	// Stop the robot before the sockets go away.
	cancel()
	<-done
	if err != nil {
		log.Fatalf("Error running program: %v", err)
	}
	return nil
}
