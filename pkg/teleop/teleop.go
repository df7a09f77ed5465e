// Package teleop provides the controller station: it answers robot discovery,
// keeps the session alive by streaming the current track command and collects
// the robot's telemetry.
package teleop

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gwillem/kickbot/pkg/protocol"
)

// ErrNoRobot is returned when sending before a robot has connected.
var ErrNoRobot = errors.New("no robot connected")

// State is a snapshot of the connected robot.
type State struct {
	Connected  bool
	Robot      string
	Version    string
	Name       string
	ColorLabel string
	Colors     []string
	RGB        [3]uint8
	Power      float32
	Left       float32
	Right      float32
	Pid        bool
	Timestamp  time.Time
	Error      error
}

// Controller manages the station side of a robot session.
type Controller struct {
	disc    *net.UDPConn
	sess    *net.UDPConn
	hz      int
	timeout time.Duration

	mu       sync.RWMutex
	state    State
	robot    *net.UDPAddr
	lastSeen time.Time
	running  bool
	stateCh  chan State
	logCh    chan string

	closeOnce sync.Once
	closeErr  error
}

// Config holds configuration for the controller.
type Config struct {
	// DiscoveryAddr is where robots broadcast their probes.
	DiscoveryAddr string
	// SessionAddr is the session socket. Port 0 picks a free port.
	SessionAddr string
	// Hz is the rate the track command is repeated at. It must be well
	// above the robot's stop threshold.
	Hz int
	// Timeout marks the robot as gone after this much silence.
	Timeout time.Duration
}

// NewController binds the discovery and session sockets.
func NewController(cfg Config) (*Controller, error) {
	if cfg.DiscoveryAddr == "" {
		cfg.DiscoveryAddr = ":" + strconv.Itoa(protocol.DiscoveryPort)
	}
	if cfg.SessionAddr == "" {
		cfg.SessionAddr = ":0"
	}
	if cfg.Hz <= 0 {
		cfg.Hz = 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}

	disc, err := listen(cfg.DiscoveryAddr)
	if err != nil {
		return nil, fmt.Errorf("discovery socket: %w", err)
	}
	sess, err := listen(cfg.SessionAddr)
	if err != nil {
		disc.Close()
		return nil, fmt.Errorf("session socket: %w", err)
	}

	return &Controller{
		disc:    disc,
		sess:    sess,
		hz:      cfg.Hz,
		timeout: cfg.Timeout,
		stateCh: make(chan State, 1),
		logCh:   make(chan string, 10),
	}, nil
}

func listen(addr string) (*net.UDPConn, error) {
	a, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, err
	}
	return net.ListenUDP("udp4", a)
}

// Close closes the controller and releases resources.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	return c.closeSockets()
}

// closeSockets also unblocks both readers.
func (c *Controller) closeSockets() error {
	c.closeOnce.Do(func() {
		c.closeErr = errors.Join(c.disc.Close(), c.sess.Close())
	})
	return c.closeErr
}

// States returns a channel that receives state updates.
func (c *Controller) States() <-chan State {
	return c.stateCh
}

// Logs returns a channel that receives log messages.
func (c *Controller) Logs() <-chan string {
	return c.logCh
}

// Hz returns the command rate.
func (c *Controller) Hz() int {
	return c.hz
}

// DiscoveryPort returns the bound discovery port.
func (c *Controller) DiscoveryPort() int {
	return c.disc.LocalAddr().(*net.UDPAddr).Port
}

// SessionPort returns the port announced to robots.
func (c *Controller) SessionPort() int {
	return c.sess.LocalAddr().(*net.UDPAddr).Port
}

// State returns the current snapshot.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.state
	s.Colors = append([]string(nil), c.state.Colors...)
	return s
}

func (c *Controller) log(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case c.logCh <- msg:
	default:
		// Drop if channel full
	}
}

// Start serves discovery and the session until ctx ends.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("already running")
	}
	c.running = true
	c.mu.Unlock()

	go c.serveDiscovery()
	go c.receive()

	c.log("Waiting for a robot on port %d (session %d)", c.DiscoveryPort(), c.SessionPort())

	ticker := time.NewTicker(time.Second / time.Duration(c.hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case <-ticker.C:
			c.step()
		}
	}
}

func (c *Controller) serveDiscovery() {
	buf := make([]byte, protocol.MaxMessageSize)
	reply := protocol.DiscoveryReply(uint16(c.SessionPort()))
	for {
		n, from, err := c.disc.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if !protocol.IsDiscoveryProbe(buf[:n]) {
			continue
		}
		if _, err := c.disc.WriteToUDP(reply, from); err != nil {
			c.log("Discovery reply to %s failed: %v", from, err)
		}
	}
}

func (c *Controller) receive() {
	buf := make([]byte, protocol.MaxMessageSize)
	for {
		n, from, err := c.sess.ReadFromUDP(buf)
		if err != nil {
			return
		}
		c.handle(from, buf[:n])
	}
}

func (c *Controller) handle(from *net.UDPAddr, b []byte) {
	c.mu.Lock()
	if c.robot == nil || c.robot.String() != from.String() || !c.state.Connected {
		c.robot = from
		c.state.Connected = true
		c.state.Robot = from.String()
		c.log("Robot connected from %s", from)
	}
	c.lastSeen = time.Now()

	if protocol.IsKeepaliveProbe(b) {
		c.mu.Unlock()
		if _, err := c.sess.WriteToUDP(protocol.Encode(protocol.Pong{}), from); err != nil {
			c.log("Pong failed: %v", err)
		}
		return
	}

	t, err := protocol.DecodeTelemetry(b)
	if err != nil {
		c.mu.Unlock()
		c.log("Ignoring datagram: %v", err)
		return
	}
	switch t := t.(type) {
	case protocol.VersionInfo:
		c.state.Version = t.Version
	case protocol.NameInfo:
		c.state.Name = t.Name
	case protocol.ColorLabel:
		c.state.ColorLabel = t.Label
	case protocol.AvailableColors:
		c.state.Colors = t.Labels
	case protocol.RGB:
		c.state.RGB = [3]uint8{t.R, t.G, t.B}
	case protocol.Power:
		c.state.Power = t.Fraction
	}
	c.state.Timestamp = time.Now()
	s := c.state
	c.mu.Unlock()

	c.sendState(s)
}

// step repeats the track command and notices a silent robot.
func (c *Controller) step() {
	c.mu.Lock()
	if c.robot == nil || !c.state.Connected {
		c.mu.Unlock()
		return
	}
	if time.Since(c.lastSeen) > c.timeout {
		c.state.Connected = false
		c.state.Timestamp = time.Now()
		s := c.state
		c.mu.Unlock()
		c.log("Robot silent for %v", c.timeout)
		c.sendState(s)
		return
	}
	track := protocol.SetTrack{Left: c.state.Left, Right: c.state.Right}
	c.mu.Unlock()

	if err := c.Send(track); err != nil {
		c.log("Send error: %v", err)
	}
}

// Send sends one message to the robot.
func (c *Controller) Send(m protocol.ControllerMessage) error {
	c.mu.RLock()
	to := c.robot
	c.mu.RUnlock()
	if to == nil {
		return ErrNoRobot
	}
	if _, err := c.sess.WriteToUDP(protocol.Encode(m), to); err != nil {
		return fmt.Errorf("send %T: %w", m, err)
	}
	return nil
}

// SetTrack sets the wheel fractions. They are repeated until changed.
func (c *Controller) SetTrack(left, right float32) error {
	c.mu.Lock()
	c.state.Left, c.state.Right = left, right
	c.mu.Unlock()
	return c.Send(protocol.SetTrack{Left: left, Right: right})
}

// Kick fires the kicker.
func (c *Controller) Kick() error {
	return c.Send(protocol.Kick{})
}

// SetPid switches line following on or off.
func (c *Controller) SetPid(enable bool) error {
	c.mu.Lock()
	c.state.Pid = enable
	c.mu.Unlock()
	return c.Send(protocol.SetPid{Enable: enable})
}

// TogglePid flips line following.
func (c *Controller) TogglePid() error {
	c.mu.RLock()
	on := c.state.Pid
	c.mu.RUnlock()
	return c.SetPid(!on)
}

// CalibrateForeground samples the line color.
func (c *Controller) CalibrateForeground() error {
	return c.Send(protocol.SetForeground{})
}

// CalibrateBackground samples the floor color.
func (c *Controller) CalibrateBackground() error {
	return c.Send(protocol.SetBackground{})
}

// Rename stores a new robot name.
func (c *Controller) Rename(name string) error {
	if err := c.Send(protocol.SetName{Name: name}); err != nil {
		return err
	}
	c.mu.Lock()
	c.state.Name = name
	c.mu.Unlock()
	return nil
}

// SetLedColor selects the robot's team color.
func (c *Controller) SetLedColor(label string) error {
	if err := c.Send(protocol.SetLedColor{Color: label}); err != nil {
		return err
	}
	c.mu.Lock()
	c.state.ColorLabel = label
	c.mu.Unlock()
	return nil
}

func (c *Controller) sendState(s State) {
	select {
	case c.stateCh <- s:
	default:
		// Drop old state if channel full, replace with new
		select {
		case <-c.stateCh:
		default:
		}
		select {
		case c.stateCh <- s:
		default:
		}
	}
}

func (c *Controller) shutdown() {
	c.mu.Lock()
	c.running = false
	c.state.Left, c.state.Right = 0, 0
	c.mu.Unlock()

	if err := c.Send(protocol.SetTrack{}); err != nil && !errors.Is(err, ErrNoRobot) {
		c.log("Warning: failed to stop robot: %v", err)
	}
	c.closeSockets()
	c.log("Station stopped")
}
