package network

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/kickbot/pkg/actor"
	"github.com/gwillem/kickbot/pkg/hardware/sim"
	"github.com/gwillem/kickbot/pkg/protocol"
	"github.com/gwillem/kickbot/pkg/robot"
)

// controller is a loopback stand-in for the controller station.
type controller struct {
	disc   *net.UDPConn
	sess   *net.UDPConn
	probes atomic.Int32
	robot  *net.UDPAddr

	// noPort makes discovery replies announce port 0.
	noPort atomic.Bool
}

func newController(t *testing.T, reply bool) *controller {
	t.Helper()
	loopback := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}

	disc, err := net.ListenUDP("udp4", loopback)
	require.NoError(t, err)
	sess, err := net.ListenUDP("udp4", loopback)
	require.NoError(t, err)
	t.Cleanup(func() {
		disc.Close()
		sess.Close()
	})

	c := &controller{disc: disc, sess: sess}
	go func() {
		buf := make([]byte, 64)
		for {
			n, from, err := disc.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if !protocol.IsDiscoveryProbe(buf[:n]) {
				continue
			}
			c.probes.Add(1)
			if reply {
				port := uint16(sess.LocalAddr().(*net.UDPAddr).Port)
				if c.noPort.Load() {
					port = 0
				}
				disc.WriteToUDP(protocol.DiscoveryReply(port), from)
			}
		}
	}()
	return c
}

func (c *controller) discoveryPort() int {
	return c.disc.LocalAddr().(*net.UDPAddr).Port
}

// read returns the next session datagram, skipping keepalive probes unless
// probes is set.
func (c *controller) read(t *testing.T, probes bool) []byte {
	t.Helper()
	buf := make([]byte, 64)
	for {
		require.NoError(t, c.sess.SetReadDeadline(time.Now().Add(2*time.Second)))
		n, from, err := c.sess.ReadFromUDP(buf)
		require.NoError(t, err)
		c.robot = from
		if !probes && protocol.IsKeepaliveProbe(buf[:n]) {
			continue
		}
		return append([]byte(nil), buf[:n]...)
	}
}

func (c *controller) send(t *testing.T, b []byte) {
	t.Helper()
	require.NotNil(t, c.robot, "robot address unknown")
	_, err := c.sess.WriteToUDP(b, c.robot)
	require.NoError(t, err)
}

// handshake consumes the connect probe and the four hello messages.
func (c *controller) handshake(t *testing.T) []protocol.Telemetry {
	t.Helper()
	require.Equal(t, protocol.KeepaliveProbe(), c.read(t, true))

	var hello []protocol.Telemetry
	for len(hello) < 4 {
		msg, err := protocol.DecodeTelemetry(c.read(t, false))
		require.NoError(t, err)
		hello = append(hello, msg)
	}
	return hello
}

type states struct {
	mu   sync.Mutex
	seen []robot.ConnectionState
}

func (s *states) add(st robot.ConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, st)
}

func (s *states) all() []robot.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]robot.ConnectionState(nil), s.seen...)
}

func (s *states) last() robot.ConnectionState {
	all := s.all()
	if len(all) == 0 {
		return robot.Disconnected
	}
	return all[len(all)-1]
}

type harness struct {
	hw     *sim.Hardware
	status *robot.Status
	router *actor.Mailbox[protocol.ControllerMessage]
	states *states
	actor  *Actor
}

func newHarness(t *testing.T, c *controller, tune func(*Config)) *harness {
	t.Helper()
	hw := sim.New()
	status, err := robot.NewStatus(t.TempDir(), hw, hw)
	require.NoError(t, err)

	h := &harness{
		hw:     hw,
		status: status,
		router: actor.NewMailbox[protocol.ControllerMessage](64),
		states: &states{},
	}

	cfg := DefaultConfig()
	cfg.BroadcastAddr = "127.0.0.1"
	cfg.DiscoveryPort = c.discoveryPort()
	cfg.DiscoveryTimeout = 5 * time.Millisecond
	cfg.PingTimeout = 10 * time.Millisecond
	cfg.StopTimeout = 10 * time.Second
	cfg.DisconnectTimeout = 20 * time.Second
	cfg.Version = "test"
	cfg.OnState = h.states.add
	if tune != nil {
		tune(&cfg)
	}

	h.actor = New(status, h.router, cfg, nil)
	return h
}

func (h *harness) run(t *testing.T) <-chan error {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() { done <- h.actor.Run(ctx) }()
	return done
}

func TestDiscovery_NoReplyNeverConnects(t *testing.T) {
	c := newController(t, false)
	h := newHarness(t, c, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.actor.Run(ctx) }()

	require.Eventually(t, func() bool { return c.probes.Load() >= 26 }, 5*time.Second, time.Millisecond)
	assert.Empty(t, h.states.all())
	assert.Equal(t, robot.Disconnected, h.status.ConnectionState())
	_, right := h.hw.LEDs()
	assert.Equal(t, robot.LEDRed, right)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDiscovery_PortZeroKeepsSearching(t *testing.T) {
	c := newController(t, true)
	c.noPort.Store(true)
	h := newHarness(t, c, nil)
	done := h.run(t)

	require.Eventually(t, func() bool { return c.probes.Load() >= 5 }, 5*time.Second, time.Millisecond)
	assert.Empty(t, h.states.all())

	c.noPort.Store(false)
	c.handshake(t)
	require.Eventually(t, func() bool { return h.states.last() == robot.Connected }, 2*time.Second, time.Millisecond)

	select {
	case err := <-done:
		t.Fatalf("Run ended: %v", err)
	default:
	}
}

func TestConnect_Handshake(t *testing.T) {
	c := newController(t, true)
	h := newHarness(t, c, nil)
	h.run(t)

	hello := c.handshake(t)
	assert.Equal(t, []protocol.Telemetry{
		protocol.VersionInfo{Version: "test"},
		protocol.NameInfo{Name: "EV3"},
		protocol.ColorLabel{Label: "black"},
		protocol.AvailableColors{Labels: []string{"lime", "yellow", "amber", "orange", "red"}},
	}, hello)

	assert.Equal(t, []robot.ConnectionState{robot.Connecting, robot.Connected}, h.states.all())
	_, right := h.hw.LEDs()
	assert.Equal(t, robot.LEDGreen, right)
}

func TestSession_ForwardsCommands(t *testing.T) {
	c := newController(t, true)
	h := newHarness(t, c, nil)
	h.run(t)
	c.handshake(t)

	c.send(t, protocol.Encode(protocol.SetTrack{Left: 1.5, Right: -2.0}))
	msg, ok := h.router.Recv(context.Background(), time.Second)
	require.True(t, ok)
	assert.Equal(t, protocol.SetTrack{Left: 1.5, Right: -2.0}, msg)

	c.send(t, []byte{1, 99})
	c.send(t, []byte{7, 10})
	c.send(t, protocol.Encode(protocol.Pong{}))
	c.send(t, protocol.Encode(protocol.SetName{Name: "Striker"}))
	c.send(t, protocol.Encode(protocol.SetLedColor{Color: "lime"}))
	c.send(t, protocol.Encode(protocol.Kick{}))

	msg, ok = h.router.Recv(context.Background(), time.Second)
	require.True(t, ok)
	assert.Equal(t, protocol.Kick{}, msg, "ignored and local messages must not reach the router")

	assert.Equal(t, "Striker", h.status.Name())
	assert.Equal(t, "lime", h.status.ColorLabel())
	left, _ := h.hw.LEDs()
	assert.Equal(t, robot.LEDGreen, left)
}

func TestSession_SafetyStopAndDisconnect(t *testing.T) {
	c := newController(t, true)
	h := newHarness(t, c, func(cfg *Config) {
		cfg.StopTimeout = 50 * time.Millisecond
		cfg.DisconnectTimeout = 300 * time.Millisecond
	})
	done := h.run(t)
	c.handshake(t)

	// Silence: exactly one safety stop, then Reconnecting.
	msg, ok := h.router.Recv(context.Background(), time.Second)
	require.True(t, ok)
	assert.Equal(t, protocol.SetTrack{}, msg)
	require.Eventually(t, func() bool { return h.states.last() == robot.Reconnecting }, time.Second, time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, h.router.Len(), "safety stop is sent once per silence")

	// The controller answers: back to Connected.
	c.send(t, protocol.Encode(protocol.Pong{}))
	require.Eventually(t, func() bool { return h.states.last() == robot.Connected }, time.Second, time.Millisecond)
	contact := time.Now()

	// Silence again until the disconnect timeout ends the run.
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrDisconnected)
		assert.True(t, time.Since(contact) >= 250*time.Millisecond, "disconnected too early")
	case <-time.After(2 * time.Second):
		t.Fatal("run did not end on disconnect")
	}

	assert.Equal(t, robot.Disconnected, h.status.ConnectionState())
	msg, ok = h.router.TryRecv()
	require.True(t, ok, "second silence forwards another safety stop")
	assert.Equal(t, protocol.SetTrack{}, msg)
	assert.Equal(t, []robot.ConnectionState{
		robot.Connecting, robot.Connected, robot.Reconnecting, robot.Connected, robot.Reconnecting, robot.Disconnected,
	}, h.states.all())
}

func TestSession_Telemetry(t *testing.T) {
	c := newController(t, true)
	h := newHarness(t, c, nil)

	var mu sync.Mutex
	var reported []float32
	h.actor.cfg.OnTelemetry = func(_ Color, power float32) {
		mu.Lock()
		reported = append(reported, power)
		mu.Unlock()
	}

	h.run(t)
	c.handshake(t)

	require.True(t, h.actor.Inbox().Offer(Color{R: 1, G: 2, B: 3}))

	rgb, err := protocol.DecodeTelemetry(c.read(t, false))
	require.NoError(t, err)
	assert.Equal(t, protocol.RGB{R: 1, G: 2, B: 3}, rgb)

	power, err := protocol.DecodeTelemetry(c.read(t, false))
	require.NoError(t, err)
	require.IsType(t, protocol.Power{}, power)
	assert.InDelta(t, 0.5, power.(protocol.Power).Fraction, 1e-6)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reported, 1)
	assert.InDelta(t, 0.5, reported[0], 1e-6)
}

func TestSession_PowerErrorEndsRun(t *testing.T) {
	c := newController(t, true)
	h := newHarness(t, c, nil)
	done := h.run(t)
	c.handshake(t)

	h.hw.FailPower(errors.New("no battery"))
	require.True(t, h.actor.Inbox().Offer(Color{}))

	select {
	case err := <-done:
		assert.ErrorContains(t, err, "no battery")
	case <-time.After(time.Second):
		t.Fatal("run did not fail")
	}
}

func TestSession_Stop(t *testing.T) {
	c := newController(t, true)
	h := newHarness(t, c, nil)
	done := h.run(t)
	c.handshake(t)

	require.True(t, h.actor.Inbox().Offer(Stop{}))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}
}

func TestStart_RediscoversAfterDisconnect(t *testing.T) {
	c := newController(t, true)
	h := newHarness(t, c, func(cfg *Config) {
		cfg.StopTimeout = 20 * time.Millisecond
		cfg.DisconnectTimeout = 50 * time.Millisecond
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.actor.Start(ctx, time.Millisecond) }()

	require.Eventually(t, func() bool { return c.probes.Load() >= 2 }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		seen := h.states.all()
		connects := 0
		for _, s := range seen {
			if s == robot.Connecting {
				connects++
			}
		}
		return connects >= 2
	}, 2*time.Second, time.Millisecond)

	seen := h.states.all()
	assert.Contains(t, seen, robot.Disconnected)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
