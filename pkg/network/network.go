// Package network implements the actor that finds a controller by UDP
// broadcast, keeps the session alive and translates datagrams into robot
// commands.
//
// A run goes through discovery, connect and a steady keepalive loop. Short
// silences stop the robot and re-probe the controller; a long silence ends the
// run with ErrDisconnected so the supervisor starts discovery again.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/gwillem/kickbot"
	"github.com/gwillem/kickbot/pkg/actor"
	"github.com/gwillem/kickbot/pkg/protocol"
	"github.com/gwillem/kickbot/pkg/robot"
)

// ErrDisconnected ends a run when the controller has been silent too long.
var ErrDisconnected = errors.New("controller disconnected")

// InboxSize bounds the telemetry queue.
const InboxSize = 64

// Config holds the discovery target and keepalive timing.
type Config struct {
	BroadcastAddr     string
	DiscoveryPort     int
	DiscoveryTimeout  time.Duration
	PingTimeout       time.Duration
	StopTimeout       time.Duration
	DisconnectTimeout time.Duration

	// Version is reported to the controller on connect.
	Version string

	// OnState, if set, is called on every connection state change.
	OnState func(robot.ConnectionState)
	// OnTelemetry, if set, is called with every reading sent.
	OnTelemetry func(c Color, power float32)
}

// DefaultConfig returns the timing used on the field.
func DefaultConfig() Config {
	return Config{
		BroadcastAddr:     "255.255.255.255",
		DiscoveryPort:     protocol.DiscoveryPort,
		DiscoveryTimeout:  5 * time.Second,
		PingTimeout:       100 * time.Millisecond,
		StopTimeout:       300 * time.Millisecond,
		DisconnectTimeout: 5000 * time.Millisecond,
		Version:           kickbot.Version,
	}
}

// Actor owns the socket, the connection state and the robot identity.
type Actor struct {
	status *robot.Status
	router *actor.Mailbox[protocol.ControllerMessage]
	inbox  *actor.Mailbox[Command]
	cfg    Config
	l      hclog.Logger
}

// New returns a network actor forwarding decoded commands to router.
func New(status *robot.Status, router *actor.Mailbox[protocol.ControllerMessage], cfg Config, l hclog.Logger) *Actor {
	if l == nil {
		l = hclog.NewNullLogger()
	}
	return &Actor{
		status: status,
		router: router,
		inbox:  actor.NewMailbox[Command](InboxSize),
		cfg:    cfg,
		l:      l,
	}
}

// Inbox returns the actor's command queue.
func (a *Actor) Inbox() *actor.Mailbox[Command] {
	return a.inbox
}

// Start runs the actor under supervision until it is stopped or ctx ends.
func (a *Actor) Start(ctx context.Context, restartDelay time.Duration) error {
	defer a.inbox.Close()
	return actor.Supervise(ctx, "network", a.l, restartDelay, a.Run)
}

// Run discovers a controller and serves the session until Stop, a socket
// error or a disconnect.
func (a *Actor) Run(ctx context.Context) error {
	a.setState(robot.Disconnected)
	server, err := a.discover(ctx)
	if err != nil {
		return err
	}
	a.setState(robot.Connecting)

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return fmt.Errorf("bind session socket: %w", err)
	}
	defer conn.Close()
	defer context.AfterFunc(ctx, func() { conn.Close() })()

	if _, err := conn.WriteToUDP(protocol.KeepaliveProbe(), server); err != nil {
		return fmt.Errorf("probe controller: %w", err)
	}
	lastContact := time.Now()
	a.setState(robot.Connected)
	a.l.Info("Connected", "controller", server.String())

	hello := []protocol.Telemetry{
		protocol.VersionInfo{Version: a.cfg.Version},
		protocol.NameInfo{Name: a.status.Name()},
		protocol.ColorLabel{Label: a.status.ColorLabel()},
		protocol.AvailableColors{Labels: robot.AvailableColors()},
	}
	for _, t := range hello {
		if err := send(conn, server, t); err != nil {
			return err
		}
	}

	var stopped, halted bool
	buf := make([]byte, protocol.MaxMessageSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := conn.SetReadDeadline(time.Now().Add(a.cfg.PingTimeout)); err != nil {
			return fmt.Errorf("set deadline: %w", err)
		}
		n, _, rerr := conn.ReadFromUDP(buf)

		if rerr == nil {
			lastContact = time.Now()
			halted = false
			if stopped {
				stopped = false
				a.setState(robot.Connected)
			}
			if err := a.dispatch(ctx, buf[:n]); err != nil {
				return err
			}
		} else {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			elapsed := time.Since(lastContact)
			if elapsed > a.cfg.DisconnectTimeout {
				a.setState(robot.Disconnected)
				return fmt.Errorf("%w: silent for %v", ErrDisconnected, elapsed.Round(time.Millisecond))
			}
			if elapsed > a.cfg.StopTimeout && !halted {
				a.l.Warn("Controller silent, stopping", "elapsed", elapsed.Round(time.Millisecond))
				if err := a.router.Send(ctx, protocol.SetTrack{}); err != nil {
					return fmt.Errorf("forward safety stop: %w", err)
				}
				a.setState(robot.Reconnecting)
				halted = true
			}
			if _, err := conn.WriteToUDP(protocol.KeepaliveProbe(), server); err != nil {
				return fmt.Errorf("probe controller: %w", err)
			}
			stopped = true
		}

		if cmd, ok := a.inbox.TryRecv(); ok {
			switch c := cmd.(type) {
			case Color:
				if err := a.sendColor(conn, server, c); err != nil {
					return err
				}
			case Stop:
				return nil
			}
		}
	}
}

// discover broadcasts probes until a controller answers with its session
// port. It only fails on socket errors or cancellation.
func (a *Actor) discover(ctx context.Context) (*net.UDPAddr, error) {
	target := net.JoinHostPort(a.cfg.BroadcastAddr, strconv.Itoa(a.cfg.DiscoveryPort))
	dst, err := net.ResolveUDPAddr("udp4", target)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", target, err)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("bind discovery socket: %w", err)
	}
	defer conn.Close()
	defer context.AfterFunc(ctx, func() { conn.Close() })()

	a.l.Info("Discovering controller", "target", dst.String())
	buf := make([]byte, protocol.MaxMessageSize)
	for probes := 1; ; probes++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if _, err := conn.WriteToUDP(protocol.DiscoveryProbe(), dst); err != nil {
			return nil, fmt.Errorf("send discovery probe: %w", err)
		}
		if err := conn.SetReadDeadline(time.Now().Add(a.cfg.DiscoveryTimeout)); err != nil {
			return nil, fmt.Errorf("set deadline: %w", err)
		}

		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			a.l.Trace("No discovery reply", "probes", probes)
			continue
		}
		port, err := protocol.ParseDiscoveryReply(buf[:n])
		if err != nil {
			a.l.Debug("Ignoring discovery reply", "from", from.String(), "error", err)
			continue
		}

		server := &net.UDPAddr{IP: from.IP, Port: int(port)}
		a.l.Info("Found controller", "addr", server.String(), "probes", probes)
		return server, nil
	}
}

// dispatch decodes a datagram. Identity changes are applied here; robot
// commands go to the router. Undecodable datagrams are ignored.
func (a *Actor) dispatch(ctx context.Context, b []byte) error {
	msg, err := protocol.Decode(b)
	if err != nil {
		a.l.Trace("Ignoring datagram", "error", err)
		return nil
	}

	switch m := msg.(type) {
	case protocol.Pong:
		// contact already recorded
	case protocol.SetName:
		if err := a.status.SetName(m.Name); err != nil {
			a.l.Warn("Failed to store name", "error", err)
		}
	case protocol.SetLedColor:
		if err := a.status.SetColorLabel(m.Color); err != nil {
			a.l.Warn("Failed to store color", "error", err)
		}
	default:
		if err := a.router.Send(ctx, msg); err != nil {
			return fmt.Errorf("forward %T: %w", msg, err)
		}
	}
	return nil
}

func (a *Actor) sendColor(conn *net.UDPConn, server *net.UDPAddr, c Color) error {
	if err := send(conn, server, protocol.RGB{R: c.R, G: c.G, B: c.B}); err != nil {
		return err
	}
	power, err := a.status.Power()
	if err != nil {
		return err
	}
	if a.cfg.OnTelemetry != nil {
		a.cfg.OnTelemetry(c, power)
	}
	return send(conn, server, protocol.Power{Fraction: power})
}

func (a *Actor) setState(s robot.ConnectionState) {
	if a.status.ConnectionState() == s {
		return
	}
	a.l.Debug("Connection state", "state", s.String())
	if err := a.status.SetConnectionState(s); err != nil {
		a.l.Warn("Failed to update status LED", "error", err)
	}
	if a.cfg.OnState != nil {
		a.cfg.OnState(s)
	}
}

func send(conn *net.UDPConn, to *net.UDPAddr, t protocol.Telemetry) error {
	if _, err := conn.WriteToUDP(protocol.EncodeTelemetry(t), to); err != nil {
		return fmt.Errorf("send %T: %w", t, err)
	}
	return nil
}
