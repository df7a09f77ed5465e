package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/hashicorp/go-hclog"

	"github.com/gwillem/kickbot/pkg/actor"
	"github.com/gwillem/kickbot/pkg/driving"
	"github.com/gwillem/kickbot/pkg/hardware"
	"github.com/gwillem/kickbot/pkg/monitor"
	"github.com/gwillem/kickbot/pkg/network"
	"github.com/gwillem/kickbot/pkg/pid"
	"github.com/gwillem/kickbot/pkg/protocol"
	"github.com/gwillem/kickbot/pkg/robot"
	"github.com/gwillem/kickbot/pkg/router"
)

type RunCommand struct {
	Backend string `long:"backend" choice:"ev3" choice:"bridge" choice:"sim" description:"Override the configured hardware backend"`
	Monitor string `long:"monitor" description:"Serve the websocket status feed on this address"`
}

func (c *RunCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if c.Backend != "" {
		cfg.Hardware.Backend = c.Backend
	}
	if c.Monitor != "" {
		cfg.Monitor.Addr = c.Monitor
	}
	l := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hw, err := hardware.Open(cfg.Hardware, l.Named("hardware"))
	if err != nil {
		return err
	}
	defer hw.Close()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	status, err := robot.NewStatus(cfg.DataDir, hw, hw)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	l.Info("Robot identity", "name", status.Name(), "color", status.ColorLabel())

	return runActors(ctx, cfg, hw, status, l)
}

// runActors wires the actors together and runs each under supervision until
// ctx ends.
func runActors(ctx context.Context, cfg *robot.Config, hw robot.Hardware, status *robot.Status, l hclog.Logger) error {
	var hub *monitor.Hub
	if cfg.Monitor.Addr != "" {
		hub = monitor.New(l.Named("monitor"))
	}

	dcfg := driving.DefaultConfig()
	pcfg := pid.DefaultConfig()
	ncfg := networkConfig(cfg.Network)
	if hub != nil {
		dcfg.Observe = hub.Drive
		pcfg.Observe = hub.Pid
		ncfg.OnState = hub.State
		ncfg.OnTelemetry = hub.Telemetry
	}

	routerInbox := actor.NewMailbox[protocol.ControllerMessage](router.InboxSize)
	drv := driving.New(hw, dcfg, l.Named("driving"))
	netw := network.New(status, routerInbox, ncfg, l.Named("network"))
	follower := pid.New(hw, robot.NewCalibrationStore(cfg.DataDir), drv.Inbox(), netw.Inbox(), pcfg, l.Named("pid"))
	rt := router.NewWithInbox(routerInbox, drv.Inbox(), follower.Inbox(), l.Named("router"))

	starters := map[string]func(context.Context) error{
		"driving": func(ctx context.Context) error { return drv.Start(ctx, cfg.RestartDelay) },
		"pid":     func(ctx context.Context) error { return follower.Start(ctx, cfg.RestartDelay) },
		"network": func(ctx context.Context) error { return netw.Start(ctx, cfg.RestartDelay) },
		"router":  func(ctx context.Context) error { return rt.Start(ctx, cfg.RestartDelay) },
	}
	if hub != nil {
		starters["monitor"] = func(ctx context.Context) error { return hub.Serve(ctx, cfg.Monitor.Addr) }
	}

	var wg sync.WaitGroup
	for name, start := range starters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				l.Error("Stopped", "actor", name, "error", err)
			}
		}()
	}
	l.Info("Robot running", "backend", cfg.Hardware.Backend, "version", ncfg.Version)

	<-ctx.Done()
	wg.Wait()
	l.Info("Robot stopped")
	return nil
}

func networkConfig(n robot.NetworkConfig) network.Config {
	c := network.DefaultConfig()
	if n.BroadcastAddr != "" {
		c.BroadcastAddr = n.BroadcastAddr
	}
	if n.DiscoveryPort != 0 {
		c.DiscoveryPort = n.DiscoveryPort
	}
	if n.DiscoveryTimeout > 0 {
		c.DiscoveryTimeout = n.DiscoveryTimeout
	}
	if n.PingTimeout > 0 {
		c.PingTimeout = n.PingTimeout
	}
	if n.StopTimeout > 0 {
		c.StopTimeout = n.StopTimeout
	}
	if n.DisconnectTimeout > 0 {
		c.DisconnectTimeout = n.DisconnectTimeout
	}
	return c
}
