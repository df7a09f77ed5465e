// Package monitor serves a live websocket feed of the robot's connection
// state, sensor telemetry and motor outputs.
//
// The hooks State, Telemetry, Drive and Pid match the observer callbacks of
// the network, driving and pid actors. They never block: a client that falls
// behind loses events.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/gwillem/kickbot/pkg/driving"
	"github.com/gwillem/kickbot/pkg/network"
	"github.com/gwillem/kickbot/pkg/pid"
	"github.com/gwillem/kickbot/pkg/robot"
)

// Event kinds.
const (
	KindState     = "state"
	KindTelemetry = "telemetry"
	KindDrive     = "drive"
	KindPid       = "pid"
)

const (
	clientBuffer = 64
	writeTimeout = time.Second
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// Event is one message on the feed. Only the field matching Kind is set.
type Event struct {
	Kind      string     `json:"kind"`
	Time      time.Time  `json:"time"`
	State     string     `json:"state,omitempty"`
	Telemetry *Telemetry `json:"telemetry,omitempty"`
	Drive     *Drive     `json:"drive,omitempty"`
	Pid       *Pid       `json:"pid,omitempty"`
}

// Telemetry is a color reading with the battery charge.
type Telemetry struct {
	R     uint8   `json:"r"`
	G     uint8   `json:"g"`
	B     uint8   `json:"b"`
	Power float32 `json:"power"`
}

// Drive is a pair of wheel duty cycles.
type Drive struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

// Pid is one line follower step.
type Pid struct {
	Error    float64 `json:"error"`
	Integral float64 `json:"integral"`
	Output   float64 `json:"output"`
	Speed    float64 `json:"speed"`
	Recover  bool    `json:"recover,omitempty"`
}

// Hub fans events out to websocket clients and keeps the latest event of
// each kind for new clients and the /status endpoint.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan Event
	latest  map[string]Event
	l       hclog.Logger
	now     func() time.Time
}

// New returns an empty hub.
func New(l hclog.Logger) *Hub {
	if l == nil {
		l = hclog.NewNullLogger()
	}
	return &Hub{
		clients: map[*websocket.Conn]chan Event{},
		latest:  map[string]Event{},
		l:       l,
		now:     time.Now,
	}
}

// State publishes a connection state change.
func (h *Hub) State(s robot.ConnectionState) {
	h.Publish(Event{Kind: KindState, State: s.String()})
}

// Telemetry publishes a color reading sent to the controller.
func (h *Hub) Telemetry(c network.Color, power float32) {
	h.Publish(Event{Kind: KindTelemetry, Telemetry: &Telemetry{R: c.R, G: c.G, B: c.B, Power: power}})
}

// Drive publishes the duty cycles written to the wheels.
func (h *Hub) Drive(o driving.Output) {
	h.Publish(Event{Kind: KindDrive, Drive: &Drive{Left: o.Left, Right: o.Right}})
}

// Pid publishes a line follower step.
func (h *Hub) Pid(s pid.Step) {
	h.Publish(Event{Kind: KindPid, Pid: &Pid{
		Error:    s.Error,
		Integral: s.Integral,
		Output:   s.Output,
		Speed:    s.Speed,
		Recover:  s.Recover,
	}})
}

// Publish stamps e and queues it for every client.
func (h *Hub) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = h.now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest[e.Kind] = e
	for _, ch := range h.clients {
		select {
		case ch <- e:
		default:
		}
	}
}

// Clients returns the number of connected websocket clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Snapshot returns the latest event of each kind.
func (h *Hub) Snapshot() map[string]Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]Event, len(h.latest))
	for k, e := range h.latest {
		out[k] = e
	}
	return out
}

// Handler serves the feed on /ws and the latest events on /status.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)
	mux.HandleFunc("/status", h.handleStatus)
	return mux
}

// Serve listens on addr until ctx ends.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: h.Handler()}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	h.l.Info("Monitor listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

func (h *Hub) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.Snapshot()); err != nil {
		h.l.Debug("Failed to write status", "error", err)
	}
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.l.Debug("Websocket upgrade failed", "error", err)
		return
	}

	ch := make(chan Event, clientBuffer)
	h.mu.Lock()
	for _, kind := range []string{KindState, KindTelemetry, KindDrive, KindPid} {
		if e, ok := h.latest[kind]; ok {
			ch <- e
		}
	}
	h.clients[conn] = ch
	h.mu.Unlock()
	h.l.Debug("Monitor client connected", "remote", r.RemoteAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		if err := conn.Close(); err != nil {
			h.l.Debug("Failed to close websocket", "error", err)
		}
		h.l.Debug("Monitor client gone", "remote", r.RemoteAddr)
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case e := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
	}
}
