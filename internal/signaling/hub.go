package signaling

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/room"
)

var ErrHubClosed = errors.New("signaling hub closed")

type eventKind int

const (
	eventAttach eventKind = iota
	eventFrame
	eventDetach
)

// hubEvent is everything a connection can tell the hub. Attach, frames and
// detach travel on one channel so a connection's events are handled in the
// order it produced them.
type hubEvent struct {
	kind  eventKind
	conn  *Conn
	frame Frame
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Connections int `json:"connections"`
	room.Stats
}

// Hub owns the room registry and every live connection. All state is
// touched only from Run's goroutine.
type Hub struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	registry *room.Registry
	conns    map[string]*Conn
	groups   map[string]map[string]*Conn

	events   chan hubEvent
	statsReq chan chan Stats
	done     chan struct{}
}

func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		logger:   logger,
		metrics:  m,
		conns:    make(map[string]*Conn),
		groups:   make(map[string]map[string]*Conn),
		events:   make(chan hubEvent, 256),
		statsReq: make(chan chan Stats),
		done:     make(chan struct{}),
	}
	h.registry = room.NewRegistry(h, logger, m)
	return h
}

// Run processes connection events until ctx is cancelled, then closes every
// connection with CloseGoingAway.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case ev := <-h.events:
			h.handle(ev)
		case reply := <-h.statsReq:
			reply <- h.stats()
		case <-ctx.Done():
			for _, c := range h.conns {
				c.closeWith(websocket.CloseGoingAway, "server shutting down")
			}
			h.logger.Info("signaling hub stopped", "connections", len(h.conns))
			return
		}
	}
}

// Stats asks the hub goroutine for a snapshot.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case h.statsReq <- reply:
	case <-h.done:
		return Stats{}, ErrHubClosed
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) post(ev hubEvent) bool {
	select {
	case h.events <- ev:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) attach(c *Conn) bool { return h.post(hubEvent{kind: eventAttach, conn: c}) }

func (h *Hub) deliver(c *Conn, f Frame) bool {
	return h.post(hubEvent{kind: eventFrame, conn: c, frame: f})
}

func (h *Hub) detach(c *Conn) { h.post(hubEvent{kind: eventDetach, conn: c}) }

func (h *Hub) handle(ev hubEvent) {
	c := ev.conn
	switch ev.kind {
	case eventAttach:
		h.conns[c.id] = c
		h.metrics.Inc(metrics.ConnectionsOpened)
		h.metrics.SetGauge(metrics.GaugeConnections, int64(len(h.conns)))
		h.logger.Info("signaling client connected", "conn_id", c.id, "connections", len(h.conns))
		h.Emit(c.id, EventConnected, c.id)

	case eventDetach:
		if _, ok := h.conns[c.id]; !ok {
			return
		}
		for _, members := range h.groups {
			delete(members, c.id)
		}
		h.registry.Disconnect(c.id)
		delete(h.conns, c.id)
		h.pruneGroups()
		c.closeWith(websocket.CloseNormalClosure, "")
		h.metrics.Inc(metrics.ConnectionsClosed)
		h.metrics.SetGauge(metrics.GaugeConnections, int64(len(h.conns)))
		h.logger.Info("signaling client disconnected", "conn_id", c.id, "connections", len(h.conns))

	case eventFrame:
		if _, ok := h.conns[c.id]; !ok {
			return
		}
		h.dispatch(c, ev.frame)
	}
}

func (h *Hub) dispatch(c *Conn, f Frame) {
	switch f.Event {
	case EventRegister:
		h.registry.Register(c.id, f.String(0), f.String(1))
	case EventSignal:
		h.registry.Signal(c.id, f.String(0), f.String(1), f.Raw(2))
	case EventToggleVideo:
		h.registry.ToggleVideo(c.id, f.Bool(0))
	default:
		h.logger.Debug("ignoring unknown signaling event", "conn_id", c.id, "event", f.Event)
	}
}

func (h *Hub) pruneGroups() {
	for id, members := range h.groups {
		if len(members) == 0 {
			delete(h.groups, id)
		}
	}
}

func (h *Hub) stats() Stats {
	return Stats{Connections: len(h.conns), Stats: h.registry.Stats()}
}

// The methods below implement room.Transport. They run on the hub goroutine.

func (h *Hub) Join(connID, roomID string) {
	c, ok := h.conns[connID]
	if !ok {
		return
	}
	members := h.groups[roomID]
	if members == nil {
		members = make(map[string]*Conn)
		h.groups[roomID] = members
	}
	members[connID] = c
}

func (h *Hub) Leave(connID, roomID string) {
	members, ok := h.groups[roomID]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.groups, roomID)
	}
}

func (h *Hub) Emit(connID, event string, args ...any) {
	c, ok := h.conns[connID]
	if !ok {
		return
	}
	if frame, ok := h.encode(event, args); ok {
		c.enqueue(frame)
	}
}

func (h *Hub) BroadcastExcept(roomID, exceptConnID, event string, args ...any) {
	members := h.groups[roomID]
	if len(members) == 0 {
		return
	}
	frame, ok := h.encode(event, args)
	if !ok {
		return
	}
	for id, c := range members {
		if id != exceptConnID {
			c.enqueue(frame)
		}
	}
}

func (h *Hub) Broadcast(roomID, event string, args ...any) {
	h.BroadcastExcept(roomID, "", event, args...)
}

func (h *Hub) encode(event string, args []any) ([]byte, bool) {
	frame, err := EncodeFrame(event, args...)
	if err != nil {
		h.logger.Error("failed to encode signaling frame", "event", event, "err", err)
		return nil, false
	}
	return frame, true
}
