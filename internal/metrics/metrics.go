// Package metrics holds the relay's in-process counters and gauges.
package metrics

import "sync"

// Counter names.
const (
	ConnectionsOpened   = "connections_opened"
	ConnectionsClosed   = "connections_closed"
	ConnectionsRejected = "connections_rejected"
	PeersRegistered     = "peers_registered"
	PeersReregistered   = "peers_reregistered"
	SignalsRelayed      = "signals_relayed"
	SignalsDropped      = "signals_dropped"
	VideoToggles        = "video_toggles"
	RoomsCreated        = "rooms_created"
	RoomsDeleted        = "rooms_deleted"
	MessagesMalformed   = "messages_malformed"
	RateLimited         = "rate_limited"
	SendQueueOverflow   = "send_queue_overflow"
)

// Gauge names.
const (
	GaugeConnections = "connections"
	GaugeRooms       = "rooms"
	GaugePeers       = "peers"
)

// Metrics is a concurrency-safe registry of named counters and gauges. A nil
// *Metrics discards everything so callers don't have to guard.
type Metrics struct {
	mu       sync.Mutex
	counters map[string]uint64
	gauges   map[string]int64
}

func New() *Metrics {
	return &Metrics{
		counters: make(map[string]uint64),
		gauges:   make(map[string]int64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.counters[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

func (m *Metrics) SetGauge(name string, v int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.gauges[name] = v
	m.mu.Unlock()
}

func (m *Metrics) Gauge(name string) int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[name]
}

// Snapshot copies the counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.counters {
		out[k] = v
	}
	return out
}

// GaugeSnapshot copies the gauges.
func (m *Metrics) GaugeSnapshot() map[string]int64 {
	out := make(map[string]int64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.gauges {
		out[k] = v
	}
	return out
}
