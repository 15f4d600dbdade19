package signaling

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/ratelimit"
)

// Config wires the WebSocket endpoint to a running Hub.
type Config struct {
	Hub     *Hub
	Origins origin.Policy
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	IdleTimeout          time.Duration
	PingInterval         time.Duration
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendQueueSize        int
	// MaxConnections <= 0 means unlimited.
	MaxConnections int

	// Clock drives the per-connection rate limiter. Defaults to the wall clock.
	Clock ratelimit.Clock
	// NewID assigns connection ids. Defaults to random UUIDs.
	NewID func() string
}

// ConfigFrom fills the transport limits from the process configuration.
func ConfigFrom(cfg config.Config, hub *Hub, logger *slog.Logger, m *metrics.Metrics) Config {
	return Config{
		Hub:                  hub,
		Origins:              origin.Policy{Allowed: cfg.AllowedOrigins},
		Logger:               logger,
		Metrics:              m,
		IdleTimeout:          cfg.SignalingWSIdleTimeout,
		PingInterval:         cfg.SignalingWSPingInterval,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		SendQueueSize:        cfg.SignalingSendQueueSize,
		MaxConnections:       cfg.MaxConnections,
	}
}

// Server is the HTTP side of the signaling transport.
//
// Endpoints:
//   - GET /signaling : WebSocket upgrade
type Server struct {
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader
	active   atomic.Int64
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = config.DefaultSignalingWSIdleTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = config.DefaultSignalingWSPingInterval
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = config.DefaultMaxSignalingMessageBytes
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = config.DefaultSignalingSendQueueSize
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.RealClock{}
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	s := &Server{cfg: cfg, logger: cfg.Logger}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			_, ok := s.cfg.Origins.Check(r)
			return ok
		},
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /signaling", s.handleWebSocket)
}

// ActiveConnections counts sockets whose pumps are still running.
func (s *Server) ActiveConnections() int64 { return s.active.Load() }

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.cfg.Origins.Check(r); !ok {
		s.cfg.Metrics.Inc(metrics.ConnectionsRejected)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		return
	}

	if n := s.active.Add(1); s.cfg.MaxConnections > 0 && n > int64(s.cfg.MaxConnections) {
		s.active.Add(-1)
		s.cfg.Metrics.Inc(metrics.ConnectionsRejected)
		writeClose(ws, websocket.CloseTryAgainLater, "too many connections")
		_ = ws.Close()
		return
	}

	var limiter *ratelimit.TokenBucket
	if rate := int64(s.cfg.MaxMessagesPerSecond); rate > 0 {
		limiter = ratelimit.NewTokenBucket(s.cfg.Clock, rate, rate)
	}
	c := newConn(s.cfg.NewID(), ws, s.cfg.SendQueueSize, connLimits{
		idleTimeout:     s.cfg.IdleTimeout,
		pingInterval:    s.cfg.PingInterval,
		maxMessageBytes: s.cfg.MaxMessageBytes,
	}, limiter, s.logger, s.cfg.Metrics)

	if !s.cfg.Hub.attach(c) {
		s.active.Add(-1)
		writeClose(ws, websocket.CloseGoingAway, "server shutting down")
		_ = ws.Close()
		return
	}

	go c.writePump()
	go func() {
		defer s.active.Add(-1)
		c.readPump(s.cfg.Hub)
	}()
}
