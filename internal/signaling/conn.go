package signaling

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/ratelimit"
)

const wsWriteWait = 1 * time.Second

type connLimits struct {
	idleTimeout     time.Duration
	pingInterval    time.Duration
	maxMessageBytes int64
}

// Conn is one signaling socket. Its read pump feeds the hub; its write pump
// drains the send queue. Nothing else touches the websocket.
type Conn struct {
	id      string
	ws      *websocket.Conn
	logger  *slog.Logger
	metrics *metrics.Metrics
	limits  connLimits
	limiter *ratelimit.TokenBucket

	send chan []byte

	closeOnce   sync.Once
	closing     chan struct{}
	closeCode   int
	closeReason string
}

func newConn(id string, ws *websocket.Conn, queueSize int, limits connLimits, limiter *ratelimit.TokenBucket, logger *slog.Logger, m *metrics.Metrics) *Conn {
	return &Conn{
		id:      id,
		ws:      ws,
		logger:  logger.With("conn_id", id),
		metrics: m,
		limits:  limits,
		limiter: limiter,
		send:    make(chan []byte, queueSize),
		closing: make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

// enqueue hands a frame to the write pump. A full queue drops the frame.
func (c *Conn) enqueue(frame []byte) bool {
	select {
	case <-c.closing:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.metrics.Inc(metrics.SendQueueOverflow)
		c.logger.Warn("send queue full, dropping frame")
		return false
	}
}

// closeWith asks the write pump to send a close frame and tear the socket
// down. Only the first call has any effect.
func (c *Conn) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.closing)
	})
}

func (c *Conn) readPump(h *Hub) {
	defer h.detach(c)

	c.ws.SetReadLimit(c.limits.maxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.limits.idleTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.limits.idleTimeout))
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				// gorilla has already sent CloseMessageTooBig.
				c.closeWith(websocket.CloseMessageTooBig, "message too large")
			case isTimeout(err):
				c.closeWith(websocket.CloseNormalClosure, "idle timeout")
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				c.logger.Debug("signaling read failed", "err", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.limits.idleTimeout))

		// Rate limit after reading so the close frame is not lost to a TCP
		// reset over unread data.
		if !c.limiter.Allow(1) {
			c.metrics.Inc(metrics.RateLimited)
			c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			c.closeWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}

		frame, err := ParseFrame(data)
		if err != nil {
			c.metrics.Inc(metrics.MessagesMalformed)
			c.logger.Debug("dropping malformed frame", "err", err)
			continue
		}
		if frame.Event == EventDisconnect {
			c.closeWith(websocket.CloseNormalClosure, "")
			return
		}
		if !h.deliver(c, frame) {
			return
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.limits.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("signaling write failed", "err", err)
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-c.closing:
			writeClose(c.ws, c.closeCode, c.closeReason)
			return
		}
	}
}

func writeClose(ws *websocket.Conn, code int, reason string) {
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
