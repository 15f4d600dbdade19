// Package probe drives the signaling relay the way a browser would: it
// connects two clients, registers them in one room and negotiates a real
// WebRTC DataChannel between them using only relayed signals.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/signaling"
)

const writeWait = time.Second

var ErrClosed = errors.New("probe: connection closed")

// Client is one signaling connection.
type Client struct {
	ws *websocket.Conn
	id string

	writeMu sync.Mutex

	frames chan signaling.Frame
	done   chan struct{}
	err    error
}

// Dial connects to the relay's WebSocket endpoint and waits for the
// connection id.
func Dial(ctx context.Context, url string, header http.Header) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Client{
		ws:     ws,
		frames: make(chan signaling.Frame, 64),
		done:   make(chan struct{}),
	}
	go c.readLoop()

	hello, err := c.Next(ctx)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	if hello.Event != signaling.EventConnected || hello.String(0) == "" {
		_ = c.Close()
		return nil, fmt.Errorf("probe: expected %q frame, got %q", signaling.EventConnected, hello.Event)
	}
	c.id = hello.String(0)
	return c, nil
}

// ID is the connection id the relay assigned.
func (c *Client) ID() string { return c.id }

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.err = err
			return
		}
		f, err := signaling.ParseFrame(data)
		if err != nil {
			continue
		}
		c.frames <- f
	}
}

// Send writes one event. It is safe for concurrent use.
func (c *Client) Send(event string, args ...any) error {
	b, err := signaling.EncodeFrame(event, args...)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

// Next returns the next frame from the relay.
func (c *Client) Next(ctx context.Context) (signaling.Frame, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.done:
		select {
		case f := <-c.frames:
			return f, nil
		default:
		}
		if c.err != nil {
			return signaling.Frame{}, fmt.Errorf("%w: %v", ErrClosed, c.err)
		}
		return signaling.Frame{}, ErrClosed
	case <-ctx.Done():
		return signaling.Frame{}, ctx.Err()
	}
}

// Expect skips frames until one named event arrives.
func (c *Client) Expect(ctx context.Context, event string) (signaling.Frame, error) {
	for {
		f, err := c.Next(ctx)
		if err != nil {
			return signaling.Frame{}, fmt.Errorf("waiting for %q: %w", event, err)
		}
		if f.Event == event {
			return f, nil
		}
	}
}

// Close sends a normal close frame and drops the socket.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	return c.ws.Close()
}
