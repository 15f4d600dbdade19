package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Inbound event names.
const (
	EventRegister    = "register"
	EventSignal      = "signal"
	EventToggleVideo = "user-toggle-video"
	// EventDisconnect lets a client leave without dropping the socket first.
	EventDisconnect = "disconnect"
)

// EventConnected is sent by the relay once per connection, carrying the
// connection id peers use to address each other.
const EventConnected = "connected"

var (
	ErrNotJSONObject = errors.New("frame is not a JSON object")
	ErrMissingEvent  = errors.New("frame has no event name")
)

// Frame is one decoded wire message. Args stay raw until a handler asks for
// them, so signal payloads are forwarded without being decoded.
type Frame struct {
	Event string            `json:"event"`
	Args  []json.RawMessage `json:"args,omitempty"`
}

// ParseFrame decodes a text frame.
func ParseFrame(data []byte) (Frame, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Frame{}, ErrNotJSONObject
	}
	var f Frame
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return Frame{}, err
	}
	if f.Event == "" {
		return Frame{}, ErrMissingEvent
	}
	return f, nil
}

type outFrame struct {
	Event string `json:"event"`
	Args  []any  `json:"args"`
}

// EncodeFrame builds a text frame. A nil args list encodes as [].
func EncodeFrame(event string, args ...any) ([]byte, error) {
	if args == nil {
		args = []any{}
	}
	return json.Marshal(outFrame{Event: event, Args: args})
}

// String returns arg i as a string, or "" when it is absent or not a string.
func (f Frame) String(i int) string {
	var s string
	if i < len(f.Args) {
		_ = json.Unmarshal(f.Args[i], &s)
	}
	return s
}

// Bool returns arg i as a bool, or false when it is absent or not a bool.
func (f Frame) Bool(i int) bool {
	var b bool
	if i < len(f.Args) {
		_ = json.Unmarshal(f.Args[i], &b)
	}
	return b
}

// Raw returns arg i undecoded, or nil when absent. nil re-encodes as null.
func (f Frame) Raw(i int) json.RawMessage {
	if i < len(f.Args) {
		return f.Args[i]
	}
	return nil
}
