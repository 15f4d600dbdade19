// Package signaling carries room events between browsers and the room
// registry over WebSocket.
//
// Every frame is a JSON text message of the form
//
//	{"event": "<name>", "args": [ ... ]}
//
// with positional args. A Hub owns the registry and processes every
// connection's events on a single goroutine.
package signaling
