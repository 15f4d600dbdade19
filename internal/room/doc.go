// Package room is the signaling relay's registry of rooms and the peers
// registered in them.
//
// A Registry is not safe for concurrent use. The signaling hub owns one and
// calls it from a single goroutine, so every operation runs to completion,
// including its outbound sends, before the next event is handled.
package room
