package room

import "encoding/json"

// DefaultID is the room a peer lands in when it registers without one.
const DefaultID = "default"

// Outbound event names.
const (
	EventIntroduction     = "introduction"
	EventNewUserConnected = "newUserConnected"
	EventSignal           = "signal"
	EventUserToggledVideo = "user-toggled-video"
	EventUserDisconnected = "userDisconnected"
)

// Transport delivers events to connections and maintains the broadcast
// groups rooms are mirrored into. Implementations must not block.
type Transport interface {
	Join(connID, roomID string)
	Leave(connID, roomID string)
	Emit(connID, event string, args ...any)
	BroadcastExcept(roomID, exceptConnID, event string, args ...any)
	Broadcast(roomID, event string, args ...any)
}

// PeerInfo is one member as it appears in an introduction.
type PeerInfo struct {
	Username       string `json:"username"`
	IsVideoEnabled bool   `json:"isVideoEnabled"`
}

// NewUser is the newUserConnected payload.
type NewUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// VideoToggled is the user-toggled-video payload.
type VideoToggled struct {
	ID        string `json:"id"`
	IsEnabled bool   `json:"isEnabled"`
}

// Payload is an opaque signaling message. The relay forwards it unchanged.
type Payload = json.RawMessage

type peer struct {
	username     string
	videoEnabled bool
}

type room struct {
	id      string
	members map[string]*peer
}

func newRoom(id string) *room {
	return &room{id: id, members: make(map[string]*peer)}
}

// snapshot copies the member map for an introduction.
func (r *room) snapshot() map[string]PeerInfo {
	out := make(map[string]PeerInfo, len(r.members))
	for id, p := range r.members {
		out[id] = PeerInfo{Username: p.username, IsVideoEnabled: p.videoEnabled}
	}
	return out
}

// NormalizeID maps an empty room id to DefaultID.
func NormalizeID(roomID string) string {
	if roomID == "" {
		return DefaultID
	}
	return roomID
}
