package room

import (
	"log/slog"
	"sort"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/metrics"
)

// Registry maps room ids to rooms and connections to the room they
// registered in.
type Registry struct {
	transport Transport
	logger    *slog.Logger
	metrics   *metrics.Metrics

	rooms    map[string]*room
	sessions map[string]string // connID -> roomID
}

// NewRegistry returns an empty registry. logger and m may be nil.
func NewRegistry(transport Transport, logger *slog.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		transport: transport,
		logger:    logger,
		metrics:   m,
		rooms:     make(map[string]*room),
		sessions:  make(map[string]string),
	}
}

// Register places connID in roomID (DefaultID when empty), sends it an
// introduction listing every member including itself and announces it to
// the rest of the room.
//
// A connection registering again into a different room leaves its previous
// room first, exactly as if it had disconnected from it.
func (r *Registry) Register(connID, username, roomID string) {
	roomID = NormalizeID(roomID)

	if prev, ok := r.sessions[connID]; ok {
		r.metrics.Inc(metrics.PeersReregistered)
		if prev != roomID {
			r.leave(connID, prev)
			r.transport.Leave(connID, prev)
		}
	}

	r.transport.Join(connID, roomID)
	rm, ok := r.rooms[roomID]
	if !ok {
		rm = newRoom(roomID)
		r.rooms[roomID] = rm
		r.metrics.Inc(metrics.RoomsCreated)
	}
	rm.members[connID] = &peer{username: username}
	r.sessions[connID] = roomID
	r.metrics.Inc(metrics.PeersRegistered)
	r.updateGauges()

	r.logger.Debug("peer registered", "conn_id", connID, "room_id", roomID, "members", len(rm.members))

	r.transport.Emit(connID, EventIntroduction, rm.snapshot())
	r.transport.BroadcastExcept(roomID, connID, EventNewUserConnected, NewUser{ID: connID, Username: username})
}

// Signal forwards payload to the member `to` of the sender's room. Signals
// from unregistered connections or to peers outside the room are dropped.
// from is passed through as given.
func (r *Registry) Signal(connID, to, from string, payload Payload) {
	roomID, ok := r.sessions[connID]
	if !ok {
		r.metrics.Inc(metrics.SignalsDropped)
		r.logger.Debug("dropping signal from unregistered connection", "conn_id", connID, "to", to)
		return
	}
	if _, ok := r.rooms[roomID].members[to]; !ok {
		r.metrics.Inc(metrics.SignalsDropped)
		r.logger.Debug("dropping signal to peer outside room", "conn_id", connID, "room_id", roomID, "to", to)
		return
	}

	r.metrics.Inc(metrics.SignalsRelayed)
	r.transport.Emit(to, EventSignal, to, from, payload)
}

// ToggleVideo records connID's video state and tells the other members.
func (r *Registry) ToggleVideo(connID string, isEnabled bool) {
	roomID, ok := r.sessions[connID]
	if !ok {
		return
	}
	p, ok := r.rooms[roomID].members[connID]
	if !ok {
		return
	}

	p.videoEnabled = isEnabled
	r.metrics.Inc(metrics.VideoToggles)
	r.transport.BroadcastExcept(roomID, connID, EventUserToggledVideo, VideoToggled{ID: connID, IsEnabled: isEnabled})
}

// Disconnect removes connID from its room and forgets it. Calling it for an
// unknown connection does nothing.
func (r *Registry) Disconnect(connID string) {
	roomID, ok := r.sessions[connID]
	if !ok {
		return
	}
	r.leave(connID, roomID)
}

// leave drops connID from roomID, deleting the room when it empties and
// otherwise notifying whoever remains.
func (r *Registry) leave(connID, roomID string) {
	delete(r.sessions, connID)
	defer r.updateGauges()

	rm, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(rm.members, connID)
	if len(rm.members) == 0 {
		delete(r.rooms, roomID)
		r.metrics.Inc(metrics.RoomsDeleted)
		r.logger.Debug("room closed", "room_id", roomID)
		return
	}
	r.transport.BroadcastExcept(roomID, connID, EventUserDisconnected, connID)
}

func (r *Registry) updateGauges() {
	r.metrics.SetGauge(metrics.GaugeRooms, int64(len(r.rooms)))
	r.metrics.SetGauge(metrics.GaugePeers, int64(len(r.sessions)))
}

// RoomOf returns the room connID is registered in.
func (r *Registry) RoomOf(connID string) (string, bool) {
	roomID, ok := r.sessions[connID]
	return roomID, ok
}

// Members returns a copy of a room's member map, or nil if it does not exist.
func (r *Registry) Members(roomID string) map[string]PeerInfo {
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	return rm.snapshot()
}

// Stats summarizes the registry.
type Stats struct {
	Rooms int         `json:"rooms"`
	Peers int         `json:"peers"`
	Sizes []RoomStats `json:"roomSizes"`
}

type RoomStats struct {
	ID      string `json:"id"`
	Members int    `json:"members"`
}

// Stats returns room and peer counts, rooms ordered by id.
func (r *Registry) Stats() Stats {
	s := Stats{
		Rooms: len(r.rooms),
		Peers: len(r.sessions),
		Sizes: make([]RoomStats, 0, len(r.rooms)),
	}
	for id, rm := range r.rooms {
		s.Sizes = append(s.Sizes, RoomStats{ID: id, Members: len(rm.members)})
	}
	sort.Slice(s.Sizes, func(i, j int) bool { return s.Sizes[i].ID < s.Sizes[j].ID })
	return s
}
