package room

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/metrics"
)

type sent struct {
	to    string // connection id, or "room:<id>" for broadcasts
	event string
	args  []any
}

// recordingTransport mirrors group membership and expands broadcasts into
// per-connection deliveries so tests can assert on who received what.
type recordingTransport struct {
	groups map[string]map[string]bool
	sent   []sent
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{groups: make(map[string]map[string]bool)}
}

func (t *recordingTransport) Join(connID, roomID string) {
	if t.groups[roomID] == nil {
		t.groups[roomID] = make(map[string]bool)
	}
	t.groups[roomID][connID] = true
}

func (t *recordingTransport) Leave(connID, roomID string) {
	delete(t.groups[roomID], connID)
}

func (t *recordingTransport) Emit(connID, event string, args ...any) {
	t.sent = append(t.sent, sent{to: connID, event: event, args: args})
}

func (t *recordingTransport) BroadcastExcept(roomID, except, event string, args ...any) {
	for id := range t.groups[roomID] {
		if id != except {
			t.Emit(id, event, args...)
		}
	}
}

func (t *recordingTransport) Broadcast(roomID, event string, args ...any) {
	t.BroadcastExcept(roomID, "", event, args...)
}

// disconnect mimics the transport dropping a closed socket from every group.
func (t *recordingTransport) disconnect(connID string) {
	for _, g := range t.groups {
		delete(g, connID)
	}
}

func (t *recordingTransport) take(connID string) []sent {
	var mine, rest []sent
	for _, s := range t.sent {
		if s.to == connID {
			mine = append(mine, s)
		} else {
			rest = append(rest, s)
		}
	}
	t.sent = rest
	return mine
}

func (t *recordingTransport) reset() { t.sent = nil }

func newTestRegistry() (*Registry, *recordingTransport, *metrics.Metrics) {
	tr := newRecordingTransport()
	m := metrics.New()
	return NewRegistry(tr, nil, m), tr, m
}

func disconnect(r *Registry, tr *recordingTransport, connID string) {
	tr.disconnect(connID)
	r.Disconnect(connID)
}

func TestRegister_IntroductionIncludesSelf(t *testing.T) {
	r, tr, _ := newTestRegistry()

	r.Register("A", "alice", "room1")

	got := tr.take("A")
	if len(got) != 1 || got[0].event != EventIntroduction {
		t.Fatalf("A received %+v, want one introduction", got)
	}
	want := map[string]PeerInfo{"A": {Username: "alice", IsVideoEnabled: false}}
	if !reflect.DeepEqual(got[0].args[0], want) {
		t.Fatalf("introduction=%v, want %v", got[0].args[0], want)
	}
	if len(tr.sent) != 0 {
		t.Fatalf("unexpected extra deliveries: %+v", tr.sent)
	}
}

func TestRegister_SecondPeer(t *testing.T) {
	r, tr, _ := newTestRegistry()
	r.Register("A", "alice", "room1")
	tr.reset()

	r.Register("B", "bob", "room1")

	toB := tr.take("B")
	if len(toB) != 1 || toB[0].event != EventIntroduction {
		t.Fatalf("B received %+v, want one introduction", toB)
	}
	wantIntro := map[string]PeerInfo{
		"A": {Username: "alice"},
		"B": {Username: "bob"},
	}
	if !reflect.DeepEqual(toB[0].args[0], wantIntro) {
		t.Fatalf("introduction=%v, want %v", toB[0].args[0], wantIntro)
	}

	toA := tr.take("A")
	if len(toA) != 1 || toA[0].event != EventNewUserConnected {
		t.Fatalf("A received %+v, want newUserConnected", toA)
	}
	if toA[0].args[0] != (NewUser{ID: "B", Username: "bob"}) {
		t.Fatalf("newUserConnected=%+v", toA[0].args[0])
	}
}

func TestRegister_EmptyRoomUsesDefault(t *testing.T) {
	r, _, _ := newTestRegistry()

	r.Register("A", "", "")

	if roomID, ok := r.RoomOf("A"); !ok || roomID != DefaultID {
		t.Fatalf("RoomOf=%q,%v, want %q", roomID, ok, DefaultID)
	}
	members := r.Members(DefaultID)
	if p, ok := members["A"]; !ok || p.Username != "" {
		t.Fatalf("members=%v, want A with empty username", members)
	}
}

func TestMemberCountTracksRegistrations(t *testing.T) {
	r, tr, _ := newTestRegistry()

	ids := []string{"A", "B", "C", "D"}
	for _, id := range ids {
		r.Register(id, id, "room1")
	}
	if n := len(r.Members("room1")); n != len(ids) {
		t.Fatalf("members=%d, want %d", n, len(ids))
	}

	disconnect(r, tr, "B")
	disconnect(r, tr, "D")
	if n := len(r.Members("room1")); n != 2 {
		t.Fatalf("members=%d, want 2", n)
	}
	if s := r.Stats(); s.Rooms != 1 || s.Peers != 2 {
		t.Fatalf("stats=%+v", s)
	}
}

func TestSignal_DeliveredVerbatimToTargetOnly(t *testing.T) {
	r, tr, m := newTestRegistry()
	r.Register("A", "alice", "room1")
	r.Register("B", "bob", "room1")
	r.Register("C", "carol", "room1")
	tr.reset()

	payload := json.RawMessage(`{"sdp":"v=0\r\n...","type":"offer"}`)
	r.Signal("A", "B", "A", payload)

	toB := tr.take("B")
	if len(toB) != 1 || toB[0].event != EventSignal {
		t.Fatalf("B received %+v, want one signal", toB)
	}
	args := toB[0].args
	if args[0] != "B" || args[1] != "A" {
		t.Fatalf("signal to/from=%v/%v, want B/A", args[0], args[1])
	}
	if got := args[2].(Payload); string(got) != string(payload) {
		t.Fatalf("payload=%s, want %s", got, payload)
	}
	if len(tr.sent) != 0 {
		t.Fatalf("signal leaked to others: %+v", tr.sent)
	}
	if m.Get(metrics.SignalsRelayed) != 1 {
		t.Fatalf("signals_relayed=%d, want 1", m.Get(metrics.SignalsRelayed))
	}
}

func TestSignal_FromIsNotVerified(t *testing.T) {
	r, tr, _ := newTestRegistry()
	r.Register("A", "alice", "room1")
	r.Register("B", "bob", "room1")
	tr.reset()

	r.Signal("A", "B", "someone-else", Payload(`1`))

	toB := tr.take("B")
	if len(toB) != 1 || toB[0].args[1] != "someone-else" {
		t.Fatalf("B received %+v, want from passed through", toB)
	}
}

func TestSignal_DroppedOutsideRoom(t *testing.T) {
	r, tr, m := newTestRegistry()
	r.Register("A", "alice", "room1")
	r.Register("X", "xavier", "room2")
	tr.reset()

	r.Signal("A", "X", "A", Payload(`{}`))
	r.Signal("A", "nobody", "A", Payload(`{}`))

	if len(tr.sent) != 0 {
		t.Fatalf("expected no deliveries, got %+v", tr.sent)
	}
	if m.Get(metrics.SignalsDropped) != 2 {
		t.Fatalf("signals_dropped=%d, want 2", m.Get(metrics.SignalsDropped))
	}
}

func TestSignal_BeforeRegisterIsDropped(t *testing.T) {
	r, tr, _ := newTestRegistry()
	r.Register("B", "bob", "room1")
	tr.reset()

	r.Signal("A", "B", "A", Payload(`{}`))

	if len(tr.sent) != 0 {
		t.Fatalf("expected no deliveries, got %+v", tr.sent)
	}

	// The unregistered connection can still register afterwards.
	r.Register("A", "alice", "room1")
	if len(r.Members("room1")) != 2 {
		t.Fatalf("expected A to register after dropped signal")
	}
}

func TestToggleVideo_NoEchoAndVisibleInIntroduction(t *testing.T) {
	r, tr, _ := newTestRegistry()
	r.Register("A", "alice", "room1")
	r.Register("B", "bob", "room1")
	tr.reset()

	r.ToggleVideo("A", true)

	if toA := tr.take("A"); len(toA) != 0 {
		t.Fatalf("caller received its own toggle: %+v", toA)
	}
	toB := tr.take("B")
	if len(toB) != 1 || toB[0].event != EventUserToggledVideo {
		t.Fatalf("B received %+v, want user-toggled-video", toB)
	}
	if toB[0].args[0] != (VideoToggled{ID: "A", IsEnabled: true}) {
		t.Fatalf("payload=%+v", toB[0].args[0])
	}

	r.Register("C", "carol", "room1")
	intro := tr.take("C")[0].args[0].(map[string]PeerInfo)
	if !intro["A"].IsVideoEnabled || intro["B"].IsVideoEnabled || intro["C"].IsVideoEnabled {
		t.Fatalf("introduction=%v, want only A with video", intro)
	}
}

func TestToggleVideo_UnregisteredIsNoop(t *testing.T) {
	r, tr, m := newTestRegistry()
	r.Register("B", "bob", "room1")
	tr.reset()

	r.ToggleVideo("A", true)

	if len(tr.sent) != 0 || m.Get(metrics.VideoToggles) != 0 {
		t.Fatalf("expected no-op, sent=%+v", tr.sent)
	}
}

func TestDisconnect_NotifiesAndCollectsRoom(t *testing.T) {
	r, tr, m := newTestRegistry()
	r.Register("A", "alice", "room1")
	r.Register("B", "bob", "room1")
	tr.reset()

	disconnect(r, tr, "A")

	toB := tr.take("B")
	if len(toB) != 1 || toB[0].event != EventUserDisconnected || toB[0].args[0] != "A" {
		t.Fatalf("B received %+v, want userDisconnected(A)", toB)
	}
	members := r.Members("room1")
	if _, ok := members["B"]; !ok || len(members) != 1 {
		t.Fatalf("members=%v, want only B", members)
	}

	disconnect(r, tr, "B")
	if r.Members("room1") != nil {
		t.Fatalf("room1 still present after last member left")
	}
	if s := r.Stats(); s.Rooms != 0 || s.Peers != 0 || len(s.Sizes) != 0 {
		t.Fatalf("stats=%+v, want empty registry", s)
	}
	if len(tr.sent) != 0 {
		t.Fatalf("last member's departure notified someone: %+v", tr.sent)
	}
	if m.Get(metrics.RoomsCreated) != 1 || m.Get(metrics.RoomsDeleted) != 1 {
		t.Fatalf("rooms created=%d deleted=%d", m.Get(metrics.RoomsCreated), m.Get(metrics.RoomsDeleted))
	}
	if m.Gauge(metrics.GaugeRooms) != 0 || m.Gauge(metrics.GaugePeers) != 0 {
		t.Fatalf("gauges not reset: rooms=%d peers=%d", m.Gauge(metrics.GaugeRooms), m.Gauge(metrics.GaugePeers))
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	r, tr, _ := newTestRegistry()
	r.Register("A", "alice", "room1")
	r.Register("B", "bob", "room1")
	tr.reset()

	r.Disconnect("never-registered")
	disconnect(r, tr, "A")
	r.Disconnect("A")

	if toB := tr.take("B"); len(toB) != 1 {
		t.Fatalf("B received %d notifications, want 1", len(toB))
	}
}

func TestReregister_MovesBetweenRooms(t *testing.T) {
	r, tr, m := newTestRegistry()
	r.Register("A", "alice", "room1")
	r.Register("B", "bob", "room1")
	tr.reset()

	r.Register("A", "alice", "room2")

	toB := tr.take("B")
	if len(toB) != 1 || toB[0].event != EventUserDisconnected || toB[0].args[0] != "A" {
		t.Fatalf("B received %+v, want userDisconnected(A)", toB)
	}
	if _, ok := r.Members("room1")["A"]; ok {
		t.Fatalf("A still listed in room1")
	}
	if _, ok := r.Members("room2")["A"]; !ok {
		t.Fatalf("A missing from room2")
	}
	if tr.groups["room1"]["A"] {
		t.Fatalf("A still subscribed to room1 broadcasts")
	}
	if m.Get(metrics.PeersReregistered) != 1 {
		t.Fatalf("peers_reregistered=%d, want 1", m.Get(metrics.PeersReregistered))
	}

	// Signals no longer reach across the old room.
	tr.reset()
	r.Signal("A", "B", "A", Payload(`{}`))
	if len(tr.sent) != 0 {
		t.Fatalf("signal crossed rooms: %+v", tr.sent)
	}
}

func TestReregister_LastMemberCollectsOldRoom(t *testing.T) {
	r, _, _ := newTestRegistry()
	r.Register("A", "alice", "room1")

	r.Register("A", "alice", "room2")

	if r.Members("room1") != nil {
		t.Fatalf("room1 should be collected")
	}
	if s := r.Stats(); s.Rooms != 1 || s.Peers != 1 {
		t.Fatalf("stats=%+v", s)
	}
}

func TestReregister_SameRoomResetsEntry(t *testing.T) {
	r, tr, _ := newTestRegistry()
	r.Register("A", "alice", "room1")
	r.Register("B", "bob", "room1")
	r.ToggleVideo("A", true)
	tr.reset()

	r.Register("A", "alice2", "room1")

	members := r.Members("room1")
	if len(members) != 2 || members["A"] != (PeerInfo{Username: "alice2"}) {
		t.Fatalf("members=%v", members)
	}
	toB := tr.take("B")
	if len(toB) != 1 || toB[0].event != EventNewUserConnected {
		t.Fatalf("B received %+v, want newUserConnected only", toB)
	}
}

func TestStats_SortedByRoom(t *testing.T) {
	r, _, _ := newTestRegistry()
	r.Register("A", "a", "zeta")
	r.Register("B", "b", "alpha")
	r.Register("C", "c", "alpha")

	want := []RoomStats{{ID: "alpha", Members: 2}, {ID: "zeta", Members: 1}}
	if got := r.Stats().Sizes; !reflect.DeepEqual(got, want) {
		t.Fatalf("sizes=%v, want %v", got, want)
	}
}
