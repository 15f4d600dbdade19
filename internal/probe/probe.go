package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/room"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/signaling"
)

const probeMessage = "aero-signaling-probe"

type Config struct {
	// URL is the relay's WebSocket endpoint, e.g. ws://127.0.0.1:8080/signaling.
	URL    string
	Header http.Header
	// Room defaults to a random probe-<uuid> room so concurrent probes never meet.
	Room string

	ICEServers []webrtc.ICEServer

	// OfferAPI and AnswerAPI default to NewAPI with pion logging disabled.
	OfferAPI  *webrtc.API
	AnswerAPI *webrtc.API

	Logger *slog.Logger
}

type Result struct {
	Room     string
	OfferID  string
	AnswerID string
	// RoundTrip spans the DataChannel send until the other side received it.
	RoundTrip time.Duration
}

// Run performs one full session through the relay and reports the first
// step that did not behave.
func Run(ctx context.Context, cfg Config) (Result, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Room == "" {
		cfg.Room = "probe-" + uuid.NewString()
	}
	for _, api := range []**webrtc.API{&cfg.OfferAPI, &cfg.AnswerAPI} {
		if *api != nil {
			continue
		}
		built, err := NewAPI(logging.LogLevelDisabled, nil)
		if err != nil {
			return Result{}, err
		}
		*api = built
	}
	res := Result{Room: cfg.Room}

	a, err := Dial(ctx, cfg.URL, cfg.Header)
	if err != nil {
		return res, err
	}
	defer a.Close()
	b, err := Dial(ctx, cfg.URL, cfg.Header)
	if err != nil {
		return res, err
	}
	defer b.Close()
	res.OfferID, res.AnswerID = a.ID(), b.ID()

	if err := register(ctx, a, "probe-offer", cfg.Room, a.ID()); err != nil {
		return res, err
	}
	if err := register(ctx, b, "probe-answer", cfg.Room, a.ID(), b.ID()); err != nil {
		return res, err
	}
	joined, err := a.Expect(ctx, room.EventNewUserConnected)
	if err != nil {
		return res, err
	}
	var nu room.NewUser
	if err := json.Unmarshal(joined.Raw(0), &nu); err != nil || nu.ID != b.ID() {
		return res, fmt.Errorf("newUserConnected: got %s, want id %q", joined.Raw(0), b.ID())
	}
	cfg.Logger.Info("probe clients registered", "room_id", cfg.Room, "offer_id", a.ID(), "answer_id", b.ID())

	pa, err := newPeer(a, cfg.OfferAPI, cfg.ICEServers, b.ID(), cfg.Logger)
	if err != nil {
		return res, err
	}
	defer pa.pc.Close()
	pb, err := newPeer(b, cfg.AnswerAPI, cfg.ICEServers, a.ID(), cfg.Logger)
	if err != nil {
		return res, err
	}
	defer pb.pc.Close()

	received := make(chan string, 1)
	pb.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			select {
			case received <- string(msg.Data):
			default:
			}
		})
	})
	dc, err := pa.pc.CreateDataChannel("probe", nil)
	if err != nil {
		return res, fmt.Errorf("create data channel: %w", err)
	}
	opened := make(chan struct{})
	var openOnce sync.Once
	dc.OnOpen(func() { openOnce.Do(func() { close(opened) }) })

	loopCtx, stop := context.WithCancel(ctx)
	defer stop()
	go pa.run(loopCtx)
	go pb.run(loopCtx)

	if err := pa.offer(); err != nil {
		return res, err
	}

	select {
	case <-opened:
	case err := <-pa.errs:
		return res, err
	case err := <-pb.errs:
		return res, err
	case <-ctx.Done():
		return res, fmt.Errorf("waiting for data channel: %w", ctx.Err())
	}
	cfg.Logger.Info("probe data channel open", "room_id", cfg.Room)

	start := time.Now()
	if err := dc.SendText(probeMessage); err != nil {
		return res, fmt.Errorf("data channel send: %w", err)
	}
	select {
	case got := <-received:
		if got != probeMessage {
			return res, fmt.Errorf("data channel message %q, want %q", got, probeMessage)
		}
		res.RoundTrip = time.Since(start)
	case <-ctx.Done():
		return res, fmt.Errorf("waiting for data channel message: %w", ctx.Err())
	}

	if err := a.Send(signaling.EventToggleVideo, true); err != nil {
		return res, err
	}
	toggled, err := pb.await(ctx, room.EventUserToggledVideo)
	if err != nil {
		return res, err
	}
	var vt room.VideoToggled
	if err := json.Unmarshal(toggled.Raw(0), &vt); err != nil || vt.ID != a.ID() || !vt.IsEnabled {
		return res, fmt.Errorf("user-toggled-video: got %s", toggled.Raw(0))
	}

	if err := a.Close(); err != nil {
		return res, err
	}
	gone, err := pb.await(ctx, room.EventUserDisconnected)
	if err != nil {
		return res, err
	}
	if id := gone.String(0); id != a.ID() {
		return res, fmt.Errorf("userDisconnected: got %q, want %q", id, a.ID())
	}
	return res, nil
}

// register sends register and checks that the introduction lists want.
func register(ctx context.Context, c *Client, username, roomID string, want ...string) error {
	if err := c.Send(signaling.EventRegister, username, roomID); err != nil {
		return err
	}
	intro, err := c.Expect(ctx, room.EventIntroduction)
	if err != nil {
		return err
	}
	var members map[string]room.PeerInfo
	if err := json.Unmarshal(intro.Raw(0), &members); err != nil {
		return fmt.Errorf("decode introduction: %w", err)
	}
	if len(members) != len(want) {
		return fmt.Errorf("introduction for %s has %d members, want %d", c.ID(), len(members), len(want))
	}
	for _, id := range want {
		if _, ok := members[id]; !ok {
			return fmt.Errorf("introduction for %s is missing %s", c.ID(), id)
		}
	}
	return nil
}
