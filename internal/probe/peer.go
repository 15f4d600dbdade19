package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/signaling"
)

// SignalData is the payload probe peers exchange inside relayed signals.
type SignalData struct {
	Description *webrtc.SessionDescription `json:"description,omitempty"`
	Candidate   *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// NewAPI builds a pion API that logs through pion/logging at level.
// configure may adjust the SettingEngine further, e.g. to swap the network.
func NewAPI(level logging.LogLevel, configure func(*webrtc.SettingEngine)) (*webrtc.API, error) {
	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = level

	se := webrtc.SettingEngine{LoggerFactory: lf}
	if configure != nil {
		configure(&se)
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	), nil
}

// ParseLogLevel maps a level name to a pion/logging level.
func ParseLogLevel(raw string) (logging.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "disabled", "off", "":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "info":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	default:
		return logging.LogLevelDisabled, fmt.Errorf("invalid pion log level %q", raw)
	}
}

// peer couples a signaling Client with a PeerConnection talking to one
// remote connection id. Only run touches the pending candidate queue.
type peer struct {
	client *Client
	pc     *webrtc.PeerConnection
	remote string
	logger *slog.Logger

	pending []webrtc.ICECandidateInit

	notes chan signaling.Frame
	errs  chan error
}

func newPeer(client *Client, api *webrtc.API, iceServers []webrtc.ICEServer, remote string, logger *slog.Logger) (*peer, error) {
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	p := &peer{
		client: client,
		pc:     pc,
		remote: remote,
		logger: logger.With("conn_id", client.ID()),
		notes:  make(chan signaling.Frame, 16),
		errs:   make(chan error, 1),
	}
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		if err := p.signal(SignalData{Candidate: &init}); err != nil {
			p.logger.Debug("failed to relay candidate", "err", err)
		}
	})
	return p, nil
}

func (p *peer) signal(d SignalData) error {
	return p.client.Send(signaling.EventSignal, p.remote, p.client.ID(), d)
}

func (p *peer) offer() error {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return p.signal(SignalData{Description: &offer})
}

// run applies relayed signals to the PeerConnection and passes every other
// frame to notes until the connection or ctx ends.
func (p *peer) run(ctx context.Context) {
	for {
		f, err := p.client.Next(ctx)
		if err != nil {
			return
		}
		if f.Event != signaling.EventSignal {
			select {
			case p.notes <- f:
			case <-ctx.Done():
				return
			}
			continue
		}
		if err := p.handleSignal(f); err != nil {
			p.errs <- err
			return
		}
	}
}

func (p *peer) handleSignal(f signaling.Frame) error {
	if from := f.String(1); from != p.remote {
		return fmt.Errorf("signal from unexpected peer %q", from)
	}
	var d SignalData
	if err := json.Unmarshal(f.Raw(2), &d); err != nil {
		return fmt.Errorf("decode signal: %w", err)
	}

	if d.Description != nil {
		if err := p.pc.SetRemoteDescription(*d.Description); err != nil {
			return fmt.Errorf("set remote description: %w", err)
		}
		for _, cand := range p.pending {
			if err := p.pc.AddICECandidate(cand); err != nil {
				return fmt.Errorf("add candidate: %w", err)
			}
		}
		p.pending = nil

		if d.Description.Type == webrtc.SDPTypeOffer {
			answer, err := p.pc.CreateAnswer(nil)
			if err != nil {
				return fmt.Errorf("create answer: %w", err)
			}
			if err := p.pc.SetLocalDescription(answer); err != nil {
				return fmt.Errorf("set local description: %w", err)
			}
			if err := p.signal(SignalData{Description: &answer}); err != nil {
				return err
			}
		}
	}

	if d.Candidate != nil {
		// Candidates can overtake the description they belong to.
		if p.pc.RemoteDescription() == nil {
			p.pending = append(p.pending, *d.Candidate)
			return nil
		}
		if err := p.pc.AddICECandidate(*d.Candidate); err != nil {
			return fmt.Errorf("add candidate: %w", err)
		}
	}
	return nil
}

// await returns the next note named event.
func (p *peer) await(ctx context.Context, event string) (signaling.Frame, error) {
	for {
		select {
		case f := <-p.notes:
			if f.Event == event {
				return f, nil
			}
		case err := <-p.errs:
			return signaling.Frame{}, err
		case <-ctx.Done():
			return signaling.Frame{}, fmt.Errorf("waiting for %q: %w", event, ctx.Err())
		}
	}
}
