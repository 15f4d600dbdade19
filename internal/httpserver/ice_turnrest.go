package httpserver

import (
	"net/http"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/config"
)

type iceResponse struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
	// ExpiresAt is set when TURN credentials were minted for this response.
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (s *Server) handleICE(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.ICEConfigError(); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}
	w.Header().Set("Cache-Control", "no-store")

	servers := s.cfg.ICEServers
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}
	if s.turn == nil {
		WriteJSON(w, http.StatusOK, iceResponse{ICEServers: servers})
		return
	}

	creds, err := s.turn.GenerateRandom()
	if err != nil {
		s.log.Error("failed to mint turn credentials", "err", err)
		WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to mint turn credentials"})
		return
	}
	WriteJSON(w, http.StatusOK, iceResponse{
		ICEServers: withTURNRESTCredentials(servers, creds.Username, creds.Credential),
		ExpiresAt:  &creds.Expires,
	})
}

func withTURNRESTCredentials(servers []webrtc.ICEServer, username, credential string) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, len(servers))
	for i, server := range servers {
		out[i] = server
		if config.HasTURNURL(server) {
			out[i].Username = username
			out[i].Credential = credential
		}
	}
	return out
}
