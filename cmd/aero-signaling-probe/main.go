// Command aero-signaling-probe checks a running signaling relay end to end:
// two clients join one room and open a WebRTC DataChannel using only
// relayed signals. It exits non-zero on the first step that fails.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/probe"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("aero-signaling-probe", flag.ContinueOnError)
	signalingURL := fs.String("url", "ws://127.0.0.1:8080/signaling", "signaling WebSocket URL")
	roomID := fs.String("room", "", "room to join (default: random probe-<uuid>)")
	timeout := fs.Duration("timeout", 30*time.Second, "overall probe deadline")
	fetchICE := fs.Bool("fetch-ice", true, "use ICE servers from the relay's /webrtc/ice endpoint")
	pionLogLevel := fs.String("pion-log-level", "disabled", "pion log level (disabled, error, warn, info, debug, trace)")
	jsonLogs := fs.Bool("json", false, "log as JSON")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, nil)
	if *jsonLogs {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	}
	logger := slog.New(handler)

	level, err := probe.ParseLogLevel(*pionLogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cfg := probe.Config{
		URL:    *signalingURL,
		Room:   *roomID,
		Logger: logger,
	}
	if cfg.OfferAPI, err = probe.NewAPI(level, nil); err == nil {
		cfg.AnswerAPI, err = probe.NewAPI(level, nil)
	}
	if err != nil {
		logger.Error("failed to configure webrtc", "err", err)
		return 2
	}

	if *fetchICE {
		iceURL, err := iceURLFor(*signalingURL)
		if err != nil {
			logger.Error("invalid signaling url", "err", err)
			return 2
		}
		servers, err := fetchICEServers(ctx, iceURL)
		if err != nil {
			logger.Warn("could not fetch ice servers; continuing with host candidates only", "url", iceURL, "err", err)
		} else {
			cfg.ICEServers = servers
		}
	}

	res, err := probe.Run(ctx, cfg)
	if err != nil {
		logger.Error("probe failed", "room_id", res.Room, "err", err)
		return 1
	}
	logger.Info("probe ok",
		"room_id", res.Room,
		"offer_id", res.OfferID,
		"answer_id", res.AnswerID,
		"datachannel_rtt_ms", res.RoundTrip.Milliseconds(),
	)
	return 0
}
