package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(func(string) (string, bool) { return "", false }, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("listenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Fatalf("allowedOrigins=%v, want empty", cfg.AllowedOrigins)
	}
	if cfg.MaxSignalingMessageBytes != DefaultMaxSignalingMessageBytes {
		t.Fatalf("MaxSignalingMessageBytes=%d, want %d", cfg.MaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	}
	if cfg.MaxSignalingMessagesPerSecond != DefaultMaxSignalingMessagesPerSecond {
		t.Fatalf("MaxSignalingMessagesPerSecond=%d, want %d", cfg.MaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	}
	if cfg.SignalingSendQueueSize != DefaultSignalingSendQueueSize {
		t.Fatalf("SignalingSendQueueSize=%d, want %d", cfg.SignalingSendQueueSize, DefaultSignalingSendQueueSize)
	}
	if cfg.MaxConnections != 0 {
		t.Fatalf("MaxConnections=%d, want 0", cfg.MaxConnections)
	}
	if cfg.TURNREST.Enabled() {
		t.Fatalf("TURN REST enabled by default")
	}
	if cfg.ICEConfigError() != nil || len(cfg.ICEServers) != 0 {
		t.Fatalf("ICEServers=%v err=%v, want none", cfg.ICEServers, cfg.ICEConfigError())
	}
}

func TestDefaultsProdWhenModeFlagSet(t *testing.T) {
	cfg, err := load(func(string) (string, bool) { return "", false }, []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeProd)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("logLevel=%v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
}

func TestExplicitLogFormatSurvivesProdMode(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarMode:      "prod",
		envVarLogFormat: "text",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
}

func TestPortEnv(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{envVarPort: "4000"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:4000" {
		t.Fatalf("listenAddr=%q, want %q", cfg.ListenAddr, "0.0.0.0:4000")
	}

	cfg, err = load(lookupMap(map[string]string{
		envVarPort:       "4000",
		envVarListenAddr: "127.0.0.1:9000",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9000" {
		t.Fatalf("listenAddr=%q, want explicit listen addr to win", cfg.ListenAddr)
	}

	cfg, err = load(lookupMap(map[string]string{envVarPort: "4000"}), []string{"--listen-addr", "127.0.0.1:7000"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:7000" {
		t.Fatalf("listenAddr=%q, want flag to win", cfg.ListenAddr)
	}

	for _, bad := range []string{"abc", "0", "70000"} {
		if _, err := load(lookupMap(map[string]string{envVarPort: bad}), nil); err == nil {
			t.Fatalf("expected error for PORT=%q", bad)
		}
	}
}

func TestAllowedOrigins(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarAllowedOrigins: " https://App.Example.com:443 ,http://localhost:5173,, *",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"https://app.example.com", "http://localhost:5173", "*"}
	if strings.Join(cfg.AllowedOrigins, " ") != strings.Join(want, " ") {
		t.Fatalf("allowedOrigins=%v, want %v", cfg.AllowedOrigins, want)
	}

	if _, err := load(lookupMap(map[string]string{envVarAllowedOrigins: "example.com/path"}), nil); err == nil {
		t.Fatalf("expected invalid origin to fail")
	}
}

func TestSignalingLimits_EnvAndFlags(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarSignalingWSIdleTimeout:        "30s",
		envVarSignalingWSPingInterval:       "10s",
		envVarMaxSignalingMessageBytes:      "1024",
		envVarMaxSignalingMessagesPerSecond: "5",
		envVarMaxConnections:                "100",
	}), []string{"--signaling-send-queue-size", "8"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SignalingWSIdleTimeout != 30*time.Second || cfg.SignalingWSPingInterval != 10*time.Second {
		t.Fatalf("idle=%v ping=%v", cfg.SignalingWSIdleTimeout, cfg.SignalingWSPingInterval)
	}
	if cfg.MaxSignalingMessageBytes != 1024 || cfg.MaxSignalingMessagesPerSecond != 5 {
		t.Fatalf("maxBytes=%d maxPerSec=%d", cfg.MaxSignalingMessageBytes, cfg.MaxSignalingMessagesPerSecond)
	}
	if cfg.SignalingSendQueueSize != 8 || cfg.MaxConnections != 100 {
		t.Fatalf("queue=%d maxConns=%d", cfg.SignalingSendQueueSize, cfg.MaxConnections)
	}
}

func TestSignalingLimits_Validation(t *testing.T) {
	cases := []map[string]string{
		{envVarSignalingWSPingInterval: "90s"},
		{envVarSignalingWSIdleTimeout: "0s"},
		{envVarMaxSignalingMessageBytes: "0"},
		{envVarMaxSignalingMessagesPerSecond: "-1"},
		{envVarSignalingSendQueueSize: "0"},
		{envVarShutdownTimeout: "soon"},
		{envVarMode: "staging"},
		{envVarLogLevel: "loud"},
	}
	for _, env := range cases {
		if _, err := load(lookupMap(env), nil); err == nil {
			t.Fatalf("expected error for %v", env)
		}
	}
}

func TestInvalidICEConfigIsDeferred(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envICEServersJSON: `[{"urls": ["turn:turn.example.com"]}]`,
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatalf("expected ICE config error")
	}
	if !strings.Contains(cfg.ICEConfigError().Error(), envICEServersJSON) {
		t.Fatalf("ICE error %q does not name %s", cfg.ICEConfigError(), envICEServersJSON)
	}
}

func TestTURNRESTAllowsCredentiallessTURN(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envTurnURLs:                "turn:turn.example.com:3478",
		envVarTURNRESTSharedSecret: "secret",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ICEConfigError() != nil {
		t.Fatalf("ICEConfigError=%v", cfg.ICEConfigError())
	}
	if !cfg.TURNREST.Enabled() || cfg.TURNREST.TTLSeconds != DefaultTURNRESTTTLSeconds || cfg.TURNREST.UsernamePrefix != DefaultTURNRESTUsernamePrefix {
		t.Fatalf("TURNREST=%+v", cfg.TURNREST)
	}

	if _, err := load(lookupMap(map[string]string{
		envVarTURNRESTSharedSecret:   "secret",
		envVarTURNRESTUsernamePrefix: "a:b",
	}), nil); err == nil {
		t.Fatalf("expected colon prefix to be rejected")
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := NewLogger(Config{LogFormat: LogFormatJSON}); err != nil {
		t.Fatalf("NewLogger(json): %v", err)
	}
	if _, err := NewLogger(Config{LogFormat: "xml"}); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}
