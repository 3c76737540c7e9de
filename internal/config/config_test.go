package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func lookupFromMap(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(lookupFromMap(nil), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.Mode != ModeDev {
		t.Errorf("Mode = %q, want dev", cfg.Mode)
	}
	if cfg.LogFormat != LogFormatText || cfg.LogLevel != slog.LevelDebug {
		t.Errorf("dev logging defaults wrong: %v %v", cfg.LogFormat, cfg.LogLevel)
	}
	if cfg.WSIdleTimeout != DefaultWSIdleTimeout || cfg.WSPingInterval != DefaultWSPingInterval {
		t.Errorf("ws timing defaults wrong: %v %v", cfg.WSIdleTimeout, cfg.WSPingInterval)
	}
	if cfg.MaxMessageBytes != DefaultMaxMessageBytes {
		t.Errorf("MaxMessageBytes = %d, want %d", cfg.MaxMessageBytes, DefaultMaxMessageBytes)
	}
	if cfg.MaxRoomSize != DefaultMaxRoomSize {
		t.Errorf("MaxRoomSize = %d, want %d", cfg.MaxRoomSize, DefaultMaxRoomSize)
	}
	if cfg.TURNREST.Enabled() {
		t.Errorf("TURN REST must be disabled by default")
	}
}

func TestLoad_EnvThenFlagPrecedence(t *testing.T) {
	env := map[string]string{
		envListenAddr:    "0.0.0.0:9000",
		envMaxRoomSize:   "4",
		envWSIdleTimeout: "90s",
	}
	cfg, err := load(lookupFromMap(env), []string{"--max-room-size=8"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("env listen addr not applied: %q", cfg.ListenAddr)
	}
	if cfg.MaxRoomSize != 8 {
		t.Errorf("flag must override env: MaxRoomSize = %d", cfg.MaxRoomSize)
	}
	if cfg.WSIdleTimeout != 90*time.Second {
		t.Errorf("WSIdleTimeout = %v", cfg.WSIdleTimeout)
	}
}

func TestLoad_ProdDefaultsAndValidation(t *testing.T) {
	env := map[string]string{
		envMode:        "prod",
		envRoomAuthURL: "https://auth.internal/check",
	}
	cfg, err := load(lookupFromMap(env), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatJSON || cfg.LogLevel != slog.LevelInfo {
		t.Errorf("prod logging defaults wrong: %v %v", cfg.LogFormat, cfg.LogLevel)
	}

	if _, err := load(lookupFromMap(map[string]string{envMode: "prod"}), nil); err == nil {
		t.Fatalf("prod without room auth URL must fail")
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"bad mode", map[string]string{envMode: "staging"}},
		{"bad log level", map[string]string{envLogLevel: "trace"}},
		{"bad log format", map[string]string{envLogFormat: "logfmt"}},
		{"bad duration", map[string]string{envWSIdleTimeout: "soon"}},
		{"ping >= idle", map[string]string{envWSPingInterval: "60s"}},
		{"zero message size", map[string]string{envMaxMessageBytes: "0"}},
		{"negative room size", map[string]string{envMaxRoomSize: "-1"}},
		{"zero rate", map[string]string{envMaxMessagesPerSec: "0"}},
		{"turn rest prefix colon", map[string]string{
			envTURNRESTSecret: "s3cret",
			envTURNRESTPrefix: "a:b",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := load(lookupFromMap(tc.env), nil); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoad_TURNREST(t *testing.T) {
	env := map[string]string{
		envTURNRESTSecret: "s3cret",
		envTURNRESTTTL:    "30m",
	}
	cfg, err := load(lookupFromMap(env), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.TURNREST.Enabled() {
		t.Fatalf("TURN REST should be enabled")
	}
	if cfg.TURNREST.TTL != 30*time.Minute || cfg.TURNREST.Prefix != DefaultTURNRESTPrefix {
		t.Errorf("TURNREST = %+v", cfg.TURNREST)
	}
}

func TestLoad_AllowedOrigins(t *testing.T) {
	cfg, err := load(lookupFromMap(map[string]string{
		envAllowedOrigins: "https://app.example.com, https://staging.example.com ,",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"https://app.example.com", "https://staging.example.com"}
	if len(cfg.AllowedOrigins) != len(want) {
		t.Fatalf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	for i := range want {
		if cfg.AllowedOrigins[i] != want[i] {
			t.Errorf("AllowedOrigins[%d] = %q, want %q", i, cfg.AllowedOrigins[i], want[i])
		}
	}
}

func TestLoad_UnknownFlag(t *testing.T) {
	if _, err := load(lookupFromMap(nil), []string{"--no-such-flag"}); err == nil {
		t.Fatalf("unknown flag must fail")
	}
}

func TestParseICEServers_SimpleVars(t *testing.T) {
	servers, err := parseICEServers("", "stun:stun.example.com:3478", "turn:turn.example.com:3478", "u", "p")
	if err != nil {
		t.Fatalf("parseICEServers: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("got %d servers, want 2", len(servers))
	}
	if servers[1].Username != "u" || servers[1].Credential != "p" {
		t.Errorf("TURN credentials not applied: %+v", servers[1])
	}
}

func TestParseICEServers_JSON(t *testing.T) {
	raw := `[{"urls":["stun:stun.example.com"]},{"urls":["turn:turn.example.com"],"username":"u","credential":"p"}]`
	servers, err := parseICEServers(raw, "", "", "", "")
	if err != nil {
		t.Fatalf("parseICEServers: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("got %d servers, want 2", len(servers))
	}
	if len(servers[0].URLs) != 1 || servers[0].URLs[0] != "stun:stun.example.com" {
		t.Errorf("servers[0] = %+v", servers[0])
	}
	if servers[1].Credential != "p" {
		t.Errorf("servers[1] = %+v", servers[1])
	}
}

func TestParseICEServers_Invalid(t *testing.T) {
	cases := []struct {
		name                  string
		jsonCfg, stun, turn   string
	}{
		{"unknown json field", `[{"urls":["stun:a"],"secret":"x"}]`, "", ""},
		{"trailing data", `[{"urls":["stun:a"]}] []`, "", ""},
		{"empty urls", `[{"urls":[]}]`, "", ""},
		{"bad scheme in json", `[{"urls":["wss://a"]}]`, "", ""},
		{"bad stun scheme", "", "turn:a", ""},
		{"bad turn scheme", "", "", "stun:a"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseICEServers(tc.jsonCfg, tc.stun, tc.turn, "", ""); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var sb strings.Builder
	logger := NewLogger(&sb, Config{LogFormat: LogFormatJSON, LogLevel: slog.LevelInfo})
	logger.Info("hello", "k", "v")
	out := sb.String()
	if !strings.Contains(out, `"msg":"hello"`) || !strings.Contains(out, `"k":"v"`) {
		t.Errorf("unexpected JSON log output: %s", out)
	}

	sb.Reset()
	logger = NewLogger(&sb, Config{LogFormat: LogFormatText, LogLevel: slog.LevelWarn})
	logger.Info("dropped")
	if sb.Len() != 0 {
		t.Errorf("info log emitted below warn level: %s", sb.String())
	}
}
