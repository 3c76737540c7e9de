// Package config loads relay configuration from environment variables with
// command-line flag overrides (env values become flag defaults).
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	envListenAddr      = "CALLMESH_LISTEN_ADDR"
	envAllowedOrigins  = "CALLMESH_ALLOWED_ORIGINS"
	envLogFormat       = "CALLMESH_LOG_FORMAT"
	envLogLevel        = "CALLMESH_LOG_LEVEL"
	envMode            = "CALLMESH_MODE"
	envShutdownTimeout = "CALLMESH_SHUTDOWN_TIMEOUT"

	envRoomAuthURL     = "CALLMESH_ROOM_AUTH_URL"
	envRoomAuthTimeout = "CALLMESH_ROOM_AUTH_TIMEOUT"
	envChatLogPath     = "CALLMESH_CHAT_LOG_PATH"
	envMaxRoomSize     = "CALLMESH_MAX_ROOM_SIZE"

	envWSIdleTimeout     = "CALLMESH_WS_IDLE_TIMEOUT"
	envWSPingInterval    = "CALLMESH_WS_PING_INTERVAL"
	envMaxMessageBytes   = "CALLMESH_MAX_MESSAGE_BYTES"
	envMaxMessagesPerSec = "CALLMESH_MAX_MESSAGES_PER_SECOND"

	envTURNRESTSecret = "CALLMESH_TURN_REST_SHARED_SECRET"
	envTURNRESTTTL    = "CALLMESH_TURN_REST_TTL"
	envTURNRESTPrefix = "CALLMESH_TURN_REST_PREFIX"
)

const (
	DefaultListenAddr        = "127.0.0.1:8080"
	DefaultShutdownTimeout   = 15 * time.Second
	DefaultWSIdleTimeout     = 60 * time.Second
	DefaultWSPingInterval    = 20 * time.Second
	DefaultMaxMessageBytes   = int64(64 * 1024)
	DefaultMaxMessagesPerSec = 50
	DefaultMaxRoomSize       = 16
	DefaultRoomAuthTimeout   = 5 * time.Second
	DefaultTURNRESTTTL       = time.Hour
	DefaultTURNRESTPrefix    = "callmesh"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type TURNRESTConfig struct {
	SharedSecret string
	TTL          time.Duration
	Prefix       string
}

func (c TURNRESTConfig) Enabled() bool { return strings.TrimSpace(c.SharedSecret) != "" }

type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	Mode            Mode
	ShutdownTimeout time.Duration

	// RoomAuthURL is the external room-authorization endpoint. Empty means
	// allow-all (dev only; refused in prod mode).
	RoomAuthURL     string
	RoomAuthTimeout time.Duration

	// ChatLogPath enables the sqlite chat persistence sink when non-empty.
	ChatLogPath string

	// MaxRoomSize caps participants per room. Zero disables the cap.
	MaxRoomSize int

	// WebSocket hardening for participant connections.
	WSIdleTimeout        time.Duration
	WSPingInterval       time.Duration
	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	// ICEServers is advertised to clients via GET /ice.
	ICEServers []webrtc.ICEServer
	TURNREST   TURNRESTConfig
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	listenAddr := envOrDefault(lookup, envListenAddr, DefaultListenAddr)
	allowedOriginsStr := envOrDefault(lookup, envAllowedOrigins, "")
	modeStr := envOrDefault(lookup, envMode, string(ModeDev))
	roomAuthURL := envOrDefault(lookup, envRoomAuthURL, "")
	chatLogPath := envOrDefault(lookup, envChatLogPath, "")
	turnRESTSecret := envOrDefault(lookup, envTURNRESTSecret, "")
	turnRESTPrefix := envOrDefault(lookup, envTURNRESTPrefix, DefaultTURNRESTPrefix)

	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envSTUNURLs, "")
	turnURLs := envOrDefault(lookup, envTURNURLs, "")
	turnUsername := envOrDefault(lookup, envTURNUsername, "")
	turnCredential := envOrDefault(lookup, envTURNCredential, "")

	logFormatStr, logFormatFromEnv := lookup(envLogFormat)
	logLevelStr, logLevelFromEnv := lookup(envLogLevel)

	shutdownTimeout, err := envDurationOrDefault(lookup, envShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	roomAuthTimeout, err := envDurationOrDefault(lookup, envRoomAuthTimeout, DefaultRoomAuthTimeout)
	if err != nil {
		return Config{}, err
	}
	wsIdleTimeout, err := envDurationOrDefault(lookup, envWSIdleTimeout, DefaultWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	wsPingInterval, err := envDurationOrDefault(lookup, envWSPingInterval, DefaultWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	turnRESTTTL, err := envDurationOrDefault(lookup, envTURNRESTTTL, DefaultTURNRESTTTL)
	if err != nil {
		return Config{}, err
	}
	maxRoomSize, err := envIntOrDefault(lookup, envMaxRoomSize, DefaultMaxRoomSize)
	if err != nil {
		return Config{}, err
	}
	maxMessagesPerSec, err := envIntOrDefault(lookup, envMaxMessagesPerSec, DefaultMaxMessagesPerSec)
	if err != nil {
		return Config{}, err
	}

	maxMessageBytes := DefaultMaxMessageBytes
	if raw, ok := lookup(envMaxMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envMaxMessageBytes, raw, err)
		}
		maxMessageBytes = n
	}

	fs := flag.NewFlagSet("callmesh-relay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port; env "+envListenAddr+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated allowed browser origins, or '*' (env "+envAllowedOrigins+")")
	fs.StringVar(&modeStr, "mode", modeStr, "Run mode: dev or prod (env "+envMode+")")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (env "+envShutdownTimeout+")")
	fs.StringVar(&roomAuthURL, "room-auth-url", roomAuthURL, "External room authorization endpoint; empty allows everyone in dev mode (env "+envRoomAuthURL+")")
	fs.DurationVar(&roomAuthTimeout, "room-auth-timeout", roomAuthTimeout, "Room authorization request timeout (env "+envRoomAuthTimeout+")")
	fs.StringVar(&chatLogPath, "chat-log-path", chatLogPath, "SQLite path for chat persistence; empty disables (env "+envChatLogPath+")")
	fs.IntVar(&maxRoomSize, "max-room-size", maxRoomSize, "Maximum participants per room, 0 = unlimited (env "+envMaxRoomSize+")")
	fs.DurationVar(&wsIdleTimeout, "ws-idle-timeout", wsIdleTimeout, "Close participant connections idle for this long (env "+envWSIdleTimeout+")")
	fs.DurationVar(&wsPingInterval, "ws-ping-interval", wsPingInterval, "Ping interval on participant connections, must be < idle timeout (env "+envWSPingInterval+")")
	fs.Int64Var(&maxMessageBytes, "max-message-bytes", maxMessageBytes, "Max inbound signaling message size (env "+envMaxMessageBytes+")")
	fs.IntVar(&maxMessagesPerSec, "max-messages-per-second", maxMessagesPerSec, "Max inbound signaling messages per second per connection (env "+envMaxMessagesPerSec+")")
	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config (env "+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "Comma-separated STUN URLs (env "+envSTUNURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "Comma-separated TURN URLs (env "+envTURNURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "Static TURN username (env "+envTURNUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "Static TURN credential (env "+envTURNCredential+")")
	fs.StringVar(&turnRESTSecret, "turn-rest-shared-secret", turnRESTSecret, "coturn REST shared secret for ephemeral TURN credentials (env "+envTURNRESTSecret+")")
	fs.DurationVar(&turnRESTTTL, "turn-rest-ttl", turnRESTTTL, "Ephemeral TURN credential TTL (env "+envTURNRESTTTL+")")
	fs.StringVar(&turnRESTPrefix, "turn-rest-prefix", turnRESTPrefix, "Ephemeral TURN username prefix (env "+envTURNRESTPrefix+")")

	var flagLogFormat, flagLogLevel string
	fs.StringVar(&flagLogFormat, "log-format", "", "Log format: text or json (default depends on mode; env "+envLogFormat+")")
	fs.StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error (default depends on mode; env "+envLogLevel+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	if flagLogFormat != "" {
		logFormatStr = flagLogFormat
	} else if !logFormatFromEnv || logFormatStr == "" {
		logFormatStr = defaultLogFormat(mode)
	}
	if flagLogLevel != "" {
		logLevelStr = flagLogLevel
	} else if !logLevelFromEnv || logLevelStr == "" {
		logLevelStr = defaultLogLevel(mode)
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	iceServers, err := parseICEServers(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:      listenAddr,
		AllowedOrigins:  splitCSV(allowedOriginsStr),
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		Mode:            mode,
		ShutdownTimeout: shutdownTimeout,

		RoomAuthURL:     strings.TrimSpace(roomAuthURL),
		RoomAuthTimeout: roomAuthTimeout,
		ChatLogPath:     strings.TrimSpace(chatLogPath),
		MaxRoomSize:     maxRoomSize,

		WSIdleTimeout:        wsIdleTimeout,
		WSPingInterval:       wsPingInterval,
		MaxMessageBytes:      maxMessageBytes,
		MaxMessagesPerSecond: maxMessagesPerSec,

		ICEServers: iceServers,
		TURNREST: TURNRESTConfig{
			SharedSecret: strings.TrimSpace(turnRESTSecret),
			TTL:          turnRESTTTL,
			Prefix:       strings.TrimSpace(turnRESTPrefix),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%s/--shutdown-timeout must be > 0", envShutdownTimeout)
	}
	if c.RoomAuthTimeout <= 0 {
		return fmt.Errorf("%s/--room-auth-timeout must be > 0", envRoomAuthTimeout)
	}
	if c.MaxRoomSize < 0 {
		return fmt.Errorf("%s/--max-room-size must be >= 0", envMaxRoomSize)
	}
	if c.WSIdleTimeout <= 0 {
		return fmt.Errorf("%s/--ws-idle-timeout must be > 0", envWSIdleTimeout)
	}
	if c.WSPingInterval <= 0 {
		return fmt.Errorf("%s/--ws-ping-interval must be > 0", envWSPingInterval)
	}
	if c.WSPingInterval >= c.WSIdleTimeout {
		return fmt.Errorf("%s/--ws-ping-interval must be < %s/--ws-idle-timeout", envWSPingInterval, envWSIdleTimeout)
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("%s/--max-message-bytes must be > 0", envMaxMessageBytes)
	}
	if c.MaxMessagesPerSecond <= 0 {
		return fmt.Errorf("%s/--max-messages-per-second must be > 0", envMaxMessagesPerSec)
	}
	if c.Mode == ModeProd && c.RoomAuthURL == "" {
		return fmt.Errorf("%s/--room-auth-url must be set in prod mode", envRoomAuthURL)
	}
	if c.TURNREST.Enabled() {
		if c.TURNREST.TTL <= 0 {
			return fmt.Errorf("%s/--turn-rest-ttl must be > 0", envTURNRESTTTL)
		}
		if c.TURNREST.Prefix == "" || strings.Contains(c.TURNREST.Prefix, ":") {
			return fmt.Errorf("%s/--turn-rest-prefix must be set and must not contain ':'", envTURNRESTPrefix)
		}
	}
	return nil
}

func parseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeDev:
		return ModeDev, nil
	case ModeProd:
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (want dev or prod)", s)
	}
}

func parseLogFormat(s string) (LogFormat, error) {
	switch LogFormat(strings.ToLower(strings.TrimSpace(s))) {
	case LogFormatText:
		return LogFormatText, nil
	case LogFormatJSON:
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (want text or json)", s)
	}
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", s)
	}
}

func defaultLogFormat(mode Mode) string {
	if mode == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevel(mode Mode) string {
	if mode == ModeProd {
		return "info"
	}
	return "debug"
}

func envOrDefault(lookup func(string) (string, bool), key, def string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return def
}

func envIntOrDefault(lookup func(string) (string, bool), key string, def int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, def time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
