package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// HS256 secret for bearer verification. Required unless auth is disabled.
	AuthSecret   string
	AuthDisabled bool

	// Upstream engine connection.
	EngineBaseURL        string
	EngineAPIKey         string
	EngineModel          string
	EngineConnectTimeout time.Duration
	EngineWriteTimeout   time.Duration

	// Postgres DSN for the session store.
	DatabaseURL string

	// Analysis service.
	AnalysisBaseURL string
	AnalysisAPIKey  string

	// Background queue and the shared store gate.
	QueueCapacity int
	QueueWorkers  int
	JobTimeout    time.Duration
	GatePermits   int

	// Live WebSocket session limits.
	MaxSessionsPerUser   int
	MaxAudioFrameBytes   int
	MaxJSONMessageBytes  int64
	OutboundQueueSize    int
	DefaultTurnsRequired int
	WSPingInterval       time.Duration
	WSWriteTimeout       time.Duration
	WSReadTimeout        time.Duration
	HandshakeTimeout     time.Duration
	PersistTimeout       time.Duration

	// CORS / websocket origin allowlist. Empty disables browser access.
	AllowedOrigins map[string]struct{}

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                 envOr("LINGO_ADDR", ":8080"),
		AuthSecret:           strings.TrimSpace(os.Getenv("LINGO_AUTH_SECRET")),
		AuthDisabled:         envBoolOr("LINGO_AUTH_DISABLED", false),
		EngineBaseURL:        envOr("LINGO_ENGINE_BASE_URL", "wss://api.openai.com/v1/realtime"),
		EngineAPIKey:         strings.TrimSpace(os.Getenv("LINGO_ENGINE_API_KEY")),
		EngineModel:          envOr("LINGO_ENGINE_MODEL", "gpt-4o-realtime-preview"),
		EngineConnectTimeout: envDurationOr("LINGO_ENGINE_CONNECT_TIMEOUT", 10*time.Second),
		EngineWriteTimeout:   envDurationOr("LINGO_ENGINE_WRITE_TIMEOUT", 5*time.Second),
		DatabaseURL:          strings.TrimSpace(os.Getenv("LINGO_DATABASE_URL")),
		AnalysisBaseURL:      envOr("LINGO_ANALYSIS_BASE_URL", ""),
		AnalysisAPIKey:       strings.TrimSpace(os.Getenv("LINGO_ANALYSIS_API_KEY")),
		QueueCapacity:        envIntOr("LINGO_QUEUE_CAPACITY", 64),
		QueueWorkers:         envIntOr("LINGO_QUEUE_WORKERS", 4),
		JobTimeout:           envDurationOr("LINGO_JOB_TIMEOUT", 30*time.Second),
		GatePermits:          envIntOr("LINGO_GATE_PERMITS", 16),
		MaxSessionsPerUser:   envIntOr("LINGO_MAX_SESSIONS_PER_USER", 2),
		MaxAudioFrameBytes:   envIntOr("LINGO_MAX_AUDIO_FRAME_BYTES", 32768),
		MaxJSONMessageBytes:  envInt64Or("LINGO_MAX_JSON_MESSAGE_BYTES", 64*1024),
		OutboundQueueSize:    envIntOr("LINGO_OUTBOUND_QUEUE_SIZE", 128),
		DefaultTurnsRequired: envIntOr("LINGO_DEFAULT_TURNS_REQUIRED", 7),
		WSPingInterval:       envDurationOr("LINGO_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:       envDurationOr("LINGO_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadTimeout:        envDurationOr("LINGO_WS_READ_TIMEOUT", 0),
		HandshakeTimeout:     envDurationOr("LINGO_HANDSHAKE_TIMEOUT", 5*time.Second),
		PersistTimeout:       envDurationOr("LINGO_PERSIST_TIMEOUT", 10*time.Second),
		AllowedOrigins:       make(map[string]struct{}),
		ReadHeaderTimeout:    envDurationOr("LINGO_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:  envDurationOr("LINGO_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("LINGO_ALLOWED_ORIGINS")) {
		cfg.AllowedOrigins[origin] = struct{}{}
	}

	if !cfg.AuthDisabled && cfg.AuthSecret == "" {
		return Config{}, fmt.Errorf("LINGO_AUTH_SECRET must be set unless LINGO_AUTH_DISABLED=true")
	}
	if strings.TrimSpace(cfg.EngineBaseURL) == "" {
		return Config{}, fmt.Errorf("LINGO_ENGINE_BASE_URL must not be empty")
	}
	if cfg.EngineAPIKey == "" {
		return Config{}, fmt.Errorf("LINGO_ENGINE_API_KEY must be set")
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("LINGO_DATABASE_URL must be set")
	}
	if cfg.EngineConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("LINGO_ENGINE_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.EngineWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("LINGO_ENGINE_WRITE_TIMEOUT must be > 0")
	}
	if cfg.QueueCapacity <= 0 {
		return Config{}, fmt.Errorf("LINGO_QUEUE_CAPACITY must be > 0")
	}
	if cfg.QueueWorkers <= 0 {
		return Config{}, fmt.Errorf("LINGO_QUEUE_WORKERS must be > 0")
	}
	if cfg.JobTimeout <= 0 {
		return Config{}, fmt.Errorf("LINGO_JOB_TIMEOUT must be > 0")
	}
	if cfg.GatePermits <= 0 {
		return Config{}, fmt.Errorf("LINGO_GATE_PERMITS must be > 0")
	}
	if cfg.MaxSessionsPerUser <= 0 {
		return Config{}, fmt.Errorf("LINGO_MAX_SESSIONS_PER_USER must be > 0")
	}
	if cfg.MaxAudioFrameBytes <= 0 {
		return Config{}, fmt.Errorf("LINGO_MAX_AUDIO_FRAME_BYTES must be > 0")
	}
	if cfg.MaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("LINGO_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.OutboundQueueSize <= 0 {
		return Config{}, fmt.Errorf("LINGO_OUTBOUND_QUEUE_SIZE must be > 0")
	}
	if cfg.DefaultTurnsRequired <= 0 {
		return Config{}, fmt.Errorf("LINGO_DEFAULT_TURNS_REQUIRED must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("LINGO_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("LINGO_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSReadTimeout < 0 {
		return Config{}, fmt.Errorf("LINGO_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.HandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("LINGO_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.PersistTimeout <= 0 {
		return Config{}, fmt.Errorf("LINGO_PERSIST_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("LINGO_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("LINGO_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
