package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	// AuthMode and APIKeys guard the operator endpoints. The live websocket
	// is authorized by its session id.
	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// If true, client identity may be derived from proxy headers like X-Forwarded-For.
	// This should only be enabled when the server is deployed behind a trusted proxy/LB.
	TrustProxyHeaders bool

	MaxBodyBytes int64

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// FormsPath is a YAML file or a directory of YAML files.
	FormsPath string
	// DatabaseURL selects the Postgres store. Empty keeps sessions in memory.
	DatabaseURL string
	// SessionTTL applies to forms that do not set their own.
	SessionTTL      time.Duration
	MaxFieldRetries int
	SweepInterval   time.Duration

	// AI capability.
	GeminiAPIKey string
	GeminiModel  string
	GeminiVoice  string

	// Live WebSocket mode (/v1/sessions/{id}/live).
	LiveMaxAudioFrameBytes     int
	LiveMaxJSONMessageBytes    int64
	LiveMaxAudioFPS            int
	LiveMaxAudioBytesPerSecond int64
	LiveInboundBurstSeconds    int
	LiveInboundQueueDepth      int
	LivePlaybackQueueDepth     int
	LiveWSPingInterval         time.Duration
	LiveWSWriteTimeout         time.Duration
	LiveWSReadTimeout          time.Duration
	LiveStartTimeout           time.Duration

	// Webhook delivery.
	DeliveryWorkers             int
	DeliveryQueueSize           int
	DeliveryMaxAttempts         int
	DeliveryBaseDelay           time.Duration
	DeliveryMaxDelay            time.Duration
	DeliveryTimeout             time.Duration
	DeliveryRescanInterval      time.Duration
	DeliveryAllowPrivateTargets bool

	// In-memory limits (per client).
	LimitRPS                  float64
	LimitBurst                int
	LimitMaxLiveSessionsPerIP int

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration

	MetricsNamespace string
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                        envOr("VAI_FORMS_ADDR", ":8080"),
		AuthMode:                    AuthMode(envOr("VAI_FORMS_AUTH_MODE", string(AuthModeRequired))),
		APIKeys:                     make(map[string]struct{}),
		TrustProxyHeaders:           envBoolOr("VAI_FORMS_TRUST_PROXY_HEADERS", false),
		MaxBodyBytes:                envInt64Or("VAI_FORMS_MAX_BODY_BYTES", 1<<20), // 1 MiB
		CORSAllowedOrigins:          make(map[string]struct{}),
		FormsPath:                   envOr("VAI_FORMS_FORMS_PATH", "forms"),
		DatabaseURL:                 envOr("VAI_FORMS_DATABASE_URL", ""),
		SessionTTL:                  envDurationOr("VAI_FORMS_SESSION_TTL", 30*time.Minute),
		MaxFieldRetries:             envIntOr("VAI_FORMS_MAX_FIELD_RETRIES", 3),
		SweepInterval:               envDurationOr("VAI_FORMS_SWEEP_INTERVAL", time.Minute),
		GeminiAPIKey:                envOr("VAI_FORMS_GEMINI_API_KEY", os.Getenv("GEMINI_API_KEY")),
		GeminiModel:                 envOr("VAI_FORMS_GEMINI_MODEL", "gemini-2.0-flash-live-001"),
		GeminiVoice:                 envOr("VAI_FORMS_GEMINI_VOICE", ""),
		LiveMaxAudioFrameBytes:      envIntOr("VAI_FORMS_LIVE_MAX_AUDIO_FRAME_BYTES", 64*1024),
		LiveMaxJSONMessageBytes:     envInt64Or("VAI_FORMS_LIVE_MAX_JSON_MESSAGE_BYTES", 128*1024),
		LiveMaxAudioFPS:             envIntOr("VAI_FORMS_LIVE_MAX_AUDIO_FPS", 120),
		LiveMaxAudioBytesPerSecond:  envInt64Or("VAI_FORMS_LIVE_MAX_AUDIO_BPS", 128*1024),
		LiveInboundBurstSeconds:     envIntOr("VAI_FORMS_LIVE_INBOUND_BURST_SECONDS", 2),
		LiveInboundQueueDepth:       envIntOr("VAI_FORMS_LIVE_INBOUND_QUEUE_DEPTH", 32),
		LivePlaybackQueueDepth:      envIntOr("VAI_FORMS_LIVE_PLAYBACK_QUEUE_DEPTH", 512),
		LiveWSPingInterval:          envDurationOr("VAI_FORMS_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveWSWriteTimeout:          envDurationOr("VAI_FORMS_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		LiveWSReadTimeout:           envDurationOr("VAI_FORMS_LIVE_WS_READ_TIMEOUT", 0),
		LiveStartTimeout:            envDurationOr("VAI_FORMS_LIVE_START_TIMEOUT", 30*time.Second),
		DeliveryWorkers:             envIntOr("VAI_FORMS_DELIVERY_WORKERS", 4),
		DeliveryQueueSize:           envIntOr("VAI_FORMS_DELIVERY_QUEUE_SIZE", 256),
		DeliveryMaxAttempts:         envIntOr("VAI_FORMS_DELIVERY_MAX_ATTEMPTS", 5),
		DeliveryBaseDelay:           envDurationOr("VAI_FORMS_DELIVERY_BASE_DELAY", 30*time.Second),
		DeliveryMaxDelay:            envDurationOr("VAI_FORMS_DELIVERY_MAX_DELAY", 30*time.Minute),
		DeliveryTimeout:             envDurationOr("VAI_FORMS_DELIVERY_TIMEOUT", 10*time.Second),
		DeliveryRescanInterval:      envDurationOr("VAI_FORMS_DELIVERY_RESCAN_INTERVAL", time.Minute),
		DeliveryAllowPrivateTargets: envBoolOr("VAI_FORMS_DELIVERY_ALLOW_PRIVATE_TARGETS", false),
		LimitRPS:                    envFloat64Or("VAI_FORMS_RATE_LIMIT_RPS", 5.0),
		LimitBurst:                  envIntOr("VAI_FORMS_RATE_LIMIT_BURST", 10),
		LimitMaxLiveSessionsPerIP:   envIntOr("VAI_FORMS_MAX_LIVE_SESSIONS_PER_IP", 4),
		ReadHeaderTimeout:           envDurationOr("VAI_FORMS_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                 envDurationOr("VAI_FORMS_READ_TIMEOUT", 30*time.Second),
		HandlerTimeout:              envDurationOr("VAI_FORMS_HANDLER_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:         envDurationOr("VAI_FORMS_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		MetricsNamespace:            envOr("VAI_FORMS_METRICS_NAMESPACE", "vai_forms"),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("VAI_FORMS_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("VAI_FORMS_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}

	for _, origin := range splitCSV(os.Getenv("VAI_FORMS_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("VAI_FORMS_MAX_BODY_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.FormsPath) == "" {
		return Config{}, fmt.Errorf("VAI_FORMS_FORMS_PATH must not be empty")
	}
	if cfg.SessionTTL <= 0 {
		return Config{}, fmt.Errorf("VAI_FORMS_SESSION_TTL must be > 0")
	}
	if cfg.MaxFieldRetries <= 0 {
		return Config{}, fmt.Errorf("VAI_FORMS_MAX_FIELD_RETRIES must be > 0")
	}
	if cfg.SweepInterval <= 0 {
		return Config{}, fmt.Errorf("VAI_FORMS_SWEEP_INTERVAL must be > 0")
	}
	if strings.TrimSpace(cfg.GeminiModel) == "" {
		return Config{}, fmt.Errorf("VAI_FORMS_GEMINI_MODEL must not be empty")
	}
	if cfg.LiveMaxAudioFrameBytes <= 0 {
		return Config{}, fmt.Errorf("VAI_FORMS_LIVE_MAX_AUDIO_FRAME_BYTES must be > 0")
	}
	if cfg.LiveMaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("VAI_FORMS_LIVE_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveMaxAudioFPS < 0 {
		return Config{}, fmt.Errorf("VAI_FORMS_LIVE_MAX_AUDIO_FPS must be >= 0")
	}
	if cfg.LiveMaxAudioBytesPerSecond < 0 {
		return Config{}, fmt.Errorf("VAI_FORMS_LIVE_MAX_AUDIO_BPS must be >= 0")
	}
	if cfg.LiveInboundBurstSeconds < 0 {
		return Config{}, fmt.Errorf("VAI_FORMS_LIVE_INBOUND_BURST_SECONDS must be >= 0")
	}
	if (cfg.LiveMaxAudioFPS > 0 || cfg.LiveMaxAudioBytesPerSecond > 0) && cfg.LiveInboundBurstSeconds < 1 {
		return Config{}, fmt.Errorf("VAI_FORMS_LIVE_INBOUND_BURST_SECONDS must be >= 1 when inbound audio limits are enabled")
	}
	if cfg.LiveInboundQueueDepth <= 0 {
		return Config{}, fmt.Errorf("VAI_FORMS_LIVE_INBOUND_QUEUE_DEPTH must be > 0")
	}
	if cfg.LivePlaybackQueueDepth <= 0 {
		return Config{}, fmt.Errorf("VAI_FORMS_LIVE_PLAYBACK_QUEUE_DEPTH must be > 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("VAI_FORMS_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_FORMS_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveWSReadTimeout < 0 {
		return Config{}, fmt.Errorf("VAI_FORMS_LIVE_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.LiveStartTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_FORMS_LIVE_START_TIMEOUT must be > 0")
	}
	if cfg.DeliveryWorkers <= 0 {
		return Config{}, fmt.Errorf("VAI_FORMS_DELIVERY_WORKERS must be > 0")
	}
	if cfg.DeliveryQueueSize <= 0 {
		return Config{}, fmt.Errorf("VAI_FORMS_DELIVERY_QUEUE_SIZE must be > 0")
	}
	if cfg.DeliveryMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("VAI_FORMS_DELIVERY_MAX_ATTEMPTS must be > 0")
	}
	if cfg.DeliveryBaseDelay <= 0 {
		return Config{}, fmt.Errorf("VAI_FORMS_DELIVERY_BASE_DELAY must be > 0")
	}
	if cfg.DeliveryMaxDelay < cfg.DeliveryBaseDelay {
		return Config{}, fmt.Errorf("VAI_FORMS_DELIVERY_MAX_DELAY must be >= VAI_FORMS_DELIVERY_BASE_DELAY")
	}
	if cfg.DeliveryTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_FORMS_DELIVERY_TIMEOUT must be > 0")
	}
	if cfg.DeliveryRescanInterval <= 0 {
		return Config{}, fmt.Errorf("VAI_FORMS_DELIVERY_RESCAN_INTERVAL must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_FORMS_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_FORMS_READ_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("VAI_FORMS_HANDLER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VAI_FORMS_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("VAI_FORMS_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("VAI_FORMS_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxLiveSessionsPerIP < 0 {
		return Config{}, fmt.Errorf("VAI_FORMS_MAX_LIVE_SESSIONS_PER_IP must be >= 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("VAI_FORMS_API_KEYS must be set when VAI_FORMS_AUTH_MODE=required")
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

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
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
