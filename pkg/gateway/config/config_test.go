package config

import (
	"strings"
	"testing"
	"time"
)

var formsEnvKeys = []string{
	"VAI_FORMS_ADDR",
	"VAI_FORMS_AUTH_MODE",
	"VAI_FORMS_API_KEYS",
	"VAI_FORMS_TRUST_PROXY_HEADERS",
	"VAI_FORMS_CORS_ORIGINS",
	"VAI_FORMS_MAX_BODY_BYTES",
	"VAI_FORMS_FORMS_PATH",
	"VAI_FORMS_DATABASE_URL",
	"VAI_FORMS_SESSION_TTL",
	"VAI_FORMS_MAX_FIELD_RETRIES",
	"VAI_FORMS_SWEEP_INTERVAL",
	"VAI_FORMS_GEMINI_API_KEY",
	"VAI_FORMS_GEMINI_MODEL",
	"VAI_FORMS_GEMINI_VOICE",
	"GEMINI_API_KEY",
	"VAI_FORMS_LIVE_MAX_AUDIO_FRAME_BYTES",
	"VAI_FORMS_LIVE_MAX_JSON_MESSAGE_BYTES",
	"VAI_FORMS_LIVE_MAX_AUDIO_FPS",
	"VAI_FORMS_LIVE_MAX_AUDIO_BPS",
	"VAI_FORMS_LIVE_INBOUND_BURST_SECONDS",
	"VAI_FORMS_LIVE_INBOUND_QUEUE_DEPTH",
	"VAI_FORMS_LIVE_PLAYBACK_QUEUE_DEPTH",
	"VAI_FORMS_LIVE_WS_PING_INTERVAL",
	"VAI_FORMS_LIVE_WS_WRITE_TIMEOUT",
	"VAI_FORMS_LIVE_WS_READ_TIMEOUT",
	"VAI_FORMS_LIVE_START_TIMEOUT",
	"VAI_FORMS_DELIVERY_WORKERS",
	"VAI_FORMS_DELIVERY_QUEUE_SIZE",
	"VAI_FORMS_DELIVERY_MAX_ATTEMPTS",
	"VAI_FORMS_DELIVERY_BASE_DELAY",
	"VAI_FORMS_DELIVERY_MAX_DELAY",
	"VAI_FORMS_DELIVERY_TIMEOUT",
	"VAI_FORMS_DELIVERY_RESCAN_INTERVAL",
	"VAI_FORMS_DELIVERY_ALLOW_PRIVATE_TARGETS",
	"VAI_FORMS_RATE_LIMIT_RPS",
	"VAI_FORMS_RATE_LIMIT_BURST",
	"VAI_FORMS_MAX_LIVE_SESSIONS_PER_IP",
	"VAI_FORMS_READ_HEADER_TIMEOUT",
	"VAI_FORMS_READ_TIMEOUT",
	"VAI_FORMS_HANDLER_TIMEOUT",
	"VAI_FORMS_SHUTDOWN_GRACE_PERIOD",
	"VAI_FORMS_METRICS_NAMESPACE",
}

func clearFormsEnv(t *testing.T) {
	t.Helper()
	for _, key := range formsEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearFormsEnv(t)
	t.Setenv("VAI_FORMS_API_KEYS", "vf_sk_test")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.AuthMode != AuthModeRequired {
		t.Fatalf("AuthMode = %q, want %q", cfg.AuthMode, AuthModeRequired)
	}
	if cfg.MaxBodyBytes != 1<<20 {
		t.Fatalf("MaxBodyBytes = %d, want %d", cfg.MaxBodyBytes, int64(1<<20))
	}
	if cfg.FormsPath != "forms" || cfg.DatabaseURL != "" {
		t.Fatalf("FormsPath/DatabaseURL = %q/%q", cfg.FormsPath, cfg.DatabaseURL)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Fatalf("SessionTTL = %v, want 30m", cfg.SessionTTL)
	}
	if cfg.MaxFieldRetries != 3 {
		t.Fatalf("MaxFieldRetries = %d, want 3", cfg.MaxFieldRetries)
	}
	if cfg.SweepInterval != time.Minute {
		t.Fatalf("SweepInterval = %v, want 1m", cfg.SweepInterval)
	}
	if cfg.GeminiModel == "" {
		t.Fatalf("GeminiModel should have a default")
	}
	if cfg.LiveMaxAudioFrameBytes != 64*1024 || cfg.LiveMaxJSONMessageBytes != 128*1024 {
		t.Fatalf("live size limits = %d/%d", cfg.LiveMaxAudioFrameBytes, cfg.LiveMaxJSONMessageBytes)
	}
	if cfg.LiveInboundQueueDepth != 32 {
		t.Fatalf("LiveInboundQueueDepth = %d, want 32", cfg.LiveInboundQueueDepth)
	}
	if cfg.LivePlaybackQueueDepth != 512 {
		t.Fatalf("LivePlaybackQueueDepth = %d, want 512", cfg.LivePlaybackQueueDepth)
	}
	if cfg.LiveWSPingInterval != 20*time.Second || cfg.LiveWSWriteTimeout != 5*time.Second || cfg.LiveWSReadTimeout != 0 {
		t.Fatalf("live ws timings = %v/%v/%v", cfg.LiveWSPingInterval, cfg.LiveWSWriteTimeout, cfg.LiveWSReadTimeout)
	}
	if cfg.LiveStartTimeout != 30*time.Second {
		t.Fatalf("LiveStartTimeout = %v, want 30s", cfg.LiveStartTimeout)
	}
	if cfg.DeliveryMaxAttempts != 5 {
		t.Fatalf("DeliveryMaxAttempts = %d, want 5", cfg.DeliveryMaxAttempts)
	}
	if cfg.DeliveryBaseDelay != 30*time.Second || cfg.DeliveryMaxDelay != 30*time.Minute {
		t.Fatalf("delivery backoff = %v/%v, want 30s/30m", cfg.DeliveryBaseDelay, cfg.DeliveryMaxDelay)
	}
	if cfg.DeliveryAllowPrivateTargets {
		t.Fatalf("DeliveryAllowPrivateTargets = true, want false")
	}
	if cfg.TrustProxyHeaders {
		t.Fatalf("TrustProxyHeaders = true, want false")
	}
	if cfg.ShutdownGracePeriod != 30*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 30s", cfg.ShutdownGracePeriod)
	}
	if cfg.MetricsNamespace != "vai_forms" {
		t.Fatalf("MetricsNamespace = %q", cfg.MetricsNamespace)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearFormsEnv(t)
	t.Setenv("VAI_FORMS_ADDR", ":9090")
	t.Setenv("VAI_FORMS_AUTH_MODE", "optional")
	t.Setenv("VAI_FORMS_API_KEYS", "k1,k2")
	t.Setenv("VAI_FORMS_TRUST_PROXY_HEADERS", "true")
	t.Setenv("VAI_FORMS_CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("VAI_FORMS_FORMS_PATH", "/etc/vai-forms/forms.yaml")
	t.Setenv("VAI_FORMS_DATABASE_URL", "postgres://localhost/forms")
	t.Setenv("VAI_FORMS_SESSION_TTL", "45m")
	t.Setenv("VAI_FORMS_MAX_FIELD_RETRIES", "5")
	t.Setenv("VAI_FORMS_GEMINI_API_KEY", "g-key")
	t.Setenv("VAI_FORMS_LIVE_INBOUND_QUEUE_DEPTH", "8")
	t.Setenv("VAI_FORMS_LIVE_START_TIMEOUT", "12s")
	t.Setenv("VAI_FORMS_DELIVERY_WORKERS", "2")
	t.Setenv("VAI_FORMS_DELIVERY_MAX_ATTEMPTS", "9")
	t.Setenv("VAI_FORMS_DELIVERY_BASE_DELAY", "1s")
	t.Setenv("VAI_FORMS_DELIVERY_MAX_DELAY", "10s")
	t.Setenv("VAI_FORMS_DELIVERY_ALLOW_PRIVATE_TARGETS", "yes")
	t.Setenv("VAI_FORMS_RATE_LIMIT_RPS", "3.5")
	t.Setenv("VAI_FORMS_RATE_LIMIT_BURST", "8")
	t.Setenv("VAI_FORMS_MAX_LIVE_SESSIONS_PER_IP", "1")
	t.Setenv("VAI_FORMS_SHUTDOWN_GRACE_PERIOD", "31s")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":9090" || cfg.AuthMode != AuthModeOptional {
		t.Fatalf("Addr/AuthMode = %q/%q", cfg.Addr, cfg.AuthMode)
	}
	if len(cfg.APIKeys) != 2 {
		t.Fatalf("APIKeys len=%d, want 2", len(cfg.APIKeys))
	}
	if _, ok := cfg.APIKeys["k1"]; !ok {
		t.Fatalf("expected API key k1")
	}
	if len(cfg.CORSAllowedOrigins) != 2 || !cfg.TrustProxyHeaders {
		t.Fatalf("cors/proxy mismatch: %v/%v", cfg.CORSAllowedOrigins, cfg.TrustProxyHeaders)
	}
	if cfg.FormsPath != "/etc/vai-forms/forms.yaml" || cfg.DatabaseURL != "postgres://localhost/forms" {
		t.Fatalf("paths mismatch: %q/%q", cfg.FormsPath, cfg.DatabaseURL)
	}
	if cfg.SessionTTL != 45*time.Minute || cfg.MaxFieldRetries != 5 {
		t.Fatalf("session mismatch: %v/%d", cfg.SessionTTL, cfg.MaxFieldRetries)
	}
	if cfg.GeminiAPIKey != "g-key" {
		t.Fatalf("GeminiAPIKey = %q", cfg.GeminiAPIKey)
	}
	if cfg.LiveInboundQueueDepth != 8 || cfg.LiveStartTimeout != 12*time.Second {
		t.Fatalf("live mismatch: %d/%v", cfg.LiveInboundQueueDepth, cfg.LiveStartTimeout)
	}
	if cfg.DeliveryWorkers != 2 || cfg.DeliveryMaxAttempts != 9 || cfg.DeliveryBaseDelay != time.Second || cfg.DeliveryMaxDelay != 10*time.Second {
		t.Fatalf("delivery mismatch: %+v", cfg)
	}
	if !cfg.DeliveryAllowPrivateTargets {
		t.Fatalf("DeliveryAllowPrivateTargets = false, want true")
	}
	if cfg.LimitRPS != 3.5 || cfg.LimitBurst != 8 || cfg.LimitMaxLiveSessionsPerIP != 1 {
		t.Fatalf("limits mismatch: %v/%d/%d", cfg.LimitRPS, cfg.LimitBurst, cfg.LimitMaxLiveSessionsPerIP)
	}
	if cfg.ShutdownGracePeriod != 31*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 31s", cfg.ShutdownGracePeriod)
	}
}

func TestLoadFromEnv_GeminiKeyFallsBackToSDKVariable(t *testing.T) {
	clearFormsEnv(t)
	t.Setenv("VAI_FORMS_AUTH_MODE", "disabled")
	t.Setenv("GEMINI_API_KEY", "sdk-key")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.GeminiAPIKey != "sdk-key" {
		t.Fatalf("GeminiAPIKey = %q, want sdk-key", cfg.GeminiAPIKey)
	}
}

func TestLoadFromEnv_RequiredAuthNeedsAPIKeys(t *testing.T) {
	clearFormsEnv(t)
	t.Setenv("VAI_FORMS_AUTH_MODE", "required")

	_, err := LoadFromEnv()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "VAI_FORMS_API_KEYS") {
		t.Fatalf("error = %v, expected VAI_FORMS_API_KEYS in message", err)
	}
}

func TestLoadFromEnv_ParsesCSVOrigins(t *testing.T) {
	clearFormsEnv(t)
	t.Setenv("VAI_FORMS_AUTH_MODE", "optional")
	t.Setenv("VAI_FORMS_CORS_ORIGINS", "https://one.example, https://two.example,,")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins len=%d, want 2", len(cfg.CORSAllowedOrigins))
	}
	if _, ok := cfg.CORSAllowedOrigins["https://two.example"]; !ok {
		t.Fatalf("missing https://two.example")
	}
}

func TestLoadFromEnv_InvalidValues(t *testing.T) {
	cases := []struct {
		name      string
		env       map[string]string
		errSubstr string
	}{
		{
			name:      "unknown auth mode",
			env:       map[string]string{"VAI_FORMS_AUTH_MODE": "sometimes"},
			errSubstr: "VAI_FORMS_AUTH_MODE",
		},
		{
			name: "zero session ttl",
			env: map[string]string{
				"VAI_FORMS_AUTH_MODE":   "optional",
				"VAI_FORMS_SESSION_TTL": "0s",
			},
			errSubstr: "VAI_FORMS_SESSION_TTL",
		},
		{
			name: "zero inbound queue",
			env: map[string]string{
				"VAI_FORMS_AUTH_MODE":                "optional",
				"VAI_FORMS_LIVE_INBOUND_QUEUE_DEPTH": "0",
			},
			errSubstr: "VAI_FORMS_LIVE_INBOUND_QUEUE_DEPTH",
		},
		{
			name: "burst disabled with audio limits",
			env: map[string]string{
				"VAI_FORMS_AUTH_MODE":                  "optional",
				"VAI_FORMS_LIVE_INBOUND_BURST_SECONDS": "0",
			},
			errSubstr: "VAI_FORMS_LIVE_INBOUND_BURST_SECONDS",
		},
		{
			name: "max delay below base delay",
			env: map[string]string{
				"VAI_FORMS_AUTH_MODE":           "optional",
				"VAI_FORMS_DELIVERY_BASE_DELAY": "1m",
				"VAI_FORMS_DELIVERY_MAX_DELAY":  "10s",
			},
			errSubstr: "VAI_FORMS_DELIVERY_MAX_DELAY",
		},
		{
			name: "negative rate limit",
			env: map[string]string{
				"VAI_FORMS_AUTH_MODE":      "optional",
				"VAI_FORMS_RATE_LIMIT_RPS": "-1",
			},
			errSubstr: "VAI_FORMS_RATE_LIMIT_RPS",
		},
		{
			name: "zero shutdown grace",
			env: map[string]string{
				"VAI_FORMS_AUTH_MODE":             "optional",
				"VAI_FORMS_SHUTDOWN_GRACE_PERIOD": "0s",
			},
			errSubstr: "VAI_FORMS_SHUTDOWN_GRACE_PERIOD",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearFormsEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.errSubstr) {
				t.Fatalf("error=%v, want substring %q", err, tc.errSubstr)
			}
		})
	}
}
