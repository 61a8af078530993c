package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/vango-go/vai-forms/pkg/gateway/config"
	"github.com/vango-go/vai-forms/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK            bool     `json:"ok"`
		AuthMode      string   `json:"auth_mode"`
		Durable       bool     `json:"durable"`
		LimitsEnabled bool     `json:"limits_enabled"`
		Draining      bool     `json:"draining"`
		Issues        []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	issues = append(issues, h.Lifecycle.Ready(ctx)...)

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, readyResp{
		OK:            ok,
		AuthMode:      string(h.Config.AuthMode),
		Durable:       h.Config.DatabaseURL != "",
		LimitsEnabled: (h.Config.LimitRPS > 0 && h.Config.LimitBurst > 0) || h.Config.LimitMaxLiveSessionsPerIP > 0,
		Draining:      h.Lifecycle.IsDraining(),
		Issues:        issues,
	})
}
