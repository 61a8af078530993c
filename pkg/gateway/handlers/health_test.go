package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vango-go/vai-forms/pkg/gateway/config"
	"github.com/vango-go/vai-forms/pkg/gateway/lifecycle"
)

func TestReadyHandler_RequiredAuthEmptyKeys_NotReady(t *testing.T) {
	h := ReadyHandler{Config: config.Config{
		AuthMode: config.AuthModeRequired,
		APIKeys:  map[string]struct{}{},
	}}

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ok, _ := resp["ok"].(bool); ok {
		t.Fatalf("expected ok=false, got ok=true")
	}
}

func TestReadyHandler_OptionalAuth_Ready(t *testing.T) {
	lc := &lifecycle.Lifecycle{}
	lc.AddCheck("store", func(context.Context) error { return nil })
	h := ReadyHandler{Config: config.Config{AuthMode: config.AuthModeOptional}, Lifecycle: lc}

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestReadyHandler_FailingCheckAndDraining(t *testing.T) {
	lc := &lifecycle.Lifecycle{}
	lc.AddCheck("store", func(context.Context) error { return errors.New("connection refused") })
	lc.SetDraining(true)
	h := ReadyHandler{Config: config.Config{AuthMode: config.AuthModeDisabled}, Lifecycle: lc}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rr.Code)
	}
	var resp struct {
		Draining bool     `json:"draining"`
		Issues   []string `json:"issues"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Draining || len(resp.Issues) != 2 {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestHealthHandler_AlwaysOK(t *testing.T) {
	rr := httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok\n" {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}
