package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-forms/pkg/capability"
	"github.com/vango-go/vai-forms/pkg/capability/capabilitytest"
	"github.com/vango-go/vai-forms/pkg/forms"
	"github.com/vango-go/vai-forms/pkg/gateway/config"
	"github.com/vango-go/vai-forms/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-forms/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-forms/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-forms/pkg/gateway/ratelimit"
	"github.com/vango-go/vai-forms/pkg/record"
	"github.com/vango-go/vai-forms/pkg/store"
)

func testForm() *forms.Form {
	return &forms.Form{
		ID:   "contact",
		Name: "Contact",
		Fields: []forms.FieldSpec{
			{Name: "full_name", Type: forms.FieldText, Required: true, Prompt: "What is your name?"},
		},
		Callback: forms.Callback{URL: "https://hooks.example.com/contact"},
	}
}

type enqueued struct {
	mu  sync.Mutex
	ids []string
}

func (e *enqueued) Enqueue(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ids = append(e.ids, id)
	return nil
}

func (e *enqueued) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.ids...)
}

type liveFixture struct {
	t         *testing.T
	store     *store.Memory
	forms     *forms.Registry
	connector *capabilitytest.Connector
	tracker   *sessions.Tracker
	lifecycle *lifecycle.Lifecycle
	enqueued  *enqueued
	handler   *LiveHandler
	url       string
}

func newLiveFixture(t *testing.T, mutate func(*LiveHandler)) *liveFixture {
	t.Helper()
	reg, err := forms.NewRegistry(testForm())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	f := &liveFixture{
		t:         t,
		store:     store.NewMemory(),
		forms:     reg,
		connector: capabilitytest.NewConnector(),
		tracker:   sessions.NewTracker(),
		lifecycle: &lifecycle.Lifecycle{},
		enqueued:  &enqueued{},
	}
	f.handler = &LiveHandler{
		Config: config.Config{
			LiveWSWriteTimeout: time.Second,
			LiveStartTimeout:   2 * time.Second,
			MaxFieldRetries:    3,
		},
		Forms:        f.forms,
		Store:        f.store,
		Connector:    f.connector,
		Delivery:     f.enqueued,
		Logger:       slog.New(slog.DiscardHandler),
		Lifecycle:    f.lifecycle,
		LiveSessions: f.tracker,
	}
	if mutate != nil {
		mutate(f.handler)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /v1/sessions/{session_id}/live", f.handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	f.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return f
}

func (f *liveFixture) create(status record.Status) *record.Session {
	f.t.Helper()
	rec := record.NewSession("contact", time.Now(), time.Hour)
	rec.Status = status
	if err := f.store.CreateSession(context.Background(), rec); err != nil {
		f.t.Fatalf("CreateSession: %v", err)
	}
	return rec
}

func (f *liveFixture) dial(id string, header http.Header) *websocket.Conn {
	f.t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(f.url+"/v1/sessions/"+id+"/live", header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		f.t.Fatalf("dial: %v (status %d)", err, status)
	}
	f.t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// readFrame returns the next text frame decoded as a map.
func readFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if mt != websocket.TextMessage {
			continue
		}
		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("bad frame %q: %v", data, err)
		}
		return frame
	}
}

func expectFrame(t *testing.T, ws *websocket.Conn, typ string) map[string]any {
	t.Helper()
	for {
		frame := readFrame(t, ws)
		if frame["type"] == typ {
			return frame
		}
	}
}

func expectClose(t *testing.T, ws *websocket.Conn, code int) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		if !websocket.IsCloseError(err, code) {
			t.Fatalf("close err=%v want code %d", err, code)
		}
		return
	}
}

func TestLiveHandler_UnknownSession(t *testing.T) {
	f := newLiveFixture(t, nil)
	ws := f.dial("s_missing", nil)

	frame := readFrame(t, ws)
	if frame["type"] != protocol.TypeError || frame["code"] != protocol.CodeSessionNotFound {
		t.Fatalf("frame=%v", frame)
	}
	expectClose(t, ws, websocket.ClosePolicyViolation)
}

func TestLiveHandler_ClosedSession(t *testing.T) {
	f := newLiveFixture(t, nil)
	rec := f.create(record.StatusCompleted)
	ws := f.dial(rec.ID, nil)

	frame := readFrame(t, ws)
	if frame["code"] != protocol.CodeSessionClosed {
		t.Fatalf("frame=%v", frame)
	}
}

func TestLiveHandler_ExpiredSession(t *testing.T) {
	f := newLiveFixture(t, nil)
	rec := f.create(record.StatusExpired)
	ws := f.dial(rec.ID, nil)

	if frame := readFrame(t, ws); frame["type"] != protocol.TypeExpired {
		t.Fatalf("frame=%v", frame)
	}
	expectClose(t, ws, websocket.CloseNormalClosure)
}

func TestLiveHandler_SecondConnectionIsBusy(t *testing.T) {
	f := newLiveFixture(t, nil)
	rec := f.create(record.StatusPending)

	first := f.dial(rec.ID, nil)
	waitUntil(t, "first connection tracked", func() bool { return f.tracker.Has(rec.ID) })

	second := f.dial(rec.ID, nil)
	if frame := readFrame(t, second); frame["code"] != protocol.CodeSessionBusy {
		t.Fatalf("frame=%v", frame)
	}

	_ = first.Close()
	waitUntil(t, "first connection released", func() bool { return !f.tracker.Has(rec.ID) })
}

func TestLiveHandler_CompletesSession(t *testing.T) {
	f := newLiveFixture(t, nil)
	rec := f.create(record.StatusPending)
	ws := f.dial(rec.ID, nil)

	if err := ws.WriteJSON(map[string]string{"type": protocol.TypeStart}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	var conn *capabilitytest.Conn
	select {
	case conn = <-f.connector.Ready():
	case <-time.After(3 * time.Second):
		t.Fatalf("capability never connected")
	}
	expectFrame(t, ws, protocol.TypeReady)

	conn.Emit(capability.Event{Kind: capability.EventInputTranscript, Text: "Ada Lovelace"})
	conn.Emit(capability.Event{Kind: capability.EventTurnComplete})

	done := expectFrame(t, ws, protocol.TypeCompleted)
	fields, _ := done["extracted_fields"].(map[string]any)
	if fields["full_name"] != "Ada Lovelace" {
		t.Fatalf("completed=%v", done)
	}

	waitUntil(t, "session released", func() bool { return !f.tracker.Has(rec.ID) })
	got, err := f.store.GetSession(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != record.StatusCompleted {
		t.Fatalf("status=%s", got.Status)
	}
	if ids := f.enqueued.list(); len(ids) != 1 || ids[0] != rec.ID {
		t.Fatalf("enqueued=%v", ids)
	}
}

func TestLiveHandler_RejectsWhileDraining(t *testing.T) {
	f := newLiveFixture(t, nil)
	rec := f.create(record.StatusPending)
	f.lifecycle.SetDraining(true)

	_, resp, err := websocket.DefaultDialer.Dial(f.url+"/v1/sessions/"+rec.ID+"/live", nil)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("resp=%v", resp)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
}

func TestLiveHandler_RejectsUnknownOrigin(t *testing.T) {
	f := newLiveFixture(t, func(h *LiveHandler) {
		h.Config.CORSAllowedOrigins = map[string]struct{}{"https://forms.example.com": {}}
	})
	rec := f.create(record.StatusPending)

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(f.url+"/v1/sessions/"+rec.ID+"/live", header)
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("err=%v resp=%v", err, resp)
	}

	header.Set("Origin", "https://forms.example.com")
	ws := f.dial(rec.ID, header)
	_ = ws.Close()
}

func TestLiveHandler_LimitsConcurrentSessionsPerClient(t *testing.T) {
	f := newLiveFixture(t, func(h *LiveHandler) {
		h.Limiter = ratelimit.New(ratelimit.Config{MaxLiveSessions: 1})
	})
	a := f.create(record.StatusPending)
	b := f.create(record.StatusPending)

	first := f.dial(a.ID, nil)
	waitUntil(t, "first connection tracked", func() bool { return f.tracker.Has(a.ID) })

	_, resp, err := websocket.DefaultDialer.Dial(f.url+"/v1/sessions/"+b.ID+"/live", nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("err=%v resp=%v", err, resp)
	}

	_ = first.Close()
	waitUntil(t, "permit released", func() bool {
		ws, _, err := websocket.DefaultDialer.Dial(f.url+"/v1/sessions/"+b.ID+"/live", nil)
		if err != nil {
			return false
		}
		_ = ws.Close()
		return true
	})
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
