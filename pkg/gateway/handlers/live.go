package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-forms/pkg/capability"
	"github.com/vango-go/vai-forms/pkg/forms"
	"github.com/vango-go/vai-forms/pkg/gateway/apierror"
	"github.com/vango-go/vai-forms/pkg/gateway/config"
	"github.com/vango-go/vai-forms/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-forms/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-forms/pkg/gateway/live/session"
	"github.com/vango-go/vai-forms/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-forms/pkg/gateway/mw"
	"github.com/vango-go/vai-forms/pkg/gateway/principal"
	"github.com/vango-go/vai-forms/pkg/gateway/ratelimit"
	"github.com/vango-go/vai-forms/pkg/metrics"
	"github.com/vango-go/vai-forms/pkg/record"
	"github.com/vango-go/vai-forms/pkg/store"
)

// LiveHandler handles GET /v1/sessions/{session_id}/live websocket sessions.
type LiveHandler struct {
	Config       config.Config
	Forms        forms.Source
	Store        store.Store
	Connector    capability.Connector
	Delivery     session.Enqueuer
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	Limiter      *ratelimit.Limiter
	Lifecycle    *lifecycle.Lifecycle
	LiveSessions *sessions.Tracker
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if r.Method != http.MethodGet {
		writeAPIErrorJSON(w, reqID, &apierror.Error{Type: apierror.TypeInvalidRequest, Message: "method not allowed", Code: "method_not_allowed"}, http.StatusMethodNotAllowed)
		return
	}
	if h.Lifecycle.IsDraining() {
		w.Header().Set("Retry-After", "5")
		writeAPIErrorJSON(w, reqID, &apierror.Error{Type: apierror.TypeUnavailable, Message: "server is draining", Code: "draining"}, http.StatusServiceUnavailable)
		return
	}
	if !h.originAllowed(r) {
		writeAPIErrorJSON(w, reqID, &apierror.Error{Type: apierror.TypeUnauthorized, Message: "origin is not allowed", Param: "Origin"}, http.StatusForbidden)
		return
	}
	sessionID := strings.TrimSpace(r.PathValue("session_id"))
	if sessionID == "" {
		writeAPIErrorJSON(w, reqID, invalidRequest("session id is required", "session_id"), http.StatusBadRequest)
		return
	}

	client := principal.ClientIP(r, h.Config.TrustProxyHeaders)
	dec := h.Limiter.AcquireLive(client, time.Now())
	if !dec.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(max(dec.RetryAfter, 1)))
		writeAPIErrorJSON(w, reqID, &apierror.Error{Type: apierror.TypeRateLimit, Message: "too many live sessions from this client"}, http.StatusTooManyRequests)
		return
	}
	defer dec.Permit.Release()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	logger := h.logger().With("session_id", sessionID, "request_id", reqID)

	// Claim the id before loading the record so a previous connection's
	// final save is visible.
	var current atomic.Pointer[session.LiveSession]
	unregister, err := h.LiveSessions.Register(sessionID, sessions.Handle{
		Cancel: func() {
			if s := current.Load(); s != nil {
				s.Cancel()
			}
		},
		Warn: func(code, message string) error {
			if s := current.Load(); s != nil {
				return s.SendWarning(code, message)
			}
			return nil
		},
	})
	if errors.Is(err, sessions.ErrBusy) {
		h.writeWSError(conn, protocol.CodeSessionBusy, "this session is already open in another window")
		return
	}
	if err != nil {
		h.writeWSError(conn, protocol.CodeInternal, "could not open the session")
		return
	}
	defer unregister()

	rec, err := h.Store.GetSession(r.Context(), sessionID)
	if errors.Is(err, store.ErrNotFound) {
		h.writeWSError(conn, protocol.CodeSessionNotFound, "this session does not exist")
		return
	}
	if err != nil {
		logger.Error("live session load failed", "error", err)
		h.writeWSError(conn, protocol.CodeInternal, "could not load the session")
		return
	}
	switch rec.Status {
	case record.StatusExpired:
		_ = conn.WriteJSON(protocol.ServerExpired{Type: protocol.TypeExpired})
		h.closeWS(conn, websocket.CloseNormalClosure, "session expired")
		return
	case record.StatusCompleted, record.StatusFailed:
		h.writeWSError(conn, protocol.CodeSessionClosed, "this session has already ended")
		return
	}

	form, err := h.Forms.Form(r.Context(), rec.FormID)
	if err != nil {
		logger.Error("live session form lookup failed", "form_id", rec.FormID, "error", err)
		h.writeWSError(conn, protocol.CodeInternal, "the form for this session is unavailable")
		return
	}

	s, err := session.New(session.Dependencies{
		Conn:      conn,
		Logger:    h.logger(),
		Metrics:   h.Metrics,
		Connector: h.Connector,
		Store:     h.Store,
		Form:      form,
		Record:    rec,
		Delivery:  h.Delivery,
		RequestID: reqID,
		Config:    h.sessionConfig(),
	})
	if err != nil {
		logger.Error("live session init failed", "error", err)
		h.writeWSError(conn, protocol.CodeInternal, "could not start the session")
		return
	}
	current.Store(s)

	if err := s.Run(); err != nil {
		logger.Warn("live session ended with error", "error", err)
	}
}

func (h LiveHandler) sessionConfig() session.Config {
	return session.Config{
		InboundQueueDepth:   h.Config.LiveInboundQueueDepth,
		PlaybackQueueDepth:  h.Config.LivePlaybackQueueDepth,
		MaxAudioFrameBytes:  h.Config.LiveMaxAudioFrameBytes,
		MaxJSONMessageBytes: h.Config.LiveMaxJSONMessageBytes,
		MaxAudioFPS:         h.Config.LiveMaxAudioFPS,
		MaxAudioBPS:         h.Config.LiveMaxAudioBytesPerSecond,
		AudioBurst:          time.Duration(h.Config.LiveInboundBurstSeconds) * time.Second,
		PingInterval:        h.Config.LiveWSPingInterval,
		WriteTimeout:        h.Config.LiveWSWriteTimeout,
		ReadTimeout:         h.Config.LiveWSReadTimeout,
		StartTimeout:        h.Config.LiveStartTimeout,
		MaxRetries:          h.Config.MaxFieldRetries,
	}
}

func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

func (h LiveHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h LiveHandler) writeWSError(conn *websocket.Conn, code, message string) {
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_ = conn.WriteJSON(protocol.ServerError{Type: protocol.TypeError, Code: code, Message: message})
	h.closeWS(conn, websocket.ClosePolicyViolation, message)
}

func (h LiveHandler) closeWS(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(2*time.Second))
}
