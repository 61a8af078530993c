package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/vango-go/vai-forms/pkg/capability"
	"github.com/vango-go/vai-forms/pkg/forms"
	"github.com/vango-go/vai-forms/pkg/gateway/config"
	"github.com/vango-go/vai-forms/pkg/gateway/handlers"
	"github.com/vango-go/vai-forms/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-forms/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-forms/pkg/gateway/live/session"
	"github.com/vango-go/vai-forms/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-forms/pkg/gateway/mw"
	"github.com/vango-go/vai-forms/pkg/gateway/ratelimit"
	"github.com/vango-go/vai-forms/pkg/metrics"
	"github.com/vango-go/vai-forms/pkg/store"
)

// Delivery is what the HTTP surface needs from the webhook dispatcher.
type Delivery interface {
	session.Enqueuer
	handlers.DeliveryService
}

type Dependencies struct {
	Logger    *slog.Logger
	Forms     forms.Source
	Store     store.Store
	Connector capability.Connector
	Delivery  Delivery
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

type Server struct {
	cfg    config.Config
	deps   Dependencies
	logger *slog.Logger
	mux    *http.ServeMux

	limiter   *ratelimit.Limiter
	lifecycle *lifecycle.Lifecycle
	live      *sessions.Tracker
}

func New(cfg config.Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger,
		mux:    http.NewServeMux(),
		limiter: ratelimit.New(ratelimit.Config{
			RPS:             cfg.LimitRPS,
			Burst:           cfg.LimitBurst,
			MaxLiveSessions: cfg.LimitMaxLiveSessionsPerIP,
		}),
		lifecycle: &lifecycle.Lifecycle{},
		live:      sessions.NewTracker(),
	}

	s.routes()
	return s
}

func (s *Server) handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, mw.RecordPattern(h))
}

func (s *Server) routes() {
	s.handle("GET /healthz", handlers.HealthHandler{})
	s.handle("GET /readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.lifecycle})
	if s.deps.Metrics != nil {
		s.handle("GET /metrics", s.deps.Metrics.Handler())
	}

	s.handle("GET /v1/sessions/{session_id}/live", handlers.LiveHandler{
		Config:       s.cfg,
		Forms:        s.deps.Forms,
		Store:        s.deps.Store,
		Connector:    s.deps.Connector,
		Delivery:     s.deps.Delivery,
		Metrics:      s.deps.Metrics,
		Logger:       s.logger,
		Limiter:      s.limiter,
		Lifecycle:    s.lifecycle,
		LiveSessions: s.live,
	})

	api := handlers.SessionsHandler{
		Config:       s.cfg,
		Forms:        s.deps.Forms,
		Store:        s.deps.Store,
		Delivery:     s.deps.Delivery,
		LiveSessions: s.live,
		Logger:       s.logger,
		Now:          s.deps.Now,
	}
	s.handle("POST /v1/forms/{form_id}/sessions", s.timeout(api.Create))
	s.handle("GET /v1/sessions/{id}", s.timeout(api.Get))
	s.handle("POST /v1/sessions/{id}/finalize", s.timeout(api.Finalize))
	s.handle("GET /v1/sessions/{id}/deliveries", s.timeout(api.Deliveries))
	s.handle("POST /v1/sessions/{id}/deliveries/retry", s.timeout(api.RetryDelivery))
	s.handle("POST /v1/forms/{form_id}/webhook/test", s.timeout(api.TestWebhook))

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

// timeout bounds operator requests. Live websockets are long-lived and are
// not wrapped.
func (s *Server) timeout(fn http.HandlerFunc) http.Handler {
	d := s.cfg.HandlerTimeout
	if d <= 0 {
		return fn
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()
		fn(w, r.WithContext(ctx))
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.cfg, s.limiter, h)
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, s.deps.Metrics, h)
	h = mw.RequestID(h)
	return h
}

// HTTPServer returns an http.Server for the gateway handler with the
// configured timeouts.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
	}
}

func (s *Server) Lifecycle() *lifecycle.Lifecycle { return s.lifecycle }

func (s *Server) LiveSessions() *sessions.Tracker { return s.live }

func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

// WarnLiveSessionsDraining tells connected clients the server is going away.
func (s *Server) WarnLiveSessionsDraining() int {
	return s.live.WarnAll(protocol.CodeServerShuttingDown, "the server is restarting; your progress is saved")
}

func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.live.Wait(ctx)
}

func (s *Server) CancelLiveSessions() int {
	return s.live.CancelAll()
}
