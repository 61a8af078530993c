// Package session relays one browser websocket to an AI capability session
// while a conversation.Machine collects the form.
//
// A LiveSession runs under one errgroup: the websocket writer, the websocket
// read loop, the inbound audio pump, one reader per capability connection,
// and the control task that owns the Machine. Only the control task touches
// the session record.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/vango-go/vai-forms/pkg/capability"
	"github.com/vango-go/vai-forms/pkg/conversation"
	"github.com/vango-go/vai-forms/pkg/delivery"
	"github.com/vango-go/vai-forms/pkg/forms"
	"github.com/vango-go/vai-forms/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-forms/pkg/metrics"
	"github.com/vango-go/vai-forms/pkg/record"
	"github.com/vango-go/vai-forms/pkg/store"
)

const controlQueueSize = 64

var (
	errBackpressure = errors.New("live control queue full")
	errClientClosed = errors.New("client closed the websocket")
	errSessionEnded = errors.New("session ended")
)

// Session outcomes reported to metrics.
const (
	OutcomeCompleted    = "completed"
	OutcomeFailed       = "failed"
	OutcomeExpired      = "expired"
	OutcomeDisconnected = "disconnected"
	OutcomeClosed       = "closed"
	OutcomeError        = "error"
)

type Config struct {
	InboundQueueDepth   int
	PlaybackQueueDepth  int
	MaxAudioFrameBytes  int
	MaxJSONMessageBytes int64
	MaxAudioFPS         int
	MaxAudioBPS         int64
	AudioBurst          time.Duration
	PingInterval        time.Duration
	WriteTimeout        time.Duration
	ReadTimeout         time.Duration
	// StartTimeout bounds the wait for the client's start message.
	StartTimeout time.Duration
	// MaxRetries caps rejected answers per field.
	MaxRetries     int
	SendRetryDelay time.Duration
	ReconnectDelay time.Duration
	PersistTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.InboundQueueDepth <= 0 {
		c.InboundQueueDepth = 32
	}
	if c.PlaybackQueueDepth <= 0 {
		c.PlaybackQueueDepth = 512
	}
	if c.MaxAudioFrameBytes <= 0 {
		c.MaxAudioFrameBytes = 64 * 1024
	}
	if c.MaxJSONMessageBytes <= 0 {
		c.MaxJSONMessageBytes = 128 * 1024
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = conversation.DefaultMaxRetries
	}
	if c.SendRetryDelay <= 0 {
		c.SendRetryDelay = 20 * time.Millisecond
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 250 * time.Millisecond
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 5 * time.Second
	}
	return c
}

// Enqueuer schedules webhook delivery for a completed session.
type Enqueuer interface {
	Enqueue(sessionID string) error
}

type Dependencies struct {
	Conn      *websocket.Conn
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Connector capability.Connector
	Store     store.Store
	Form      *forms.Form
	Record    *record.Session
	Delivery  Enqueuer
	RequestID string
	Config    Config
	Now       func() time.Time
}

type LiveSession struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	metrics   *metrics.Metrics
	connector capability.Connector
	store     store.Store
	form      *forms.Form
	rec       *record.Session
	delivery  Enqueuer
	cfg       Config
	now       func() time.Time
	machine   *conversation.Machine

	ctx    context.Context
	cancel context.CancelFunc

	control  chan []byte
	inbound  *frameQueue
	playback *frameQueue
	limiter  *audioLimiter
	inbox    chan capMessage

	capMu   sync.Mutex
	capConn capability.Conn

	// Owned by the control task.
	started   bool
	fallback  bool
	losses    int
	userText  strings.Builder
	assistant strings.Builder
	outcome   string
}

// capMessage is a capability event, or the end of a capability connection
// when closed is set.
type capMessage struct {
	conn   capability.Conn
	ev     capability.Event
	closed bool
	err    error
}

func New(deps Dependencies) (*LiveSession, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Form == nil || deps.Record == nil {
		return nil, fmt.Errorf("form and session record are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	cfg := deps.Config.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	s := &LiveSession{
		conn:      deps.Conn,
		logger:    deps.Logger.With("session_id", deps.Record.ID, "form_id", deps.Form.ID),
		metrics:   deps.Metrics,
		connector: deps.Connector,
		store:     deps.Store,
		form:      deps.Form,
		rec:       deps.Record,
		delivery:  deps.Delivery,
		cfg:       cfg,
		now:       deps.Now,
		ctx:       ctx,
		cancel:    cancel,
		control:   make(chan []byte, controlQueueSize),
		inbound:   newFrameQueue(cfg.InboundQueueDepth),
		playback:  newFrameQueue(cfg.PlaybackQueueDepth),
		limiter:   newAudioLimiter(deps.Now, cfg.MaxAudioFPS, cfg.MaxAudioBPS, cfg.AudioBurst),
		inbox:     make(chan capMessage, 64),
		outcome:   OutcomeDisconnected,
	}
	if deps.RequestID != "" {
		s.logger = s.logger.With("request_id", deps.RequestID)
	}
	s.machine = conversation.New(deps.Form, deps.Record, conversation.Config{
		MaxRetries: cfg.MaxRetries,
		Now:        deps.Now,
	})
	return s, nil
}

// Cancel stops the session. The record keeps its last persisted state.
func (s *LiveSession) Cancel() { s.cancel() }

// SendWarning sends a non-fatal error frame to the client.
func (s *LiveSession) SendWarning(code, message string) error {
	return s.sendError(code, message)
}

// Run blocks until the session ends. A client disconnect is not an error.
func (s *LiveSession) Run() error {
	defer s.cancel()

	s.conn.SetReadLimit(s.cfg.MaxJSONMessageBytes)
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
	} else {
		// Drop the deadline inherited from the HTTP server's ReadTimeout.
		_ = s.conn.SetReadDeadline(time.Time{})
	}

	began := s.now()
	s.metrics.SessionStarted()
	s.logger.Info("live session started", "status", s.rec.Status, "current_field_index", s.rec.CurrentFieldIndex)

	g, ctx := errgroup.WithContext(s.ctx)
	clientCh := make(chan any, 8)

	g.Go(func() error {
		w := outboundWriter{
			ws:       s.conn,
			ctx:      ctx,
			cfg:      s.cfg,
			control:  s.control,
			playback: s.playback,
			onAudio:  func(n int) { s.metrics.AudioFrames("outbound", n) },
		}
		return w.Run()
	})
	g.Go(func() error { return s.readLoop(ctx, clientCh) })
	g.Go(func() error { return s.pumpInbound(ctx) })
	g.Go(func() error { return s.runControl(ctx, g, clientCh) })

	err := g.Wait()
	s.closeCapability()
	s.metrics.SessionEnded(s.outcome, s.now().Sub(began))
	s.logger.Info("live session ended", "outcome", s.outcome, "status", s.rec.Status)

	if err == nil || errors.Is(err, errSessionEnded) || errors.Is(err, errClientClosed) {
		return nil
	}
	return err
}

func (s *LiveSession) readLoop(ctx context.Context, out chan<- any) error {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return errClientClosed
			}
			return fmt.Errorf("websocket read: %w", err)
		}

		switch messageType {
		case websocket.BinaryMessage:
			s.acceptAudio(data)
		case websocket.TextMessage:
			msg, err := protocol.DecodeClientMessage(data)
			if err != nil {
				var de *protocol.DecodeError
				if errors.As(err, &de) {
					_ = s.sendError(de.Code, de.Error())
				} else {
					_ = s.sendError(protocol.CodeBadRequest, err.Error())
				}
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (s *LiveSession) acceptAudio(data []byte) {
	if len(data) == 0 {
		return
	}
	if len(data) > s.cfg.MaxAudioFrameBytes {
		_ = s.sendError(protocol.CodeBadRequest, fmt.Sprintf("audio frame exceeds %d bytes", s.cfg.MaxAudioFrameBytes))
		return
	}
	if !s.limiter.Allow(len(data)) {
		s.metrics.InboundFrameDropped()
		return
	}
	s.metrics.AudioFrames("inbound", len(data))
	if dropped := s.inbound.Push(data); dropped > 0 {
		for i := 0; i < dropped; i++ {
			s.metrics.InboundFrameDropped()
		}
		s.logger.Warn("inbound audio queue full; dropped oldest frames", "dropped", dropped, "depth", s.cfg.InboundQueueDepth)
	}
}

// requeueAudio returns a frame the capability refused to the head of the
// inbound queue.
func (s *LiveSession) requeueAudio(frame []byte) {
	if s.inbound.Unpop(frame) {
		return
	}
	s.metrics.InboundFrameDropped()
	s.logger.Warn("inbound audio queue full; dropped a deferred frame", "depth", s.cfg.InboundQueueDepth)
}

// pumpInbound forwards queued user audio to the current capability
// connection. Without one the audio is discarded.
func (s *LiveSession) pumpInbound(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.inbound.Ready():
		}
		for {
			frame, ok := s.inbound.Pop()
			if !ok {
				break
			}
			conn := s.current()
			if conn == nil {
				continue
			}
			err := conn.SendAudio(ctx, frame)
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, capability.ErrBackpressure) {
				s.requeueAudio(frame)
				if !sleepCtx(ctx, s.cfg.SendRetryDelay) {
					return nil
				}
				continue
			}
			s.logger.Debug("capability send audio failed", "error", err)
		}
	}
}

// readCapability moves one connection's events to the control task. Audio
// goes straight to playback; user speech flushes it.
func (s *LiveSession) readCapability(ctx context.Context, conn capability.Conn) {
	events := conn.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				s.post(ctx, capMessage{conn: conn, closed: true, err: conn.Err()})
				return
			}
			switch ev.Kind {
			case capability.EventAudio:
				if len(ev.Audio) == 0 {
					continue
				}
				if dropped := s.playback.Push(ev.Audio); dropped > 0 {
					s.logger.Debug("playback queue full; dropped oldest audio", "dropped", dropped)
				}
				continue
			case capability.EventInterrupted:
				s.bargeIn("interrupted")
			case capability.EventInputTranscript:
				if s.playback.Len() > 0 {
					s.bargeIn("user_speech")
				}
			}
			s.post(ctx, capMessage{conn: conn, ev: ev})
		}
	}
}

func (s *LiveSession) post(ctx context.Context, m capMessage) {
	select {
	case s.inbox <- m:
	case <-ctx.Done():
	}
}

func (s *LiveSession) bargeIn(reason string) {
	if n := s.playback.Flush(); n > 0 {
		s.logger.Debug("playback flushed", "reason", reason, "frames", n)
	}
}

func (s *LiveSession) runControl(ctx context.Context, g *errgroup.Group, clientCh <-chan any) error {
	defer func() {
		if s.started && !s.machine.Done() {
			if err := s.persist(); err != nil && !errors.Is(err, store.ErrConflict) {
				s.logger.Error("persist session on exit failed", "error", err)
			}
		}
	}()

	if ok, err := s.awaitStart(ctx, clientCh); !ok {
		return err
	}
	s.started = true

	if s.rec.Expired(s.now()) {
		return s.dispatch(ctx, s.machine.Expire())
	}

	connErr := s.connect(ctx, g, 2, false)
	if ctx.Err() != nil {
		return nil
	}
	_ = s.sendJSON(protocol.ServerReady{
		Type:             protocol.TypeReady,
		SessionID:        s.rec.ID,
		FormName:         s.form.Name,
		TotalFields:      len(s.form.Fields),
		InputSampleRate:  capability.InputSampleRate,
		OutputSampleRate: capability.OutputSampleRate,
	})
	if connErr != nil {
		s.logger.Warn("capability unavailable; continuing with typed answers", "error", connErr)
		s.enterFallback()
	}
	if err := s.dispatch(ctx, s.machine.Start()); err != nil {
		return err
	}

	expiry := time.NewTimer(s.rec.ExpiresAt.Sub(s.now()))
	defer expiry.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			return nil
		case <-expiry.C:
			err = s.dispatch(ctx, s.machine.Expire())
		case msg := <-clientCh:
			err = s.handleClient(ctx, msg)
		case m := <-s.inbox:
			err = s.handleCapability(ctx, g, m)
		}
		if err != nil {
			return err
		}
	}
}

// awaitStart reports whether the client sent start in time.
func (s *LiveSession) awaitStart(ctx context.Context, clientCh <-chan any) (bool, error) {
	timer := time.NewTimer(s.cfg.StartTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false, nil
		case <-timer.C:
			_ = s.sendError(protocol.CodeBadRequest, "no start message received")
			s.outcome = OutcomeClosed
			return false, errSessionEnded
		case msg := <-clientCh:
			if _, ok := msg.(protocol.ClientStart); ok {
				return true, nil
			}
			_ = s.sendError(protocol.CodeBadRequest, "send start before other messages")
		}
	}
}

func (s *LiveSession) handleClient(ctx context.Context, msg any) error {
	switch m := msg.(type) {
	case protocol.ClientStart:
		_ = s.sendError(protocol.CodeBadRequest, "session already started")
	case protocol.ClientManualComplete:
		s.flushAssistant()
		return s.dispatch(ctx, s.machine.ManualComplete())
	case protocol.ClientTextAnswer:
		s.flushAssistant()
		s.userText.Reset()
		_ = s.sendJSON(protocol.ServerTranscript{Type: protocol.TypeTranscript, Role: protocol.RoleUser, Text: m.Text})
		return s.dispatch(ctx, s.machine.Answer(m.Text))
	}
	return nil
}

func (s *LiveSession) handleCapability(ctx context.Context, g *errgroup.Group, m capMessage) error {
	if m.conn != s.current() {
		return nil
	}
	if m.closed {
		return s.capabilityLost(ctx, g, m.err)
	}

	ev := m.ev
	switch ev.Kind {
	case capability.EventInputTranscript:
		s.userText.WriteString(ev.Text)
	case capability.EventOutputTranscript:
		s.assistant.WriteString(ev.Text)
	case capability.EventInterrupted:
		s.flushAssistant()
	case capability.EventAnswer:
		spec, ok := s.machine.CurrentField()
		if !ok || spec.Name != ev.Field {
			s.logger.Debug("ignoring answer for another field", "field", ev.Field)
			return nil
		}
		s.flushAssistant()
		s.flushUser()
		return s.dispatch(ctx, s.machine.Answer(ev.Text))
	case capability.EventTurnComplete:
		s.flushAssistant()
		if text := s.flushUser(); text != "" {
			return s.dispatch(ctx, s.machine.Answer(text))
		}
	case capability.EventError:
		s.logger.Warn("capability reported an error", "error", ev.Err)
	}
	return nil
}

// flushAssistant sends and logs the assistant speech heard so far.
func (s *LiveSession) flushAssistant() {
	text := strings.TrimSpace(s.assistant.String())
	s.assistant.Reset()
	if text == "" {
		return
	}
	_ = s.sendJSON(protocol.ServerTranscript{Type: protocol.TypeTranscript, Role: protocol.RoleAssistant, Text: text})
	s.machine.Say(text)
}

func (s *LiveSession) flushUser() string {
	text := strings.Join(strings.Fields(s.userText.String()), " ")
	s.userText.Reset()
	if text != "" {
		_ = s.sendJSON(protocol.ServerTranscript{Type: protocol.TypeTranscript, Role: protocol.RoleUser, Text: text})
	}
	return text
}

func (s *LiveSession) capabilityLost(ctx context.Context, g *errgroup.Group, cause error) error {
	s.closeCapability()
	s.bargeIn("capability_lost")
	s.assistant.Reset()
	s.losses++
	s.logger.Warn("capability session lost", "error", cause, "losses", s.losses)

	if s.losses == 1 {
		err := s.connect(ctx, g, 1, true)
		if err == nil {
			s.logger.Info("capability session reconnected")
			return s.dispatch(ctx, s.machine.Reprompt())
		}
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("capability reconnect failed", "error", err)
	}
	s.enterFallback()
	return s.dispatch(ctx, s.machine.Reprompt())
}

func (s *LiveSession) enterFallback() {
	if s.fallback {
		return
	}
	s.fallback = true
	_ = s.sendError(protocol.CodeCapabilityLost, "The voice assistant is unavailable. You can continue by typing your answers.")
}

func (s *LiveSession) connect(ctx context.Context, g *errgroup.Group, attempts int, delayFirst bool) error {
	if s.connector == nil {
		return errors.New("no capability configured")
	}
	names := make([]string, len(s.form.Fields))
	for i, f := range s.form.Fields {
		names[i] = f.Name
	}
	setup := capability.Setup{
		SessionID:   s.rec.ID,
		FormName:    s.form.Name,
		Instruction: conversation.SystemInstruction(s.form),
		Fields:      names,
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 || delayFirst {
			if !sleepCtx(ctx, s.cfg.ReconnectDelay) {
				return ctx.Err()
			}
		}
		var conn capability.Conn
		conn, err = s.connector.Connect(ctx, setup)
		if err != nil {
			s.logger.Warn("capability connect failed", "attempt", i+1, "error", err)
			continue
		}
		s.setConn(conn)
		g.Go(func() error {
			s.readCapability(ctx, conn)
			return nil
		})
		return nil
	}
	return err
}

func (s *LiveSession) current() capability.Conn {
	s.capMu.Lock()
	defer s.capMu.Unlock()
	return s.capConn
}

func (s *LiveSession) setConn(conn capability.Conn) {
	s.capMu.Lock()
	s.capConn = conn
	s.capMu.Unlock()
}

func (s *LiveSession) closeCapability() {
	s.capMu.Lock()
	conn := s.capConn
	s.capConn = nil
	s.capMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// dispatch carries out a batch of machine actions and persists the record.
// It returns errSessionEnded once the session reaches a terminal state.
func (s *LiveSession) dispatch(ctx context.Context, acts []conversation.Action) error {
	if len(acts) == 0 {
		return nil
	}
	for _, a := range acts {
		switch a := a.(type) {
		case conversation.Instruct:
			s.instruct(ctx, a)
		case conversation.Progress:
			_ = s.sendJSON(protocol.ServerProgress{
				Type:         protocol.TypeProgress,
				CurrentField: a.CurrentField,
				TotalFields:  a.TotalFields,
				Percentage:   a.Percentage,
			})
		case conversation.Accepted:
			s.logger.Info("field accepted", "field", a.Field)
		case conversation.Rejected:
			spec, _ := s.form.Field(a.Field)
			s.metrics.FieldRejected(string(spec.Type))
			s.logger.Info("answer rejected", "field", a.Field, "attempt", a.Attempt, "reason", a.Reason)
		case conversation.Skipped:
			s.logger.Info("optional field skipped", "field", a.Field)
		case conversation.Completed:
			return s.finishCompleted(a)
		case conversation.Failed:
			return s.finish(OutcomeFailed, protocol.ServerFailed{Type: protocol.TypeFailed, Message: s.form.ErrorText()},
				"session failed", "field", a.Field, "reason", a.Reason)
		case conversation.Expired:
			return s.finish(OutcomeExpired, protocol.ServerExpired{Type: protocol.TypeExpired}, "session expired")
		}
	}

	if err := s.persist(); err != nil {
		if errors.Is(err, store.ErrConflict) || errors.Is(err, record.ErrInvalidTransition) {
			return s.closed()
		}
		s.logger.Error("persist session failed", "error", err)
	}
	return nil
}

func (s *LiveSession) instruct(ctx context.Context, in conversation.Instruct) {
	if conn := s.current(); conn != nil && !s.fallback {
		if err := conn.SendControl(ctx, capability.Control{Text: in.Text}); err != nil {
			s.logger.Warn("capability instruction failed", "field", in.Field, "error", err)
		}
		return
	}
	if in.Say == "" {
		return
	}
	_ = s.sendJSON(protocol.ServerTranscript{Type: protocol.TypeTranscript, Role: protocol.RoleAssistant, Text: in.Say})
	s.machine.Say(in.Say)
}

func (s *LiveSession) finishCompleted(c conversation.Completed) error {
	s.rec.DeliveryStatus = delivery.InitialStatus(s.form)
	if err := s.persistTerminal(); err != nil {
		return err
	}
	_ = s.sendJSON(protocol.ServerCompleted{
		Type:            protocol.TypeCompleted,
		Message:         s.form.SuccessText(),
		Summary:         c.Proposal.Summary,
		ExtractedFields: s.rec.CollectedValues,
		Confidence:      c.Proposal.Confidence,
	})
	if s.rec.DeliveryStatus == record.DeliveryPending && s.delivery != nil {
		if err := s.delivery.Enqueue(s.rec.ID); err != nil {
			s.logger.Warn("delivery enqueue failed; rescan will pick it up", "error", err)
		}
	}
	s.outcome = OutcomeCompleted
	s.logger.Info("session completed", "manual", c.Manual, "fields", len(s.rec.CollectedValues), "delivery_status", s.rec.DeliveryStatus)
	return errSessionEnded
}

func (s *LiveSession) finish(outcome string, frame any, msg string, args ...any) error {
	if err := s.persistTerminal(); err != nil {
		return err
	}
	_ = s.sendJSON(frame)
	s.outcome = outcome
	s.logger.Info(msg, args...)
	return errSessionEnded
}

func (s *LiveSession) persistTerminal() error {
	err := s.persist()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrConflict), errors.Is(err, record.ErrInvalidTransition):
		return s.closed()
	default:
		s.logger.Error("persist terminal session failed", "error", err)
		_ = s.sendError(protocol.CodeInternal, "Your answers could not be saved. Please try again later.")
		s.outcome = OutcomeError
		return errSessionEnded
	}
}

// closed ends a session whose stored record moved on without us, for example
// when the sweeper expired it.
func (s *LiveSession) closed() error {
	_ = s.sendError(protocol.CodeSessionClosed, "This session has already ended.")
	s.outcome = OutcomeClosed
	return errSessionEnded
}

func (s *LiveSession) persist() error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), s.cfg.PersistTimeout)
	defer cancel()
	return s.store.SaveSession(ctx, s.rec)
}

func (s *LiveSession) sendError(code, message string) error {
	return s.sendJSON(protocol.ServerError{Type: protocol.TypeError, Code: code, Message: message})
}

func (s *LiveSession) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case s.control <- payload:
		return nil
	default:
		s.logger.Warn("dropping control frame; client is not reading")
		return errBackpressure
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
