package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sethvargo/go-retry"

	"github.com/vango-go/vai-forms/pkg/forms"
	"github.com/vango-go/vai-forms/pkg/gateway/safety"
	"github.com/vango-go/vai-forms/pkg/metrics"
	"github.com/vango-go/vai-forms/pkg/record"
	"github.com/vango-go/vai-forms/pkg/store"
)

var (
	ErrQueueFull = errors.New("delivery queue is full")
	ErrStopped   = errors.New("delivery dispatcher is stopped")
)

type Config struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Timeout     time.Duration
	// RescanInterval re-enqueues pending sessions that missed the queue.
	RescanInterval time.Duration
	ExcerptLimit   int
	Policy         safety.Policy
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 30 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RescanInterval <= 0 {
		c.RescanInterval = time.Minute
	}
	if c.ExcerptLimit <= 0 {
		c.ExcerptLimit = 1000
	}
	return c
}

type Dependencies struct {
	Store   store.Store
	Forms   forms.Source
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Client overrides the policy-restricted client.
	Client *http.Client
	Now    func() time.Time
}

// Dispatcher runs webhook deliveries on a fixed worker pool fed by a bounded
// queue. A session is handled by at most one worker at a time.
type Dispatcher struct {
	cfg     Config
	store   store.Store
	forms   forms.Source
	logger  *slog.Logger
	metrics *metrics.Metrics
	client  *http.Client
	now     func() time.Time

	jobs chan string

	mu       sync.Mutex
	inflight map[string]bool
	// again marks in-flight sessions enqueued a second time.
	again    map[string]bool
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func New(cfg Config, deps Dependencies) *Dispatcher {
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := deps.Client
	if client == nil {
		client = cfg.Policy.NewClient(cfg.Timeout)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		cfg:      cfg,
		store:    deps.Store,
		forms:    deps.Forms,
		logger:   logger,
		metrics:  deps.Metrics,
		client:   client,
		now:      now,
		jobs:     make(chan string, cfg.QueueSize),
		inflight: make(map[string]bool),
		again:    make(map[string]bool),
	}
}

// Start launches the workers and re-enqueues every pending delivery.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return errors.New("delivery dispatcher already started")
	}
	d.started = true
	ctx, d.cancel = context.WithCancel(ctx)
	d.mu.Unlock()

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	d.wg.Add(1)
	go d.rescanLoop(ctx)

	n, err := d.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover pending deliveries: %w", err)
	}
	if n > 0 {
		d.logger.Info("re-enqueued pending deliveries", "count", n)
	}
	return nil
}

// Stop cancels in-flight attempts and waits for workers. Sessions left
// pending are picked up by the next Start.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
}

// Enqueue schedules delivery for a session whose status is pending. It does
// not block. A session already queued or in flight is queued again once its
// current run ends.
func (d *Dispatcher) Enqueue(sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrStopped
	}
	if d.inflight[sessionID] {
		d.again[sessionID] = true
		return nil
	}
	select {
	case d.jobs <- sessionID:
		d.inflight[sessionID] = true
		return nil
	default:
		return ErrQueueFull
	}
}

// Recover enqueues every session whose delivery is pending.
func (d *Dispatcher) Recover(ctx context.Context) (int, error) {
	ids, err := d.store.ListByDeliveryStatus(ctx, record.DeliveryPending)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if err := d.Enqueue(id); err != nil {
			d.logger.Warn("delivery enqueue failed", "session_id", id, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

// Retry starts a fresh attempt budget for a permanently failed delivery.
func (d *Dispatcher) Retry(ctx context.Context, sessionID string) error {
	err := d.store.SetDeliveryStatus(ctx, sessionID,
		[]record.DeliveryStatus{record.DeliveryFailedPermanently}, record.DeliveryPending)
	if err != nil {
		return err
	}
	d.logger.Info("delivery retry requested", "session_id", sessionID)
	if err := d.Enqueue(sessionID); err != nil {
		d.logger.Warn("delivery enqueue failed; rescan will pick it up", "session_id", sessionID, "error", err)
	}
	return nil
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-d.jobs:
			d.deliver(ctx, id)
			d.mu.Lock()
			delete(d.inflight, id)
			redo := d.again[id]
			delete(d.again, id)
			d.mu.Unlock()
			if redo && ctx.Err() == nil {
				if err := d.Enqueue(id); err != nil {
					d.logger.Warn("delivery re-enqueue failed", "session_id", id, "error", err)
				}
			}
		}
	}
}

func (d *Dispatcher) rescanLoop(ctx context.Context) {
	defer d.wg.Done()
	t := time.NewTicker(d.cfg.RescanInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := d.Recover(ctx); err != nil && ctx.Err() == nil {
				d.logger.Warn("delivery rescan failed", "error", err)
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, sessionID string) {
	logger := d.logger.With("session_id", sessionID)
	rec, err := d.store.GetSession(ctx, sessionID)
	if err != nil {
		logger.Error("delivery load session failed", "error", err)
		return
	}
	if rec.DeliveryStatus != record.DeliveryPending {
		return
	}
	logger = logger.With("form_id", rec.FormID)

	form, err := d.forms.Form(ctx, rec.FormID)
	if err != nil {
		logger.Error("delivery form lookup failed", "error", err)
		d.settle(ctx, logger, sessionID, record.DeliveryFailedPermanently)
		return
	}
	if strings.TrimSpace(form.Callback.URL) == "" {
		logger.Info("form has no callback; delivery not sent")
		d.settle(ctx, logger, sessionID, record.DeliveryNotSent)
		return
	}

	body, err := BuildPayload(rec, form).Marshal()
	if err != nil {
		logger.Error("delivery payload encode failed", "error", err)
		d.settle(ctx, logger, sessionID, record.DeliveryFailedPermanently)
		return
	}

	prior, err := d.store.ListAttempts(ctx, sessionID)
	if err != nil {
		logger.Error("delivery list attempts failed", "error", err)
		return
	}
	next := len(prior) + 1

	backoff := retry.NewExponential(d.cfg.BaseDelay)
	backoff = retry.WithCappedDuration(d.cfg.MaxDelay, backoff)
	backoff = retry.WithMaxRetries(uint64(d.cfg.MaxAttempts-1), backoff)

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		att := d.attempt(ctx, form, sessionID, next, body)
		next++
		stored, err := d.store.AppendAttempt(ctx, att)
		if err != nil {
			logger.Error("delivery record attempt failed", "error", err)
		} else {
			next = stored.AttemptNumber + 1
		}
		if att.Succeeded() {
			logger.Info("delivery succeeded", "attempt", att.AttemptNumber, "http_status", att.HTTPStatus, "duration_ms", att.DurationMS)
			return nil
		}
		logger.Warn("delivery attempt failed", "attempt", att.AttemptNumber, "http_status", att.HTTPStatus, "error", att.Error)
		return retry.RetryableError(errors.New(att.Outcome()))
	})

	switch {
	case err == nil:
		d.settle(ctx, logger, sessionID, record.DeliveryDelivered)
	case ctx.Err() != nil:
		logger.Info("delivery interrupted; left pending")
	default:
		logger.Warn("delivery failed permanently", "error", err)
		d.settle(ctx, logger, sessionID, record.DeliveryFailedPermanently)
	}
}

func (d *Dispatcher) settle(ctx context.Context, logger *slog.Logger, sessionID string, to record.DeliveryStatus) {
	err := d.store.SetDeliveryStatus(ctx, sessionID, []record.DeliveryStatus{record.DeliveryPending}, to)
	if err != nil {
		logger.Error("delivery status update failed", "to", to, "error", err)
	}
}

func (d *Dispatcher) attempt(ctx context.Context, form *forms.Form, sessionID string, number int, body []byte) record.DeliveryAttempt {
	method := form.Callback.Method
	if method == "" {
		method = http.MethodPost
	}
	start := d.now()
	att := record.DeliveryAttempt{
		ID:            ulid.Make().String(),
		SessionID:     sessionID,
		AttemptNumber: number,
		AttemptedAt:   start.UTC(),
		URL:           form.Callback.URL,
		Method:        method,
	}

	resp, err := d.send(ctx, form, method, sessionID, number, body)
	elapsed := d.now().Sub(start)
	att.DurationMS = elapsed.Milliseconds()
	if err != nil {
		att.Error = err.Error()
		d.metrics.DeliveryAttempt("transport_error", elapsed)
		return att
	}
	defer resp.Body.Close()
	att.HTTPStatus = resp.StatusCode
	att.ResponseExcerpt = safety.ReadExcerpt(resp, d.cfg.ExcerptLimit)
	if att.Succeeded() {
		d.metrics.DeliveryAttempt("success", elapsed)
	} else {
		d.metrics.DeliveryAttempt("http_error", elapsed)
	}
	return att
}

func (d *Dispatcher) send(ctx context.Context, form *forms.Form, method, sessionID string, number int, body []byte) (*http.Response, error) {
	if _, err := d.cfg.Policy.ValidateTarget(ctx, form.Callback.URL); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, form.Callback.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set(HeaderSessionID, sessionID)
	req.Header.Set(HeaderAttempt, strconv.Itoa(number))
	if form.Callback.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(form.Callback.Secret, body))
	}
	return d.client.Do(req)
}
