package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vango-go/vai-forms/pkg/forms"
	"github.com/vango-go/vai-forms/pkg/gateway/config"
	"github.com/vango-go/vai-forms/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-forms/pkg/gateway/mw"
	"github.com/vango-go/vai-forms/pkg/record"
	"github.com/vango-go/vai-forms/pkg/store"
)

// DeliveryService is the part of the delivery dispatcher the operator API
// drives.
type DeliveryService interface {
	Finalize(ctx context.Context, sessionID string, values map[string]any) (*record.Session, error)
	Retry(ctx context.Context, sessionID string) error
	SendTest(ctx context.Context, formID string) (record.DeliveryAttempt, error)
}

// SessionsHandler serves the operator endpoints under /v1.
type SessionsHandler struct {
	Config       config.Config
	Forms        forms.Source
	Store        store.Store
	Delivery     DeliveryService
	LiveSessions *sessions.Tracker
	Logger       *slog.Logger
	Now          func() time.Time
}

type SessionView struct {
	ID                string                   `json:"id"`
	FormID            string                   `json:"form_id"`
	FormName          string                   `json:"form_name,omitempty"`
	Status            record.Status            `json:"status"`
	Live              bool                     `json:"live"`
	CreatedAt         time.Time                `json:"created_at"`
	UpdatedAt         time.Time                `json:"updated_at"`
	ExpiresAt         time.Time                `json:"expires_at"`
	CompletedAt       *time.Time               `json:"completed_at,omitempty"`
	CurrentFieldIndex int                      `json:"current_field_index"`
	TotalFields       int                      `json:"total_fields"`
	Percentage        int                      `json:"percentage"`
	CollectedValues   map[string]any           `json:"collected_values"`
	RetryCounts       map[string]int           `json:"retry_counts"`
	FailureReason     string                   `json:"failure_reason,omitempty"`
	Proposal          *record.Proposal         `json:"proposal,omitempty"`
	FinalValues       map[string]any           `json:"final_values,omitempty"`
	FinalizedAt       *time.Time               `json:"finalized_at,omitempty"`
	DeliveryStatus    record.DeliveryStatus    `json:"delivery_status"`
	Deliveries        []record.DeliveryAttempt `json:"deliveries"`
	ConversationLog   []record.Turn            `json:"conversation_log,omitempty"`
	LiveURL           string                   `json:"live_url,omitempty"`
}

func livePath(id string) string { return "/v1/sessions/" + id + "/live" }

func (h SessionsHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h SessionsHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

type createSessionRequest struct {
	// TTL overrides the form and server session lifetime, e.g. "15m".
	TTL string `json:"ttl,omitempty"`
}

// Create handles POST /v1/forms/{form_id}/sessions.
func (h SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	formID := strings.TrimSpace(r.PathValue("form_id"))
	form, err := h.Forms.Form(r.Context(), formID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req createSessionRequest
	if err := decodeJSONBody(w, r, h.Config.MaxBodyBytes, &req, true); err != nil {
		writeError(w, r, err)
		return
	}

	ttl := h.Config.SessionTTL
	if form.SessionTTL > 0 {
		ttl = form.SessionTTL
	}
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil || d <= 0 {
			writeError(w, r, invalidRequest("ttl must be a positive duration", "ttl"))
			return
		}
		ttl = d
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	rec := record.NewSession(form.ID, h.now(), ttl)
	if err := h.Store.CreateSession(r.Context(), rec); err != nil {
		writeError(w, r, err)
		return
	}
	reqID, _ := mw.RequestIDFrom(r.Context())
	h.logger().Info("session created", "session_id", rec.ID, "form_id", form.ID, "request_id", reqID, "expires_at", rec.ExpiresAt)

	view := h.view(rec, form, nil, false)
	view.LiveURL = livePath(rec.ID)
	w.Header().Set("Location", "/v1/sessions/"+rec.ID)
	writeJSON(w, http.StatusCreated, view)
}

// Get handles GET /v1/sessions/{id}. ?include=conversation adds the log.
func (h SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Store.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeView(w, r, rec, http.StatusOK)
}

type finalizeRequest struct {
	Values map[string]any `json:"values"`
}

// Finalize handles POST /v1/sessions/{id}/finalize.
func (h SessionsHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if err := decodeJSONBody(w, r, h.Config.MaxBodyBytes, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.Values) == 0 {
		writeError(w, r, invalidRequest("values is required", "values"))
		return
	}

	rec, err := h.Delivery.Finalize(r.Context(), r.PathValue("id"), req.Values)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeView(w, r, rec, http.StatusOK)
}

type deliveriesResponse struct {
	SessionID      string                   `json:"session_id"`
	DeliveryStatus record.DeliveryStatus    `json:"delivery_status"`
	Attempts       []record.DeliveryAttempt `json:"attempts"`
}

// Deliveries handles GET /v1/sessions/{id}/deliveries.
func (h SessionsHandler) Deliveries(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := h.Store.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	attempts, err := h.Store.ListAttempts(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if attempts == nil {
		attempts = []record.DeliveryAttempt{}
	}
	writeJSON(w, http.StatusOK, deliveriesResponse{
		SessionID:      rec.ID,
		DeliveryStatus: rec.DeliveryStatus,
		Attempts:       attempts,
	})
}

// RetryDelivery handles POST /v1/sessions/{id}/deliveries/retry.
func (h SessionsHandler) RetryDelivery(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.Delivery.Retry(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, deliveriesResponse{
		SessionID:      id,
		DeliveryStatus: record.DeliveryPending,
		Attempts:       nil,
	})
}

type webhookTestResponse struct {
	FormID          string `json:"form_id"`
	CallbackURL     string `json:"callback_url"`
	Method          string `json:"method"`
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	HTTPStatus      int    `json:"http_status,omitempty"`
	ResponseTimeMS  int64  `json:"response_time_ms"`
	Error           string `json:"error,omitempty"`
	ResponseExcerpt string `json:"response_excerpt,omitempty"`
}

// TestWebhook sends one signed sample payload to the form's callback and
// reports how the receiver answered. A failed delivery is still a 200.
func (h SessionsHandler) TestWebhook(w http.ResponseWriter, r *http.Request) {
	formID := strings.TrimSpace(r.PathValue("form_id"))
	att, err := h.Delivery.SendTest(r.Context(), formID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	msg := "Webhook test completed"
	if !att.Succeeded() {
		msg = "Webhook test failed"
	}
	writeJSON(w, http.StatusOK, webhookTestResponse{
		FormID:          formID,
		CallbackURL:     att.URL,
		Method:          att.Method,
		Success:         att.Succeeded(),
		Message:         msg,
		HTTPStatus:      att.HTTPStatus,
		ResponseTimeMS:  att.DurationMS,
		Error:           att.Error,
		ResponseExcerpt: att.ResponseExcerpt,
	})
}

func (h SessionsHandler) writeView(w http.ResponseWriter, r *http.Request, rec *record.Session, status int) {
	form, err := h.Forms.Form(r.Context(), rec.FormID)
	if err != nil {
		// A removed form still leaves the record readable.
		h.logger().Warn("session view form lookup failed", "session_id", rec.ID, "form_id", rec.FormID, "error", err)
		form = nil
	}
	attempts, err := h.Store.ListAttempts(r.Context(), rec.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	withLog := strings.Contains(r.URL.Query().Get("include"), "conversation")
	writeJSON(w, status, h.view(rec, form, attempts, withLog))
}

func (h SessionsHandler) view(rec *record.Session, form *forms.Form, attempts []record.DeliveryAttempt, withLog bool) SessionView {
	if attempts == nil {
		attempts = []record.DeliveryAttempt{}
	}
	v := SessionView{
		ID:                rec.ID,
		FormID:            rec.FormID,
		Status:            rec.Status,
		Live:              h.LiveSessions.Has(rec.ID),
		CreatedAt:         rec.CreatedAt,
		UpdatedAt:         rec.UpdatedAt,
		ExpiresAt:         rec.ExpiresAt,
		CompletedAt:       rec.CompletedAt,
		CurrentFieldIndex: rec.CurrentFieldIndex,
		CollectedValues:   rec.CollectedValues,
		RetryCounts:       rec.RetryCounts,
		FailureReason:     rec.FailureReason,
		Proposal:          rec.Proposal,
		FinalValues:       rec.FinalValues,
		FinalizedAt:       rec.FinalizedAt,
		DeliveryStatus:    rec.DeliveryStatus,
		Deliveries:        attempts,
	}
	if form != nil {
		v.FormName = form.Name
		v.TotalFields = len(form.Fields)
		if v.TotalFields > 0 {
			v.Percentage = min(rec.CurrentFieldIndex, v.TotalFields) * 100 / v.TotalFields
		}
	}
	if withLog {
		v.ConversationLog = rec.ConversationLog
	}
	return v
}
