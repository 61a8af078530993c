// Package record holds per-session state and delivery bookkeeping.
package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending       Status = "pending"
	StatusActive        Status = "active"
	StatusAwaitingField Status = "awaiting_field"
	StatusCompleted     Status = "completed"
	StatusExpired       Status = "expired"
	StatusFailed        Status = "failed"
)

type DeliveryStatus string

const (
	DeliveryNotSent           DeliveryStatus = "not_sent"
	DeliveryPending           DeliveryStatus = "pending"
	DeliveryDelivered         DeliveryStatus = "delivered"
	DeliveryFailedPermanently DeliveryStatus = "failed_permanently"
)

type Speaker string

const (
	SpeakerAssistant Speaker = "assistant"
	SpeakerUser      Speaker = "user"
	SpeakerSystem    Speaker = "system"
)

const ReasonUnresolvableField = "unresolvable required field"

var ErrInvalidTransition = errors.New("invalid status transition")

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusExpired || s == StatusFailed
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusActive, StatusAwaitingField:
		return 1
	default:
		return 2
	}
}

// CanTransition reports whether from -> to is allowed. Statuses only move
// forward; active and awaiting_field share a rank and may alternate.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusExpired || to == StatusFailed {
		return true
	}
	return to.rank() >= from.rank() && to != StatusPending
}

type Turn struct {
	Speaker   Speaker   `json:"speaker"`
	Content   string    `json:"content"`
	Field     string    `json:"field,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Proposal is the advisory result of the end-of-session holistic pass.
type Proposal struct {
	Values     map[string]any `json:"values"`
	Summary    string         `json:"summary"`
	Confidence float64        `json:"confidence"`
}

type Session struct {
	ID                string         `json:"id"`
	FormID            string         `json:"form_id"`
	Status            Status         `json:"status"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	ExpiresAt         time.Time      `json:"expires_at"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	CurrentFieldIndex int            `json:"current_field_index"`
	CollectedValues   map[string]any `json:"collected_values"`
	RetryCounts       map[string]int `json:"retry_counts"`
	ConversationLog   []Turn         `json:"conversation_log"`
	FailureReason     string         `json:"failure_reason,omitempty"`
	Proposal          *Proposal      `json:"proposal,omitempty"`
	FinalValues       map[string]any `json:"final_values,omitempty"`
	FinalizedAt       *time.Time     `json:"finalized_at,omitempty"`
	DeliveryStatus    DeliveryStatus `json:"delivery_status"`
}

// NewSessionID returns an opaque, unguessable session identifier.
func NewSessionID() string {
	return "s_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func NewSession(formID string, now time.Time, ttl time.Duration) *Session {
	now = now.UTC()
	return &Session{
		ID:              NewSessionID(),
		FormID:          formID,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       now.Add(ttl),
		CollectedValues: map[string]any{},
		RetryCounts:     map[string]int{},
		DeliveryStatus:  DeliveryNotSent,
	}
}

func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// SetStatus moves the session to a new status, enforcing forward-only order.
func (s *Session) SetStatus(to Status, now time.Time) error {
	if s.Status == to {
		return nil
	}
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}
	s.Status = to
	s.UpdatedAt = now.UTC()
	if to.Terminal() {
		t := now.UTC()
		s.CompletedAt = &t
	}
	return nil
}

func (s *Session) AppendTurn(speaker Speaker, content, field string, now time.Time) {
	s.ConversationLog = append(s.ConversationLog, Turn{
		Speaker:   speaker,
		Content:   content,
		Field:     field,
		Timestamp: now.UTC(),
	})
	s.UpdatedAt = now.UTC()
}

// DeliveryValues returns the values sent to the callback: the operator's
// finalized mapping when present, otherwise the per-turn values.
func (s *Session) DeliveryValues() map[string]any {
	if s.FinalValues != nil {
		return s.FinalValues
	}
	return s.CollectedValues
}

// Clone returns a deep copy. Values are copied through JSON so typed values
// come back in their canonical JSON form (numbers as float64).
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("record: clone session: %v", err))
	}
	var out Session
	if err := json.Unmarshal(b, &out); err != nil {
		panic(fmt.Sprintf("record: clone session: %v", err))
	}
	if out.CollectedValues == nil {
		out.CollectedValues = map[string]any{}
	}
	if out.RetryCounts == nil {
		out.RetryCounts = map[string]int{}
	}
	return &out
}

// DeliveryAttempt is one try at posting a completed session. Attempts are
// append-only.
type DeliveryAttempt struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	AttemptNumber   int       `json:"attempt_number"`
	AttemptedAt     time.Time `json:"attempted_at"`
	URL             string    `json:"url"`
	Method          string    `json:"method"`
	HTTPStatus      int       `json:"http_status,omitempty"`
	Error           string    `json:"error,omitempty"`
	ResponseExcerpt string    `json:"response_excerpt,omitempty"`
	DurationMS      int64     `json:"duration_ms"`
}

func (a DeliveryAttempt) Succeeded() bool {
	return a.Error == "" && a.HTTPStatus >= 200 && a.HTTPStatus < 300
}

// Outcome renders the http status or the error.
func (a DeliveryAttempt) Outcome() string {
	if a.Error != "" {
		return a.Error
	}
	return fmt.Sprintf("HTTP %d", a.HTTPStatus)
}
