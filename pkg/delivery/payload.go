// Package delivery posts completed sessions to form callbacks.
package delivery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/vango-go/vai-forms/pkg/forms"
	"github.com/vango-go/vai-forms/pkg/record"
)

const (
	HeaderSignature = "X-VoiceForm-Signature"
	HeaderSessionID = "X-VoiceForm-Session-ID"
	HeaderAttempt   = "X-VoiceForm-Attempt"
	UserAgent       = "vai-forms-webhook/1.0"

	signaturePrefix = "sha256="
)

type Payload struct {
	FormID      string         `json:"form_id"`
	SessionID   string         `json:"session_id"`
	CompletedAt time.Time      `json:"completed_at"`
	Data        map[string]any `json:"data"`
	Metadata    Metadata       `json:"metadata"`
}

type Metadata struct {
	Status               record.Status `json:"status"`
	DurationSeconds      float64       `json:"duration_seconds"`
	FieldsCompleted      int           `json:"fields_completed"`
	TotalFields          int           `json:"total_fields"`
	CompletionPercentage int           `json:"completion_percentage"`
	Finalized            bool          `json:"finalized"`
	Summary              string        `json:"summary,omitempty"`
	Test                 bool          `json:"test,omitempty"`
}

// BuildPayload renders the webhook body for a completed session. Data is the
// finalized mapping when present, otherwise the per-turn values.
func BuildPayload(rec *record.Session, form *forms.Form) Payload {
	completed := rec.UpdatedAt
	if rec.CompletedAt != nil {
		completed = *rec.CompletedAt
	}
	data := rec.DeliveryValues()
	if data == nil {
		data = map[string]any{}
	}

	filled := 0
	for _, f := range form.Fields {
		if _, ok := data[f.Name]; ok {
			filled++
		}
	}
	pct := 0
	if n := len(form.Fields); n > 0 {
		pct = filled * 100 / n
	}
	summary := ""
	if rec.Proposal != nil {
		summary = rec.Proposal.Summary
	}

	return Payload{
		FormID:      rec.FormID,
		SessionID:   rec.ID,
		CompletedAt: completed.UTC(),
		Data:        data,
		Metadata: Metadata{
			Status:               rec.Status,
			DurationSeconds:      completed.Sub(rec.CreatedAt).Round(time.Millisecond).Seconds(),
			FieldsCompleted:      filled,
			TotalFields:          len(form.Fields),
			CompletionPercentage: pct,
			Finalized:            rec.FinalValues != nil,
			Summary:              summary,
		},
	}
}

func (p Payload) Marshal() ([]byte, error) { return json.Marshal(p) }

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received X-VoiceForm-Signature header against
// body in constant time.
func VerifySignature(secret string, body []byte, header string) bool {
	got, ok := strings.CutPrefix(strings.TrimSpace(header), signaturePrefix)
	if !ok {
		return false
	}
	want, err := hex.DecodeString(strings.TrimPrefix(Sign(secret, body), signaturePrefix))
	if err != nil {
		return false
	}
	sig, err := hex.DecodeString(got)
	if err != nil {
		return false
	}
	return hmac.Equal(sig, want)
}

// InitialStatus is the delivery status a session takes on completion.
func InitialStatus(form *forms.Form) record.DeliveryStatus {
	if strings.TrimSpace(form.Callback.URL) == "" || form.RequireConfirmation {
		return record.DeliveryNotSent
	}
	return record.DeliveryPending
}
