package delivery

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vango-go/vai-forms/pkg/forms"
	"github.com/vango-go/vai-forms/pkg/record"
)

var ErrNoCallback = errors.New("form has no callback url")

// testSessionPrefix marks session ids in sample payloads so receivers can
// discard them.
const testSessionPrefix = "test_"

// SamplePayload is a completed-session body filled with placeholder values
// of the right type for each field.
func SamplePayload(form *forms.Form, sessionID string, now time.Time) Payload {
	data := make(map[string]any, len(form.Fields))
	for _, f := range form.Fields {
		data[f.Name] = sampleValue(f, now)
	}
	return Payload{
		FormID:      form.ID,
		SessionID:   sessionID,
		CompletedAt: now.UTC(),
		Data:        data,
		Metadata: Metadata{
			Status:               record.StatusCompleted,
			FieldsCompleted:      len(form.Fields),
			TotalFields:          len(form.Fields),
			CompletionPercentage: 100,
			Summary:              "Webhook test delivery.",
			Test:                 true,
		},
	}
}

func sampleValue(f forms.FieldSpec, now time.Time) any {
	v := f.Validation
	switch f.Type {
	case forms.FieldNumber:
		if v.Min != nil {
			return *v.Min
		}
		return 1.0
	case forms.FieldEmail:
		return "test@example.com"
	case forms.FieldPhone:
		return "+15550100"
	case forms.FieldDate:
		return now.UTC().Format(forms.DateLayout)
	case forms.FieldBoolean:
		return true
	case forms.FieldChoice:
		if len(v.Options) > 0 {
			return v.Options[0]
		}
	case forms.FieldMultiChoice:
		if len(v.Options) > 0 {
			return []string{v.Options[0]}
		}
		return []string{}
	}
	return "test_value"
}

// SendTest posts a signed sample payload to a form's callback once. No
// session is read or written, and the attempt is returned rather than stored.
func (d *Dispatcher) SendTest(ctx context.Context, formID string) (record.DeliveryAttempt, error) {
	form, err := d.forms.Form(ctx, formID)
	if err != nil {
		return record.DeliveryAttempt{}, err
	}
	if strings.TrimSpace(form.Callback.URL) == "" {
		return record.DeliveryAttempt{}, ErrNoCallback
	}
	sessionID := testSessionPrefix + ulid.Make().String()
	body, err := SamplePayload(form, sessionID, d.now()).Marshal()
	if err != nil {
		return record.DeliveryAttempt{}, err
	}
	att := d.attempt(ctx, form, sessionID, 1, body)
	d.logger.Info("webhook test sent", "form_id", form.ID, "session_id", sessionID,
		"http_status", att.HTTPStatus, "duration_ms", att.DurationMS, "error", att.Error)
	return att, nil
}
