package delivery

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/vango-go/vai-forms/pkg/extract"
	"github.com/vango-go/vai-forms/pkg/record"
)

var ErrUnknownField = errors.New("unknown field")

// FieldError wraps ErrUnknownField or an *extract.Rejection with the field
// it concerns.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string { return fmt.Sprintf("%s: %v", e.Field, e.Err) }
func (e *FieldError) Unwrap() error { return e.Err }

// Finalize validates an operator-supplied mapping, stores it as the
// authoritative values for a completed session and enqueues delivery. The
// store rejects it with store.ErrConflict unless delivery is not_sent or
// failed_permanently.
func (d *Dispatcher) Finalize(ctx context.Context, sessionID string, values map[string]any) (*record.Session, error) {
	rec, err := d.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	form, err := d.forms.Form(ctx, rec.FormID)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	engine := extract.Engine{Now: d.now}
	final := make(map[string]any, len(values))
	for _, name := range names {
		spec, ok := form.Field(name)
		if !ok {
			return nil, &FieldError{Field: name, Err: ErrUnknownField}
		}
		v, err := engine.Normalize(spec, values[name])
		if err != nil {
			return nil, &FieldError{Field: name, Err: err}
		}
		final[name] = v
	}

	if err := d.store.Finalize(ctx, sessionID, final, d.now()); err != nil {
		return nil, err
	}
	d.logger.Info("session finalized", "session_id", sessionID, "form_id", rec.FormID, "fields", len(final))
	if err := d.Enqueue(sessionID); err != nil {
		d.logger.Warn("delivery enqueue failed; rescan will pick it up", "session_id", sessionID, "error", err)
	}
	return d.store.GetSession(ctx, sessionID)
}
