// Package apierror maps domain errors onto the HTTP error envelope.
package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/vango-go/vai-forms/pkg/delivery"
	"github.com/vango-go/vai-forms/pkg/extract"
	"github.com/vango-go/vai-forms/pkg/forms"
	"github.com/vango-go/vai-forms/pkg/record"
	"github.com/vango-go/vai-forms/pkg/store"
)

type Type string

const (
	TypeInvalidRequest Type = "invalid_request"
	TypeUnauthorized   Type = "unauthorized"
	TypeNotFound       Type = "not_found"
	TypeConflict       Type = "conflict"
	TypeRateLimit      Type = "rate_limited"
	TypeUnavailable    Type = "unavailable"
	TypeInternal       Type = "internal"
)

type Error struct {
	Type       Type   `json:"type"`
	Message    string `json:"message"`
	Param      string `json:"param,omitempty"`
	Code       string `json:"code,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	RetryAfter *int   `json:"retry_after,omitempty"`
}

func (e *Error) Error() string { return string(e.Type) + ": " + e.Message }

type Envelope struct {
	Error *Error `json:"error"`
}

func New(t Type, message string) *Error {
	return &Error{Type: t, Message: message}
}

func FromError(err error, requestID string) (*Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{
			Type:      TypeUnavailable,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &Error{
			Type:      TypeUnavailable,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr != nil {
		out := *apiErr
		out.RequestID = requestID
		return &out, StatusFromType(apiErr.Type)
	}

	// Operator-supplied values that do not fit the form.
	var fieldErr *delivery.FieldError
	if errors.As(err, &fieldErr) && fieldErr != nil {
		msg := fieldErr.Err.Error()
		var rej *extract.Rejection
		if errors.As(fieldErr.Err, &rej) && rej != nil {
			msg = rej.Reason
		}
		return &Error{
			Type:      TypeInvalidRequest,
			Message:   msg,
			Param:     "values." + fieldErr.Field,
			RequestID: requestID,
		}, http.StatusBadRequest
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		return &Error{Type: TypeNotFound, Message: "session not found", RequestID: requestID}, http.StatusNotFound
	case errors.Is(err, forms.ErrNotFound):
		return &Error{Type: TypeNotFound, Message: "form not found", RequestID: requestID}, http.StatusNotFound
	case errors.Is(err, store.ErrConflict), errors.Is(err, record.ErrInvalidTransition):
		return &Error{
			Type:      TypeConflict,
			Message:   "the session is not in a state that allows this operation",
			RequestID: requestID,
		}, http.StatusConflict
	case errors.Is(err, delivery.ErrNoCallback):
		return &Error{
			Type:      TypeInvalidRequest,
			Message:   "the form has no callback url",
			Code:      "no_callback",
			RequestID: requestID,
		}, http.StatusBadRequest
	case errors.Is(err, delivery.ErrStopped), errors.Is(err, delivery.ErrQueueFull):
		return &Error{Type: TypeUnavailable, Message: "delivery is unavailable", RequestID: requestID}, http.StatusServiceUnavailable
	}

	// Unknown errors: treat as internal error (do not leak details by default).
	return &Error{
		Type:      TypeInternal,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func StatusFromType(t Type) int {
	switch t {
	case TypeInvalidRequest:
		return http.StatusBadRequest
	case TypeUnauthorized:
		return http.StatusUnauthorized
	case TypeNotFound:
		return http.StatusNotFound
	case TypeConflict:
		return http.StatusConflict
	case TypeRateLimit:
		return http.StatusTooManyRequests
	case TypeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
