// Package store persists session records and delivery attempts.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/vango-go/vai-forms/pkg/record"
)

var (
	ErrNotFound = errors.New("session not found")
	// ErrConflict reports a write that lost against the record's current state.
	ErrConflict = errors.New("session state conflict")
)

type Store interface {
	CreateSession(ctx context.Context, s *record.Session) error
	GetSession(ctx context.Context, id string) (*record.Session, error)

	// SaveSession persists conversation state: status, field pointer, values,
	// retry counts, log, failure reason and proposal. Terminal records are
	// never overwritten and status only moves forward. The delivery status is
	// taken from s only on the transition into a terminal status.
	SaveSession(ctx context.Context, s *record.Session) error

	// ListExpirable returns non-terminal sessions whose expiry is at or
	// before now.
	ListExpirable(ctx context.Context, now time.Time) ([]string, error)
	// ExpireSession marks a non-terminal, past-expiry session expired.
	ExpireSession(ctx context.Context, id string, now time.Time) error

	// SetDeliveryStatus moves the delivery status to `to` if it is currently
	// one of from. It returns ErrConflict otherwise.
	SetDeliveryStatus(ctx context.Context, id string, from []record.DeliveryStatus, to record.DeliveryStatus) error
	// Finalize stores an operator-confirmed value mapping on a completed
	// session whose delivery is not_sent or failed_permanently, and moves
	// delivery to pending.
	Finalize(ctx context.Context, id string, values map[string]any, at time.Time) error
	ListByDeliveryStatus(ctx context.Context, status record.DeliveryStatus) ([]string, error)

	// AppendAttempt stores an attempt, assigning the next attempt number for
	// the session.
	AppendAttempt(ctx context.Context, a record.DeliveryAttempt) (record.DeliveryAttempt, error)
	ListAttempts(ctx context.Context, sessionID string) ([]record.DeliveryAttempt, error)

	Close() error
}

func deliveryIn(s record.DeliveryStatus, set []record.DeliveryStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

var finalizable = []record.DeliveryStatus{record.DeliveryNotSent, record.DeliveryFailedPermanently}
