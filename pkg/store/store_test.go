package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/vai-forms/pkg/record"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemory() })
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("VAI_FORMS_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("VAI_FORMS_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pg, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Close() })
	require.NoError(t, Migrate(ctx, pg.Pool()))

	runStoreSuite(t, func(t *testing.T) Store {
		_, err := pg.Pool().Exec(ctx, `TRUNCATE delivery_attempts, form_sessions`)
		require.NoError(t, err)
		return pg
	})
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func runStoreSuite(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := open(t)
		rec := record.NewSession("feedback", t0, time.Hour)
		require.NoError(t, s.CreateSession(ctx, rec))

		got, err := s.GetSession(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, record.StatusPending, got.Status)
		assert.Equal(t, record.DeliveryNotSent, got.DeliveryStatus)
		assert.True(t, got.ExpiresAt.Equal(t0.Add(time.Hour)))

		err = s.CreateSession(ctx, rec)
		assert.ErrorIs(t, err, ErrConflict)
		_, err = s.GetSession(ctx, "s_missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("save round trips conversation state", func(t *testing.T) {
		s := open(t)
		rec := record.NewSession("feedback", t0, time.Hour)
		require.NoError(t, s.CreateSession(ctx, rec))

		require.NoError(t, rec.SetStatus(record.StatusActive, t0))
		rec.CollectedValues["customer_name"] = "John Smith"
		rec.RetryCounts["rating"] = 1
		rec.CurrentFieldIndex = 1
		rec.AppendTurn(record.SpeakerUser, "John Smith", "customer_name", t0)
		require.NoError(t, s.SaveSession(ctx, rec))

		got, err := s.GetSession(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, record.StatusActive, got.Status)
		assert.Equal(t, 1, got.CurrentFieldIndex)
		assert.Equal(t, "John Smith", got.CollectedValues["customer_name"])
		assert.Equal(t, 1, got.RetryCounts["rating"])
		require.Len(t, got.ConversationLog, 1)
		assert.Equal(t, "customer_name", got.ConversationLog[0].Field)
	})

	t.Run("terminal records are never overwritten", func(t *testing.T) {
		s := open(t)
		rec := record.NewSession("feedback", t0, time.Hour)
		require.NoError(t, s.CreateSession(ctx, rec))
		require.NoError(t, rec.SetStatus(record.StatusCompleted, t0))
		rec.DeliveryStatus = record.DeliveryPending
		require.NoError(t, s.SaveSession(ctx, rec))

		got, err := s.GetSession(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, record.DeliveryPending, got.DeliveryStatus)
		require.NotNil(t, got.CompletedAt)

		rec.CollectedValues["late"] = "value"
		assert.ErrorIs(t, s.SaveSession(ctx, rec), ErrConflict)
	})

	t.Run("delivery status is ignored on non-terminal saves", func(t *testing.T) {
		s := open(t)
		rec := record.NewSession("feedback", t0, time.Hour)
		require.NoError(t, s.CreateSession(ctx, rec))
		rec.DeliveryStatus = record.DeliveryDelivered
		require.NoError(t, rec.SetStatus(record.StatusActive, t0))
		require.NoError(t, s.SaveSession(ctx, rec))

		got, err := s.GetSession(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, record.DeliveryNotSent, got.DeliveryStatus)
	})

	t.Run("status only moves forward", func(t *testing.T) {
		s := open(t)
		rec := record.NewSession("feedback", t0, time.Hour)
		require.NoError(t, s.CreateSession(ctx, rec))
		rec.Status = record.StatusActive
		require.NoError(t, s.SaveSession(ctx, rec))

		rec.Status = record.StatusPending
		assert.ErrorIs(t, s.SaveSession(ctx, rec), record.ErrInvalidTransition)

		rec.Status = record.StatusAwaitingField
		require.NoError(t, s.SaveSession(ctx, rec))
		rec.Status = record.StatusActive
		require.NoError(t, s.SaveSession(ctx, rec))
	})

	t.Run("expiry", func(t *testing.T) {
		s := open(t)
		old := record.NewSession("feedback", t0, time.Minute)
		fresh := record.NewSession("feedback", t0, time.Hour)
		done := record.NewSession("feedback", t0, time.Minute)
		for _, r := range []*record.Session{old, fresh, done} {
			require.NoError(t, s.CreateSession(ctx, r))
		}
		require.NoError(t, done.SetStatus(record.StatusCompleted, t0))
		require.NoError(t, s.SaveSession(ctx, done))

		now := t0.Add(10 * time.Minute)
		ids, err := s.ListExpirable(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, []string{old.ID}, ids)

		require.NoError(t, s.ExpireSession(ctx, old.ID, now))
		assert.ErrorIs(t, s.ExpireSession(ctx, old.ID, now), ErrConflict)
		assert.ErrorIs(t, s.ExpireSession(ctx, fresh.ID, now), ErrConflict)

		got, err := s.GetSession(ctx, old.ID)
		require.NoError(t, err)
		assert.Equal(t, record.StatusExpired, got.Status)
		assert.Equal(t, record.DeliveryNotSent, got.DeliveryStatus)
	})

	t.Run("delivery status compare and set", func(t *testing.T) {
		s := open(t)
		rec := record.NewSession("feedback", t0, time.Hour)
		require.NoError(t, s.CreateSession(ctx, rec))

		err := s.SetDeliveryStatus(ctx, rec.ID, []record.DeliveryStatus{record.DeliveryPending}, record.DeliveryDelivered)
		assert.ErrorIs(t, err, ErrConflict)
		err = s.SetDeliveryStatus(ctx, "s_missing", []record.DeliveryStatus{record.DeliveryPending}, record.DeliveryDelivered)
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.SetDeliveryStatus(ctx, rec.ID,
			[]record.DeliveryStatus{record.DeliveryNotSent}, record.DeliveryPending))
		ids, err := s.ListByDeliveryStatus(ctx, record.DeliveryPending)
		require.NoError(t, err)
		assert.Equal(t, []string{rec.ID}, ids)
	})

	t.Run("finalize", func(t *testing.T) {
		s := open(t)
		rec := record.NewSession("feedback", t0, time.Hour)
		require.NoError(t, s.CreateSession(ctx, rec))

		values := map[string]any{"customer_name": "Jon Smith"}
		assert.ErrorIs(t, s.Finalize(ctx, rec.ID, values, t0), ErrConflict)

		require.NoError(t, rec.SetStatus(record.StatusCompleted, t0))
		require.NoError(t, s.SaveSession(ctx, rec))
		require.NoError(t, s.Finalize(ctx, rec.ID, values, t0.Add(time.Minute)))

		got, err := s.GetSession(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, "Jon Smith", got.FinalValues["customer_name"])
		require.NotNil(t, got.FinalizedAt)
		assert.Equal(t, record.DeliveryPending, got.DeliveryStatus)
		assert.Equal(t, values, got.DeliveryValues())

		assert.ErrorIs(t, s.Finalize(ctx, rec.ID, values, t0), ErrConflict)
	})

	t.Run("attempts are numbered per session", func(t *testing.T) {
		s := open(t)
		a := record.NewSession("feedback", t0, time.Hour)
		b := record.NewSession("feedback", t0, time.Hour)
		require.NoError(t, s.CreateSession(ctx, a))
		require.NoError(t, s.CreateSession(ctx, b))

		for i := 0; i < 3; i++ {
			got, err := s.AppendAttempt(ctx, record.DeliveryAttempt{
				ID: record.NewSessionID(), SessionID: a.ID, AttemptedAt: t0,
				URL: "https://example.com/hook", Method: "POST", HTTPStatus: 500,
			})
			require.NoError(t, err)
			assert.Equal(t, i+1, got.AttemptNumber)
		}
		got, err := s.AppendAttempt(ctx, record.DeliveryAttempt{
			ID: record.NewSessionID(), SessionID: b.ID, AttemptedAt: t0,
			URL: "https://example.com/hook", Method: "POST", HTTPStatus: 200,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, got.AttemptNumber)

		list, err := s.ListAttempts(ctx, a.ID)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, 3, list[2].AttemptNumber)
		assert.Equal(t, 500, list[0].HTTPStatus)
	})
}

func TestMemoryAttemptUnknownSession(t *testing.T) {
	_, err := NewMemory().AppendAttempt(context.Background(), record.DeliveryAttempt{SessionID: "s_missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	rec := record.NewSession("feedback", t0, time.Hour)
	require.NoError(t, m.CreateSession(ctx, rec))

	got, err := m.GetSession(ctx, rec.ID)
	require.NoError(t, err)
	got.CollectedValues["customer_name"] = "mutated"

	again, err := m.GetSession(ctx, rec.ID)
	require.NoError(t, err)
	assert.NotContains(t, again.CollectedValues, "customer_name")
}
