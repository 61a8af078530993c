package sessions

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vango-go/vai-forms/pkg/store"
)

// Sweeper expires idle sessions whose expires_at has passed. Sessions with a
// live connection are skipped; their own timer ends them.
type Sweeper struct {
	Store    store.Store
	Tracker  *Tracker
	Interval time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger().Warn("session sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Sweep runs one pass and returns how many sessions it expired.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	at := now()
	ids, err := s.Store.ListExpirable(ctx, at)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if s.Tracker.Has(id) {
			continue
		}
		err := s.Store.ExpireSession(ctx, id, at)
		switch {
		case err == nil:
			n++
			s.logger().Info("session expired while idle", "session_id", id)
		case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrNotFound):
		default:
			return n, err
		}
	}
	return n, nil
}

func (s *Sweeper) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
