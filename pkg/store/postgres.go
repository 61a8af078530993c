package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/vango-go/vai-forms/pkg/record"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the embedded goose migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn. Call Migrate before first use.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Pool() *pgxpool.Pool { return p.pool }

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

const sessionColumns = `id, form_id, status, created_at, updated_at, expires_at, completed_at,
	current_field_index, collected_values, retry_counts, conversation_log, failure_reason,
	proposal, final_values, finalized_at, delivery_status`

func (p *Postgres) CreateSession(ctx context.Context, s *record.Session) error {
	j, err := encodeSession(s)
	if err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx, `INSERT INTO form_sessions (`+sessionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (id) DO NOTHING`,
		s.ID, s.FormID, string(s.Status), s.CreatedAt, s.UpdatedAt, s.ExpiresAt, s.CompletedAt,
		s.CurrentFieldIndex, j.values, j.retries, j.log, s.FailureReason,
		j.proposal, j.final, s.FinalizedAt, string(s.DeliveryStatus))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: session %s already exists", ErrConflict, s.ID)
	}
	return nil
}

func (p *Postgres) GetSession(ctx context.Context, id string) (*record.Session, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM form_sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (p *Postgres) SaveSession(ctx context.Context, s *record.Session) error {
	j, err := encodeSession(s)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM form_sessions WHERE id = $1 FOR UPDATE`, s.ID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		cur := record.Status(status)
		if cur.Terminal() {
			return fmt.Errorf("%w: session %s is %s", ErrConflict, s.ID, cur)
		}
		if cur != s.Status && !record.CanTransition(cur, s.Status) {
			return fmt.Errorf("%w: %s -> %s", record.ErrInvalidTransition, cur, s.Status)
		}

		_, err = tx.Exec(ctx, `UPDATE form_sessions SET
			status = $2, updated_at = $3, completed_at = $4, current_field_index = $5,
			collected_values = $6, retry_counts = $7, conversation_log = $8,
			failure_reason = $9, proposal = $10,
			delivery_status = CASE WHEN $11::boolean THEN $12 ELSE delivery_status END
			WHERE id = $1`,
			s.ID, string(s.Status), s.UpdatedAt, s.CompletedAt, s.CurrentFieldIndex,
			j.values, j.retries, j.log, s.FailureReason, j.proposal,
			s.Status.Terminal(), string(s.DeliveryStatus))
		if err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		return nil
	})
}

func (p *Postgres) ListExpirable(ctx context.Context, now time.Time) ([]string, error) {
	return p.ids(ctx, `SELECT id FROM form_sessions
		WHERE status NOT IN ('completed','expired','failed') AND expires_at <= $1
		ORDER BY id`, now)
}

func (p *Postgres) ExpireSession(ctx context.Context, id string, now time.Time) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		s, err := scanSession(tx.QueryRow(ctx,
			`SELECT `+sessionColumns+` FROM form_sessions WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if s.Status.Terminal() || !s.Expired(now) {
			return ErrConflict
		}
		if err := s.SetStatus(record.StatusExpired, now); err != nil {
			return err
		}
		s.AppendTurn(record.SpeakerSystem, "session expired while idle", "", now)
		log, err := json.Marshal(s.ConversationLog)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE form_sessions
			SET status = $2, updated_at = $3, completed_at = $4, conversation_log = $5
			WHERE id = $1`, id, string(s.Status), s.UpdatedAt, s.CompletedAt, log)
		return err
	})
}

func (p *Postgres) SetDeliveryStatus(ctx context.Context, id string, from []record.DeliveryStatus, to record.DeliveryStatus) error {
	tag, err := p.pool.Exec(ctx, `UPDATE form_sessions
		SET delivery_status = $2, updated_at = $3
		WHERE id = $1 AND delivery_status = ANY($4)`,
		id, string(to), time.Now().UTC(), deliveryStrings(from))
	if err != nil {
		return fmt.Errorf("set delivery status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return p.missOrConflict(ctx, id)
	}
	return nil
}

func (p *Postgres) Finalize(ctx context.Context, id string, values map[string]any, at time.Time) error {
	raw, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	at = at.UTC()
	tag, err := p.pool.Exec(ctx, `UPDATE form_sessions
		SET final_values = $2, finalized_at = $3, updated_at = $3, delivery_status = $4
		WHERE id = $1 AND status = 'completed' AND delivery_status = ANY($5)`,
		id, raw, at, string(record.DeliveryPending), deliveryStrings(finalizable))
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return p.missOrConflict(ctx, id)
	}
	return nil
}

func (p *Postgres) ListByDeliveryStatus(ctx context.Context, status record.DeliveryStatus) ([]string, error) {
	return p.ids(ctx, `SELECT id FROM form_sessions WHERE delivery_status = $1 ORDER BY id`, string(status))
}

func (p *Postgres) AppendAttempt(ctx context.Context, a record.DeliveryAttempt) (record.DeliveryAttempt, error) {
	err := p.pool.QueryRow(ctx, `INSERT INTO delivery_attempts
		(id, session_id, attempt_number, attempted_at, url, method, http_status, error, response_excerpt, duration_ms)
		SELECT $1, $2, COALESCE(MAX(attempt_number), 0) + 1, $3, $4, $5, $6, $7, $8, $9
		FROM delivery_attempts WHERE session_id = $2
		RETURNING attempt_number`,
		a.ID, a.SessionID, a.AttemptedAt, a.URL, a.Method, a.HTTPStatus, a.Error, a.ResponseExcerpt, a.DurationMS,
	).Scan(&a.AttemptNumber)
	if err != nil {
		return record.DeliveryAttempt{}, fmt.Errorf("append attempt: %w", err)
	}
	return a, nil
}

func (p *Postgres) ListAttempts(ctx context.Context, sessionID string) ([]record.DeliveryAttempt, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, session_id, attempt_number, attempted_at, url, method,
		http_status, error, response_excerpt, duration_ms
		FROM delivery_attempts WHERE session_id = $1 ORDER BY attempt_number`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (record.DeliveryAttempt, error) {
		var a record.DeliveryAttempt
		err := row.Scan(&a.ID, &a.SessionID, &a.AttemptNumber, &a.AttemptedAt, &a.URL, &a.Method,
			&a.HTTPStatus, &a.Error, &a.ResponseExcerpt, &a.DurationMS)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return out, nil
}

func (p *Postgres) ids(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (p *Postgres) missOrConflict(ctx context.Context, id string) error {
	var exists bool
	if err := p.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM form_sessions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

func deliveryStrings(in []record.DeliveryStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

type sessionJSON struct {
	values, retries, log, proposal, final []byte
}

func encodeSession(s *record.Session) (sessionJSON, error) {
	var j sessionJSON
	var err error
	if j.values, err = json.Marshal(nonNilMap(s.CollectedValues)); err != nil {
		return j, err
	}
	retries := s.RetryCounts
	if retries == nil {
		retries = map[string]int{}
	}
	if j.retries, err = json.Marshal(retries); err != nil {
		return j, err
	}
	log := s.ConversationLog
	if log == nil {
		log = []record.Turn{}
	}
	if j.log, err = json.Marshal(log); err != nil {
		return j, err
	}
	if s.Proposal != nil {
		if j.proposal, err = json.Marshal(s.Proposal); err != nil {
			return j, err
		}
	}
	if s.FinalValues != nil {
		if j.final, err = json.Marshal(s.FinalValues); err != nil {
			return j, err
		}
	}
	return j, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func scanSession(row pgx.Row) (*record.Session, error) {
	var (
		s                                     record.Session
		status, delivery                      string
		values, retries, log, proposal, final []byte
	)
	err := row.Scan(&s.ID, &s.FormID, &status, &s.CreatedAt, &s.UpdatedAt, &s.ExpiresAt, &s.CompletedAt,
		&s.CurrentFieldIndex, &values, &retries, &log, &s.FailureReason,
		&proposal, &final, &s.FinalizedAt, &delivery)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	s.Status = record.Status(status)
	s.DeliveryStatus = record.DeliveryStatus(delivery)

	if err := json.Unmarshal(values, &s.CollectedValues); err != nil {
		return nil, fmt.Errorf("decode collected_values: %w", err)
	}
	if err := json.Unmarshal(retries, &s.RetryCounts); err != nil {
		return nil, fmt.Errorf("decode retry_counts: %w", err)
	}
	if err := json.Unmarshal(log, &s.ConversationLog); err != nil {
		return nil, fmt.Errorf("decode conversation_log: %w", err)
	}
	if len(proposal) > 0 {
		s.Proposal = &record.Proposal{}
		if err := json.Unmarshal(proposal, s.Proposal); err != nil {
			return nil, fmt.Errorf("decode proposal: %w", err)
		}
	}
	if len(final) > 0 {
		if err := json.Unmarshal(final, &s.FinalValues); err != nil {
			return nil, fmt.Errorf("decode final_values: %w", err)
		}
	}
	return &s, nil
}
