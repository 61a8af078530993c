package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vango-go/vai-forms/pkg/record"
)

// Memory is a process-local Store. Records are cloned on the way in and out.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*record.Session
	attempts map[string][]record.DeliveryAttempt
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*record.Session),
		attempts: make(map[string][]record.DeliveryAttempt),
	}
}

func (m *Memory) CreateSession(_ context.Context, s *record.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return fmt.Errorf("%w: session %s already exists", ErrConflict, s.ID)
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*record.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *Memory) SaveSession(_ context.Context, s *record.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[s.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status.Terminal() {
		return fmt.Errorf("%w: session %s is %s", ErrConflict, s.ID, cur.Status)
	}
	if cur.Status != s.Status && !record.CanTransition(cur.Status, s.Status) {
		return fmt.Errorf("%w: %s -> %s", record.ErrInvalidTransition, cur.Status, s.Status)
	}

	next := s.Clone()
	next.CreatedAt = cur.CreatedAt
	next.ExpiresAt = cur.ExpiresAt
	next.FinalValues = cur.FinalValues
	next.FinalizedAt = cur.FinalizedAt
	if !next.Status.Terminal() {
		next.DeliveryStatus = cur.DeliveryStatus
	}
	m.sessions[s.ID] = next
	return nil
}

func (m *Memory) ListExpirable(_ context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, s := range m.sessions {
		if !s.Status.Terminal() && s.Expired(now) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) ExpireSession(_ context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.Status.Terminal() || !s.Expired(now) {
		return ErrConflict
	}
	if err := s.SetStatus(record.StatusExpired, now); err != nil {
		return err
	}
	s.AppendTurn(record.SpeakerSystem, "session expired while idle", "", now)
	return nil
}

func (m *Memory) SetDeliveryStatus(_ context.Context, id string, from []record.DeliveryStatus, to record.DeliveryStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if !deliveryIn(s.DeliveryStatus, from) {
		return fmt.Errorf("%w: delivery is %s", ErrConflict, s.DeliveryStatus)
	}
	s.DeliveryStatus = to
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) Finalize(_ context.Context, id string, values map[string]any, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.Status != record.StatusCompleted {
		return fmt.Errorf("%w: session is %s", ErrConflict, s.Status)
	}
	if !deliveryIn(s.DeliveryStatus, finalizable) {
		return fmt.Errorf("%w: delivery is %s", ErrConflict, s.DeliveryStatus)
	}
	tmp := &record.Session{CollectedValues: values}
	s.FinalValues = tmp.Clone().CollectedValues
	t := at.UTC()
	s.FinalizedAt = &t
	s.DeliveryStatus = record.DeliveryPending
	s.UpdatedAt = t
	return nil
}

func (m *Memory) ListByDeliveryStatus(_ context.Context, status record.DeliveryStatus) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, s := range m.sessions {
		if s.DeliveryStatus == status {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) AppendAttempt(_ context.Context, a record.DeliveryAttempt) (record.DeliveryAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[a.SessionID]; !ok {
		return record.DeliveryAttempt{}, ErrNotFound
	}
	list := m.attempts[a.SessionID]
	a.AttemptNumber = len(list) + 1
	m.attempts[a.SessionID] = append(list, a)
	return a, nil
}

func (m *Memory) ListAttempts(_ context.Context, sessionID string) ([]record.DeliveryAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]record.DeliveryAttempt(nil), m.attempts[sessionID]...), nil
}

func (m *Memory) Close() error { return nil }
