package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps the outbox in process memory. It backs tests and the
// "memory" database type; nothing survives a restart.
type MemoryRepository struct {
	mu    sync.RWMutex
	rows  map[string]OutboxMessage
	order []string
	now   func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rows: make(map[string]OutboxMessage),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryRepository) Add(ctx context.Context, msg *OutboxMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	prepareAdd(msg, m.now())
	if existing, ok := m.rows[msg.ID]; ok {
		msg.CreatedAt = existing.CreatedAt
	} else {
		m.order = append(m.order, msg.ID)
	}
	m.rows[msg.ID] = msg.clone()
	return msg.ID, nil
}

func (m *MemoryRepository) Update(ctx context.Context, msg *OutboxMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[msg.ID]
	if !ok {
		return ErrNotFound
	}
	msg.UpdatedAt = m.now()
	row.Status = msg.Status
	row.FailureReason = msg.FailureReason
	if msg.Metadata != nil {
		row.Metadata = msg.clone().Metadata
	}
	row.UpdatedAt = msg.UpdatedAt
	m.rows[msg.ID] = row
	return nil
}

func (m *MemoryRepository) Get(ctx context.Context, id string) (*OutboxMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := row.clone()
	return &out, nil
}

func (m *MemoryRepository) FetchPending(ctx context.Context, olderThan time.Time, limit int) ([]OutboxMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []OutboxMessage
	for _, id := range m.order {
		row := m.rows[id]
		if row.Status == StatusPending && row.UpdatedAt.Before(olderThan) {
			out = append(out, row.clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// All returns every record in insertion order.
func (m *MemoryRepository) All() []OutboxMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]OutboxMessage, 0, len(m.order))
	for _, id := range m.order {
		row := m.rows[id]
		out = append(out, row.clone())
	}
	return out
}

// ByType returns the records whose type equals messageType, in insertion order.
func (m *MemoryRepository) ByType(messageType string) []OutboxMessage {
	var out []OutboxMessage
	for _, row := range m.All() {
		if row.Type == messageType {
			out = append(out, row)
		}
	}
	return out
}
