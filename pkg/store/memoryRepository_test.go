package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAdd_IsIdempotentOnID(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	_, err := repo.Add(ctx, &OutboxMessage{ID: "1", Type: "AddShift", Payload: []byte(`{}`)})
	require.NoError(t, err)
	require.NoError(t, repo.Update(ctx, &OutboxMessage{ID: "1", Status: StatusFailed, FailureReason: "boom"}))

	_, err = repo.Add(ctx, &OutboxMessage{ID: "1", Type: "AddShift", Payload: []byte(`{}`)})
	require.NoError(t, err)

	all := repo.All()
	require.Len(t, all, 1)
	assert.Equal(t, StatusPending, all[0].Status)
	assert.Empty(t, all[0].FailureReason)
}

func TestMemoryAdd_KeepsCreatedAt(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := repo.Add(ctx, &OutboxMessage{ID: "1", Type: "t", CreatedAt: created})
	require.NoError(t, err)
	_, err = repo.Add(ctx, &OutboxMessage{ID: "1", Type: "t"})
	require.NoError(t, err)

	got, err := repo.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, created, got.CreatedAt)
}

func TestMemoryUpdate_NotFound(t *testing.T) {
	repo := NewMemoryRepository()

	err := repo.Update(context.Background(), &OutboxMessage{ID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryGet_ReturnsCopy(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	_, err := repo.Add(ctx, &OutboxMessage{ID: "1", Type: "t", Metadata: map[string]string{"k": "v"}})
	require.NoError(t, err)

	got, err := repo.Get(ctx, "1")
	require.NoError(t, err)
	got.Metadata["k"] = "changed"

	again, err := repo.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "v", again.Metadata["k"])

	_, err = repo.Get(ctx, "2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryFetchPending(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := base
	repo.now = func() time.Time {
		tick = tick.Add(time.Minute)
		return tick
	}

	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := repo.Add(ctx, &OutboxMessage{ID: id, Type: "t"})
		require.NoError(t, err)
	}
	require.NoError(t, repo.Update(ctx, &OutboxMessage{ID: "b", Status: StatusProcessed}))

	pending, err := repo.FetchPending(ctx, base.Add(10*time.Minute), 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].ID)
	assert.Equal(t, "c", pending[1].ID)

	pending, err = repo.FetchPending(ctx, base.Add(time.Minute), 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMemory_CanceledContext(t *testing.T) {
	repo := NewMemoryRepository()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.Add(ctx, &OutboxMessage{ID: "1"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryByType(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	_, _ = repo.Add(ctx, &OutboxMessage{ID: "1", Type: "AddShift"})
	_, _ = repo.Add(ctx, &OutboxMessage{ID: "2", Type: "DeadLetter.AddShift", Status: StatusFailed})

	assert.Len(t, repo.ByType("DeadLetter.AddShift"), 1)
	assert.Len(t, repo.ByType("AddShift"), 1)
}
