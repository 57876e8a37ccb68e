package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("outbox message not found")

// OutboxRepository defines the durable operations the pipeline performs on the outbox.
// Every write is keyed by message id so that repeating it leaves a single record.
type OutboxRepository interface {
	// Add stores msg, replacing the record with the same id if one exists. It returns the id.
	Add(ctx context.Context, msg *OutboxMessage) (string, error)
	// Update overwrites status, failure reason and metadata of the record keyed by msg.ID.
	Update(ctx context.Context, msg *OutboxMessage) error
	// Get loads one record by id.
	Get(ctx context.Context, id string) (*OutboxMessage, error)
	// FetchPending returns pending records last touched before olderThan, oldest first.
	FetchPending(ctx context.Context, olderThan time.Time, limit int) ([]OutboxMessage, error)
}

// prepareAdd fills the id and timestamps of a record about to be inserted.
func prepareAdd(msg *OutboxMessage, now time.Time) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Status == "" {
		msg.Status = StatusPending
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now
	if msg.Metadata == nil {
		msg.Metadata = map[string]string{}
	}
}
