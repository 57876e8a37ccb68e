package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/spanner"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
)

type SpannerRepository struct {
	client *spanner.Client
}

func (s *SpannerRepository) Add(ctx context.Context, msg *OutboxMessage) (string, error) {
	err := withSpan(ctx, "spanner", "Add", func(ctx context.Context) (int, error) {
		prepareAdd(msg, time.Now().UTC())
		metadata, err := json.Marshal(msg.Metadata)
		if err != nil {
			return 0, fmt.Errorf("failed to encode metadata: %w", err)
		}

		_, err = s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
			createdAt := msg.CreatedAt
			row, err := txn.ReadRow(ctx, outboxTable, spanner.Key{msg.ID}, []string{"created_at"})
			switch {
			case err == nil:
				if err := row.Columns(&createdAt); err != nil {
					return err
				}
			case spanner.ErrCode(err) != codes.NotFound:
				return err
			}
			msg.CreatedAt = createdAt
			return txn.BufferWrite([]*spanner.Mutation{
				spanner.InsertOrUpdate(outboxTable, outboxColumns, []interface{}{
					msg.ID,
					msg.Type,
					msg.Payload,
					string(metadata),
					string(msg.Status),
					msg.FailureReason,
					msg.CreatedAt,
					msg.UpdatedAt,
				}),
			})
		})
		if err != nil {
			return 0, err
		}
		return 1, nil
	})
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (s *SpannerRepository) Update(ctx context.Context, msg *OutboxMessage) error {
	return withSpan(ctx, "spanner", "Update", func(ctx context.Context) (int, error) {
		metadata, err := json.Marshal(msg.Metadata)
		if err != nil {
			return 0, fmt.Errorf("failed to encode metadata: %w", err)
		}
		msg.UpdatedAt = time.Now().UTC()

		var affected int64
		_, err = s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
			stmt := spanner.Statement{
				SQL: `UPDATE outbox SET status = @status, failure_reason = @reason, metadata = @metadata, updated_at = @updatedAt WHERE id = @id`,
				Params: map[string]interface{}{
					"status":    string(msg.Status),
					"reason":    msg.FailureReason,
					"metadata":  string(metadata),
					"updatedAt": msg.UpdatedAt,
					"id":        msg.ID,
				},
			}
			n, err := txn.Update(ctx, stmt)
			affected = n
			return err
		})
		if err != nil {
			return 0, err
		}
		if affected == 0 {
			return 0, ErrNotFound
		}
		return int(affected), nil
	})
}

func (s *SpannerRepository) Get(ctx context.Context, id string) (*OutboxMessage, error) {
	var msg *OutboxMessage
	err := withSpan(ctx, "spanner", "Get", func(ctx context.Context) (int, error) {
		row, err := s.client.Single().ReadRow(ctx, outboxTable, spanner.Key{id}, outboxColumns)
		if spanner.ErrCode(err) == codes.NotFound {
			return 0, ErrNotFound
		}
		if err != nil {
			return 0, err
		}
		msg, err = spannerRowToMessage(row)
		if err != nil {
			return 0, err
		}
		return 1, nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *SpannerRepository) FetchPending(ctx context.Context, olderThan time.Time, limit int) ([]OutboxMessage, error) {
	var messages []OutboxMessage
	err := withSpan(ctx, "spanner", "FetchPending", func(ctx context.Context) (int, error) {
		if limit <= 0 {
			limit = 1000
		}
		stmt := spanner.Statement{
			SQL: `SELECT id, type, payload, metadata, status, failure_reason, created_at, updated_at FROM outbox
              WHERE status = @statusPending AND updated_at < @olderThan
              ORDER BY updated_at ASC
              LIMIT @batchSize`,
			Params: map[string]interface{}{
				"statusPending": string(StatusPending),
				"olderThan":     olderThan,
				"batchSize":     int64(limit),
			},
		}

		iter := s.client.Single().Query(ctx, stmt)
		defer iter.Stop()

		for {
			row, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				return 0, err
			}
			msg, err := spannerRowToMessage(row)
			if err != nil {
				return 0, err
			}
			messages = append(messages, *msg)
		}
		return len(messages), nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func spannerRowToMessage(row *spanner.Row) (*OutboxMessage, error) {
	var (
		msg      OutboxMessage
		status   string
		metadata string
	)
	if err := row.Columns(
		&msg.ID,
		&msg.Type,
		&msg.Payload,
		&metadata,
		&status,
		&msg.FailureReason,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	); err != nil {
		return nil, err
	}
	msg.Status = Status(status)
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &msg.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata of %s: %w", msg.ID, err)
		}
	}
	return &msg, nil
}
