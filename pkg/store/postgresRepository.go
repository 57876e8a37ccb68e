package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

var outboxColumns = []string{
	"id",
	"type",
	"payload",
	"metadata",
	"status",
	"failure_reason",
	"created_at",
	"updated_at",
}

type PostgresRepository struct {
	db *sql.DB // using database/sql
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// MigratePostgres applies the embedded outbox schema migrations.
func MigratePostgres(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate outbox schema: %w", err)
	}
	return nil
}

func (p *PostgresRepository) Add(ctx context.Context, msg *OutboxMessage) (string, error) {
	err := withSpan(ctx, "postgresql", "Add", func(ctx context.Context) (int, error) {
		prepareAdd(msg, time.Now().UTC())
		metadata, err := json.Marshal(msg.Metadata)
		if err != nil {
			return 0, fmt.Errorf("failed to encode metadata: %w", err)
		}

		query, args, err := sq.Insert(outboxTable).
			Columns(outboxColumns...).
			Values(
				msg.ID,
				msg.Type,
				msg.Payload,
				string(metadata),
				string(msg.Status),
				msg.FailureReason,
				msg.CreatedAt,
				msg.UpdatedAt,
			).
			Suffix(`ON CONFLICT (id) DO UPDATE SET type = EXCLUDED.type, payload = EXCLUDED.payload, ` +
				`metadata = EXCLUDED.metadata, status = EXCLUDED.status, ` +
				`failure_reason = EXCLUDED.failure_reason, updated_at = EXCLUDED.updated_at`).
			PlaceholderFormat(sq.Dollar).
			ToSql()
		if err != nil {
			return 0, fmt.Errorf("failed to build insert query: %w", err)
		}

		if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("failed to insert outbox message: %w", err)
		}
		return 1, nil
	})
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (p *PostgresRepository) Update(ctx context.Context, msg *OutboxMessage) error {
	return withSpan(ctx, "postgresql", "Update", func(ctx context.Context) (int, error) {
		metadata, err := json.Marshal(msg.Metadata)
		if err != nil {
			return 0, fmt.Errorf("failed to encode metadata: %w", err)
		}
		msg.UpdatedAt = time.Now().UTC()

		query, args, err := sq.Update(outboxTable).
			Set("status", string(msg.Status)).
			Set("failure_reason", msg.FailureReason).
			Set("metadata", string(metadata)).
			Set("updated_at", msg.UpdatedAt).
			Where(sq.Eq{"id": msg.ID}).
			PlaceholderFormat(sq.Dollar).
			ToSql()
		if err != nil {
			return 0, fmt.Errorf("failed to build update query: %w", err)
		}

		res, err := p.db.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("failed to update outbox message: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		if affected == 0 {
			return 0, ErrNotFound
		}
		return int(affected), nil
	})
}

func (p *PostgresRepository) Get(ctx context.Context, id string) (*OutboxMessage, error) {
	var msg *OutboxMessage
	err := withSpan(ctx, "postgresql", "Get", func(ctx context.Context) (int, error) {
		query, args, err := sq.Select(outboxColumns...).
			From(outboxTable).
			Where(sq.Eq{"id": id}).
			PlaceholderFormat(sq.Dollar).
			ToSql()
		if err != nil {
			return 0, fmt.Errorf("failed to build select query: %w", err)
		}

		row := p.db.QueryRowContext(ctx, query, args...)
		msg, err = scanOutboxMessage(row)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
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

func (p *PostgresRepository) FetchPending(ctx context.Context, olderThan time.Time, limit int) ([]OutboxMessage, error) {
	var messages []OutboxMessage
	err := withSpan(ctx, "postgresql", "FetchPending", func(ctx context.Context) (int, error) {
		builder := sq.Select(outboxColumns...).
			From(outboxTable).
			Where(sq.Eq{"status": string(StatusPending)}).
			Where(sq.Lt{"updated_at": olderThan}).
			OrderBy("updated_at ASC").
			PlaceholderFormat(sq.Dollar)
		if limit > 0 {
			builder = builder.Limit(uint64(limit))
		}
		query, args, err := builder.ToSql()
		if err != nil {
			return 0, fmt.Errorf("failed to build select query: %w", err)
		}

		rows, err := p.db.QueryContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("failed to query outbox messages: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			msg, err := scanOutboxMessage(rows)
			if err != nil {
				return 0, err
			}
			messages = append(messages, *msg)
		}
		if err := rows.Err(); err != nil {
			return 0, fmt.Errorf("error iterating outbox messages: %w", err)
		}
		return len(messages), nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutboxMessage(row rowScanner) (*OutboxMessage, error) {
	var (
		msg      OutboxMessage
		status   string
		metadata []byte
	)
	if err := row.Scan(
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
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata of %s: %w", msg.ID, err)
		}
	}
	return &msg, nil
}
