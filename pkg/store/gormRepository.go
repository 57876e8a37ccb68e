package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// outboxRow is the gorm model of the outbox table.
type outboxRow struct {
	ID            string    `gorm:"primaryKey;size:64"`
	Type          string    `gorm:"size:255;index"`
	Payload       []byte    `gorm:"type:blob"`
	Metadata      string    `gorm:"type:text"`
	Status        string    `gorm:"size:20;index:idx_outbox_pending,priority:1"`
	FailureReason string    `gorm:"type:text"`
	CreatedAt     time.Time
	UpdatedAt     time.Time `gorm:"index:idx_outbox_pending,priority:2"`
}

func (outboxRow) TableName() string { return outboxTable }

// GormRepository stores the outbox through gorm (MySQL in the default wiring).
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// AutoMigrate creates or updates the outbox table.
func (g *GormRepository) AutoMigrate() error {
	return g.db.AutoMigrate(&outboxRow{})
}

func (g *GormRepository) Add(ctx context.Context, msg *OutboxMessage) (string, error) {
	err := withSpan(ctx, "gorm", "Add", func(ctx context.Context) (int, error) {
		prepareAdd(msg, time.Now().UTC())
		row, err := toOutboxRow(msg)
		if err != nil {
			return 0, err
		}
		res := g.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"type", "payload", "metadata", "status", "failure_reason", "updated_at"}),
		}).Create(row)
		if res.Error != nil {
			return 0, fmt.Errorf("failed to insert outbox message: %w", res.Error)
		}
		return int(res.RowsAffected), nil
	})
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (g *GormRepository) Update(ctx context.Context, msg *OutboxMessage) error {
	return withSpan(ctx, "gorm", "Update", func(ctx context.Context) (int, error) {
		msg.UpdatedAt = time.Now().UTC()
		updates := map[string]any{
			"status":         string(msg.Status),
			"failure_reason": msg.FailureReason,
			"updated_at":     msg.UpdatedAt,
		}
		if msg.Metadata != nil {
			metadata, err := json.Marshal(msg.Metadata)
			if err != nil {
				return 0, fmt.Errorf("failed to encode metadata: %w", err)
			}
			updates["metadata"] = string(metadata)
		}
		res := g.db.WithContext(ctx).Model(&outboxRow{}).Where("id = ?", msg.ID).Updates(updates)
		if res.Error != nil {
			return 0, fmt.Errorf("failed to update outbox message: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			return int(res.RowsAffected), nil
		}
		// MySQL reports only changed rows, so an unchanged rewrite also lands here.
		var n int64
		if err := g.db.WithContext(ctx).Model(&outboxRow{}).Where("id = ?", msg.ID).Count(&n).Error; err != nil {
			return 0, fmt.Errorf("failed to check outbox message: %w", err)
		}
		if n == 0 {
			return 0, ErrNotFound
		}
		return 0, nil
	})
}

func (g *GormRepository) Get(ctx context.Context, id string) (*OutboxMessage, error) {
	var msg *OutboxMessage
	err := withSpan(ctx, "gorm", "Get", func(ctx context.Context) (int, error) {
		var row outboxRow
		err := g.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrNotFound
		}
		if err != nil {
			return 0, err
		}
		msg, err = row.toMessage()
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

func (g *GormRepository) FetchPending(ctx context.Context, olderThan time.Time, limit int) ([]OutboxMessage, error) {
	var messages []OutboxMessage
	err := withSpan(ctx, "gorm", "FetchPending", func(ctx context.Context) (int, error) {
		var rows []outboxRow
		query := g.db.WithContext(ctx).
			Where("status = ? AND updated_at < ?", string(StatusPending), olderThan).
			Order("updated_at ASC")
		if limit > 0 {
			query = query.Limit(limit)
		}
		if err := query.Find(&rows).Error; err != nil {
			return 0, err
		}
		for i := range rows {
			msg, err := rows[i].toMessage()
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

func toOutboxRow(msg *OutboxMessage) (*outboxRow, error) {
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return &outboxRow{
		ID:            msg.ID,
		Type:          msg.Type,
		Payload:       msg.Payload,
		Metadata:      string(metadata),
		Status:        string(msg.Status),
		FailureReason: msg.FailureReason,
		CreatedAt:     msg.CreatedAt,
		UpdatedAt:     msg.UpdatedAt,
	}, nil
}

func (r *outboxRow) toMessage() (*OutboxMessage, error) {
	msg := &OutboxMessage{
		ID:            r.ID,
		Type:          r.Type,
		Payload:       r.Payload,
		Status:        Status(r.Status),
		FailureReason: r.FailureReason,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &msg.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata of %s: %w", r.ID, err)
		}
	}
	return msg, nil
}
