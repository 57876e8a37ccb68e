package store

import (
	"maps"
	"time"
)

// Status represents the processing state of an outbox message.
type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
)

// Metadata keys written by the pipeline.
const (
	MetaMessageID  = "messageId"
	MetaCreatedAt  = "createdAt"
	MetaRetryCount = "retryCount"
	MetaOriginalID = "originalMessageId"
	MetaHeaders    = "headers"
	MetaLog        = "executionLog"
)

// OutboxMessage represents a message stored in the outbox table.
type OutboxMessage struct {
	ID            string            `json:"id" bson:"id"`
	Type          string            `json:"type" bson:"type"`
	Payload       []byte            `json:"payload" bson:"payload"`
	Metadata      map[string]string `json:"metadata" bson:"metadata"`
	Status        Status            `json:"status" bson:"status"`
	FailureReason string            `json:"failure_reason,omitempty" bson:"failure_reason"`
	CreatedAt     time.Time         `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at" bson:"updated_at"`
}

// Processed reports whether the message reached the processed state.
func (m *OutboxMessage) Processed() bool { return m.Status == StatusProcessed }

func (m *OutboxMessage) clone() OutboxMessage {
	out := *m
	if m.Payload != nil {
		out.Payload = append([]byte(nil), m.Payload...)
	}
	if m.Metadata != nil {
		out.Metadata = maps.Clone(m.Metadata)
	}
	return out
}
