// Package schema holds the durable record shapes other tools read back from the outbox.
package schema

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DeadLetterTypePrefix prefixes the outbox type of every dead-letter record.
const DeadLetterTypePrefix = "DeadLetter."

var deadLetterNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("msgpipe.dead-letter"))

// LogEntry is one timestamped execution-log line.
type LogEntry struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

// DeadLetterRecord is the audit artifact written when a message exhausts its retries.
// Field names are part of the stored format; do not rename them.
type DeadLetterRecord struct {
	OriginalMessageID string            `json:"originalMessageId"`
	MessageType       string            `json:"messageType"`
	Payload           json.RawMessage   `json:"payload"`
	Headers           map[string]string `json:"headers"`
	CreatedAt         time.Time         `json:"createdAt"`
	FailedAt          time.Time         `json:"failedAt"`
	RetryCount        int               `json:"retryCount"`
	ErrorMessage      string            `json:"errorMessage"`
	ExecutionLog      []LogEntry        `json:"executionLog"`
}

// DeadLetterType returns the outbox type used to archive a failed messageType.
func DeadLetterType(messageType string) string {
	return DeadLetterTypePrefix + messageType
}

// DeadLetterID derives the outbox id of the dead-letter record written for
// originalID when it failed at failedAt. Rewriting the same failure yields the
// same id; a later failure of the same message gets its own entry.
func DeadLetterID(originalID string, failedAt time.Time) string {
	name := originalID + "@" + failedAt.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(deadLetterNamespace, []byte(name)).String()
}
