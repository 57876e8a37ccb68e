package schema

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeadLetterType(t *testing.T) {
	assert.Equal(t, "DeadLetter.AddShift", DeadLetterType("AddShift"))
}

func TestDeadLetterID(t *testing.T) {
	failedAt := time.Date(2026, 1, 1, 0, 0, 5, 0, time.UTC)

	id := DeadLetterID("id-1", failedAt)
	assert.Equal(t, id, DeadLetterID("id-1", failedAt.In(time.FixedZone("CET", 3600))))
	assert.NotEqual(t, "id-1", id)
	assert.NotEqual(t, id, DeadLetterID("id-2", failedAt))
	assert.NotEqual(t, id, DeadLetterID("id-1", failedAt.Add(time.Millisecond)))
}

func TestDeadLetterRecord_JSONFieldNames(t *testing.T) {
	rec := DeadLetterRecord{
		OriginalMessageID: "id-1",
		MessageType:       "AddShift",
		Payload:           []byte(`{"hours":12}`),
		Headers:           map[string]string{"WeeklyHours": "40"},
		CreatedAt:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		FailedAt:          time.Date(2026, 1, 1, 0, 0, 5, 0, time.UTC),
		RetryCount:        3,
		ErrorMessage:      "boom",
		ExecutionLog:      []LogEntry{{Text: "retry: attempt 1/3 failed"}},
	}

	raw, err := json.Marshal(rec)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, key := range []string{
		"originalMessageId", "messageType", "payload", "headers", "createdAt",
		"failedAt", "retryCount", "errorMessage", "executionLog",
	} {
		assert.Contains(t, fields, key)
	}
}
