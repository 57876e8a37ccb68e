package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/zoff-tech/go-msgpipe/pkg/message"
	"github.com/zoff-tech/go-msgpipe/pkg/store"
	"github.com/zoff-tech/go-msgpipe/schema"
)

// DeadLetterStep archives messages whose failure survived every retry. Archived
// failures are absorbed; anything else is passed back to the caller.
type DeadLetterStep struct {
	repo       store.OutboxRepository
	maxRetries int
	opts       options
}

func NewDeadLetterStep(repo store.OutboxRepository, maxRetries int, opts ...Option) *DeadLetterStep {
	return &DeadLetterStep{repo: repo, maxRetries: maxRetries, opts: newOptions(opts)}
}

func (s *DeadLetterStep) Execute(ctx context.Context, msg *message.Context, next Next) error {
	err := next(ctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		msg.Logf("dead-letter: canceled, not archiving: %v", err)
		return err
	}
	if msg.RetryCount() < s.maxRetries {
		msg.Logf("dead-letter: failure after %d/%d attempts is not terminal: %v", msg.RetryCount(), s.maxRetries, err)
		return err
	}

	msg.SetError(err.Error())
	msg.Logf("dead-letter: archiving after %d attempts", msg.RetryCount())

	record := s.record(msg)
	row, mErr := s.row(msg, record)
	if mErr != nil {
		msg.Logf("dead-letter: failed to encode record: %v", mErr)
		return fmt.Errorf("encode dead letter for %s: %w", msg.ID(), mErr)
	}

	id, aErr := s.repo.Add(ctx, row)
	if aErr != nil {
		msg.Logf("dead-letter: failed to persist record: %v", aErr)
		s.opts.observer.OutboxWriteFailed(msg.Type())
		s.opts.logger.Error("failed to persist dead letter", append(messageFields(msg), zap.Error(aErr))...)
		return fmt.Errorf("persist dead letter for %s: %w", msg.ID(), aErr)
	}

	msg.Logf("dead-letter: persisted as %s", id)
	s.opts.observer.DeadLettered(msg.Type())
	s.opts.logger.Warn("message dead-lettered",
		append(messageFields(msg), zap.String("dead_letter.id", id), zap.Error(err))...)

	if s.opts.publisher != nil {
		if pErr := s.opts.publisher.PublishDeadLetter(ctx, record); pErr != nil {
			msg.Logf("dead-letter: publish failed: %v", pErr)
			s.opts.observer.DeadLetterPublishFailed(msg.Type())
			s.opts.logger.Error("failed to publish dead letter", append(messageFields(msg), zap.Error(pErr))...)
		}
	}
	return nil
}

func (s *DeadLetterStep) record(msg *message.Context) schema.DeadLetterRecord {
	errMsg, _ := msg.ErrorMessage()

	var payload json.RawMessage
	if raw, err := json.Marshal(msg.Payload()); err == nil {
		payload = raw
	}

	entries := msg.ExecutionLog()
	log := make([]schema.LogEntry, len(entries))
	for i, e := range entries {
		log[i] = schema.LogEntry{At: e.At, Text: e.Text}
	}

	return schema.DeadLetterRecord{
		OriginalMessageID: msg.ID(),
		MessageType:       msg.Type(),
		Payload:           payload,
		Headers:           msg.HeadersCopy(),
		CreatedAt:         msg.CreatedAt(),
		FailedAt:          msg.Now(),
		RetryCount:        msg.RetryCount(),
		ErrorMessage:      errMsg,
		ExecutionLog:      log,
	}
}

func (s *DeadLetterStep) row(msg *message.Context, record schema.DeadLetterRecord) (*store.OutboxMessage, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	headers, err := json.Marshal(record.Headers)
	if err != nil {
		return nil, err
	}
	log, err := json.Marshal(record.ExecutionLog)
	if err != nil {
		return nil, err
	}

	return &store.OutboxMessage{
		ID:            schema.DeadLetterID(record.OriginalMessageID, record.FailedAt),
		Type:          schema.DeadLetterType(msg.Type()),
		Payload:       body,
		Status:        store.StatusFailed,
		FailureReason: record.ErrorMessage,
		CreatedAt:     record.FailedAt,
		Metadata: map[string]string{
			store.MetaOriginalID: msg.ID(),
			store.MetaCreatedAt:  record.CreatedAt.Format(timeLayout),
			store.MetaRetryCount: strconv.Itoa(record.RetryCount),
			store.MetaHeaders:    string(headers),
			store.MetaLog:        string(log),
		},
	}, nil
}
