package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/zoff-tech/go-msgpipe/pkg/message"
	"github.com/zoff-tech/go-msgpipe/pkg/store"
)

const timeLayout = time.RFC3339Nano

// OutboxStep records the message as pending before the rest of the chain runs and
// marks the record processed or failed afterwards. The record is keyed by message
// id, so retries and replays rewrite the same row.
type OutboxStep struct {
	repo store.OutboxRepository
	opts options
}

func NewOutboxStep(repo store.OutboxRepository, opts ...Option) *OutboxStep {
	return &OutboxStep{repo: repo, opts: newOptions(opts)}
}

func (s *OutboxStep) Execute(ctx context.Context, msg *message.Context, next Next) error {
	payload, err := json.Marshal(msg.Payload())
	if err != nil {
		msg.Logf("outbox: failed to encode payload: %v", err)
		return fmt.Errorf("encode payload of %s: %w", msg.ID(), err)
	}

	metadata := msg.HeadersCopy()
	metadata[store.MetaMessageID] = msg.ID()
	metadata[store.MetaCreatedAt] = msg.CreatedAt().Format(timeLayout)

	row := &store.OutboxMessage{
		ID:        msg.ID(),
		Type:      msg.Type(),
		Payload:   payload,
		Metadata:  metadata,
		Status:    store.StatusPending,
		CreatedAt: msg.CreatedAt(),
	}
	if _, err := s.repo.Add(ctx, row); err != nil {
		msg.Logf("outbox: failed to persist pending record: %v", err)
		s.opts.observer.OutboxWriteFailed(msg.Type())
		return fmt.Errorf("persist pending outbox record %s: %w", msg.ID(), err)
	}
	msg.Logf("outbox: persisted pending record %s", msg.ID())

	if err := next(ctx); err != nil {
		row.Status = store.StatusFailed
		row.FailureReason = err.Error()
		row.Metadata[store.MetaRetryCount] = strconv.Itoa(msg.RetryCount())

		// the caller's context may already be canceled; the failure still needs recording
		if uErr := s.repo.Update(context.WithoutCancel(ctx), row); uErr != nil {
			msg.Logf("outbox: failed to mark %s failed: %v", msg.ID(), uErr)
			s.opts.observer.OutboxWriteFailed(msg.Type())
			s.opts.logger.Error("failed to mark outbox record failed", append(messageFields(msg), zap.Error(uErr))...)
		} else {
			msg.Logf("outbox: marked %s failed: %v", msg.ID(), err)
		}
		return err
	}

	row.Status = store.StatusProcessed
	row.FailureReason = ""
	row.Metadata[store.MetaRetryCount] = strconv.Itoa(msg.RetryCount())
	if err := s.repo.Update(ctx, row); err != nil {
		msg.Logf("outbox: failed to mark %s processed: %v", msg.ID(), err)
		s.opts.observer.OutboxWriteFailed(msg.Type())
		return fmt.Errorf("mark outbox record %s processed: %w", msg.ID(), err)
	}

	msg.MarkProcessed()
	msg.Logf("outbox: marked %s processed", msg.ID())
	s.opts.observer.MessageProcessed(msg.Type())
	return nil
}
