// Package reconciler recovers outbox records a crashed worker left pending and
// replays archived dead letters.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-msgpipe/pkg/config"
	"github.com/zoff-tech/go-msgpipe/pkg/logger"
	"github.com/zoff-tech/go-msgpipe/pkg/message"
	"github.com/zoff-tech/go-msgpipe/pkg/store"
	"github.com/zoff-tech/go-msgpipe/schema"
)

var (
	ErrDecoderExists = errors.New("decoder already registered")
	ErrNoDecoder     = errors.New("no decoder registered")
	ErrNotDeadLetter = errors.New("record is not a dead letter")
)

// HeaderReplayOf carries the dead-letter record id on a replayed message, so the
// original outbox row points back at the archive entry it was restored from.
const HeaderReplayOf = "replayOf"

// Executor runs a message through its pipeline.
type Executor interface {
	Execute(ctx context.Context, messageType string, msg *message.Context) error
}

// Reconciler periodically re-dispatches stale pending outbox records.
type Reconciler struct {
	repo     store.OutboxRepository
	exec     Executor
	settings config.ReconcilerSettings
	decoders decoders
	log      *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// New creates a new instance of Reconciler.
func New(repo store.OutboxRepository, exec Executor, settings config.ReconcilerSettings, log *zap.Logger) *Reconciler {
	return &Reconciler{
		repo:     repo,
		exec:     exec,
		settings: settings,
		decoders: decoders{types: make(map[string]Decoder)},
		log:      logger.OrNop(log).With(zap.String("component", "reconciler")),
		tracer:   otel.Tracer("go-msgpipe/reconciler"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RegisterDecoder enables recovery of messageType records.
func (r *Reconciler) RegisterDecoder(messageType string, dec Decoder) error {
	return r.decoders.add(messageType, dec)
}

// Run sweeps every poll interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	interval := r.settings.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.log.Info("reconciler started", zap.Duration("poll_interval", interval), zap.Duration("stale_after", r.settings.StaleAfter))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reconciler stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep re-dispatches one batch of pending records last touched before the stale
// threshold and returns how many were re-dispatched. Records that cannot be decoded
// are marked failed so they are not picked up again.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.settings.StaleAfter)
	rows, err := r.repo.FetchPending(ctx, cutoff, r.settings.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch pending: %w", err)
	}

	dispatched := 0
	for _, row := range rows {
		if ctx.Err() != nil {
			return dispatched, ctx.Err()
		}
		if r.redispatch(ctx, row) {
			dispatched++
		}
	}
	if len(rows) > 0 {
		r.log.Info("sweep finished", zap.Int("pending", len(rows)), zap.Int("dispatched", dispatched))
	}
	return dispatched, nil
}

func (r *Reconciler) redispatch(ctx context.Context, row store.OutboxMessage) bool {
	ctx, span := r.tracer.Start(ctx, "Recover "+row.Type, trace.WithAttributes(
		attribute.String("message.id", row.ID),
		attribute.String("message.type", row.Type),
		attribute.String("message.updated_at", row.UpdatedAt.String()),
	))
	defer span.End()

	fields := []zap.Field{zap.String("message.id", row.ID), zap.String("message.type", row.Type)}

	msg, err := r.restore(row.ID, row.Type, row.Payload, row.CreatedAt, headersFrom(row.Metadata))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.log.Error("cannot recover pending record", append(fields, zap.Error(err))...)

		row.Status = store.StatusFailed
		row.FailureReason = fmt.Sprintf("reconciler: %v", err)
		if uErr := r.repo.Update(ctx, &row); uErr != nil {
			r.log.Error("failed to mark record failed", append(fields, zap.Error(uErr))...)
		}
		return false
	}

	msg.Logf("reconciler: re-dispatching record pending since %s", row.UpdatedAt.Format(time.RFC3339))
	if err := r.exec.Execute(ctx, row.Type, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.log.Error("re-dispatch failed", append(fields, zap.Error(err))...)
		return true
	}
	r.log.Info("re-dispatched pending record", append(fields, zap.Bool("processed", msg.IsProcessed()))...)
	return true
}

// Replay runs the message archived in a dead-letter record through its pipeline
// again under the original id. The dead-letter record itself is left as written.
func (r *Reconciler) Replay(ctx context.Context, row store.OutboxMessage) (*message.Context, error) {
	if !strings.HasPrefix(row.Type, schema.DeadLetterTypePrefix) {
		return nil, fmt.Errorf("%w: %s", ErrNotDeadLetter, row.Type)
	}

	var record schema.DeadLetterRecord
	if err := json.Unmarshal(row.Payload, &record); err != nil {
		return nil, fmt.Errorf("decode dead letter %s: %w", row.ID, err)
	}

	msg, err := r.restore(record.OriginalMessageID, record.MessageType, record.Payload, record.CreatedAt, record.Headers)
	if err != nil {
		return nil, err
	}
	msg.SetHeader(HeaderReplayOf, row.ID)
	msg.Logf("reconciler: replaying dead letter %s", row.ID)

	if err := r.exec.Execute(ctx, record.MessageType, msg); err != nil {
		return msg, fmt.Errorf("replay %s: %w", record.OriginalMessageID, err)
	}
	r.log.Info("replayed dead letter",
		zap.String("dead_letter.id", row.ID),
		zap.String("message.id", msg.ID()),
		zap.String("message.type", msg.Type()),
		zap.Bool("processed", msg.IsProcessed()))
	return msg, nil
}

// ReplayByID loads the dead-letter record id and replays it.
func (r *Reconciler) ReplayByID(ctx context.Context, id string) (*message.Context, error) {
	row, err := r.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.Replay(ctx, *row)
}

// Decode rebuilds a messageType payload with its registered decoder.
func (r *Reconciler) Decode(messageType string, raw []byte) (any, error) {
	dec, ok := r.decoders.get(messageType)
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrNoDecoder, messageType)
	}
	return dec(raw)
}

func (r *Reconciler) restore(id, messageType string, raw []byte, createdAt time.Time, headers map[string]string) (*message.Context, error) {
	payload, err := r.Decode(messageType, raw)
	if err != nil {
		return nil, err
	}
	return message.Restore(id, messageType, payload, createdAt, message.WithHeaders(headers)), nil
}

// headersFrom strips the keys the pipeline adds to outbox metadata.
func headersFrom(metadata map[string]string) map[string]string {
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		switch k {
		case store.MetaMessageID, store.MetaCreatedAt, store.MetaRetryCount:
			continue
		}
		out[k] = v
	}
	return out
}
