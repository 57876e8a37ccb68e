package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zoff-tech/go-msgpipe/pkg/logger"
	"github.com/zoff-tech/go-msgpipe/pkg/message"
	"github.com/zoff-tech/go-msgpipe/pkg/metrics"
	"github.com/zoff-tech/go-msgpipe/schema"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// SleepContext waits on a timer so other messages keep running; it returns early
// with the context error on cancellation.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}

// DeadLetterPublisher forwards archived dead-letter records to an external consumer.
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, record schema.DeadLetterRecord) error
}

type Option func(*options)

type options struct {
	logger    *zap.Logger
	observer  metrics.Observer
	sleep     SleepFunc
	publisher DeadLetterPublisher
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = logger.OrNop(l) }
}

func WithObserver(obs metrics.Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithSleep replaces the backoff wait of the retry step.
func WithSleep(fn SleepFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

// WithPublisher forwards dead-letter records after they are persisted.
func WithPublisher(p DeadLetterPublisher) Option {
	return func(o *options) { o.publisher = p }
}

func newOptions(opts []Option) options {
	o := options{
		logger:   zap.NewNop(),
		observer: metrics.NewNopObserver(),
		sleep:    SleepContext,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func messageFields(msg *message.Context) []zap.Field {
	return []zap.Field{
		zap.String("message.id", msg.ID()),
		zap.String("message.type", msg.Type()),
	}
}
