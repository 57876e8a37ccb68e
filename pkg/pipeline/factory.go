package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-msgpipe/pkg/message"
	"github.com/zoff-tech/go-msgpipe/pkg/store"
	"github.com/zoff-tech/go-msgpipe/pkg/validation"
)

const tracerName = "go-msgpipe/pipeline"

// Configure adds the stages of a named pipeline to b. The message handler is
// appended after them.
type Configure func(b *Builder) *Builder

// Default composes validation, dead-letter, retry and outbox in that order, so
// the dead-letter stage observes the outcome of the whole retry loop.
func Default(b *Builder) *Builder {
	UseStep[*ValidationStep](b)
	UseStep[*DeadLetterStep](b)
	UseStep[*RetryStep](b)
	return UseStep[*OutboxStep](b)
}

// NewStepRegistry provides the four standard steps. The dead-letter threshold
// follows the retry policy.
func NewStepRegistry(repo store.OutboxRepository, validators *validation.Registry, policy RetryPolicy, opts ...Option) *Registry {
	r := NewRegistry()
	Provide(r, NewValidationStep(validators, opts...))
	Provide(r, NewRetryStep(policy, opts...))
	Provide(r, NewDeadLetterStep(repo, policy.attempts(), opts...))
	Provide(r, NewOutboxStep(repo, opts...))
	return r
}

// Factory compiles and caches one pipeline per message type.
type Factory struct {
	mu       sync.Mutex
	configs  map[string]Configure
	cache    map[string]Pipeline
	steps    *Registry
	handlers *HandlerRegistry
	opts     options
	tracer   trace.Tracer
}

func NewFactory(steps *Registry, handlers *HandlerRegistry, opts ...Option) *Factory {
	if handlers == nil {
		handlers = NewHandlerRegistry()
	}
	return &Factory{
		configs:  make(map[string]Configure),
		cache:    make(map[string]Pipeline),
		steps:    steps,
		handlers: handlers,
		opts:     newOptions(opts),
		tracer:   otel.Tracer(tracerName),
	}
}

// Handlers exposes the registry used to terminate pipelines.
func (f *Factory) Handlers() *HandlerRegistry { return f.handlers }

// Register installs a named pipeline for messageType.
func (f *Factory) Register(messageType string, configure Configure) error {
	if configure == nil {
		return fmt.Errorf("pipeline configuration for %s is nil", messageType)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.configs[messageType]; exists {
		return fmt.Errorf("%w: %s", ErrPipelineExists, messageType)
	}
	f.configs[messageType] = configure
	delete(f.cache, messageType)
	return nil
}

// CreatePipeline returns the compiled pipeline for messageType, building it on
// first use from the named configuration or Default.
func (f *Factory) CreatePipeline(messageType string) (Pipeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.cache[messageType]; ok {
		return p, nil
	}

	handler, ok := f.handlers.Lookup(messageType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotRegistered, messageType)
	}

	b := NewBuilder(f.steps)
	if configure, ok := f.configs[messageType]; ok {
		f.opts.logger.Info("using named pipeline", zap.String("message.type", messageType))
		b = configure(b)
	} else {
		f.opts.logger.Info("using default pipeline", zap.String("message.type", messageType))
		b = Default(b)
	}
	b.Use(terminal(handler))

	p, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("build pipeline for %s: %w", messageType, err)
	}
	f.cache[messageType] = p
	return p, nil
}

// Execute runs msg through the pipeline for messageType. Failures absorbed by the
// pipeline (rejections, dead-letters) are visible on msg, not in the returned error.
func (f *Factory) Execute(ctx context.Context, messageType string, msg *message.Context) error {
	if msg == nil {
		return ErrNilMessage
	}

	ctx, span := f.tracer.Start(ctx, "Execute "+messageType, trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("message.id", msg.ID()),
		attribute.String("message.type", messageType),
	)

	p, err := f.CreatePipeline(messageType)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	err = p(ctx, msg)
	span.SetAttributes(
		attribute.Int("message.retry_count", msg.RetryCount()),
		attribute.Bool("message.processed", msg.IsProcessed()),
	)
	fields := messageFields(msg)

	if err != nil {
		if ctx.Err() != nil {
			msg.Logf("pipeline: canceled: %v", err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		f.opts.logger.Error("pipeline failed", append(fields, zap.Error(err))...)
		return err
	}

	if reason, failed := msg.ErrorMessage(); failed {
		span.SetStatus(codes.Error, reason)
		f.opts.logger.Info("pipeline finished without processing", append(fields, zap.String("reason", reason))...)
		return nil
	}
	f.opts.logger.Debug("pipeline finished", append(fields, zap.Bool("processed", msg.IsProcessed()))...)
	return nil
}
