package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zoff-tech/go-msgpipe/pkg/message"
	"github.com/zoff-tech/go-msgpipe/pkg/store"
	"github.com/zoff-tech/go-msgpipe/pkg/validation"
	"github.com/zoff-tech/go-msgpipe/schema"
)

type fixture struct {
	repo     *store.MemoryRepository
	sleeper  *recordingSleep
	handlers *HandlerRegistry
	factory  *Factory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	validators := validation.NewRegistry()
	require.NoError(t, validation.RegisterStruct[addShift](validators, nil))

	f := &fixture{
		repo:     store.NewMemoryRepository(),
		sleeper:  &recordingSleep{},
		handlers: NewHandlerRegistry(),
	}
	steps := NewStepRegistry(f.repo, validators, RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond}, WithSleep(f.sleeper.sleep))
	f.factory = NewFactory(steps, f.handlers)
	return f
}

func (f *fixture) handle(t *testing.T, messageType string, fn func(ctx context.Context, payload addShift) error) {
	t.Helper()
	require.NoError(t, f.handlers.Register(messageType, HandleFunc(fn)))
}

func TestExecute_InvalidPayloadShortCircuits(t *testing.T) {
	f := newFixture(t)
	called := false
	f.handle(t, "AddShift", func(ctx context.Context, p addShift) error {
		called = true
		return nil
	})

	msg := message.New("AddShift", addShift{Hours: 8})
	require.NoError(t, f.factory.Execute(context.Background(), "AddShift", msg))

	assert.False(t, called)
	assert.False(t, msg.IsProcessed())
	assert.Zero(t, msg.RetryCount())
	assert.Empty(t, logContaining(msg, "retry:"))
	assert.Empty(t, f.repo.All())

	reason, ok := msg.ErrorMessage()
	require.True(t, ok)
	assert.Contains(t, reason, "validation failed")
}

func TestExecute_TransientFailureRecovers(t *testing.T) {
	f := newFixture(t)
	attempts := 0
	f.handle(t, "AddShift", func(ctx context.Context, p addShift) error {
		attempts++
		if attempts < 3 {
			return errors.New("calendar locked")
		}
		return nil
	})

	msg := message.New("AddShift", addShift{ResidentID: "r-1", Hours: 8})
	require.NoError(t, f.factory.Execute(context.Background(), "AddShift", msg))

	assert.Equal(t, 3, msg.RetryCount())
	assert.True(t, msg.IsProcessed())
	assert.Equal(t, []time.Duration{20 * time.Millisecond, 40 * time.Millisecond}, f.sleeper.delays)

	rows := f.repo.All()
	require.Len(t, rows, 1)
	assert.Equal(t, msg.ID(), rows[0].ID)
	assert.Equal(t, store.StatusProcessed, rows[0].Status)
	assert.Equal(t, "3", rows[0].Metadata[store.MetaRetryCount])
}

func TestExecute_ExhaustedRetriesAreDeadLettered(t *testing.T) {
	f := newFixture(t)
	f.handle(t, "AddShift", func(ctx context.Context, p addShift) error {
		return errors.New("roster service unavailable")
	})

	msg := message.New("AddShift", addShift{ResidentID: "r-1", Hours: 8})
	require.NoError(t, f.factory.Execute(context.Background(), "AddShift", msg))

	assert.False(t, msg.IsProcessed())
	assert.Equal(t, 3, msg.RetryCount())
	assert.Len(t, logContaining(msg, "retry: attempt", "failed"), 3)

	reason, ok := msg.ErrorMessage()
	require.True(t, ok)
	assert.Equal(t, "failed after 3 attempts: roster service unavailable", reason)

	original, err := f.repo.Get(context.Background(), msg.ID())
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, original.Status)

	deadLetters := f.repo.ByType(schema.DeadLetterType("AddShift"))
	require.Len(t, deadLetters, 1)

	var record schema.DeadLetterRecord
	require.NoError(t, json.Unmarshal(deadLetters[0].Payload, &record))
	assert.Equal(t, msg.ID(), record.OriginalMessageID)
	assert.Equal(t, 3, record.RetryCount)
	assert.Equal(t, reason, record.ErrorMessage)
}

func TestExecute_NamedPipelineWithHoursCap(t *testing.T) {
	f := newFixture(t)
	called := false
	f.handle(t, "AddMedicalShift", func(ctx context.Context, p addShift) error {
		called = true
		return nil
	})
	require.NoError(t, f.factory.Register("AddMedicalShift", func(b *Builder) *Builder {
		UseStep[*ValidationStep](b)
		UseStep[*DeadLetterStep](b)
		UseStep[*RetryStep](b)
		b.Use(WeeklyHoursLimit(48))
		return UseStep[*OutboxStep](b)
	}))

	msg := message.New("AddMedicalShift", addShift{ResidentID: "r-1", Hours: 12},
		message.WithHeaders(map[string]string{WeeklyHoursHeader: "52"}))
	require.NoError(t, f.factory.Execute(context.Background(), "AddMedicalShift", msg))

	reason, ok := msg.ErrorMessage()
	require.True(t, ok)
	assert.Equal(t, "WeeklyHours limit exceeded: 52 > 48", reason)
	assert.False(t, called)
	assert.False(t, msg.IsProcessed())
	assert.Empty(t, f.repo.All())
}

func TestExecute_LogOrdering(t *testing.T) {
	f := newFixture(t)
	f.handle(t, "AddShift", func(ctx context.Context, p addShift) error { return nil })

	msg := message.New("AddShift", addShift{ResidentID: "r-1", Hours: 8})
	require.NoError(t, f.factory.Execute(context.Background(), "AddShift", msg))

	validated := logIndex(msg, "validation: passed")
	pending := logIndex(msg, "outbox: persisted pending")
	invoked := logIndex(msg, "handler: invoking")
	processed := logIndex(msg, "outbox: marked")

	require.NotEqual(t, -1, validated)
	assert.Less(t, validated, pending)
	assert.Less(t, pending, invoked)
	assert.Less(t, invoked, processed)
}

func TestExecute_ReplaySameMessageKeepsOneRecord(t *testing.T) {
	f := newFixture(t)
	f.handle(t, "AddShift", func(ctx context.Context, p addShift) error { return nil })

	msg := message.New("AddShift", addShift{ResidentID: "r-1", Hours: 8})
	require.NoError(t, f.factory.Execute(context.Background(), "AddShift", msg))

	replay := message.Restore(msg.ID(), msg.Type(), msg.Payload(), msg.CreatedAt())
	require.NoError(t, f.factory.Execute(context.Background(), "AddShift", replay))

	rows := f.repo.All()
	require.Len(t, rows, 1)
	assert.Equal(t, store.StatusProcessed, rows[0].Status)
	assert.Equal(t, msg.CreatedAt(), rows[0].CreatedAt)
}

func TestExecute_HandlerPanicIsRetriedThenDeadLettered(t *testing.T) {
	f := newFixture(t)
	f.handle(t, "AddShift", func(ctx context.Context, p addShift) error {
		panic("nil roster")
	})

	msg := message.New("AddShift", addShift{ResidentID: "r-1", Hours: 8})
	require.NoError(t, f.factory.Execute(context.Background(), "AddShift", msg))

	assert.Equal(t, 3, msg.RetryCount())
	assert.Len(t, f.repo.ByType(schema.DeadLetterType("AddShift")), 1)
	reason, _ := msg.ErrorMessage()
	assert.Contains(t, reason, "nil roster")
}

func TestExecute_CancellationIsNotDeadLettered(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.handle(t, "AddShift", func(ctx context.Context, p addShift) error {
		cancel()
		return ctx.Err()
	})

	msg := message.New("AddShift", addShift{ResidentID: "r-1", Hours: 8})
	err := f.factory.Execute(ctx, "AddShift", msg)

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, msg.IsProcessed())
	assert.Empty(t, f.repo.ByType(schema.DeadLetterType("AddShift")))
	_, failed := msg.ErrorMessage()
	assert.False(t, failed)
}

func TestExecute_UnregisteredHandler(t *testing.T) {
	f := newFixture(t)

	err := f.factory.Execute(context.Background(), "Unknown", message.New("Unknown", nil))
	assert.ErrorIs(t, err, ErrHandlerNotRegistered)
}

func TestExecute_NilMessage(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.factory.Execute(context.Background(), "AddShift", nil), ErrNilMessage)
}

func TestExecute_ConcurrentMessages(t *testing.T) {
	f := newFixture(t)
	f.handle(t, "AddShift", func(ctx context.Context, p addShift) error { return nil })

	var wg sync.WaitGroup
	msgs := make([]*message.Context, 20)
	for i := range msgs {
		msgs[i] = message.New("AddShift", addShift{ResidentID: "r-1", Hours: 8})
		wg.Add(1)
		go func(m *message.Context) {
			defer wg.Done()
			assert.NoError(t, f.factory.Execute(context.Background(), "AddShift", m))
		}(msgs[i])
	}
	wg.Wait()

	for _, m := range msgs {
		assert.True(t, m.IsProcessed())
		assert.Equal(t, 1, m.RetryCount())
	}
	assert.Len(t, f.repo.All(), len(msgs))
}

func TestCreatePipeline_CachesPerType(t *testing.T) {
	f := newFixture(t)
	f.handle(t, "AddShift", func(ctx context.Context, p addShift) error { return nil })

	builds := 0
	require.NoError(t, f.factory.Register("AddShift", func(b *Builder) *Builder {
		builds++
		return Default(b)
	}))

	_, err := f.factory.CreatePipeline("AddShift")
	require.NoError(t, err)
	_, err = f.factory.CreatePipeline("AddShift")
	require.NoError(t, err)
	assert.Equal(t, 1, builds)
}

func TestCreatePipeline_MissingStep(t *testing.T) {
	handlers := NewHandlerRegistry()
	require.NoError(t, handlers.Register("AddShift", func(ctx context.Context, msg *message.Context) error { return nil }))
	factory := NewFactory(NewRegistry(), handlers)

	_, err := factory.CreatePipeline("AddShift")
	assert.ErrorIs(t, err, ErrStepNotProvided)
}

func TestRegister_Duplicate(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.factory.Register("AddShift", Default))
	assert.ErrorIs(t, f.factory.Register("AddShift", Default), ErrPipelineExists)
	assert.Error(t, f.factory.Register("Other", nil))
}

func TestHandlerRegistry(t *testing.T) {
	r := NewHandlerRegistry()
	h := func(ctx context.Context, msg *message.Context) error { return nil }

	require.NoError(t, r.Register("A", h))
	assert.ErrorIs(t, r.Register("A", h), ErrHandlerExists)
	assert.ErrorIs(t, r.Register("B", nil), ErrHandlerRequired)

	_, ok := r.Lookup("A")
	assert.True(t, ok)
	assert.Equal(t, []string{"A"}, r.Types())
}

func TestHandleFunc_WrongPayload(t *testing.T) {
	h := HandleFunc(func(ctx context.Context, p addShift) error { return nil })
	err := h(context.Background(), message.New("AddShift", "not a shift"))
	assert.ErrorIs(t, err, ErrPayloadType)
}

func TestExecute_RecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	f := newFixture(t)
	f.handle(t, "AddShift", func(ctx context.Context, p addShift) error { return nil })

	msg := message.New("AddShift", addShift{ResidentID: "r-1", Hours: 8})
	require.NoError(t, f.factory.Execute(context.Background(), "AddShift", msg))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "Execute AddShift", spans[0].Name())
}
