package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/zoff-tech/go-msgpipe/pkg/message"
	"github.com/zoff-tech/go-msgpipe/pkg/store"
)

type addShift struct {
	ResidentID string  `json:"residentId" validate:"required"`
	Hours      float64 `json:"hours" validate:"gt=0,lte=24"`
}

// recordingSleep captures backoff waits instead of sleeping.
type recordingSleep struct {
	delays []time.Duration
	err    error
}

func (r *recordingSleep) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return r.err
}

// flakyRepo fails selected writes on top of the in-memory outbox.
type flakyRepo struct {
	*store.MemoryRepository
	addErr    func(msg *store.OutboxMessage) error
	updateErr func(msg *store.OutboxMessage) error
}

func (f *flakyRepo) Add(ctx context.Context, msg *store.OutboxMessage) (string, error) {
	if f.addErr != nil {
		if err := f.addErr(msg); err != nil {
			return "", err
		}
	}
	return f.MemoryRepository.Add(ctx, msg)
}

func (f *flakyRepo) Update(ctx context.Context, msg *store.OutboxMessage) error {
	if f.updateErr != nil {
		if err := f.updateErr(msg); err != nil {
			return err
		}
	}
	return f.MemoryRepository.Update(ctx, msg)
}

func logContaining(msg *message.Context, substrings ...string) []string {
	var out []string
	for _, e := range msg.ExecutionLog() {
		matched := true
		for _, s := range substrings {
			if !strings.Contains(e.Text, s) {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, e.Text)
		}
	}
	return out
}

func logIndex(msg *message.Context, prefix string) int {
	for i, e := range msg.ExecutionLog() {
		if strings.HasPrefix(e.Text, prefix) {
			return i
		}
	}
	return -1
}

func passThrough(ctx context.Context, _ *message.Context, next Next) error { return next(ctx) }
