package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-msgpipe/pkg/message"
)

// RetryPolicy bounds the attempts of a RetryStep. The wait before attempt n+1 is
// BaseDelay * 2^n.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * p.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = time.Duration(math.MaxInt64)
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// RetryStep re-invokes the rest of the chain until it succeeds or the policy is
// exhausted. Every attempt increments the message retry count.
type RetryStep struct {
	policy RetryPolicy
	opts   options
}

func NewRetryStep(policy RetryPolicy, opts ...Option) *RetryStep {
	return &RetryStep{policy: policy, opts: newOptions(opts)}
}

func (s *RetryStep) Policy() RetryPolicy { return s.policy }

func (s *RetryStep) Execute(ctx context.Context, msg *message.Context, next Next) error {
	maxAttempts := s.policy.attempts()
	wait := s.policy.newBackOff()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		msg.IncrementRetry()

		err := next(ctx)
		if err == nil {
			if attempt > 1 {
				msg.Logf("retry: attempt %d/%d succeeded", attempt, maxAttempts)
			}
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			msg.Logf("retry: canceled during attempt %d/%d: %v", attempt, maxAttempts, err)
			return err
		}
		s.opts.observer.RetryAttempt(msg.Type())

		if attempt == maxAttempts {
			msg.Logf("retry: attempt %d/%d failed: %v", attempt, maxAttempts, err)
			break
		}

		delay := wait.NextBackOff()
		msg.Logf("retry: attempt %d/%d failed: %v; next attempt in %s", attempt, maxAttempts, err, delay)
		s.opts.logger.Warn("attempt failed, retrying",
			append(messageFields(msg), zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))...)

		if err := s.opts.sleep(ctx, delay); err != nil {
			msg.Logf("retry: canceled while waiting: %v", err)
			return err
		}
	}

	summary := fmt.Sprintf("failed after %d attempts: %v", maxAttempts, lastErr)
	msg.SetError(summary)
	msg.Logf("retry: %s", summary)
	s.opts.logger.Error("retries exhausted", append(messageFields(msg), zap.Error(lastErr))...)

	return fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr)
}
