package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/zoff-tech/go-msgpipe/pkg/message"
	"github.com/zoff-tech/go-msgpipe/pkg/validation"
)

// ValidationStep rejects payloads that fail their registered validator. A rejected
// message is not an error: the chain stops and the reason is recorded on the message.
type ValidationStep struct {
	validators *validation.Registry
	opts       options
}

func NewValidationStep(validators *validation.Registry, opts ...Option) *ValidationStep {
	return &ValidationStep{validators: validators, opts: newOptions(opts)}
}

func (s *ValidationStep) Execute(ctx context.Context, msg *message.Context, next Next) error {
	if s.validators == nil {
		msg.Logf("validation: no validators configured, skipping")
		return next(ctx)
	}
	v, ok := s.validators.Lookup(msg.Payload())
	if !ok {
		msg.Logf("validation: no validator for %s, skipping", validation.KeyOf(msg.Payload()))
		return next(ctx)
	}

	if err := s.run(ctx, v, msg.Payload()); err != nil {
		reason := fmt.Sprintf("validation failed: %v", err)
		msg.SetError(reason)
		msg.Logf("%s", reason)
		s.opts.observer.ValidationFailed(msg.Type())
		s.opts.logger.Info("message rejected by validation", append(messageFields(msg), zap.Error(err))...)
		return nil
	}

	msg.Logf("validation: passed")
	return next(ctx)
}

// run converts a validator panic into an ordinary validation failure.
func (s *ValidationStep) run(ctx context.Context, v validation.Validator, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("validator panicked: %v", r)
		}
	}()
	return v.Validate(ctx, payload)
}
