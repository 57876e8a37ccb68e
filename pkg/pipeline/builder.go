package pipeline

import (
	"context"
	"errors"

	"github.com/zoff-tech/go-msgpipe/pkg/message"
)

// Builder accumulates stages in registration order.
type Builder struct {
	stages []Middleware
	steps  *Registry
	errs   []error
}

// NewBuilder returns an empty builder resolving typed steps from steps (may be nil).
func NewBuilder(steps *Registry) *Builder {
	return &Builder{steps: steps}
}

// Use appends an unconditional stage.
func (b *Builder) Use(mw Middleware) *Builder {
	b.stages = append(b.stages, mw)
	return b
}

// UseWhen appends a stage that runs mw only when pred holds; otherwise the
// continuation is called directly.
func (b *Builder) UseWhen(pred Predicate, mw Middleware) *Builder {
	return b.Use(func(ctx context.Context, msg *message.Context, next Next) error {
		if pred(msg) {
			return mw(ctx, msg, next)
		}
		return next(ctx)
	})
}

// UseStep appends the step of type T provided to the builder's registry.
// A missing step is reported by Build.
func UseStep[T Step](b *Builder) *Builder {
	step, err := Resolve[T](b.steps)
	if err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	return b.Use(step.Execute)
}

// Len reports how many stages have been added.
func (b *Builder) Len() int { return len(b.stages) }

// Build compiles the stages into a single Pipeline. The continuation handed to
// stage i always invokes stage i+1, so a stage may call it more than once.
func (b *Builder) Build() (Pipeline, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	stages := make([]Middleware, len(b.stages))
	copy(stages, b.stages)

	return func(ctx context.Context, msg *message.Context) error {
		var dispatch func(index int) Next
		dispatch = func(index int) Next {
			return func(ctx context.Context) error {
				if index >= len(stages) {
					return nil
				}
				return stages[index](ctx, msg, dispatch(index+1))
			}
		}
		return dispatch(0)(ctx)
	}, nil
}
