// Package pipeline runs messages through an ordered chain of middleware: validation,
// retry, dead-lettering and outbox persistence around a business handler.
//
// Stages registered earlier wrap stages registered later. Each stage receives the
// message and a continuation; it may act before or after calling the continuation,
// call it several times, or not at all.
package pipeline

import (
	"context"

	"github.com/zoff-tech/go-msgpipe/pkg/message"
)

// Next invokes the remainder of the chain.
type Next func(ctx context.Context) error

// Middleware is one stage of a pipeline.
type Middleware func(ctx context.Context, msg *message.Context, next Next) error

// Step is a stage with its own state and dependencies.
type Step interface {
	Execute(ctx context.Context, msg *message.Context, next Next) error
}

// Pipeline is a compiled chain. It returns an error only when no stage absorbed the failure.
type Pipeline func(ctx context.Context, msg *message.Context) error

// Predicate decides whether a conditional stage runs for a message.
type Predicate func(msg *message.Context) bool
