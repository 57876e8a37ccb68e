package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/zoff-tech/go-msgpipe/pkg/message"
)

// Handler applies the business effect of one message type.
type Handler func(ctx context.Context, msg *message.Context) error

// HandleFunc adapts a handler over a concrete payload type.
func HandleFunc[T any](fn func(ctx context.Context, payload T) error) Handler {
	return func(ctx context.Context, msg *message.Context) error {
		payload, ok := msg.Payload().(T)
		if !ok {
			return fmt.Errorf("%w: %T for %s", ErrPayloadType, msg.Payload(), msg.Type())
		}
		return fn(ctx, payload)
	}
}

// HandlerRegistry maps message types to their handlers.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

func (r *HandlerRegistry) Register(messageType string, h Handler) error {
	if h == nil {
		return ErrHandlerRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[messageType]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerExists, messageType)
	}
	r.handlers[messageType] = h
	return nil
}

func (r *HandlerRegistry) Lookup(messageType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[messageType]
	return h, ok
}

// Types lists the registered message types.
func (r *HandlerRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}

// terminal runs the handler as the last stage. A panic becomes an error so the
// retry and dead-letter stages treat it like any other failure.
func terminal(h Handler) Middleware {
	return func(ctx context.Context, msg *message.Context, next Next) (err error) {
		msg.Logf("handler: invoking %s", msg.Type())
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrHandlerPanicked, r)
				msg.Logf("handler: %v", err)
			}
		}()

		if hErr := h(ctx, msg); hErr != nil {
			msg.Logf("handler: failed: %v", hErr)
			return hErr
		}
		msg.Logf("handler: completed")
		return next(ctx)
	}
}
