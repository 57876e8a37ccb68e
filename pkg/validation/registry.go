// Package validation resolves payload validators from an explicit registry built at startup.
package validation

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrValidatorExists = errors.New("validator already registered")
	ErrPayloadType     = errors.New("payload type does not match validator")
)

// Validator checks a payload. A non-nil error is a validation failure whose message
// is reported to the caller. Validators must not mutate the payload.
type Validator interface {
	Validate(ctx context.Context, payload any) error
}

// Func validates a payload of a concrete type.
type Func[T any] func(ctx context.Context, payload T) error

type typed[T any] struct {
	fn Func[T]
}

func (t typed[T]) Validate(ctx context.Context, payload any) error {
	p, ok := payload.(T)
	if !ok {
		return fmt.Errorf("%w: %T", ErrPayloadType, payload)
	}
	return t.fn(ctx, p)
}

// Registry maps payload type keys to validators.
type Registry struct {
	mu         sync.RWMutex
	validators map[string]Validator
}

func NewRegistry() *Registry {
	return &Registry{validators: make(map[string]Validator)}
}

// KeyOf returns the registry key of a payload value, e.g. "*residency.AddShift".
func KeyOf(payload any) string {
	return fmt.Sprintf("%T", payload)
}

// Register adds fn as the validator for payloads of type T. T must be a concrete type.
func Register[T any](r *Registry, fn Func[T]) error {
	var zero T
	return r.Add(KeyOf(zero), typed[T]{fn: fn})
}

// Add registers v under key.
func (r *Registry) Add(key string, v Validator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.validators[key]; exists {
		return fmt.Errorf("%w: %s", ErrValidatorExists, key)
	}
	r.validators[key] = v
	return nil
}

// Lookup resolves the validator for payload's concrete type.
func (r *Registry) Lookup(payload any) (Validator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.validators[KeyOf(payload)]
	return v, ok
}
