package pipeline

import (
	"fmt"
	"reflect"
	"sync"
)

// Registry holds step instances keyed by the type they were provided as.
type Registry struct {
	mu    sync.RWMutex
	steps map[string]Step
}

func NewRegistry() *Registry {
	return &Registry{steps: make(map[string]Step)}
}

func stepKey[T Step]() string {
	return reflect.TypeFor[T]().String()
}

// Provide makes step resolvable as T, replacing any earlier instance.
func Provide[T Step](r *Registry, step T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps[stepKey[T]()] = step
}

// Resolve returns the step provided for T.
func Resolve[T Step](r *Registry) (T, error) {
	var zero T
	if r == nil {
		return zero, fmt.Errorf("%w: %s", ErrStepNotProvided, stepKey[T]())
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	step, ok := r.steps[stepKey[T]()]
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrStepNotProvided, stepKey[T]())
	}
	typed, ok := step.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrStepNotProvided, stepKey[T]())
	}
	return typed, nil
}
