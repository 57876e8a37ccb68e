package pipeline

import "errors"

var (
	ErrNilMessage           = errors.New("message is required")
	ErrHandlerRequired      = errors.New("message handler is required")
	ErrHandlerExists        = errors.New("message handler already registered")
	ErrHandlerNotRegistered = errors.New("message handler is not registered")
	ErrHandlerPanicked      = errors.New("message handler panicked")
	ErrPayloadType          = errors.New("unexpected payload type")
	ErrPipelineExists       = errors.New("pipeline already registered")
	ErrStepNotProvided      = errors.New("pipeline step not provided")
	ErrRetriesExhausted     = errors.New("retries exhausted")
)
