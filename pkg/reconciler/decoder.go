package reconciler

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Decoder rebuilds a typed payload from its stored JSON form.
type Decoder func(raw []byte) (any, error)

// JSON decodes into a value of type T, the same type the pipeline validators and
// handlers are registered for.
func JSON[T any]() Decoder {
	return func(raw []byte) (any, error) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %T: %w", v, err)
		}
		return v, nil
	}
}

type decoders struct {
	mu    sync.RWMutex
	types map[string]Decoder
}

func (d *decoders) add(messageType string, dec Decoder) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.types[messageType]; exists {
		return fmt.Errorf("%w: %s", ErrDecoderExists, messageType)
	}
	d.types[messageType] = dec
	return nil
}

func (d *decoders) get(messageType string) (Decoder, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dec, ok := d.types[messageType]
	return dec, ok
}
