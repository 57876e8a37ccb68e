package validation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type addShift struct {
	InternshipID string  `validate:"required"`
	Hours        int     `validate:"gte=0,lte=24"`
	Minutes      int     `validate:"gte=0,lt=60"`
	Location     *string `validate:"omitempty,max=10"`
}

type otherPayload struct{}

func TestRegistry_LookupByConcreteType(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, Register(reg, func(ctx context.Context, p *addShift) error { return nil }))

	_, ok := reg.Lookup(&addShift{})
	assert.True(t, ok)

	_, ok = reg.Lookup(addShift{})
	assert.False(t, ok, "value and pointer types are distinct keys")

	_, ok = reg.Lookup(&otherPayload{})
	assert.False(t, ok)
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, Register(reg, func(ctx context.Context, p *addShift) error { return nil }))

	err := Register(reg, func(ctx context.Context, p *addShift) error { return nil })
	assert.ErrorIs(t, err, ErrValidatorExists)
}

func TestRegistry_ValidatorResult(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, Register(reg, func(ctx context.Context, p *addShift) error {
		if p.Hours > 12 {
			return errors.New("shift longer than 12 hours")
		}
		return nil
	}))

	v, ok := reg.Lookup(&addShift{Hours: 13})
	require.True(t, ok)
	assert.EqualError(t, v.Validate(context.Background(), &addShift{Hours: 13}), "shift longer than 12 hours")
	assert.NoError(t, v.Validate(context.Background(), &addShift{Hours: 8}))
}

func TestTyped_WrongPayload(t *testing.T) {
	v := typed[*addShift]{fn: func(ctx context.Context, p *addShift) error { return nil }}

	err := v.Validate(context.Background(), &otherPayload{})
	assert.ErrorIs(t, err, ErrPayloadType)
}

func TestStruct_ReportsFields(t *testing.T) {
	check := Struct[*addShift](nil)

	err := check(context.Background(), &addShift{Hours: 25, Minutes: 61})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InternshipID must satisfy required")
	assert.Contains(t, err.Error(), "Hours must satisfy lte=24")
	assert.Contains(t, err.Error(), "Minutes must satisfy lt=60")

	assert.NoError(t, check(context.Background(), &addShift{InternshipID: "i-1", Hours: 8}))
}

func TestRegisterStruct_WithExtraRule(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterStruct(reg, nil, func(ctx context.Context, p *addShift) error {
		if p.Hours == 0 && p.Minutes == 0 {
			return errors.New("shift duration must be positive")
		}
		return nil
	}))

	v, ok := reg.Lookup(&addShift{})
	require.True(t, ok)
	assert.EqualError(t, v.Validate(context.Background(), &addShift{InternshipID: "i-1"}), "shift duration must be positive")
	assert.Contains(t, v.Validate(context.Background(), &addShift{}).Error(), "InternshipID")
}
