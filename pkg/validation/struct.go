package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Struct validates payloads of type T with their `validate` struct tags.
func Struct[T any](v *validator.Validate) Func[T] {
	if v == nil {
		v = validator.New(validator.WithRequiredStructEnabled())
	}
	return func(ctx context.Context, payload T) error {
		err := v.StructCtx(ctx, payload)
		if err == nil {
			return nil
		}
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		parts := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			if fe.Param() != "" {
				parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			} else {
				parts = append(parts, fmt.Sprintf("%s must satisfy %s", fe.Field(), fe.Tag()))
			}
		}
		return errors.New(strings.Join(parts, "; "))
	}
}

// RegisterStruct registers tag-based validation for T, combined with any extra rules.
func RegisterStruct[T any](r *Registry, v *validator.Validate, extra ...Func[T]) error {
	base := Struct[T](v)
	return Register(r, func(ctx context.Context, payload T) error {
		if err := base(ctx, payload); err != nil {
			return err
		}
		for _, rule := range extra {
			if err := rule(ctx, payload); err != nil {
				return err
			}
		}
		return nil
	})
}
