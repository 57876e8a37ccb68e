package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	for _, env := range []string{"prod", "development"} {
		t.Run(env, func(t *testing.T) {
			l, err := New(env)
			assert.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))

	l := zap.NewExample()
	assert.Same(t, l, OrNop(l))
}
