package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusObserver_CountsByType(t *testing.T) {
	obs := NewPrometheusObserver()

	before := testutil.ToFloat64(deadLetteredCounter.WithLabelValues("AddShift"))
	obs.DeadLettered("AddShift")
	obs.DeadLettered("AddShift")
	obs.RetryAttempt("AddShift")

	assert.Equal(t, before+2, testutil.ToFloat64(deadLetteredCounter.WithLabelValues("AddShift")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(retryAttemptCounter.WithLabelValues("AddShift")), 1.0)
}

func TestNopObserver(t *testing.T) {
	obs := NewNopObserver()
	assert.NotPanics(t, func() {
		obs.MessageProcessed("x")
		obs.ValidationFailed("x")
		obs.RetryAttempt("x")
		obs.DeadLettered("x")
		obs.OutboxWriteFailed("x")
		obs.DeadLetterPublishFailed("x")
	})
}
