package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type prometheusObserver struct {
	processed         *prometheus.CounterVec
	validationFailed  *prometheus.CounterVec
	retryAttempts     *prometheus.CounterVec
	deadLettered      *prometheus.CounterVec
	outboxWriteFailed *prometheus.CounterVec
	publishFailed     *prometheus.CounterVec
}

var (
	processedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msgpipe_messages_processed_total",
		Help: "Messages whose handler completed and whose outbox record was marked processed",
	}, []string{"type"})
	validationFailedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msgpipe_validation_failures_total",
		Help: "Messages short-circuited by validation",
	}, []string{"type"})
	retryAttemptCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msgpipe_retry_attempts_total",
		Help: "Failed handler attempts observed by the retry step",
	}, []string{"type"})
	deadLetteredCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msgpipe_dead_lettered_total",
		Help: "Messages archived as dead letters after exhausting retries",
	}, []string{"type"})
	outboxWriteFailedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msgpipe_outbox_write_failures_total",
		Help: "Outbox store writes that returned an error",
	}, []string{"type"})
	publishFailedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "msgpipe_dead_letter_publish_failures_total",
		Help: "Dead-letter records that could not be forwarded to the broker",
	}, []string{"type"})
)

func NewPrometheusObserver() Observer {
	return &prometheusObserver{
		processed:         processedCounter,
		validationFailed:  validationFailedCounter,
		retryAttempts:     retryAttemptCounter,
		deadLettered:      deadLetteredCounter,
		outboxWriteFailed: outboxWriteFailedCounter,
		publishFailed:     publishFailedCounter,
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func (p *prometheusObserver) MessageProcessed(messageType string) {
	p.processed.WithLabelValues(messageType).Inc()
}
func (p *prometheusObserver) ValidationFailed(messageType string) {
	p.validationFailed.WithLabelValues(messageType).Inc()
}
func (p *prometheusObserver) RetryAttempt(messageType string) {
	p.retryAttempts.WithLabelValues(messageType).Inc()
}
func (p *prometheusObserver) DeadLettered(messageType string) {
	p.deadLettered.WithLabelValues(messageType).Inc()
}
func (p *prometheusObserver) OutboxWriteFailed(messageType string) {
	p.outboxWriteFailed.WithLabelValues(messageType).Inc()
}
func (p *prometheusObserver) DeadLetterPublishFailed(messageType string) {
	p.publishFailed.WithLabelValues(messageType).Inc()
}
