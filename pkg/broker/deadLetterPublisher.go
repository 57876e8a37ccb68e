package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-msgpipe/pkg/logger"
	"github.com/zoff-tech/go-msgpipe/schema"
)

// Headers set on every published dead-letter record.
const (
	HeaderMessageType       = "messageType"
	HeaderOriginalMessageID = "originalMessageId"
	HeaderRetryCount        = "retryCount"
)

// BreakerSettings tunes the circuit breaker around dead-letter publishing.
type BreakerSettings struct {
	// ConsecutiveFailures opens the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second}
}

// DeadLetterPublisher forwards dead-letter records to a broker topic. While the
// broker keeps failing the breaker is open and publishing fails fast.
type DeadLetterPublisher struct {
	broker  MessageBroker
	topic   string
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

func NewDeadLetterPublisher(b MessageBroker, topic string, settings BreakerSettings, log *zap.Logger) *DeadLetterPublisher {
	log = logger.OrNop(log)
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = DefaultBreakerSettings().ConsecutiveFailures
	}

	return &DeadLetterPublisher{
		broker: b,
		topic:  topic,
		log:    log,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "dead-letter:" + topic,
			MaxRequests: 1,
			Timeout:     settings.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				log.Warn("circuit breaker state changed",
					zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
			},
		}),
	}
}

// PublishDeadLetter encodes record as JSON and publishes it.
func (p *DeadLetterPublisher) PublishDeadLetter(ctx context.Context, record schema.DeadLetterRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode dead letter %s: %w", record.OriginalMessageID, err)
	}
	headers := map[string]string{
		HeaderMessageType:       record.MessageType,
		HeaderOriginalMessageID: record.OriginalMessageID,
		HeaderRetryCount:        strconv.Itoa(record.RetryCount),
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.broker.Publish(ctx, p.topic, body, headers)
	})
	if err != nil {
		return fmt.Errorf("publish dead letter %s to %s: %w", record.OriginalMessageID, p.topic, err)
	}
	return nil
}

// State reports the breaker state, e.g. "closed" or "open".
func (p *DeadLetterPublisher) State() string {
	return p.breaker.State().String()
}
