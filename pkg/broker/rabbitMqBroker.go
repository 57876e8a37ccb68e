package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zoff-tech/go-msgpipe/pkg/config"
	"github.com/zoff-tech/go-msgpipe/pkg/logger"
)

const (
	tracerName        = "go-msgpipe/broker"
	reconnectInterval = 5 * time.Second
)

var errBrokerClosed = errors.New("broker is closed")

type RabbitMQBrokerCreator func(ctx context.Context, settings config.BrokerSettings, log *zap.Logger) (MessageBroker, error)

// NewRabbitMqBroker dials RabbitMQ, declares the topic exchange and fills the channel pool.
// A background loop redials when the connection drops.
var NewRabbitMqBroker RabbitMQBrokerCreator = func(ctx context.Context, settings config.BrokerSettings, log *zap.Logger) (MessageBroker, error) {
	if settings.PoolSize <= 0 {
		return nil, errors.New("poolSize must be greater than 0")
	}

	b := &rabbitMqBroker{
		settings:      settings,
		log:           logger.OrNop(log).With(zap.String("broker", "rabbitmq")),
		channelPool:   make(chan *pooledChannel, settings.PoolSize),
		stopReconnect: make(chan struct{}),
	}
	if err := b.connect(); err != nil {
		return nil, err
	}

	go b.recoverConnection(reconnectInterval)
	return b, nil
}

type pooledChannel struct {
	channel     *amqp.Channel
	notifyClose chan *amqp.Error
}

func newPooledChannel(conn *amqp.Connection) (*pooledChannel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	return &pooledChannel{channel: ch, notifyClose: ch.NotifyClose(make(chan *amqp.Error, 1))}, nil
}

func (p *pooledChannel) closed() bool {
	select {
	case <-p.notifyClose:
		return true
	default:
		return false
	}
}

type rabbitMqBroker struct {
	mu            sync.Mutex
	connection    *amqp.Connection
	channelPool   chan *pooledChannel
	settings      config.BrokerSettings
	log           *zap.Logger
	stopReconnect chan struct{}
	closed        bool
}

func (r *rabbitMqBroker) connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.connection != nil && !r.connection.IsClosed() {
		_ = r.connection.Close()
	}

	conn, err := amqp.Dial(r.settings.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		for err := range notifyClose {
			r.log.Warn("RabbitMQ connection closed", zap.Error(err))
		}
	}()

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	// ExchangeDeclare is idempotent and has no effect if the exchange is already in place
	if err := ch.ExchangeDeclare(r.settings.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", r.settings.Exchange, err)
	}
	_ = ch.Close()

	// Stale channels belong to the old connection
	r.drainPool()
	for i := 0; i < r.settings.PoolSize; i++ {
		pc, err := newPooledChannel(conn)
		if err != nil {
			_ = conn.Close()
			return err
		}
		r.channelPool <- pc
	}
	r.connection = conn

	r.log.Info("RabbitMQ connection, exchange, and channel pool initialized",
		zap.String("exchange", r.settings.Exchange), zap.Int("pool_size", r.settings.PoolSize))
	return nil
}

func (r *rabbitMqBroker) drainPool() {
	for {
		select {
		case pc := <-r.channelPool:
			_ = pc.channel.Close()
		default:
			return
		}
	}
}

func (r *rabbitMqBroker) recoverConnection(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.mu.Lock()
			down := r.connection == nil || r.connection.IsClosed()
			r.mu.Unlock()
			if !down {
				continue
			}
			r.log.Info("Attempting to reconnect to RabbitMQ")
			if err := r.connect(); err != nil {
				r.log.Error("Failed to reconnect to RabbitMQ", zap.Error(err))
			} else {
				r.log.Info("Reconnected to RabbitMQ")
			}
		case <-r.stopReconnect:
			return
		}
	}
}

func (r *rabbitMqBroker) getChannel() (*pooledChannel, error) {
	for {
		select {
		case pc := <-r.channelPool:
			if pc.closed() {
				continue
			}
			return pc, nil
		default:
			r.mu.Lock()
			conn, closed := r.connection, r.closed
			r.mu.Unlock()
			if closed || conn == nil {
				return nil, errBrokerClosed
			}
			return newPooledChannel(conn)
		}
	}
}

func (r *rabbitMqBroker) releaseChannel(pc *pooledChannel) {
	if pc.closed() {
		return
	}
	select {
	case r.channelPool <- pc:
	default:
		// Pool is full
		_ = pc.channel.Close()
	}
}

// Publish sends data to the configured exchange using topic as the routing key.
func (r *rabbitMqBroker) Publish(ctx context.Context, topic string, data []byte, headers map[string]string) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Publish "+topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", r.settings.Exchange),
			attribute.String("messaging.rabbitmq.destination.routing_key", topic),
		),
	)
	defer span.End()

	table := make(amqp.Table, len(headers)+2)
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		table[k] = v
	}
	for k, v := range headers {
		table[k] = v
	}

	pc, err := r.getChannel()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer r.releaseChannel(pc)

	err = pc.channel.Publish(r.settings.Exchange, topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         data,
		Headers:      table,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	span.SetAttributes(attribute.Int("messaging.message.body.size", len(data)))
	return nil
}

func (r *rabbitMqBroker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	close(r.stopReconnect)
	r.drainPool()

	if r.connection != nil {
		return r.connection.Close()
	}
	return nil
}
