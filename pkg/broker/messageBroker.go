package broker

import "context"

// MessageBroker publishes opaque payloads to a named topic.
type MessageBroker interface {
	// Publish sends data to topic with optional headers. It returns once the broker accepted the message.
	Publish(ctx context.Context, topic string, data []byte, headers map[string]string) error
	// Close cleans up any resources (connections).
	Close() error
}
