package config

// BrokerSettings holds configuration for the broker dead-letter records are forwarded to.
// An empty Type disables forwarding.
type BrokerSettings struct {
	Type      string `mapstructure:"type" validate:"omitempty,oneof=rabbitmq gcp-pubsub"`
	URL       string `mapstructure:"url" validate:"required_if=Type rabbitmq"`
	Exchange  string `mapstructure:"exchange"`
	PoolSize  int    `mapstructure:"pool_size" validate:"omitempty,min=1"` // RabbitMQ channels kept open
	ProjectID string `mapstructure:"project_id" validate:"required_if=Type gcp-pubsub"` // Optional for brokers like GCP Pub/Sub
}
