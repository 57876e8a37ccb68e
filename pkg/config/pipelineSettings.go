package config

import "time"

// PipelineSettings configures the retry policy shared by every message pipeline.
type PipelineSettings struct {
	MaxRetries   int           `mapstructure:"max_retries" validate:"min=1,max=10"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" validate:"gte=0"` // base delay, doubled per attempt
}

// ReconcilerSettings configures the sweep that re-dispatches stale pending outbox rows.
type ReconcilerSettings struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"required_if=Enabled true"`
	BatchSize    int           `mapstructure:"batch_size" validate:"gte=0"`
	StaleAfter   time.Duration `mapstructure:"stale_after" validate:"gte=0"`
}
