package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "MSGPIPE"

type Settings struct {
	Environment     string             `mapstructure:"environment"`
	HTTPAddr        string             `mapstructure:"http_addr"`
	Database        DbSettings         `mapstructure:"database"`
	Broker          BrokerSettings     `mapstructure:"broker"`
	Pipeline        PipelineSettings   `mapstructure:"pipeline"`
	Reconciler      ReconcilerSettings `mapstructure:"reconciler"`
	DeadLetterTopic string             `mapstructure:"dead_letter_topic"`
	Observability   Observability      `mapstructure:"observability"` // Observability settings
}

func (c *Settings) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Broker.Type != "" && c.DeadLetterTopic == "" {
		return errors.New("dead_letter_topic is required when a broker is configured")
	}
	return nil
}

// LoadFromFile reads msgpipe.yaml from filePath (or the working directory), merges
// msgpipe.<ENVIRONMENT>.yaml when present and overlays MSGPIPE_* environment variables.
// A .env file next to the config is loaded into the process environment first.
func LoadFromFile(filePath string) (*Settings, error) {
	if err := godotenv.Load(filepath.Join(filePath, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	env := getEnvWithDefaultLookup("ENVIRONMENT", "development")

	v := newViper()
	v.SetConfigType("yaml")
	v.SetConfigName("msgpipe")
	v.AddConfigPath(filePath) // path to config
	v.AddConfigPath(".")      // current directory

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := mergeConfig(v, filePath, "msgpipe."+env); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to merge %s config: %w", env, err)
		}
	}

	cfg := &Settings{}
	if err := cfg.load(v); err != nil {
		return nil, err
	}
	if cfg.Environment == "" {
		cfg.Environment = env
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv fills the settings from defaults and MSGPIPE_* environment variables only.
func (c *Settings) LoadFromEnv() error {
	return c.load(newViper())
}

func (c *Settings) load(v *viper.Viper) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // env vars like MSGPIPE_DATABASE_TYPE
	v.AutomaticEnv()

	// Bind environment variables explicitly so keys absent from the file still map
	for _, key := range []string{
		"environment",
		"http_addr",
		"database.type",
		"database.dsn",
		"database.uri",
		"database.db_name",
		"database.collection",
		"database.migrate",
		"broker.type",
		"broker.url",
		"broker.exchange",
		"broker.pool_size",
		"broker.project_id",
		"pipeline.max_retries",
		"pipeline.retry_backoff",
		"reconciler.enabled",
		"reconciler.poll_interval",
		"reconciler.batch_size",
		"reconciler.stale_after",
		"dead_letter_topic",
		"observability.service_name",
		"observability.tracing_url",
	} {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if err := v.Unmarshal(c); err != nil {
		return fmt.Errorf("failed to decode configuration: %w", err)
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("database.type", "memory")
	v.SetDefault("database.db_name", "msgpipe")
	v.SetDefault("database.collection", "outbox")
	v.SetDefault("broker.exchange", "msgpipe")
	v.SetDefault("broker.pool_size", 5)
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.retry_backoff", time.Second)
	v.SetDefault("reconciler.poll_interval", 30*time.Second)
	v.SetDefault("reconciler.batch_size", 50)
	v.SetDefault("reconciler.stale_after", 5*time.Minute)
	v.SetDefault("observability.service_name", "msgpipe")
	return v
}

func mergeConfig(v *viper.Viper, path string, name string) error {
	v.SetConfigName(name)
	v.AddConfigPath(path)
	return v.MergeInConfig()
}

func getEnvWithDefaultLookup(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}
