package config

// DbSettings selects and configures the outbox store backend.
type DbSettings struct {
	Type       string `mapstructure:"type" validate:"required,oneof=memory postgres mongo spanner mysql"`
	DSN        string `mapstructure:"dsn" validate:"required_if=Type postgres,required_if=Type mysql"`
	URI        string `mapstructure:"uri" validate:"required_if=Type mongo,required_if=Type spanner"`
	DBName     string `mapstructure:"db_name"`
	Collection string `mapstructure:"collection"`
	Migrate    bool   `mapstructure:"migrate"`
}
