package bus

import "github.com/coreflux/busline/pkg/config"

// Config is the base environment-driven configuration for the bus. Each
// storage adapter carries its own detailed configuration struct (e.g.
// sqlitequeue.Config, kafkaqueue.Config) and this struct only names which
// one to construct.
type Config struct {
	// Driver selects which Store/JournalStore/SubscriptionStore backend to
	// construct. Supported values: memory, sqlite, postgres, mongo, kafka.
	Driver string `env:"BUS_DRIVER" env-default:"memory" validate:"required,oneof=memory sqlite postgres mongo kafka"`

	// DSN is the backend-specific connection string (a file path for
	// sqlite, a connection URL for postgres/mongo, a broker address list
	// for kafka). Unused by the memory driver.
	DSN string `env:"BUS_DSN"`
}

// LoadConfig reads Config from a .env file or the process environment,
// following the same cleanenv-plus-validator pipeline as pkg/logger.Config.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
