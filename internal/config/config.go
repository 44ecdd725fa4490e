package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Kafka     KafkaConfig
	Market    MarketConfig
	Throttle  ThrottleConfig
	Scheduler SchedulerConfig
	Ledger    LedgerConfig
	Redis     RedisConfig
	Log       LogConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `env:"SERVER_PORT" envDefault:"8080"`
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host          string `env:"DB_HOST" envDefault:"localhost"`
	Port          string `env:"DB_PORT" envDefault:"5432"`
	User          string `env:"DB_USER" envDefault:"postgres"`
	Password      string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName        string `env:"DB_NAME" envDefault:"itemprices"`
	SSLMode       string `env:"DB_SSLMODE" envDefault:"disable"`
	MigrationsDir string `env:"DB_MIGRATIONS_DIR" envDefault:"db/migrations"`
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	Topic   string   `env:"KAFKA_TOPIC" envDefault:"price-refresh-requests"`
	GroupID string   `env:"KAFKA_GROUP_ID" envDefault:"price-sync"`
	Workers int      `env:"KAFKA_WORKERS" envDefault:"1"`
}

// MarketConfig holds settings for the external market price API
type MarketConfig struct {
	BaseURL  string        `env:"MARKET_API_URL" envDefault:"https://steamcommunity.com"`
	Timeout  time.Duration `env:"MARKET_API_TIMEOUT" envDefault:"15s"`
	AppID    int           `env:"MARKET_APP_ID" envDefault:"730"`
	Currency int           `env:"MARKET_CURRENCY" envDefault:"3"`
}

// ThrottleConfig paces outbound market API calls
type ThrottleConfig struct {
	MinDelay          time.Duration `env:"PRICE_MIN_DELAY" envDefault:"6s"`
	RateLimitCooldown time.Duration `env:"PRICE_RATE_LIMIT_COOLDOWN" envDefault:"60s"`
}

// SchedulerConfig holds the periodic refresh settings
type SchedulerConfig struct {
	Enabled      bool          `env:"SCHEDULER_ENABLED" envDefault:"true"`
	InitialDelay time.Duration `env:"SCHEDULER_INITIAL_DELAY" envDefault:"1m"`
	Interval     time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"6h"`
}

// LedgerConfig points the price recorder at a remote ledger store.
// An empty URL records prices straight into the local database.
type LedgerConfig struct {
	URL     string        `env:"LEDGER_URL"`
	Timeout time.Duration `env:"LEDGER_TIMEOUT" envDefault:"10s"`
}

// RedisConfig holds the latest-price cache connection
type RedisConfig struct {
	Addr     string        `env:"REDIS_ADDR"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB" envDefault:"0"`
	PriceTTL time.Duration `env:"REDIS_PRICE_TTL" envDefault:"24h"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from the environment, after loading an optional .env file
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS must not be empty")
	}
	if c.Kafka.Workers < 1 {
		return fmt.Errorf("KAFKA_WORKERS must be at least 1, got %d", c.Kafka.Workers)
	}
	if c.Throttle.MinDelay < 0 || c.Throttle.RateLimitCooldown < 0 {
		return fmt.Errorf("throttle durations must not be negative")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("SCHEDULER_INTERVAL must be positive when the scheduler is enabled")
	}
	return nil
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.DBName + "?sslmode=" + d.SSLMode
}
