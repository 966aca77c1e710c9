package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	DatabaseDSN   string `envconfig:"DATABASE_DSN" default:"catalog.db"`
	DBMaxConns    int    `envconfig:"DB_MAX_CONNS" default:"4"`
	MigrationsDir string `envconfig:"MIGRATIONS_DIR" default:"migrations"`

	DownloadWorkers int `envconfig:"DOWNLOAD_WORKERS" default:"4"`
	QueueSize       int `envconfig:"QUEUE_SIZE" default:"32"`
	PodcastParallel int `envconfig:"PODCAST_PARALLEL" default:"2"`

	FeedTimeout      time.Duration `envconfig:"FEED_TIMEOUT" default:"1m"`
	DownloadTimeout  time.Duration `envconfig:"DOWNLOAD_TIMEOUT" default:"0"`
	RetryMaxTries    uint          `envconfig:"RETRY_MAX_TRIES" default:"6"`
	RetryMaxInterval time.Duration `envconfig:"RETRY_MAX_INTERVAL" default:"64s"`
	StatusRetries    uint          `envconfig:"STATUS_RETRIES" default:"4"`

	RetryIncomplete bool `envconfig:"RETRY_INCOMPLETE" default:"false"`
	StrictFailures  bool `envconfig:"STRICT_FAILURES" default:"false"`

	UpdateInterval    time.Duration `envconfig:"UPDATE_INTERVAL" default:"1h"`
	ShutdownTimeout   time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`
	TelemetryEnabled  bool          `envconfig:"TELEMETRY_ENABLED" default:"true"`
	OTLPEndpoint      string        `envconfig:"OTLP_ENDPOINT"`

	Metrics struct {
		// BindAddress enables the diagnostics listener when set, for
		// example "0.0.0.0:9091". Empty means no listener.
		BindAddress  string        `split_words:"true"`
		ReadTimeout  time.Duration `split_words:"true" default:"30s"`
		WriteTimeout time.Duration `split_words:"true" default:"30s"`
		IdleTimeout  time.Duration `split_words:"true" default:"5s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.DBMaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be at least 1, got %d", c.DBMaxConns)
	}

	if c.DownloadWorkers < 1 {
		return fmt.Errorf("DOWNLOAD_WORKERS must be at least 1, got %d", c.DownloadWorkers)
	}

	if c.UpdateInterval <= 0 {
		return fmt.Errorf("UPDATE_INTERVAL must be positive, got %s", c.UpdateInterval)
	}

	return nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
