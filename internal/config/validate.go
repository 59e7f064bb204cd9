package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/romariotrain/media-derivatives/internal/media/models"
)

func (c *Config) normalize() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "postgres" || c.Database.Driver == "postgresql" {
		c.Database.Driver = "pgx"
	}
	c.Storage.PublicBaseURL = strings.TrimRight(c.Storage.PublicBaseURL, "/")
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)
	if c.Workers.RetryAttempts == 0 {
		c.Workers.RetryAttempts = defaultRetryAttempts
	}
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.Root) == "" {
		return errors.New("storage.root must be set")
	}
	if strings.TrimSpace(c.Storage.ScratchDir) == "" {
		return errors.New("storage.scratch_dir must be set")
	}
	switch c.Database.Driver {
	case "pgx", "sqlite":
	default:
		return fmt.Errorf("database.driver %q is not supported (pgx, sqlite)", c.Database.Driver)
	}
	if c.Tools.TimeoutSeconds <= 0 {
		return errors.New("tools.timeout_seconds must be positive")
	}
	for _, f := range models.AllFamilies {
		if c.Workers.For(f) <= 0 {
			return fmt.Errorf("workers.%s must be positive", f)
		}
		if c.Kafka.Topics.For(f) == "" {
			return fmt.Errorf("kafka.topics.%s must be set", f)
		}
	}
	if c.Workers.RetryAttempts < 0 {
		return errors.New("workers.retry_attempts cannot be negative")
	}
	if c.Workers.RetryBackoffMillis < 0 {
		return errors.New("workers.retry_backoff_millis cannot be negative")
	}
	if c.Workers.DrainTimeoutSeconds <= 0 {
		return errors.New("workers.drain_timeout_seconds must be positive")
	}
	if c.Outbox.IntervalMillis <= 0 || c.Outbox.BatchSize <= 0 {
		return errors.New("outbox interval and batch size must be positive")
	}
	return nil
}
