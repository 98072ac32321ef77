package backend

import (
	"errors"
	"fmt"
	"time"

	"dealbook/internal/config"
)

// Config is the slice of the application configuration a backend needs.
type Config struct {
	Type BackendType

	SQLiteDBPath string
	// AMQP settings are optional; with AMQPURL set the sqlite backend
	// publishes deal events.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Used by the local session provider (memory and sqlite).
	SessionSecret string
	SessionTTL    time.Duration

	SupabaseURL     string
	SupabaseAnonKey string
	RemoteTimeout   time.Duration
}

func FromAppConfig(c *config.Config) (Config, error) {
	if c == nil {
		return Config{}, errors.New("backend: nil app config")
	}
	t := BackendType(c.DataBackend)
	if !t.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %q", c.DataBackend)
	}
	return Config{
		Type:            t,
		SQLiteDBPath:    c.SQLiteDBPath,
		AMQPURL:         c.AMQPURL,
		AMQPExchange:    c.AMQPExchange,
		AMQPQueue:       c.AMQPQueue,
		SessionSecret:   c.SessionSecret,
		SessionTTL:      c.SessionTTL,
		SupabaseURL:     c.SupabaseURL,
		SupabaseAnonKey: c.SupabaseAnonKey,
		RemoteTimeout:   c.StoreTimeout,
	}, nil
}

// Validate checks only what CreateBackend needs; range checks live in
// config.Validate.
func (c Config) Validate() error {
	switch c.Type {
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			return errors.New("SQLite database path is required for sqlite backend")
		}
		return c.requireSecret()
	case MemoryBackend:
		return c.requireSecret()
	case RemoteBackend:
		if c.SupabaseURL == "" || c.SupabaseAnonKey == "" {
			return errors.New("supabase URL and anon key are required for remote backend")
		}
		return nil
	default:
		return fmt.Errorf("invalid backend type: %q", c.Type)
	}
}

func (c Config) requireSecret() error {
	if c.SessionSecret == "" {
		return fmt.Errorf("session secret is required for %s backend", c.Type)
	}
	return nil
}
