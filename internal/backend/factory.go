package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"dealbook/internal/adapters"
	"dealbook/internal/amqp"
	applog "dealbook/internal/log"
	"dealbook/internal/session"
	"dealbook/internal/session/local"
	"dealbook/internal/storage"
	"dealbook/internal/store/memory"
	"dealbook/internal/supabase"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *applog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *applog.Logger) Factory {
	return &DefaultFactory{
		logger: logger.WithComponent(applog.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(config)
	case RemoteBackend:
		return f.createRemoteBackend(config)
	case MemoryBackend:
		return f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) localProvider(users session.UserStore, config Config) (*local.Provider, error) {
	return local.New(users, local.Options{
		Secret:   []byte(config.SessionSecret),
		TokenTTL: config.SessionTTL,
	}, f.logger)
}

// createSQLiteBackend creates a SQLite backend, publishing deal events when
// AMQP is configured.
func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	f.logger.Info("Initializing SQLite backend", "db_path", config.SQLiteDBPath)

	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	provider, err := f.localProvider(repo, config)
	if err != nil {
		repo.Close()
		return nil, err
	}

	result := &BackendResult{
		Store:       repo,
		NewProvider: func() session.Provider { return provider.Clone() },
		Auth:        provider,
		Pinger:      repo,
	}

	var amqpClient *amqp.Client
	if config.AMQPURL != "" {
		f.logger.Info("Initializing AMQP client", "exchange", config.AMQPExchange, "queue", config.AMQPQueue)
		amqpClient, err = amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue, f.logger)
		if err != nil {
			f.logger.Warn("AMQP unavailable, deal events will not be published", applog.FieldError, err)
			amqpClient = nil
		} else {
			result.Store = adapters.NewPublishingStore(repo, amqpClient, f.logger)
		}
	}

	result.Cleanup = func() error {
		var errs []error
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				errs = append(errs, fmt.Errorf("AMQP close error: %w", err))
			}
		}
		if err := repo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("SQLite close error: %w", err))
		}
		return errors.Join(errs...)
	}

	return result, nil
}

// createRemoteBackend talks to the hosted auth and PostgREST endpoints.
func (f *DefaultFactory) createRemoteBackend(config Config) (*BackendResult, error) {
	f.logger.Info("Initializing remote backend", "url", config.SupabaseURL)

	httpClient := &http.Client{Timeout: config.RemoteTimeout}
	client := supabase.NewClient(config.SupabaseURL, config.SupabaseAnonKey, httpClient, f.logger)

	return &BackendResult{
		Store:       supabase.NewDeals(client, session.ContextTokens{}),
		NewProvider: func() session.Provider { return supabase.NewAuth(client) },
		Auth:        supabase.NewAuth(client),
		Cleanup: func() error {
			httpClient.CloseIdleConnections()
			return nil
		},
	}, nil
}

// createMemoryBackend creates an in-memory backend for development and tests.
func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	f.logger.Info("Initializing memory backend")

	mem := memory.New()
	provider, err := f.localProvider(mem, config)
	if err != nil {
		return nil, err
	}

	return &BackendResult{
		Store:       mem,
		NewProvider: func() session.Provider { return provider.Clone() },
		Auth:        provider,
		Cleanup:     func() error { return nil },
	}, nil
}
