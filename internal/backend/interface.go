// Package backend assembles the record store and session provider selected
// by DATA_BACKEND.
package backend

import (
	"context"

	"dealbook/internal/session"
	"dealbook/internal/store"
)

// CleanupFunc releases whatever a backend opened.
type CleanupFunc func() error

// Pinger probes the record store for /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BackendResult pairs a record store with the session providers that guard
// it. NewProvider returns a provider with no session, one per client; Auth
// verifies the access tokens those providers issue. Pinger is nil when there
// is nothing to probe.
type BackendResult struct {
	Store       store.DealStore
	NewProvider func() session.Provider
	Auth        session.Authenticator
	Pinger      Pinger
	Cleanup     CleanupFunc
}

type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

type BackendType string

const (
	// MemoryBackend keeps deals and accounts in process.
	MemoryBackend BackendType = "memory"
	// SQLiteBackend keeps them in a local database file and can publish
	// deal events to AMQP.
	SQLiteBackend BackendType = "sqlite"
	// RemoteBackend delegates both to a hosted Supabase project.
	RemoteBackend BackendType = "remote"
)

func (bt BackendType) String() string { return string(bt) }

func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, SQLiteBackend, RemoteBackend:
		return true
	}
	return false
}
