// Package cache holds the month snapshot caches used by the deal service.
// The record store stays authoritative; every implementation may drop
// entries at any time.
package cache

import (
	"sync"
	"time"

	applog "dealbook/internal/log"
)

// Cache is a string-keyed store of T. Implementations are safe for
// concurrent use.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	Delete(key string)
	// DeletePrefix drops every key starting with prefix and reports how
	// many went. An error means some matching keys may remain.
	DeletePrefix(prefix string) (int, error)
}

// Cleaner is a cache that needs a periodic expiry sweep.
type Cleaner interface {
	CleanExpired() int
}

// Manager runs the expiry sweep for registered in-process caches.
type Manager struct {
	logger *applog.Logger

	mu      sync.Mutex
	caches  []Cleaner
	stop    chan struct{}
	stopped chan struct{}
}

func NewManager(logger *applog.Logger) *Manager {
	return &Manager{logger: logger.WithComponent(applog.ComponentCache)}
}

func (m *Manager) Register(c Cleaner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caches = append(m.caches, c)
}

// StartCleanup sweeps every interval until Stop. Calling it twice is a no-op.
func (m *Manager) StartCleanup(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		return
	}
	m.stop = make(chan struct{})
	m.stopped = make(chan struct{})
	go m.loop(interval, m.stop, m.stopped)
}

func (m *Manager) loop(interval time.Duration, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := m.CleanNow(); n > 0 {
				m.logger.Debug("Expired snapshots removed", "count", n)
			}
		case <-stop:
			return
		}
	}
}

// CleanNow runs one sweep and returns the number of dropped entries.
func (m *Manager) CleanNow() int {
	m.mu.Lock()
	caches := append([]Cleaner(nil), m.caches...)
	m.mu.Unlock()

	n := 0
	for _, c := range caches {
		n += c.CleanExpired()
	}
	return n
}

// Stop ends the sweep loop and waits for it to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	stop, stopped := m.stop, m.stopped
	m.stop, m.stopped = nil, nil
	m.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-stopped
}
