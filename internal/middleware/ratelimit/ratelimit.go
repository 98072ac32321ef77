// Package ratelimit caps mutating requests per client in one-minute windows.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	window    = time.Minute
	staleIdle = 10 * time.Minute
)

type Config struct {
	RequestsPerMinute int
	CleanupInterval   time.Duration
}

func DefaultConfig() Config {
	return Config{RequestsPerMinute: 60, CleanupInterval: 5 * time.Minute}
}

// Limiter counts requests per client key in fixed windows. A background
// sweep forgets clients idle for staleIdle; Stop ends it.
type Limiter struct {
	limit int
	now   func() time.Time

	mu      sync.Mutex
	windows map[string]*clientWindow

	rejected atomic.Int64
	stop     chan struct{}
	stopOnce sync.Once
}

type clientWindow struct {
	start time.Time
	last  time.Time
	count int
}

func NewLimiter(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = def.RequestsPerMinute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	l := &Limiter{
		limit:   cfg.RequestsPerMinute,
		now:     time.Now,
		windows: make(map[string]*clientWindow),
		stop:    make(chan struct{}),
	}
	go l.sweep(cfg.CleanupInterval)
	return l
}

// Take records one request for client. When the window is exhausted it
// returns false and the time left until the window resets.
func (l *Limiter) Take(client string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[client]
	if !ok || now.Sub(w.start) >= window {
		l.windows[client] = &clientWindow{start: now, last: now, count: 1}
		return true, 0
	}
	w.last = now
	w.count++
	if w.count <= l.limit {
		return true, 0
	}
	l.rejected.Add(1)
	return false, window - now.Sub(w.start)
}

func (l *Limiter) Allow(client string) bool {
	ok, _ := l.Take(client)
	return ok
}

func (l *Limiter) sweep(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			l.forgetIdle()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) forgetIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-staleIdle)
	for k, w := range l.windows {
		if w.last.Before(cutoff) {
			delete(l.windows, k)
		}
	}
}

// ActiveClients is the number of clients with a live window.
func (l *Limiter) ActiveClients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Hits counts rejected requests.
func (l *Limiter) Hits() int64 { return l.rejected.Load() }

func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Middleware limits every method except GET, HEAD and OPTIONS. Rejected
// requests get a Retry-After header and are handed to onLimit, or a plain
// 429 when onLimit is nil.
func (l *Limiter) Middleware(clientKey func(*http.Request) string, onLimit func(http.ResponseWriter, *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			ok, wait := l.Take(clientKey(r))
			if ok {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(wait)))
			if onLimit != nil {
				onLimit(w, r)
				return
			}
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		})
	}
}

func retrySeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		return 1
	}
	return s
}
