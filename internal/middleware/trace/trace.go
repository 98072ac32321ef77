// Package trace tags each request with an ID and a request-scoped logger.
package trace

import (
	"context"
	"net/http"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	applog "dealbook/internal/log"
)

type ctxKey struct{}

// HeaderRequestID carries an upstream request ID in and ours out.
const HeaderRequestID = "X-Request-ID"

var validRequestID = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,64}$`)

type Middleware struct {
	extractIP func(*http.Request) string
	logger    *applog.Logger
	http      *applog.StructuredLogger
	total     atomic.Int64
}

func NewMiddleware(logger *applog.Logger, extractIP func(*http.Request) string) *Middleware {
	return &Middleware{
		extractIP: extractIP,
		logger:    logger.WithComponent(applog.ComponentHTTP),
		http:      applog.NewStructuredLogger(logger),
	}
}

// Middleware keeps a well-formed upstream X-Request-ID or mints one, then
// logs the request start and completion under it.
func (m *Middleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.total.Add(1)

		id := r.Header.Get(HeaderRequestID)
		if !validRequestID.MatchString(id) {
			id = NewRequestID()
		}
		w.Header().Set(HeaderRequestID, id)

		var ip string
		if m.extractIP != nil {
			ip = m.extractIP(r)
		}

		ctx := context.WithValue(r.Context(), ctxKey{}, id)
		ctx = applog.NewContext(ctx, m.logger.With(applog.FieldRequestID, id))
		r = r.WithContext(ctx)

		m.http.LogHTTPStart(ctx, r, id, ip)
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		m.http.LogHTTPEnd(ctx, r, id, sw.status, time.Since(start).Milliseconds(), ip)
	})
}

// TotalRequests counts requests seen since start.
func (m *Middleware) TotalRequests() int64 {
	return m.total.Load()
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func NewRequestID() string {
	return "req_" + uuid.NewString()
}

// RequestID returns the ID assigned by Middleware, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
