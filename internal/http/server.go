package http

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"dealbook/internal/core"
	applog "dealbook/internal/log"
	"dealbook/internal/middleware/ratelimit"
	"dealbook/internal/middleware/security"
	"dealbook/internal/middleware/trace"
	"dealbook/internal/services"
	"dealbook/internal/session"
)

// Deps are the collaborators the handlers call.
type Deps struct {
	Deals    *services.DealService
	Sessions *session.Registry
	// Ready probes the record store; nil means always ready.
	Ready func(ctx context.Context) error

	NumericPolicy      core.NumericPolicy
	PublicURL          string
	RateLimitPerMinute int
}

type Server struct {
	http.Server
	deps    Deps
	logger  *applog.Logger
	started time.Time

	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, deps Deps, logger *applog.Logger) *Server {
	if !deps.NumericPolicy.Valid() {
		deps.NumericPolicy = core.Lenient
	}
	deps.PublicURL = strings.TrimRight(deps.PublicURL, "/")

	logger = logger.WithComponent(applog.ComponentHTTP)
	detector := security.NewDetector()
	s := &Server{
		deps:     deps,
		logger:   logger,
		started:  time.Now(),
		limiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: deps.RateLimitPerMinute}),
		detector: detector,
		tracer:   trace.NewMiddleware(logger, detector.ExtractClientIP),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("POST /api/auth/signin", s.handleSignIn)
	mux.HandleFunc("POST /api/auth/signup", s.handleSignUp)
	mux.HandleFunc("POST /api/auth/signout", s.handleSignOut)
	mux.HandleFunc("POST /api/auth/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/auth/recover", s.handleRecover)
	mux.HandleFunc("GET /api/auth/callback", s.handleRecoveryCallback)
	mux.HandleFunc("POST /api/auth/password", s.requireSession(s.handleSetPassword))

	mux.HandleFunc("GET /api/deals", s.requireSession(s.handleListDeals))
	mux.HandleFunc("POST /api/deals", s.requireSession(s.handleCreateDeal))
	mux.HandleFunc("PATCH /api/deals/{id}", s.requireSession(s.handleUpdateDeal))
	mux.HandleFunc("DELETE /api/deals/{id}", s.requireSession(s.handleDeleteDeal))

	mux.HandleFunc("GET /api/preview", s.handlePreview)
	mux.HandleFunc("GET /api/preview/leg", s.handlePreviewLeg)
	mux.HandleFunc("POST /api/preview/legs", s.handlePreviewLegs)

	var handler http.Handler = mux
	handler = s.limiter.Middleware(detector.ExtractClientIP, s.onRateLimit)(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = detector.Middleware(handler)
	handler = s.tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	applog.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		applog.FieldClientIP, s.detector.ExtractClientIP(r),
		applog.FieldMethod, r.Method,
		applog.FieldPath, r.URL.Path)
	writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
}

// Shutdown stops background goroutines and the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}
