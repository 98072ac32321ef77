package http

import (
	"context"
	"net/http"
	"time"

	applog "dealbook/internal/log"
	"dealbook/internal/session"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

// handleReady probes the record store.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, httpStatus := "ready", http.StatusOK
	checks := map[string]any{
		"sessions":     s.deps.Sessions.Len(),
		"rate_limiter": map[string]any{"active_clients": s.limiter.ActiveClients(), "hits": s.limiter.Hits()},
		"requests":     s.tracer.TotalRequests(),
		"suspicious":   s.detector.SuspiciousRequests(),
	}

	if s.deps.Ready == nil {
		checks["store"] = "not_probed"
	} else if err := s.deps.Ready(ctx); err != nil {
		checks["store"] = "failed: " + err.Error()
		status, httpStatus = "not_ready", http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

type sessionResponse struct {
	State session.State     `json:"state"`
	User  *session.Identity `json:"user"`

	TokenType    string     `json:"token_type,omitempty"`
	AccessToken  string     `json:"access_token,omitempty"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// sessionView reports the state of t; nil means no session.
func sessionView(t *session.Tracker) sessionResponse {
	if t == nil {
		return sessionResponse{State: session.StateUnauthenticated}
	}
	state, id := t.Snapshot()
	return sessionResponse{State: state, User: id}
}

// tokenView is sessionView plus the credentials the client presents from
// now on.
func tokenView(t *session.Tracker) sessionResponse {
	v := sessionView(t)
	if s := t.Session(); s != nil {
		v.TokenType = "bearer"
		v.AccessToken = s.AccessToken
		v.RefreshToken = s.RefreshToken
		if !s.ExpiresAt.IsZero() {
			expires := s.ExpiresAt.UTC()
			v.ExpiresAt = &expires
		}
	}
	return v
}

// handleSession reports the state of the caller's session. A missing,
// expired or revoked token reads as unauthenticated.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	t, err := s.deps.Sessions.Resolve(r.Context(), bearerToken(r))
	switch {
	case err == nil:
	case statusFor(err) == http.StatusUnauthorized:
		applog.FromContext(r.Context()).DebugContext(r.Context(), "No live session", applog.FieldError, err)
		t = nil
	default:
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(t))
}
