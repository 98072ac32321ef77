package http

import (
	"net/http"
	"strings"

	applog "dealbook/internal/log"
	"dealbook/internal/session"
)

type credentialsRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

type signUpRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=6,max=128"`
}

type recoverRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type passwordRequest struct {
	Password string `json:"password" validate:"required,min=6,max=128"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required,max=512"`
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// requireSession resolves the bearer token to the caller's tracker and puts
// it in the request context. Requests without a live session get 401.
func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := s.deps.Sessions.Resolve(r.Context(), bearerToken(r))
		if err != nil {
			if statusFor(err) == http.StatusUnauthorized {
				w.Header().Set("WWW-Authenticate", `Bearer realm="dealbook"`)
			}
			writeError(w, r, err)
			return
		}
		next(w, r.WithContext(session.NewContext(r.Context(), t)))
	}
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	t, _, err := s.deps.Sessions.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenView(t))
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Sessions.SignUp(r.Context(), req.Email, req.Password); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

// handleSignOut always ends unauthenticated; a provider failure is only
// logged.
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sessions.SignOut(r.Context(), bearerToken(r)); err != nil {
		applog.FromContext(r.Context()).WarnContext(r.Context(), "Sign-out failed upstream", applog.FieldError, err)
	}
	writeJSON(w, http.StatusOK, sessionView(nil))
}

// handleRefresh swaps the caller's access token for a new one. The old
// token may already be expired.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	t, _, err := s.deps.Sessions.Refresh(r.Context(), bearerToken(r), req.RefreshToken)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenView(t))
}

// handleRecover issues a recovery link that returns to the callback route.
// Unknown addresses get the same response.
func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	var req recoverRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	returnURL := s.deps.PublicURL + "/api/auth/callback"
	if err := s.deps.Sessions.RequestCredentialReset(r.Context(), req.Email, returnURL); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// handleRecoveryCallback is the target of the recovery link. It opens a
// password-recovery session and hands its token to the caller.
func (s *Server) handleRecoveryCallback(w http.ResponseWriter, r *http.Request) {
	t, _, err := s.deps.Sessions.FollowRecoveryLink(r.Context(), r.URL.String())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenView(t))
}

func (s *Server) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	t := session.FromContext(r.Context())
	if err := t.SetNewCredential(r.Context(), req.Password); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(t))
}
