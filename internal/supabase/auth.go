package supabase

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"dealbook/internal/session"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

// Auth implements session.Provider against GoTrue.
type Auth struct {
	client *Client
	now    func() time.Time

	mu        sync.Mutex
	current   *session.Session
	listeners map[int]func(session.Event)
	nextID    int
}

func NewAuth(client *Client) *Auth {
	return &Auth{
		client:    client,
		now:       time.Now,
		listeners: make(map[int]func(session.Event)),
	}
}

func (a *Auth) CurrentSession(_ context.Context) (*session.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return nil, nil
	}
	s := *a.current
	return &s, nil
}

func (a *Auth) OnSessionChange(fn func(session.Event)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.listeners, id)
	}
}

func (a *Auth) SignIn(ctx context.Context, email, password string) (*session.Session, error) {
	var tok tokenResponse
	err := a.client.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token?grant_type=password",
		body:   map[string]string{"email": email, "password": password},
	}, &tok)
	if err != nil {
		return nil, mapAuthError(err, session.ErrInvalidCredentials)
	}
	return a.store(session.EventSignedIn, tok), nil
}

func (a *Auth) SignUp(ctx context.Context, email, password string) error {
	err := a.client.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/signup",
		body:   map[string]string{"email": email, "password": password},
	}, nil)
	return mapAuthError(err, nil)
}

func (a *Auth) RequestCredentialReset(ctx context.Context, email, returnURL string) error {
	err := a.client.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/recover?redirect_to=" + url.QueryEscape(returnURL),
		body:   map[string]string{"email": email},
	}, nil)
	return mapAuthError(err, nil)
}

func (a *Auth) VerifyRecovery(ctx context.Context, token string) (*session.Session, error) {
	var tok tokenResponse
	err := a.client.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/verify",
		body:   map[string]string{"type": "recovery", "token_hash": token},
	}, &tok)
	if err != nil {
		return nil, mapAuthError(err, session.ErrInvalidRecoveryToken)
	}
	return a.store(session.EventPasswordRecovery, tok), nil
}

func (a *Auth) SetNewCredential(ctx context.Context, password string) error {
	a.mu.Lock()
	current := a.current
	a.mu.Unlock()
	if current == nil {
		return session.ErrNotAuthenticated
	}
	err := a.client.do(ctx, request{
		method: http.MethodPut,
		path:   "/auth/v1/user",
		token:  current.AccessToken,
		body:   map[string]string{"password": password},
	}, nil)
	if err != nil {
		return mapAuthError(err, session.ErrNotAuthenticated)
	}
	s := *current
	a.emit(session.Event{Type: session.EventUserUpdated, Session: &s})
	return nil
}

// SignOut forgets the local session even when the logout call fails.
func (a *Auth) SignOut(ctx context.Context) error {
	a.mu.Lock()
	current := a.current
	a.current = nil
	a.mu.Unlock()

	var err error
	if current != nil {
		err = a.client.do(ctx, request{
			method: http.MethodPost,
			path:   "/auth/v1/logout",
			token:  current.AccessToken,
		}, nil)
	}
	a.emit(session.Event{Type: session.EventSignedOut})
	return err
}

func (a *Auth) Refresh(ctx context.Context) (*session.Session, error) {
	a.mu.Lock()
	current := a.current
	a.mu.Unlock()
	if current == nil || current.RefreshToken == "" {
		return nil, session.ErrNotAuthenticated
	}
	var tok tokenResponse
	err := a.client.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token?grant_type=refresh_token",
		body:   map[string]string{"refresh_token": current.RefreshToken},
	}, &tok)
	if err != nil {
		return nil, mapAuthError(err, session.ErrSessionExpired)
	}
	return a.store(session.EventTokenRefreshed, tok), nil
}

// Authenticate asks GoTrue who token belongs to. GoTrue rejects expired
// and revoked tokens with 401 or 403.
func (a *Auth) Authenticate(ctx context.Context, token string) (session.Identity, error) {
	var user struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	err := a.client.do(ctx, request{
		method: http.MethodGet,
		path:   "/auth/v1/user",
		token:  token,
	}, &user)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden) {
			return session.Identity{}, session.ErrNotAuthenticated
		}
		return session.Identity{}, err
	}
	if user.ID == "" {
		return session.Identity{}, session.ErrNotAuthenticated
	}
	return session.Identity{UserID: user.ID, Email: user.Email}, nil
}

func (a *Auth) store(ev session.EventType, tok tokenResponse) *session.Session {
	expires := a.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	if tok.ExpiresAt > 0 {
		expires = time.Unix(tok.ExpiresAt, 0)
	}
	s := &session.Session{
		Identity:     session.Identity{UserID: tok.User.ID, Email: tok.User.Email},
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expires,
	}
	a.mu.Lock()
	a.current = s
	a.mu.Unlock()

	out := *s
	a.emit(session.Event{Type: ev, Session: &out})
	return &out
}

func (a *Auth) emit(ev session.Event) {
	a.mu.Lock()
	fns := make([]func(session.Event), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// mapAuthError turns GoTrue client errors into session errors. 4xx responses
// without a more specific code map to fallback when it is non-nil.
func mapAuthError(err error, fallback error) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case "user_already_exists", "email_exists":
		return session.ErrEmailTaken
	case "weak_password":
		return session.ErrWeakPassword
	case "invalid_credentials", "invalid_grant":
		if fallback != nil {
			return fallback
		}
		return session.ErrInvalidCredentials
	}
	if fallback != nil && apiErr.Status >= 400 && apiErr.Status < 500 {
		return fallback
	}
	return err
}
