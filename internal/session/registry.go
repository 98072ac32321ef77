package session

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"

	applog "dealbook/internal/log"
)

// DefaultRefreshGrace is how long a registry keeps an expired session around
// so its client can still refresh it.
const DefaultRefreshGrace = 24 * time.Hour

// Registry keeps one Tracker per signed-in client, keyed by the access token
// that client holds. Each tracker talks to a provider of its own, so one
// client signing in or out never changes what another client sees.
type Registry struct {
	newProvider func() Provider
	auth        Authenticator
	logger      *applog.Logger
	now         func() time.Time
	grace       time.Duration

	mu       sync.Mutex
	trackers map[string]*Tracker
	onClear  []func(userID string)
}

func NewRegistry(newProvider func() Provider, auth Authenticator, logger *applog.Logger) *Registry {
	return &Registry{
		newProvider: newProvider,
		auth:        auth,
		logger:      logger.WithComponent(applog.ComponentSession),
		now:         time.Now,
		grace:       DefaultRefreshGrace,
		trackers:    make(map[string]*Tracker),
	}
}

// OnClear registers fn on every tracker opened after the call.
func (r *Registry) OnClear(fn func(userID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onClear = append(r.onClear, fn)
}

// Len is the number of live client sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trackers)
}

func (r *Registry) open(ctx context.Context) (*Tracker, error) {
	t := NewTracker(r.newProvider(), r.logger)
	r.mu.Lock()
	hooks := append([]func(string){}, r.onClear...)
	r.mu.Unlock()
	for _, fn := range hooks {
		t.OnClear(fn)
	}
	if err := t.Start(ctx); err != nil {
		t.Stop()
		return nil, err
	}
	return t, nil
}

func (r *Registry) add(t *Tracker) string {
	token := t.AccessToken()
	r.Prune()
	r.mu.Lock()
	r.trackers[token] = t
	r.mu.Unlock()
	return token
}

func (r *Registry) lookup(token string) *Tracker {
	if token == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trackers[token]
}

func (r *Registry) remove(token string) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.trackers[token]
	delete(r.trackers, token)
	return t
}

// SignIn opens a session for a new client and returns its tracker along with
// the access token the client must present from now on.
func (r *Registry) SignIn(ctx context.Context, email, password string) (*Tracker, string, error) {
	t, err := r.open(ctx)
	if err != nil {
		return nil, "", err
	}
	if _, err := t.SignIn(ctx, email, password); err != nil {
		t.Stop()
		return nil, "", err
	}
	return t, r.add(t), nil
}

// FollowRecoveryLink opens a password-recovery session for the client that
// followed rawURL.
func (r *Registry) FollowRecoveryLink(ctx context.Context, rawURL string) (*Tracker, string, error) {
	t, err := r.open(ctx)
	if err != nil {
		return nil, "", err
	}
	if _, err := t.FollowRecoveryLink(ctx, rawURL); err != nil {
		t.Stop()
		return nil, "", err
	}
	return t, r.add(t), nil
}

// SignUp creates an account without opening a session.
func (r *Registry) SignUp(ctx context.Context, email, password string) error {
	return r.newProvider().SignUp(ctx, email, password)
}

func (r *Registry) RequestCredentialReset(ctx context.Context, email, returnURL string) error {
	return r.newProvider().RequestCredentialReset(ctx, email, returnURL)
}

// Resolve verifies token and returns the tracker of the client holding it.
// Tokens that verify but belong to no open session are rejected, which is
// what makes sign-out final.
func (r *Registry) Resolve(ctx context.Context, token string) (*Tracker, error) {
	if token == "" {
		return nil, ErrNotAuthenticated
	}
	id, err := r.auth.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	t := r.lookup(token)
	if t == nil {
		return nil, ErrNotAuthenticated
	}
	if s := t.Session(); s == nil || s.UserID != id.UserID {
		return nil, ErrNotAuthenticated
	}
	return t, nil
}

// Refresh exchanges the session held under token for a new access token.
// The refresh token must match the session's; token itself may be expired.
func (r *Registry) Refresh(ctx context.Context, token, refreshToken string) (*Tracker, string, error) {
	t := r.lookup(token)
	if t == nil {
		return nil, "", ErrNotAuthenticated
	}
	s := t.Session()
	if s == nil || refreshToken == "" ||
		subtle.ConstantTimeCompare([]byte(s.RefreshToken), []byte(refreshToken)) != 1 {
		return nil, "", ErrNotAuthenticated
	}
	if err := t.Refresh(ctx); err != nil {
		r.remove(token)
		t.Stop()
		return nil, "", err
	}
	next := t.AccessToken()
	r.mu.Lock()
	delete(r.trackers, token)
	r.trackers[next] = t
	r.mu.Unlock()
	return t, next, nil
}

// SignOut ends the session held under token. Unknown tokens are a no-op.
func (r *Registry) SignOut(ctx context.Context, token string) error {
	t := r.remove(token)
	if t == nil {
		return nil
	}
	defer t.Stop()
	return t.SignOut(ctx)
}

// Prune drops sessions that ended or expired longer ago than the refresh
// grace period.
func (r *Registry) Prune() int {
	now := r.now()
	r.mu.Lock()
	var stale []*Tracker
	for token, t := range r.trackers {
		s := t.Session()
		if s == nil || (!s.ExpiresAt.IsZero() && now.After(s.ExpiresAt.Add(r.grace))) {
			delete(r.trackers, token)
			stale = append(stale, t)
		}
	}
	r.mu.Unlock()

	for _, t := range stale {
		t.Stop()
	}
	if len(stale) > 0 {
		r.logger.Debug("Stale sessions pruned", "count", len(stale))
	}
	return len(stale)
}

type ctxKey struct{}

// NewContext returns ctx carrying the tracker of the calling client.
func NewContext(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, ctxKey{}, t)
}

// FromContext returns the tracker stored by NewContext, or nil.
func FromContext(ctx context.Context) *Tracker {
	t, _ := ctx.Value(ctxKey{}).(*Tracker)
	return t
}

// ContextGate gates record access on the tracker carried by the request
// context. A context without one is not authenticated.
type ContextGate struct{}

func (ContextGate) Identity(ctx context.Context) (Identity, error) {
	t := FromContext(ctx)
	if t == nil {
		return Identity{}, ErrNotAuthenticated
	}
	return t.Identity(ctx)
}

// ContextTokens yields the bearer of the tracker carried by ctx.
type ContextTokens struct{}

func (ContextTokens) AccessToken(ctx context.Context) string {
	if t := FromContext(ctx); t != nil {
		return t.AccessToken()
	}
	return ""
}
