package session

import (
	"context"
	"sync"
	"time"

	applog "dealbook/internal/log"
)

type State string

const (
	StateUnauthenticated  State = "unauthenticated"
	StateAuthenticating   State = "authenticating"
	StateAuthenticated    State = "authenticated"
	StatePasswordRecovery State = "password-recovery"
)

// Tracker owns the session of one client. Records may be read only while it
// is authenticated or in password recovery.
type Tracker struct {
	provider Provider
	logger   *applog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	state   State
	session *Session
	onClear []func(userID string)
	unsub   func()
}

func NewTracker(provider Provider, logger *applog.Logger) *Tracker {
	return &Tracker{
		provider: provider,
		logger:   logger.WithComponent(applog.ComponentSession),
		now:      time.Now,
		state:    StateAuthenticating,
	}
}

// OnClear registers fn to run with the previous user's ID whenever that
// user's data must be dropped: sign-out, expiry or a switch to another user.
func (t *Tracker) OnClear(fn func(userID string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClear = append(t.onClear, fn)
}

// Start subscribes to provider events and restores the stored session.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	t.unsub = t.provider.OnSessionChange(t.handleEvent)
	t.mu.Unlock()

	s, err := t.provider.CurrentSession(ctx)
	if err != nil {
		t.apply(StateUnauthenticated, nil)
		return err
	}
	if s == nil {
		t.apply(StateUnauthenticated, nil)
		return nil
	}
	t.apply(StateAuthenticated, s)
	return t.Check(ctx)
}

// Stop unsubscribes from provider events.
func (t *Tracker) Stop() {
	t.mu.Lock()
	unsub := t.unsub
	t.unsub = nil
	t.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Snapshot returns the state and, when a session exists, its identity.
func (t *Tracker) Snapshot() (State, *Identity) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.session == nil {
		return t.state, nil
	}
	id := t.session.Identity
	return t.state, &id
}

// Identity gates record access. It refreshes an expired session first.
func (t *Tracker) Identity(ctx context.Context) (Identity, error) {
	if err := t.Check(ctx); err != nil {
		return Identity{}, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	switch t.state {
	case StateAuthenticating:
		return Identity{}, ErrAuthenticating
	case StateUnauthenticated:
		return Identity{}, ErrNotAuthenticated
	}
	if t.session == nil {
		return Identity{}, ErrNotAuthenticated
	}
	return t.session.Identity, nil
}

// Check refreshes an expired session. A failed refresh signs out locally.
func (t *Tracker) Check(ctx context.Context) error {
	t.mu.RLock()
	s := t.session
	t.mu.RUnlock()
	if s == nil || !s.Expired(t.now()) {
		return nil
	}
	return t.Refresh(ctx)
}

// Refresh asks the provider for a new access token. A failed refresh signs
// out locally.
func (t *Tracker) Refresh(ctx context.Context) error {
	t.mu.RLock()
	s := t.session
	t.mu.RUnlock()
	if s == nil {
		return ErrNotAuthenticated
	}

	refreshed, err := t.provider.Refresh(ctx)
	if err != nil || refreshed == nil {
		t.logger.WarnContext(ctx, "Session refresh failed, signing out",
			applog.FieldUserID, s.UserID, applog.FieldError, err)
		t.apply(StateUnauthenticated, nil)
		return ErrSessionExpired
	}
	t.keepState(refreshed)
	return nil
}

// AccessToken is the bearer of the current session, empty when signed out.
func (t *Tracker) AccessToken() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.session == nil {
		return ""
	}
	return t.session.AccessToken
}

// Session returns a copy of the current session or nil.
func (t *Tracker) Session() *Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.session == nil {
		return nil
	}
	s := *t.session
	return &s
}

// SignIn moves to authenticating for the duration of the provider call and
// restores the previous state if it fails.
func (t *Tracker) SignIn(ctx context.Context, email, password string) (Identity, error) {
	t.mu.Lock()
	prevState, prevSession := t.state, t.session
	t.state = StateAuthenticating
	t.mu.Unlock()

	s, err := t.provider.SignIn(ctx, email, password)
	if err != nil {
		t.mu.Lock()
		if t.state == StateAuthenticating {
			t.state, t.session = prevState, prevSession
		}
		t.mu.Unlock()
		return Identity{}, err
	}
	t.apply(StateAuthenticated, s)
	t.logger.InfoContext(ctx, "Signed in", applog.FieldUserID, s.UserID, applog.FieldOperation, applog.OpSignIn)
	return s.Identity, nil
}

// SignUp creates an account. It does not sign in.
func (t *Tracker) SignUp(ctx context.Context, email, password string) error {
	return t.provider.SignUp(ctx, email, password)
}

func (t *Tracker) RequestCredentialReset(ctx context.Context, email, returnURL string) error {
	return t.provider.RequestCredentialReset(ctx, email, returnURL)
}

// FollowRecoveryLink enters password recovery when rawURL carries the
// recovery marker and its token verifies.
func (t *Tracker) FollowRecoveryLink(ctx context.Context, rawURL string) (Identity, error) {
	token, ok := DetectRecovery(rawURL)
	if !ok || token == "" {
		return Identity{}, ErrInvalidRecoveryToken
	}
	s, err := t.provider.VerifyRecovery(ctx, token)
	if err != nil {
		return Identity{}, err
	}
	t.apply(StatePasswordRecovery, s)
	t.logger.InfoContext(ctx, "Password recovery started", applog.FieldUserID, s.UserID, applog.FieldOperation, applog.OpRecover)
	return s.Identity, nil
}

// SetNewCredential is allowed in recovery or when authenticated and always
// ends authenticated.
func (t *Tracker) SetNewCredential(ctx context.Context, password string) error {
	t.mu.RLock()
	state, s := t.state, t.session
	t.mu.RUnlock()
	if s == nil || (state != StatePasswordRecovery && state != StateAuthenticated) {
		return ErrNotAuthenticated
	}
	if err := t.provider.SetNewCredential(ctx, password); err != nil {
		return err
	}
	t.mu.Lock()
	if t.session != nil {
		t.state = StateAuthenticated
	}
	t.mu.Unlock()
	return nil
}

// SignOut clears local state even when the provider call fails.
func (t *Tracker) SignOut(ctx context.Context) error {
	err := t.provider.SignOut(ctx)
	if err != nil {
		t.logger.WarnContext(ctx, "Provider sign-out failed", applog.FieldError, err)
	}
	t.apply(StateUnauthenticated, nil)
	return err
}

func (t *Tracker) handleEvent(ev Event) {
	switch ev.Type {
	case EventSignedOut:
		t.apply(StateUnauthenticated, nil)
	case EventPasswordRecovery:
		if ev.Session != nil {
			t.apply(StatePasswordRecovery, ev.Session)
		}
	case EventSignedIn, EventUserUpdated:
		if ev.Session != nil {
			t.apply(StateAuthenticated, ev.Session)
		}
	case EventTokenRefreshed:
		if ev.Session != nil {
			t.keepState(ev.Session)
		}
	}
}

// keepState swaps in s without leaving recovery.
func (t *Tracker) keepState(s *Session) {
	t.mu.RLock()
	state := t.state
	t.mu.RUnlock()
	if state != StatePasswordRecovery {
		state = StateAuthenticated
	}
	t.apply(state, s)
}

func (t *Tracker) apply(state State, s *Session) {
	t.mu.Lock()
	var prevUser string
	if t.session != nil {
		prevUser = t.session.UserID
	}
	prevState := t.state
	t.state = state
	t.session = s
	hooks := append([]func(string){}, t.onClear...)
	t.mu.Unlock()

	if prevUser != "" && (s == nil || s.UserID != prevUser) {
		for _, fn := range hooks {
			fn(prevUser)
		}
	}
	if prevState != state {
		t.logger.Debug("Session state changed", "from", string(prevState), applog.FieldState, string(state))
	}
}
