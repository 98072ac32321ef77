package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	applog "dealbook/internal/log"
)

type fakeProvider struct {
	mu         sync.Mutex
	current    *Session
	signIn     func(email, password string) (*Session, error)
	refresh    func() (*Session, error)
	verify     func(token string) (*Session, error)
	listeners  map[int]func(Event)
	next       int
	newCred    string
	signedOut  bool
	signOutErr error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{listeners: map[int]func(Event){}}
}

func (f *fakeProvider) emit(ev Event) {
	f.mu.Lock()
	fns := make([]func(Event), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (f *fakeProvider) CurrentSession(context.Context) (*Session, error) { return f.current, nil }

func (f *fakeProvider) OnSessionChange(fn func(Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *fakeProvider) SignIn(_ context.Context, email, password string) (*Session, error) {
	return f.signIn(email, password)
}

func (f *fakeProvider) SignUp(context.Context, string, string) error { return nil }

func (f *fakeProvider) RequestCredentialReset(context.Context, string, string) error { return nil }

func (f *fakeProvider) VerifyRecovery(_ context.Context, token string) (*Session, error) {
	return f.verify(token)
}

func (f *fakeProvider) SetNewCredential(_ context.Context, password string) error {
	f.newCred = password
	return nil
}

func (f *fakeProvider) SignOut(context.Context) error {
	f.signedOut = true
	return f.signOutErr
}

func (f *fakeProvider) Refresh(context.Context) (*Session, error) { return f.refresh() }

func sess(user string, expires time.Time) *Session {
	return &Session{Identity: Identity{UserID: user, Email: user + "@example.com"}, ExpiresAt: expires}
}

func newTestTracker(p Provider) *Tracker {
	return NewTracker(p, applog.New(applog.DefaultConfig()))
}

func TestTrackerGatesUntilStarted(t *testing.T) {
	p := newFakeProvider()
	tr := newTestTracker(p)
	ctx := context.Background()

	if _, err := tr.Identity(ctx); !errors.Is(err, ErrAuthenticating) {
		t.Fatalf("before start: got %v", err)
	}
	if err := tr.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer tr.Stop()
	if _, err := tr.Identity(ctx); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("no session: got %v", err)
	}
	if tr.State() != StateUnauthenticated {
		t.Fatalf("state = %s", tr.State())
	}
}

func TestTrackerSignInFailureRestoresState(t *testing.T) {
	p := newFakeProvider()
	p.signIn = func(string, string) (*Session, error) { return nil, ErrInvalidCredentials }
	tr := newTestTracker(p)
	ctx := context.Background()
	_ = tr.Start(ctx)

	if _, err := tr.SignIn(ctx, "a@example.com", "bad"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("got %v", err)
	}
	if tr.State() != StateUnauthenticated {
		t.Fatalf("state = %s, want unauthenticated", tr.State())
	}
}

func TestTrackerClearsPreviousUser(t *testing.T) {
	p := newFakeProvider()
	p.signIn = func(email, _ string) (*Session, error) { return sess(email, time.Time{}), nil }
	tr := newTestTracker(p)
	ctx := context.Background()
	_ = tr.Start(ctx)

	var cleared []string
	tr.OnClear(func(userID string) { cleared = append(cleared, userID) })

	if _, err := tr.SignIn(ctx, "alice", "pw"); err != nil {
		t.Fatal(err)
	}
	if id, err := tr.Identity(ctx); err != nil || id.UserID != "alice" {
		t.Fatalf("Identity = %+v, %v", id, err)
	}
	if _, err := tr.SignIn(ctx, "bob", "pw"); err != nil {
		t.Fatal(err)
	}
	p.emit(Event{Type: EventSignedOut})

	if len(cleared) != 2 || cleared[0] != "alice" || cleared[1] != "bob" {
		t.Fatalf("cleared = %v", cleared)
	}
	if tr.State() != StateUnauthenticated {
		t.Fatalf("state = %s", tr.State())
	}
}

func TestTrackerRefreshesExpiredSession(t *testing.T) {
	now := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	p := newFakeProvider()
	p.current = sess("alice", now.Add(-time.Minute))
	p.refresh = func() (*Session, error) { return sess("alice", now.Add(time.Hour)), nil }
	tr := newTestTracker(p)
	tr.now = func() time.Time { return now }
	ctx := context.Background()

	if err := tr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if id, err := tr.Identity(ctx); err != nil || id.UserID != "alice" {
		t.Fatalf("Identity = %+v, %v", id, err)
	}

	now = now.Add(2 * time.Hour)
	p.refresh = func() (*Session, error) { return nil, errors.New("refresh token revoked") }
	var cleared string
	tr.OnClear(func(userID string) { cleared = userID })

	if _, err := tr.Identity(ctx); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("got %v", err)
	}
	if cleared != "alice" || tr.State() != StateUnauthenticated {
		t.Fatalf("cleared=%q state=%s", cleared, tr.State())
	}
}

func TestTrackerPasswordRecovery(t *testing.T) {
	p := newFakeProvider()
	p.verify = func(token string) (*Session, error) {
		if token != "tok" {
			return nil, ErrInvalidRecoveryToken
		}
		return sess("alice", time.Time{}), nil
	}
	tr := newTestTracker(p)
	ctx := context.Background()
	_ = tr.Start(ctx)

	if err := tr.SetNewCredential(ctx, "secret1"); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("without session: got %v", err)
	}
	if _, err := tr.FollowRecoveryLink(ctx, "http://localhost/api/auth/callback?token=tok"); !errors.Is(err, ErrInvalidRecoveryToken) {
		t.Fatalf("missing marker: got %v", err)
	}
	if _, err := tr.FollowRecoveryLink(ctx, "http://localhost/api/auth/callback?type=recovery&token=tok"); err != nil {
		t.Fatalf("FollowRecoveryLink: %v", err)
	}
	if tr.State() != StatePasswordRecovery {
		t.Fatalf("state = %s", tr.State())
	}
	if _, err := tr.Identity(ctx); err != nil {
		t.Fatalf("recovery should allow reads: %v", err)
	}
	if err := tr.SetNewCredential(ctx, "secret1"); err != nil {
		t.Fatal(err)
	}
	if tr.State() != StateAuthenticated || p.newCred != "secret1" {
		t.Fatalf("state=%s cred=%q", tr.State(), p.newCred)
	}
}

func TestTrackerSignOutClearsOnProviderError(t *testing.T) {
	p := newFakeProvider()
	p.current = sess("alice", time.Time{})
	p.signOutErr = errors.New("network down")
	tr := newTestTracker(p)
	ctx := context.Background()
	_ = tr.Start(ctx)

	if err := tr.SignOut(ctx); err == nil {
		t.Fatal("expected provider error to be reported")
	}
	if st, id := tr.Snapshot(); st != StateUnauthenticated || id != nil {
		t.Fatalf("Snapshot = %s, %+v", st, id)
	}
}
