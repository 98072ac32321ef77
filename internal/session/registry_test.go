package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	applog "dealbook/internal/log"
)

// tokenAuth accepts the tokens it has been told about.
type tokenAuth struct {
	mu    sync.Mutex
	valid map[string]Identity
	n     int
}

func (a *tokenAuth) Authenticate(_ context.Context, token string) (Identity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.valid[token]
	if !ok {
		return Identity{}, ErrNotAuthenticated
	}
	return id, nil
}

func (a *tokenAuth) issue(user string) *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.n++
	tok := fmt.Sprintf("tok-%d", a.n)
	s := &Session{
		Identity:     Identity{UserID: user, Email: user + "@example.com"},
		AccessToken:  tok,
		RefreshToken: "refresh-" + tok,
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	a.valid[tok] = s.Identity
	return s
}

func newTestRegistry() (*Registry, *tokenAuth) {
	auth := &tokenAuth{valid: map[string]Identity{}}
	newProvider := func() Provider {
		p := newFakeProvider()
		var last *Session
		p.signIn = func(user, password string) (*Session, error) {
			if password != "pw" {
				return nil, ErrInvalidCredentials
			}
			last = auth.issue(user)
			return last, nil
		}
		p.refresh = func() (*Session, error) {
			last = auth.issue(last.UserID)
			return last, nil
		}
		return p
	}
	return NewRegistry(newProvider, auth, applog.New(applog.DefaultConfig())), auth
}

func TestRegistryKeepsClientsApart(t *testing.T) {
	r, auth := newTestRegistry()
	ctx := context.Background()
	var cleared []string
	r.OnClear(func(userID string) { cleared = append(cleared, userID) })

	_, alice, err := r.SignIn(ctx, "alice", "pw")
	if err != nil {
		t.Fatal(err)
	}
	_, bob, err := r.SignIn(ctx, "bob", "pw")
	if err != nil {
		t.Fatal(err)
	}
	if r.Len() != 2 {
		t.Fatalf("Len = %d", r.Len())
	}

	for token, want := range map[string]string{alice: "alice", bob: "bob"} {
		tr, err := r.Resolve(ctx, token)
		if err != nil {
			t.Fatalf("Resolve(%s): %v", token, err)
		}
		if id, err := tr.Identity(ctx); err != nil || id.UserID != want {
			t.Fatalf("Identity = %+v, %v; want %s", id, err, want)
		}
	}
	for _, token := range []string{"", "tok-unknown"} {
		if _, err := r.Resolve(ctx, token); !errors.Is(err, ErrNotAuthenticated) {
			t.Fatalf("Resolve(%q): got %v", token, err)
		}
	}

	if err := r.SignOut(ctx, alice); err != nil {
		t.Fatal(err)
	}
	// the token still verifies; the closed session is what rejects it
	if _, err := auth.Authenticate(ctx, alice); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Resolve(ctx, alice); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("after sign-out: got %v", err)
	}
	if _, err := r.Resolve(ctx, bob); err != nil {
		t.Fatalf("bob after alice's sign-out: %v", err)
	}
	if len(cleared) != 1 || cleared[0] != "alice" {
		t.Fatalf("cleared = %v", cleared)
	}
	if err := r.SignOut(ctx, alice); err != nil {
		t.Fatalf("second sign-out: %v", err)
	}
}

func TestRegistryRejectsForeignIdentity(t *testing.T) {
	r, auth := newTestRegistry()
	ctx := context.Background()
	_, token, err := r.SignIn(ctx, "alice", "pw")
	if err != nil {
		t.Fatal(err)
	}
	auth.mu.Lock()
	auth.valid[token] = Identity{UserID: "mallory"}
	auth.mu.Unlock()
	if _, err := r.Resolve(ctx, token); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("got %v", err)
	}
}

func TestRegistrySignInFailureOpensNothing(t *testing.T) {
	r, _ := newTestRegistry()
	if _, _, err := r.SignIn(context.Background(), "alice", "bad"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("got %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("Len = %d", r.Len())
	}
}

func TestRegistryRefreshRekeys(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	_, token, err := r.SignIn(ctx, "alice", "pw")
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := r.Refresh(ctx, token, "refresh-other"); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("wrong refresh token: got %v", err)
	}
	if _, _, err := r.Refresh(ctx, "tok-unknown", "refresh-"+token); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("unknown access token: got %v", err)
	}

	_, next, err := r.Refresh(ctx, token, "refresh-"+token)
	if err != nil {
		t.Fatal(err)
	}
	if next == token {
		t.Fatal("refresh kept the old token")
	}
	if _, err := r.Resolve(ctx, token); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("old token: got %v", err)
	}
	if _, err := r.Resolve(ctx, next); err != nil {
		t.Fatalf("new token: %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d", r.Len())
	}
}

func TestRegistryPrunesExpiredSessions(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	if _, _, err := r.SignIn(ctx, "alice", "pw"); err != nil {
		t.Fatal(err)
	}
	if n := r.Prune(); n != 0 {
		t.Fatalf("pruned a live session: %d", n)
	}
	r.now = func() time.Time { return time.Now().Add(time.Hour + DefaultRefreshGrace + time.Minute) }
	if n := r.Prune(); n != 1 || r.Len() != 0 {
		t.Fatalf("Prune = %d, Len = %d", n, r.Len())
	}
}

func TestContextGate(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	if _, err := (ContextGate{}).Identity(ctx); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("bare context: got %v", err)
	}
	if tok := (ContextTokens{}).AccessToken(ctx); tok != "" {
		t.Fatalf("bare context token = %q", tok)
	}

	tr, token, err := r.SignIn(ctx, "alice", "pw")
	if err != nil {
		t.Fatal(err)
	}
	ctx = NewContext(ctx, tr)
	if id, err := (ContextGate{}).Identity(ctx); err != nil || id.UserID != "alice" {
		t.Fatalf("Identity = %+v, %v", id, err)
	}
	if tok := (ContextTokens{}).AccessToken(ctx); tok != token {
		t.Fatalf("AccessToken = %q, want %q", tok, token)
	}
}
