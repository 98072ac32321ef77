package local

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	applog "dealbook/internal/log"
	"dealbook/internal/session"
	"dealbook/internal/store/memory"
)

type captureNotifier struct {
	email, link string
}

func (c *captureNotifier) SendRecoveryLink(_ context.Context, email, link string) error {
	c.email, c.link = email, link
	return nil
}

func newTestProvider(t *testing.T) (*Provider, *captureNotifier) {
	t.Helper()
	n := &captureNotifier{}
	p, err := New(memory.New(), Options{
		Secret:     []byte("0123456789abcdef"),
		TokenTTL:   time.Hour,
		BcryptCost: bcrypt.MinCost,
		Notifier:   n,
	}, applog.New(applog.DefaultConfig()))
	if err != nil {
		t.Fatal(err)
	}
	return p, n
}

func TestSignUpDoesNotSignIn(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProvider(t)

	if err := p.SignUp(ctx, "Alice@Example.com ", "secret1"); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if s, _ := p.CurrentSession(ctx); s != nil {
		t.Fatalf("expected no session after sign-up, got %+v", s)
	}
	if err := p.SignUp(ctx, "alice@example.com", "secret1"); !errors.Is(err, session.ErrEmailTaken) {
		t.Fatalf("duplicate sign-up: got %v", err)
	}
	if err := p.SignUp(ctx, "bob@example.com", "123"); !errors.Is(err, session.ErrWeakPassword) {
		t.Fatalf("weak password: got %v", err)
	}
}

func TestSignInIssuesVerifiableToken(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProvider(t)
	_ = p.SignUp(ctx, "alice@example.com", "secret1")

	var events []session.EventType
	unsub := p.OnSessionChange(func(ev session.Event) { events = append(events, ev.Type) })
	defer unsub()

	if _, err := p.SignIn(ctx, "alice@example.com", "wrong!"); !errors.Is(err, session.ErrInvalidCredentials) {
		t.Fatalf("wrong password: got %v", err)
	}
	if _, err := p.SignIn(ctx, "nobody@example.com", "secret1"); !errors.Is(err, session.ErrInvalidCredentials) {
		t.Fatalf("unknown user: got %v", err)
	}

	s, err := p.SignIn(ctx, "ALICE@example.com", "secret1")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	id, err := p.Authenticate(ctx, s.AccessToken)
	if err != nil || id.UserID != s.UserID || id.Email != "alice@example.com" {
		t.Fatalf("Authenticate = %+v, %v", id, err)
	}
	if _, err := p.Authenticate(ctx, s.AccessToken+"x"); !errors.Is(err, session.ErrNotAuthenticated) {
		t.Fatalf("tampered token: got %v", err)
	}

	refreshed, err := p.Refresh(ctx)
	if err != nil || refreshed.UserID != s.UserID {
		t.Fatalf("Refresh = %+v, %v", refreshed, err)
	}
	if err := p.SignOut(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Refresh(ctx); !errors.Is(err, session.ErrNotAuthenticated) {
		t.Fatalf("refresh after sign-out: got %v", err)
	}

	want := []session.EventType{session.EventSignedIn, session.EventTokenRefreshed, session.EventSignedOut}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}

func TestPasswordRecoveryFlow(t *testing.T) {
	ctx := context.Background()
	p, n := newTestProvider(t)
	_ = p.SignUp(ctx, "alice@example.com", "secret1")

	if err := p.RequestCredentialReset(ctx, "nobody@example.com", "http://localhost/cb"); err != nil {
		t.Fatalf("unknown email should not error: %v", err)
	}
	if n.link != "" {
		t.Fatal("no link should be sent for unknown email")
	}

	if err := p.RequestCredentialReset(ctx, "alice@example.com", "http://localhost/cb"); err != nil {
		t.Fatal(err)
	}
	if n.email != "alice@example.com" || !strings.Contains(n.link, "type=recovery") {
		t.Fatalf("unexpected link %q to %q", n.link, n.email)
	}
	token, ok := session.DetectRecovery(n.link)
	if !ok || token == "" {
		t.Fatalf("link not detected: %q", n.link)
	}

	var last session.EventType
	p.OnSessionChange(func(ev session.Event) { last = ev.Type })

	s, err := p.VerifyRecovery(ctx, token)
	if err != nil {
		t.Fatalf("VerifyRecovery: %v", err)
	}
	if last != session.EventPasswordRecovery || s.Email != "alice@example.com" {
		t.Fatalf("event=%s session=%+v", last, s)
	}
	if _, err := p.VerifyRecovery(ctx, token); !errors.Is(err, session.ErrInvalidRecoveryToken) {
		t.Fatalf("token reuse: got %v", err)
	}

	if err := p.SetNewCredential(ctx, "newsecret"); err != nil {
		t.Fatal(err)
	}
	if last != session.EventUserUpdated {
		t.Fatalf("event = %s", last)
	}
	if _, err := p.SignIn(ctx, "alice@example.com", "secret1"); !errors.Is(err, session.ErrInvalidCredentials) {
		t.Fatalf("old password still works: %v", err)
	}
	if _, err := p.SignIn(ctx, "alice@example.com", "newsecret"); err != nil {
		t.Fatalf("new password: %v", err)
	}
}

func TestNewRequiresSecret(t *testing.T) {
	if _, err := New(memory.New(), Options{}, applog.New(applog.DefaultConfig())); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestAuthenticateRejectsExpiredAndForeignTokens(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProvider(t)
	_ = p.SignUp(ctx, "alice@example.com", "secret1")

	p.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := p.SignIn(ctx, "alice@example.com", "secret1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Authenticate(ctx, old.AccessToken); !errors.Is(err, session.ErrSessionExpired) {
		t.Fatalf("expired token: got %v", err)
	}

	other, err := New(memory.New(), Options{Secret: []byte("another-secret-0000")}, applog.New(applog.DefaultConfig()))
	if err != nil {
		t.Fatal(err)
	}
	p.now = time.Now
	s, err := p.SignIn(ctx, "alice@example.com", "secret1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Authenticate(ctx, s.AccessToken); !errors.Is(err, session.ErrNotAuthenticated) {
		t.Fatalf("token from another secret: got %v", err)
	}
	if _, err := p.Authenticate(ctx, "not-a-jwt"); !errors.Is(err, session.ErrNotAuthenticated) {
		t.Fatalf("garbage token: got %v", err)
	}
}

func TestCloneKeepsSessionsApart(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProvider(t)
	_ = p.SignUp(ctx, "alice@example.com", "secret1")
	_ = p.SignUp(ctx, "bob@example.com", "secret1")

	a, b := p.Clone(), p.Clone()
	sa, err := a.SignIn(ctx, "alice@example.com", "secret1")
	if err != nil {
		t.Fatal(err)
	}
	if cur, _ := b.CurrentSession(ctx); cur != nil {
		t.Fatalf("clone saw another clone's session: %+v", cur)
	}
	if _, err := b.SignIn(ctx, "bob@example.com", "secret1"); err != nil {
		t.Fatal(err)
	}
	if cur, _ := a.CurrentSession(ctx); cur == nil || cur.UserID != sa.UserID {
		t.Fatalf("a's session changed: %+v", cur)
	}
	// any clone verifies tokens issued by another
	if id, err := b.Authenticate(ctx, sa.AccessToken); err != nil || id.UserID != sa.UserID {
		t.Fatalf("Authenticate across clones = %+v, %v", id, err)
	}
}
