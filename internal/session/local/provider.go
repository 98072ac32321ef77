// Package local is a session provider backed by a session.UserStore. Access
// tokens are HS256 JWTs and passwords are bcrypt hashes.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	applog "dealbook/internal/log"
	"dealbook/internal/session"
)

const (
	issuer           = "dealbook"
	recoveryTokenTTL = time.Hour
)

// Notifier delivers recovery links to the account owner.
type Notifier interface {
	SendRecoveryLink(ctx context.Context, email, link string) error
}

// LogNotifier writes recovery links to the log.
type LogNotifier struct {
	Logger *applog.Logger
}

func (n LogNotifier) SendRecoveryLink(ctx context.Context, email, link string) error {
	n.Logger.InfoContext(ctx, "Password recovery link issued", "email", email, "link", link)
	return nil
}

type Options struct {
	Secret     []byte
	TokenTTL   time.Duration
	BcryptCost int
	Notifier   Notifier
}

type Provider struct {
	users  session.UserStore
	opts   Options
	logger *applog.Logger
	now    func() time.Time

	mu        sync.Mutex
	current   *session.Session
	listeners map[int]func(session.Event)
	nextID    int
}

func New(users session.UserStore, opts Options, logger *applog.Logger) (*Provider, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("local session provider: empty secret")
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = time.Hour
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	logger = logger.WithComponent(applog.ComponentSession)
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{Logger: logger}
	}
	return &Provider{
		users:     users,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
		listeners: make(map[int]func(session.Event)),
	}, nil
}

// Clone returns a provider over the same accounts and secret with no
// session of its own.
func (p *Provider) Clone() *Provider {
	return &Provider{
		users:     p.users,
		opts:      p.opts,
		logger:    p.logger,
		now:       p.now,
		listeners: make(map[int]func(session.Event)),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (p *Provider) CurrentSession(_ context.Context) (*session.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil, nil
	}
	s := *p.current
	return &s, nil
}

func (p *Provider) OnSessionChange(fn func(session.Event)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (*session.Session, error) {
	u, err := p.users.UserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, session.ErrUserNotFound) {
		return nil, session.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, session.ErrInvalidCredentials
	}
	return p.startSession(session.EventSignedIn, u)
}

func (p *Provider) SignUp(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email %q", email)
	}
	if len(password) < session.MinPasswordLength {
		return session.ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.opts.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u := session.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    p.now(),
	}
	if err := p.users.CreateUser(ctx, u); err != nil {
		return err
	}
	p.logger.InfoContext(ctx, "User signed up", applog.FieldUserID, u.ID, applog.FieldOperation, applog.OpSignUp)
	return nil
}

// RequestCredentialReset returns nil for unknown emails.
func (p *Provider) RequestCredentialReset(ctx context.Context, email, returnURL string) error {
	u, err := p.users.UserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, session.ErrUserNotFound) {
		p.logger.DebugContext(ctx, "Recovery requested for unknown email")
		return nil
	}
	if err != nil {
		return err
	}

	token := uuid.NewString()
	if err := p.users.SaveRecoveryToken(ctx, hashToken(token), u.ID, p.now().Add(recoveryTokenTTL)); err != nil {
		return err
	}
	link, err := session.RecoveryLink(returnURL, token)
	if err != nil {
		return fmt.Errorf("build recovery link: %w", err)
	}
	return p.opts.Notifier.SendRecoveryLink(ctx, u.Email, link)
}

func (p *Provider) VerifyRecovery(ctx context.Context, token string) (*session.Session, error) {
	userID, err := p.users.ConsumeRecoveryToken(ctx, hashToken(token), p.now())
	if err != nil {
		return nil, err
	}
	u, err := p.users.UserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return p.startSession(session.EventPasswordRecovery, u)
}

func (p *Provider) SetNewCredential(ctx context.Context, password string) error {
	p.mu.Lock()
	current := p.current
	p.mu.Unlock()
	if current == nil {
		return session.ErrNotAuthenticated
	}
	if len(password) < session.MinPasswordLength {
		return session.ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.opts.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := p.users.UpdatePasswordHash(ctx, current.UserID, string(hash)); err != nil {
		return err
	}
	s := *current
	p.emit(session.Event{Type: session.EventUserUpdated, Session: &s})
	return nil
}

func (p *Provider) SignOut(_ context.Context) error {
	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()
	p.emit(session.Event{Type: session.EventSignedOut})
	return nil
}

// Refresh re-issues the access token of the current session.
func (p *Provider) Refresh(ctx context.Context) (*session.Session, error) {
	p.mu.Lock()
	current := p.current
	p.mu.Unlock()
	if current == nil {
		return nil, session.ErrNotAuthenticated
	}
	u, err := p.users.UserByID(ctx, current.UserID)
	if err != nil {
		return nil, err
	}
	return p.startSession(session.EventTokenRefreshed, u)
}

// Authenticate verifies a token issued by any provider sharing this secret
// and checks that its user still exists.
func (p *Provider) Authenticate(ctx context.Context, token string) (session.Identity, error) {
	claims := &jwt.StandardClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.opts.Secret, nil
	})
	var verr *jwt.ValidationError
	if errors.As(err, &verr) && verr.Errors == jwt.ValidationErrorExpired {
		return session.Identity{}, session.ErrSessionExpired
	}
	if err != nil || !parsed.Valid || claims.Issuer != issuer {
		return session.Identity{}, session.ErrNotAuthenticated
	}
	u, err := p.users.UserByID(ctx, claims.Subject)
	if errors.Is(err, session.ErrUserNotFound) {
		return session.Identity{}, session.ErrNotAuthenticated
	}
	if err != nil {
		return session.Identity{}, err
	}
	return session.Identity{UserID: u.ID, Email: u.Email}, nil
}

func (p *Provider) startSession(ev session.EventType, u session.User) (*session.Session, error) {
	now := p.now()
	expires := now.Add(p.opts.TokenTTL)
	claims := jwt.StandardClaims{
		Subject:   u.ID,
		Issuer:    issuer,
		IssuedAt:  now.Unix(),
		ExpiresAt: expires.Unix(),
		Id:        uuid.NewString(),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.opts.Secret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	s := &session.Session{
		Identity:     session.Identity{UserID: u.ID, Email: u.Email},
		AccessToken:  access,
		RefreshToken: uuid.NewString(),
		ExpiresAt:    expires,
	}

	p.mu.Lock()
	p.current = s
	p.mu.Unlock()

	out := *s
	p.emit(session.Event{Type: ev, Session: &out})
	return &out, nil
}

func (p *Provider) emit(ev session.Event) {
	p.mu.Lock()
	fns := make([]func(session.Event), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
