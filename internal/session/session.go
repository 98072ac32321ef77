// Package session tracks the authentication state of each client and defines
// the contract of the session provider that backs it.
package session

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrAuthenticating       = errors.New("authentication in progress")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrEmailTaken           = errors.New("email already registered")
	ErrUserNotFound         = errors.New("user not found")
	ErrWeakPassword         = errors.New("password too short")
	ErrInvalidRecoveryToken = errors.New("invalid or expired recovery token")
	ErrSessionExpired       = errors.New("session expired")
)

// MinPasswordLength is the shortest password a provider accepts.
const MinPasswordLength = 6

type EventType string

const (
	EventSignedIn         EventType = "SIGNED_IN"
	EventSignedOut        EventType = "SIGNED_OUT"
	EventTokenRefreshed   EventType = "TOKEN_REFRESHED"
	EventPasswordRecovery EventType = "PASSWORD_RECOVERY"
	EventUserUpdated      EventType = "USER_UPDATED"
)

type (
	// Identity is the authenticated principal; UserID scopes every record.
	Identity struct {
		UserID string `json:"user_id"`
		Email  string `json:"email"`
	}

	Session struct {
		Identity
		AccessToken  string    `json:"-"`
		RefreshToken string    `json:"-"`
		ExpiresAt    time.Time `json:"expires_at"`
	}

	// Event is emitted by a provider on every session change. Session is nil
	// after sign-out.
	Event struct {
		Type    EventType
		Session *Session
	}

	// User is a locally stored account.
	User struct {
		ID           string
		Email        string
		PasswordHash string
		CreatedAt    time.Time
	}
)

// Expired reports whether the access token is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Provider is the external identity service.
type Provider interface {
	// CurrentSession returns the stored session or nil.
	CurrentSession(ctx context.Context) (*Session, error)
	// OnSessionChange registers fn and returns a function that unregisters it.
	OnSessionChange(fn func(Event)) (unsubscribe func())
	SignIn(ctx context.Context, email, password string) (*Session, error)
	// SignUp creates the account without signing in.
	SignUp(ctx context.Context, email, password string) error
	// RequestCredentialReset sends a recovery link that returns to returnURL.
	// Unknown emails are not reported.
	RequestCredentialReset(ctx context.Context, email, returnURL string) error
	// VerifyRecovery exchanges a recovery link token for a recovery session.
	VerifyRecovery(ctx context.Context, token string) (*Session, error)
	// SetNewCredential changes the password of the current session's user.
	SetNewCredential(ctx context.Context, password string) error
	SignOut(ctx context.Context) error
	Refresh(ctx context.Context) (*Session, error)
}

// Authenticator verifies an access token presented by a client and returns
// the identity it was issued to. Expired tokens yield ErrSessionExpired.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (Identity, error)
}

// UserStore persists accounts and recovery tokens for the local provider.
type UserStore interface {
	CreateUser(ctx context.Context, u User) error
	UserByEmail(ctx context.Context, email string) (User, error)
	UserByID(ctx context.Context, id string) (User, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
	SaveRecoveryToken(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	// ConsumeRecoveryToken marks an unexpired, unused token as used and
	// returns its user.
	ConsumeRecoveryToken(ctx context.Context, tokenHash string, now time.Time) (string, error)
}
