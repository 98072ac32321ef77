// Package memory is an in-process record store and user store for development
// and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"dealbook/internal/core"
	"dealbook/internal/session"
	"dealbook/internal/store"
)

type recoveryToken struct {
	userID    string
	expiresAt time.Time
	used      bool
}

type Store struct {
	mu     sync.Mutex
	deals  map[string]core.Deal
	users  map[string]session.User // by id
	tokens map[string]*recoveryToken
}

func New() *Store {
	return &Store{
		deals:  make(map[string]core.Deal),
		users:  make(map[string]session.User),
		tokens: make(map[string]*recoveryToken),
	}
}

// ListDeals returns the user's deals in [From, To), newest first.
func (s *Store) ListDeals(_ context.Context, q store.DealQuery) ([]core.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Deal, 0)
	for _, d := range s.deals {
		if q.Matches(d) {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DealDate.Equal(out[j].DealDate) {
			return out[i].ID > out[j].ID
		}
		return out[i].DealDate.After(out[j].DealDate)
	})
	return out, nil
}

func (s *Store) GetDeal(_ context.Context, userID, id string) (core.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[id]
	if !ok || d.UserID != userID {
		return core.Deal{}, store.ErrNotFound
	}
	return d, nil
}

// InsertDeal assigns a new id and stores the deal.
func (s *Store) InsertDeal(_ context.Context, d core.Deal) (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = uuid.NewString()
	s.deals[d.ID] = d
	return d.ID, nil
}

func (s *Store) UpdateDeal(_ context.Context, userID, id string, patch store.DealPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[id]
	if !ok || d.UserID != userID {
		return store.ErrNotFound
	}
	updated := patch.Apply(d)
	if err := updated.Validate(); err != nil {
		return err
	}
	s.deals[id] = updated
	return nil
}

func (s *Store) DeleteDeal(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[id]
	if !ok || d.UserID != userID {
		return store.ErrNotFound
	}
	delete(s.deals, id)
	return nil
}

func (s *Store) CreateUser(_ context.Context, u session.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return session.ErrEmailTaken
		}
	}
	s.users[u.ID] = u
	return nil
}

func (s *Store) UserByEmail(_ context.Context, email string) (session.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return session.User{}, session.ErrUserNotFound
}

func (s *Store) UserByID(_ context.Context, id string) (session.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return session.User{}, session.ErrUserNotFound
	}
	return u, nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return session.ErrUserNotFound
	}
	u.PasswordHash = hash
	s.users[userID] = u
	return nil
}

func (s *Store) SaveRecoveryToken(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tokenHash] = &recoveryToken{userID: userID, expiresAt: expiresAt}
	return nil
}

func (s *Store) ConsumeRecoveryToken(_ context.Context, tokenHash string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[tokenHash]
	if !ok || tok.used || !now.Before(tok.expiresAt) {
		return "", session.ErrInvalidRecoveryToken
	}
	tok.used = true
	return tok.userID, nil
}
