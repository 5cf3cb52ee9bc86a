package memory

import (
	"context"
	"sync"
	"time"

	"phone-auth-service/internal/model"
	"phone-auth-service/internal/repository"
)

// SessionStore is the in-memory session repository for development mode
// and tests.
type SessionStore struct {
	mu        sync.Mutex
	byToken   map[string]*model.Session
	byRefresh map[string]string
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		byToken:   make(map[string]*model.Session),
		byRefresh: make(map[string]string),
	}
}

func (s *SessionStore) Insert(ctx context.Context, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byToken[sess.Token]; exists {
		return repository.ErrConflict
	}
	cp := *sess
	s.byToken[sess.Token] = &cp
	s.byRefresh[sess.RefreshToken] = sess.Token
	return nil
}

func (s *SessionStore) GetByToken(ctx context.Context, token string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byToken[token]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *SessionStore) GetByRefreshToken(ctx context.Context, refreshToken string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.byRefresh[refreshToken]
	if !ok {
		return nil, repository.ErrNotFound
	}
	sess, ok := s.byToken[token]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *SessionStore) ListByUser(ctx context.Context, userID string) ([]*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Session
	for _, sess := range s.byToken {
		if sess.UserID == userID {
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *SessionStore) Revoke(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byToken[token]
	if !ok {
		return repository.ErrNotFound
	}
	sess.IsActive = false
	return nil
}

func (s *SessionStore) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for _, sess := range s.byToken {
		if sess.UserID == userID && sess.IsActive {
			sess.IsActive = false
			revoked++
		}
	}
	return revoked, nil
}

func (s *SessionStore) Replace(ctx context.Context, old, renewed *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.byToken[old.Token]
	if !ok {
		return repository.ErrNotFound
	}
	prev.IsActive = false
	delete(s.byRefresh, old.RefreshToken)

	cp := *renewed
	s.byToken[renewed.Token] = &cp
	s.byRefresh[renewed.RefreshToken] = renewed.Token
	return nil
}

func (s *SessionStore) Touch(ctx context.Context, token string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byToken[token]
	if !ok {
		return repository.ErrNotFound
	}
	sess.LastActivity = at
	return nil
}

func (s *SessionStore) PurgeExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for token, sess := range s.byToken {
		if sess.RefreshExpiresAt.Before(cutoff) {
			delete(s.byToken, token)
			delete(s.byRefresh, sess.RefreshToken)
			purged++
		}
	}
	return purged, nil
}
