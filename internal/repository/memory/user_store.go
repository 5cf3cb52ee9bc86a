package memory

import (
	"context"
	"sync"
	"time"

	"phone-auth-service/internal/model"
	"phone-auth-service/internal/phone"
	"phone-auth-service/internal/repository"
)

// UserStore is the in-memory user repository for development mode and
// tests. Phone lookups go through the same deterministic hash key the
// cluster store uses.
type UserStore struct {
	mu          sync.Mutex
	byID        map[string]*model.User
	byPhoneHash map[string]string
}

func NewUserStore() *UserStore {
	return &UserStore{
		byID:        make(map[string]*model.User),
		byPhoneHash: make(map[string]string),
	}
}

func (s *UserStore) Create(ctx context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := phone.Hash(u.Phone)
	if _, exists := s.byPhoneHash[hash]; exists {
		return repository.ErrConflict
	}
	cp := *u
	s.byID[u.ID] = &cp
	s.byPhoneHash[hash] = u.ID
	return nil
}

func (s *UserStore) FindByPhone(ctx context.Context, canonicalPhone string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byPhoneHash[phone.Hash(canonicalPhone)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *UserStore) FindByID(ctx context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *UserStore) MarkPhoneVerified(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	t := at
	u.PhoneVerifiedAt = &t
	return nil
}

func (s *UserStore) RecordLogin(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	t := at
	u.LastLogin = &t
	return nil
}
