package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"phone-auth-service/internal/model"
	"phone-auth-service/internal/repository"
)

type pairKey struct {
	phone   string
	purpose string
}

// ChallengeStore is a mutex-guarded in-memory implementation used in
// development mode and tests. The mutex gives the same all-or-nothing
// attempt-counter semantics the cluster store gets from conditional
// writes.
type ChallengeStore struct {
	mu   sync.Mutex
	rows map[pairKey][]*model.Challenge
}

func NewChallengeStore() *ChallengeStore {
	return &ChallengeStore{rows: make(map[pairKey][]*model.Challenge)}
}

// Insert seeds a row unconditionally. Test helper only; production
// writes go through InsertSuperseding.
func (s *ChallengeStore) Insert(ctx context.Context, ch *model.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{phone: ch.Phone, purpose: ch.Purpose}
	cp := *ch
	s.rows[key] = append(s.rows[key], &cp)
	return nil
}

// InsertSuperseding performs the latest-check, predecessor expiry and
// insert under one mutex acquisition, so two racing creators can never
// both leave a pending row behind.
func (s *ChallengeStore) InsertSuperseding(ctx context.Context, ch, prior *model.Challenge) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{phone: ch.Phone, purpose: ch.Purpose}
	rows := s.rows[key]
	var latest *model.Challenge
	for _, r := range rows {
		if latest == nil || !r.CreatedAt.Before(latest.CreatedAt) {
			latest = r
		}
	}

	switch {
	case prior == nil:
		if latest != nil {
			return false, nil
		}
	case latest == nil || latest.ID != prior.ID:
		return false, nil
	case prior.Status == model.StatusPending && latest.Status != model.StatusPending:
		// A verifier settled the row after the caller read it.
		return false, nil
	}

	if latest != nil && latest.Status == model.StatusPending {
		latest.Status = model.StatusExpired
	}
	cp := *ch
	s.rows[key] = append(rows, &cp)
	return true, nil
}

func (s *ChallengeStore) Latest(ctx context.Context, phone, purpose string) (*model.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.rows[pairKey{phone: phone, purpose: purpose}]
	if len(rows) == 0 {
		return nil, repository.ErrNotFound
	}
	// Ties on CreatedAt resolve to the most recently appended row.
	latest := rows[0]
	for _, r := range rows[1:] {
		if !r.CreatedAt.Before(latest.CreatedAt) {
			latest = r
		}
	}
	cp := *latest
	return &cp, nil
}

func (s *ChallengeStore) CompareAndUpdate(ctx context.Context, ch *model.Challenge, priorAttempts int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.find(ch)
	if row == nil {
		return false, repository.ErrNotFound
	}
	if row.Attempts != priorAttempts || row.Status != model.StatusPending {
		return false, nil
	}
	row.Attempts = ch.Attempts
	row.Status = ch.Status
	row.VerifiedAt = ch.VerifiedAt
	row.BoundUserID = ch.BoundUserID
	return true, nil
}

func (s *ChallengeStore) MarkExpired(ctx context.Context, ch *model.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.find(ch)
	if row == nil {
		return repository.ErrNotFound
	}
	if row.Status == model.StatusPending {
		row.Status = model.StatusExpired
	}
	return nil
}

func (s *ChallengeStore) SetDeliveryReference(ctx context.Context, ch *model.Challenge, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.find(ch)
	if row == nil {
		return repository.ErrNotFound
	}
	row.DeliveryRef = ref
	return nil
}

func (s *ChallengeStore) PurgeDeadBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for key, rows := range s.rows {
		kept := rows[:0]
		for _, r := range rows {
			if r.Status != model.StatusPending && r.ExpiresAt.Before(cutoff) {
				purged++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(s.rows, key)
		} else {
			s.rows[key] = kept
		}
	}
	return purged, nil
}

// History returns every stored row for the pair, newest first. Test
// helper only.
func (s *ChallengeStore) History(phone, purpose string) []*model.Challenge {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.rows[pairKey{phone: phone, purpose: purpose}]
	out := make([]*model.Challenge, 0, len(rows))
	for _, r := range rows {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *ChallengeStore) find(ch *model.Challenge) *model.Challenge {
	for _, r := range s.rows[pairKey{phone: ch.Phone, purpose: ch.Purpose}] {
		if r.ID == ch.ID {
			return r
		}
	}
	return nil
}
