package repository

import (
	"context"
	"errors"
	"time"

	"phone-auth-service/internal/model"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record was modified concurrently")
)

// ChallengeRepository persists verification challenges. A challenge is
// addressed by (phone, purpose, id); the latest row per (phone, purpose)
// drives all policy decisions, older rows are history.
type ChallengeRepository interface {
	// InsertSuperseding writes a new pending challenge, settling a
	// still-pending predecessor as expired in the same atomic step. The
	// write applies only while prior is still the pair's latest row
	// (nil prior requires the pair to be empty); an unapplied write
	// means a concurrent creator or verifier won and the caller must
	// re-read.
	InsertSuperseding(ctx context.Context, ch, prior *model.Challenge) (bool, error)

	// Latest returns the most recently created challenge for the pair,
	// regardless of status. ErrNotFound when none exists.
	Latest(ctx context.Context, phone, purpose string) (*model.Challenge, error)

	// CompareAndUpdate writes attempts, status, verified-at and bound
	// user guarded on the previously observed attempt counter and a
	// still-pending status. It reports whether the write was applied;
	// an unapplied write means a concurrent verification won the race.
	CompareAndUpdate(ctx context.Context, ch *model.Challenge, priorAttempts int) (bool, error)

	// MarkExpired transitions a pending challenge to expired. Lost races
	// are not an error: if the row already left pending, the call is a
	// no-op.
	MarkExpired(ctx context.Context, ch *model.Challenge) error

	// SetDeliveryReference records the channel message id after a send.
	SetDeliveryReference(ctx context.Context, ch *model.Challenge, ref string) error

	// PurgeDeadBefore removes terminal and expired rows whose expiry
	// passed before the cutoff. Returns the number of rows removed.
	PurgeDeadBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// SessionRepository persists issued sessions, addressable by access
// token, refresh token and owning user.
type SessionRepository interface {
	Insert(ctx context.Context, s *model.Session) error
	GetByToken(ctx context.Context, token string) (*model.Session, error)
	GetByRefreshToken(ctx context.Context, refreshToken string) (*model.Session, error)
	ListByUser(ctx context.Context, userID string) ([]*model.Session, error)

	// Revoke deactivates a single session in place.
	Revoke(ctx context.Context, token string) error

	// RevokeAllForUser deactivates every active session of the user and
	// returns how many were revoked.
	RevokeAllForUser(ctx context.Context, userID string) (int, error)

	// Replace atomically swaps a session for its rotated successor so a
	// refresh never leaves both tokens usable.
	Replace(ctx context.Context, old, renewed *model.Session) error

	// Touch advances the last-activity timestamp.
	Touch(ctx context.Context, token string, at time.Time) error

	PurgeExpiredBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// UserRepository persists account records keyed by id and by a
// deterministic hash of the canonical phone number.
type UserRepository interface {
	Create(ctx context.Context, u *model.User) error
	FindByPhone(ctx context.Context, canonicalPhone string) (*model.User, error)
	FindByID(ctx context.Context, id string) (*model.User, error)
	MarkPhoneVerified(ctx context.Context, id string, at time.Time) error
	RecordLogin(ctx context.Context, id string, at time.Time) error
}
