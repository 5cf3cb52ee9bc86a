package model

import (
	"time"

	"github.com/google/uuid"
)

// ChallengeStatus is the closed set of states a verification challenge
// can be in. Pending is the only non-terminal state.
type ChallengeStatus uint8

const (
	StatusPending ChallengeStatus = iota
	StatusVerified
	StatusExpired
	StatusBlocked
)

func (s ChallengeStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusVerified:
		return "verified"
	case StatusExpired:
		return "expired"
	case StatusBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition may leave s.
func (s ChallengeStatus) IsTerminal() bool {
	return s == StatusVerified || s == StatusExpired || s == StatusBlocked
}

// ParseChallengeStatus maps the persisted representation back to a status.
func ParseChallengeStatus(raw string) (ChallengeStatus, bool) {
	switch raw {
	case "pending":
		return StatusPending, true
	case "verified":
		return StatusVerified, true
	case "expired":
		return StatusExpired, true
	case "blocked":
		return StatusBlocked, true
	default:
		return StatusPending, false
	}
}

// Challenge is a single issued-code record. At most one challenge per
// (phone, purpose) pair may be pending at a time; creating a new one
// supersedes the previous pending entry.
type Challenge struct {
	ID          uuid.UUID       `json:"id"`
	Phone       string          `json:"-"`
	Purpose     string          `json:"purpose"`
	Code        string          `json:"-"`
	Status      ChallengeStatus `json:"-"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	CreatedAt   time.Time       `json:"createdAt"`
	ExpiresAt   time.Time       `json:"expiresAt"`
	VerifiedAt  *time.Time      `json:"verifiedAt,omitempty"`
	BoundUserID string          `json:"-"`
	DeliveryRef string          `json:"-"`
}

// ExpiredAt reports whether the challenge TTL has elapsed at t.
func (c *Challenge) ExpiredAt(t time.Time) bool {
	return !t.Before(c.ExpiresAt)
}

// RemainingAttempts never goes below zero.
func (c *Challenge) RemainingAttempts() int {
	if c.Attempts >= c.MaxAttempts {
		return 0
	}
	return c.MaxAttempts - c.Attempts
}
