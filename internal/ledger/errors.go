package ledger

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoActiveChallenge means nothing is pending for the pair: no
	// code was ever requested, or the latest entry was superseded or
	// already settled as expired.
	ErrNoActiveChallenge = errors.New("no active challenge")

	// ErrAlreadyResolved means the latest challenge was verified; its
	// code cannot be replayed.
	ErrAlreadyResolved = errors.New("challenge already resolved")

	// ErrExpired means the pending challenge outlived its TTL.
	ErrExpired = errors.New("challenge expired")

	// ErrMaxAttemptsReached means the latest challenge is blocked.
	ErrMaxAttemptsReached = errors.New("maximum attempts reached")

	// ErrContention is returned when the conditional write keeps losing
	// against concurrent verifiers.
	ErrContention = errors.New("challenge contention, retry")
)

// CooldownError reports how long the caller must wait before a new
// code can be issued for the pair.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cooldown active, retry in %s", e.Remaining.Round(time.Second))
}

// InvalidCodeError reports a failed comparison. Blocked is set when
// this attempt consumed the last one.
type InvalidCodeError struct {
	Remaining int
	Blocked   bool
}

func (e *InvalidCodeError) Error() string {
	if e.Blocked {
		return "invalid code, challenge blocked"
	}
	return fmt.Sprintf("invalid code, %d attempts remaining", e.Remaining)
}
