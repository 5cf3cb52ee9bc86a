package ledger

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/google/uuid"

	"phone-auth-service/internal/model"
	"phone-auth-service/internal/phone"
	"phone-auth-service/internal/repository"
	"phone-auth-service/internal/util"
)

// casRetries bounds the re-read loop when a conditional write loses
// against a concurrent verifier.
const casRetries = 3

// Config is the verification policy for issued challenges.
type Config struct {
	CodeLength  int
	TTL         time.Duration
	MaxAttempts int
	Cooldown    time.Duration
}

// Ledger owns the challenge state machine. Every transition is driven
// through the repository's conditional writes, so the store is the
// serialization point and the ledger itself holds no locks.
type Ledger struct {
	repo     repository.ChallengeRepository
	cfg      Config
	cooldown CooldownPolicy
	now      func() time.Time
}

func New(repo repository.ChallengeRepository, cfg Config) *Ledger {
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = 6
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Ledger{
		repo:     repo,
		cfg:      cfg,
		cooldown: CooldownPolicy{Window: cfg.Cooldown},
		now:      time.Now,
	}
}

func (l *Ledger) Config() Config {
	return l.cfg
}

// CooldownRemaining reports how long until a new code may be issued
// for the pair. Zero means issuance is allowed now.
func (l *Ledger) CooldownRemaining(ctx context.Context, phoneNumber, purpose string) (time.Duration, error) {
	latest, err := l.repo.Latest(ctx, phoneNumber, purpose)
	if err == repository.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if remaining := l.cooldown.Remaining(latest.CreatedAt, l.now().UTC()); remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}

// Create issues a fresh challenge for the pair. The cooldown window is
// checked against the latest entry regardless of its status; the write
// itself atomically supersedes a still-pending predecessor, conditioned
// on the observed latest entry, so two simultaneous requests can never
// both leave a pending row. Whoever loses the write re-reads and
// re-evaluates the cooldown against the winner's entry.
func (l *Ledger) Create(ctx context.Context, phoneNumber, purpose string) (*model.Challenge, error) {
	for i := 0; i < casRetries; i++ {
		now := l.now().UTC()

		latest, err := l.repo.Latest(ctx, phoneNumber, purpose)
		if err != nil && err != repository.ErrNotFound {
			return nil, err
		}

		if latest != nil {
			if remaining := l.cooldown.Remaining(latest.CreatedAt, now); remaining > 0 {
				return nil, &CooldownError{Remaining: remaining}
			}
		}

		code, err := GenerateCode(l.cfg.CodeLength)
		if err != nil {
			return nil, err
		}

		ch := &model.Challenge{
			ID:          uuid.New(),
			Phone:       phoneNumber,
			Purpose:     purpose,
			Code:        code,
			Status:      model.StatusPending,
			Attempts:    0,
			MaxAttempts: l.cfg.MaxAttempts,
			CreatedAt:   now,
			ExpiresAt:   now.Add(l.cfg.TTL),
		}

		applied, err := l.repo.InsertSuperseding(ctx, ch, latest)
		if err != nil {
			return nil, err
		}
		if !applied {
			continue
		}

		util.Info("Challenge created",
			util.String("challenge_id", ch.ID.String()),
			util.String("phone", phone.Mask(phoneNumber)),
			util.String("purpose", purpose),
			util.Time("expires_at", ch.ExpiresAt))
		return ch, nil
	}
	return nil, ErrContention
}

// FindActive returns the pending challenge for the pair, applying lazy
// expiry: a pending entry whose TTL has elapsed is settled as expired
// on read.
func (l *Ledger) FindActive(ctx context.Context, phoneNumber, purpose string) (*model.Challenge, error) {
	latest, err := l.repo.Latest(ctx, phoneNumber, purpose)
	if err == repository.ErrNotFound {
		return nil, ErrNoActiveChallenge
	}
	if err != nil {
		return nil, err
	}

	switch latest.Status {
	case model.StatusVerified:
		return nil, ErrAlreadyResolved
	case model.StatusBlocked:
		return nil, ErrMaxAttemptsReached
	case model.StatusExpired:
		return nil, ErrNoActiveChallenge
	}

	if latest.ExpiredAt(l.now().UTC()) {
		if err := l.repo.MarkExpired(ctx, latest); err != nil {
			util.Warn("Failed lazy expiry",
				util.String("challenge_id", latest.ID.String()),
				util.ErrorField(err))
		}
		return nil, ErrExpired
	}
	return latest, nil
}

// Verify consumes one attempt and compares the code. The attempt is
// claimed with a conditional write before the outcome matters, so two
// racing verifiers can never spend the same attempt; whoever loses the
// write re-reads and retries against the fresh counter.
func (l *Ledger) Verify(ctx context.Context, phoneNumber, purpose, code string) (*model.Challenge, error) {
	for i := 0; i < casRetries; i++ {
		ch, err := l.FindActive(ctx, phoneNumber, purpose)
		if err != nil {
			return nil, err
		}

		prior := ch.Attempts
		ch.Attempts = prior + 1

		match := subtle.ConstantTimeCompare([]byte(ch.Code), []byte(code)) == 1
		switch {
		case match:
			t := l.now().UTC()
			ch.Status = model.StatusVerified
			ch.VerifiedAt = &t
		case ch.Attempts >= ch.MaxAttempts:
			ch.Status = model.StatusBlocked
		}

		applied, err := l.repo.CompareAndUpdate(ctx, ch, prior)
		if err != nil {
			return nil, err
		}
		if !applied {
			continue
		}

		if match {
			util.Info("Challenge verified",
				util.String("challenge_id", ch.ID.String()),
				util.String("phone", phone.Mask(phoneNumber)),
				util.Int("attempts", ch.Attempts))
			return ch, nil
		}
		if ch.Status == model.StatusBlocked {
			util.Warn("Challenge blocked",
				util.String("challenge_id", ch.ID.String()),
				util.String("phone", phone.Mask(phoneNumber)))
			return nil, &InvalidCodeError{Remaining: 0, Blocked: true}
		}
		return nil, &InvalidCodeError{Remaining: ch.RemainingAttempts()}
	}
	return nil, ErrContention
}

// RecordDelivery stores the channel message id on the challenge.
func (l *Ledger) RecordDelivery(ctx context.Context, ch *model.Challenge, reference string) error {
	ch.DeliveryRef = reference
	return l.repo.SetDeliveryReference(ctx, ch, reference)
}
