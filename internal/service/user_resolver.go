package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"phone-auth-service/internal/model"
	"phone-auth-service/internal/repository"
	"phone-auth-service/internal/util"
)

// UserResolver maps a verified phone number to an identity, creating
// one on first verification. Injected so the orchestration layer never
// depends on how accounts are provisioned.
type UserResolver interface {
	// Resolve returns the user owning the canonical number, creating a
	// new account when none exists. The bool reports creation.
	Resolve(ctx context.Context, canonicalPhone string) (*model.User, bool, error)

	// RecordVerification stamps a successful verification on the user.
	RecordVerification(ctx context.Context, userID string, at time.Time) error
}

// RepositoryUserResolver provisions users in the local store. New
// accounts get a placeholder name from the last four digits and an
// acc_-prefixed account id.
type RepositoryUserResolver struct {
	users repository.UserRepository
	now   func() time.Time
}

func NewRepositoryUserResolver(users repository.UserRepository) *RepositoryUserResolver {
	return &RepositoryUserResolver{
		users: users,
		now:   time.Now,
	}
}

func (r *RepositoryUserResolver) Resolve(ctx context.Context, canonicalPhone string) (*model.User, bool, error) {
	u, err := r.users.FindByPhone(ctx, canonicalPhone)
	if err == nil {
		return u, false, nil
	}
	if err != repository.ErrNotFound {
		return nil, false, err
	}

	u = &model.User{
		ID:        uuid.New().String(),
		AccountID: newAccountID(),
		Name:      "User " + lastDigits(canonicalPhone, 4),
		Phone:     canonicalPhone,
		CreatedAt: r.now().UTC(),
	}

	if err := r.users.Create(ctx, u); err != nil {
		if err == repository.ErrConflict {
			// Lost a creation race; the winner's record is the user.
			existing, findErr := r.users.FindByPhone(ctx, canonicalPhone)
			if findErr != nil {
				return nil, false, findErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	util.Info("User created on first verification",
		util.String("user_id", u.ID),
		util.String("account_id", u.AccountID))
	return u, true, nil
}

func (r *RepositoryUserResolver) RecordVerification(ctx context.Context, userID string, at time.Time) error {
	if err := r.users.MarkPhoneVerified(ctx, userID, at); err != nil {
		return err
	}
	return r.users.RecordLogin(ctx, userID, at)
}

func newAccountID() string {
	return "acc_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:13]
}

func lastDigits(phone string, n int) string {
	if len(phone) <= n {
		return phone
	}
	return phone[len(phone)-n:]
}
