package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"phone-auth-service/internal/bucketing"
	"phone-auth-service/internal/encryption"
	"phone-auth-service/internal/model"
	"phone-auth-service/internal/phone"
	"phone-auth-service/internal/repository"
	"phone-auth-service/internal/util"
)

// UserRepository stores account records across two tables: users,
// partitioned by a murmur3 bucket of the user id, and phone_to_user,
// a hash-keyed lookup from canonical phone to user. Phone numbers are
// envelope-encrypted at rest; only the deterministic hash is queryable.
type UserRepository struct {
	client     *Client
	buckets    *bucketing.Manager
	encryption *encryption.Manager
}

func NewUserRepository(client *Client, buckets *bucketing.Manager, enc *encryption.Manager) *UserRepository {
	return &UserRepository{
		client:     client,
		buckets:    buckets,
		encryption: enc,
	}
}

func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	encrypted, err := r.encryption.EncryptField(ctx, u.Phone)
	if err != nil {
		return fmt.Errorf("failed to encrypt phone: %w", err)
	}

	hash := phone.Hash(u.Phone)
	bucket := r.buckets.UserBucket(u.ID)

	// Claim the phone mapping first; IF NOT EXISTS loses against a
	// concurrent creator for the same number.
	claim := r.client.Prepared.InsertPhoneToUser.Bind(
		hash, bucket, u.ID, u.CreatedAt).WithContext(ctx)
	applied, err := claim.MapScanCAS(make(map[string]interface{}))
	if err != nil {
		return fmt.Errorf("failed to claim phone mapping: %w", err)
	}
	if !applied {
		return repository.ErrConflict
	}

	query := r.client.Prepared.InsertUser.Bind(
		bucket, u.ID, u.AccountID, u.Name, hash,
		encrypted.EncryptedValue, encrypted.EncryptedDEK, encrypted.KeyID,
		timeOrNil(u.PhoneVerifiedAt), u.CreatedAt, timeOrNil(u.LastLogin)).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to create user",
			util.String("user_id", u.ID),
			util.ErrorField(err))
		return fmt.Errorf("failed to create user: %w", err)
	}

	util.Info("User created",
		util.String("user_id", u.ID),
		util.Int("user_bucket", bucket))
	return nil
}

func (r *UserRepository) FindByPhone(ctx context.Context, canonicalPhone string) (*model.User, error) {
	var bucket int
	var userID string

	query := r.client.Prepared.GetUserByPhone.Bind(phone.Hash(canonicalPhone)).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &bucket, &userID); err != nil {
		if err == gocql.ErrNotFound {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up user by phone: %w", err)
	}

	return r.load(ctx, bucket, userID)
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.load(ctx, r.buckets.UserBucket(id), id)
}

func (r *UserRepository) MarkPhoneVerified(ctx context.Context, id string, at time.Time) error {
	query := r.client.Prepared.MarkPhoneVerified.Bind(
		at, r.buckets.UserBucket(id), id).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to mark phone verified: %w", err)
	}
	return nil
}

func (r *UserRepository) RecordLogin(ctx context.Context, id string, at time.Time) error {
	query := r.client.Prepared.RecordLogin.Bind(
		at, r.buckets.UserBucket(id), id).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return nil
}

func (r *UserRepository) load(ctx context.Context, bucket int, id string) (*model.User, error) {
	u := &model.User{}
	var encValue, encDEK, keyID string
	var phoneVerifiedAt, lastLogin time.Time

	query := r.client.Prepared.GetUserByID.Bind(bucket, id).WithContext(ctx)
	err := r.client.ScanWithRetry(query,
		&u.ID, &u.AccountID, &u.Name, &encValue, &encDEK,
		&keyID, &phoneVerifiedAt, &u.CreatedAt, &lastLogin)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	decrypted, err := r.encryption.DecryptField(ctx, &encryption.EncryptedData{
		EncryptedValue: encValue,
		EncryptedDEK:   encDEK,
		KeyID:          keyID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt phone for user %s: %w", id, err)
	}
	u.Phone = decrypted

	if !phoneVerifiedAt.IsZero() {
		u.PhoneVerifiedAt = &phoneVerifiedAt
	}
	if !lastLogin.IsZero() {
		u.LastLogin = &lastLogin
	}
	return u, nil
}
