package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"phone-auth-service/internal/model"
	"phone-auth-service/internal/repository"
	redisrepo "phone-auth-service/internal/repository/redis"
	"phone-auth-service/internal/util"
)

var (
	// ErrInvalidSession covers unknown, revoked and expired access
	// tokens alike; callers get no hint which one it was.
	ErrInvalidSession = errors.New("session invalid or expired")

	// ErrInvalidRefresh is the refresh-side equivalent.
	ErrInvalidRefresh = errors.New("refresh token invalid or expired")
)

type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	RotateRefresh bool
}

// Issuer mints and validates opaque credential pairs. Tokens carry no
// claims; possession is the only proof, and the store is the single
// source of truth. The Redis cache is optional and purely an
// accelerator.
type Issuer struct {
	repo  repository.SessionRepository
	cache *redisrepo.SessionCache
	cfg   Config
	now   func() time.Time
}

func NewIssuer(repo repository.SessionRepository, cache *redisrepo.SessionCache, cfg Config) *Issuer {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 7 * 24 * time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	return &Issuer{
		repo:  repo,
		cache: cache,
		cfg:   cfg,
		now:   time.Now,
	}
}

// Mint issues a fresh credential pair for the user. The secrets are
// returned exactly once; afterwards they exist only as lookup keys.
func (i *Issuer) Mint(ctx context.Context, userID string, device model.DeviceMetadata) (*model.Session, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	refresh, err := newToken()
	if err != nil {
		return nil, err
	}

	now := i.now().UTC()
	s := &model.Session{
		Token:            token,
		RefreshToken:     refresh,
		UserID:           userID,
		CreatedAt:        now,
		ExpiresAt:        now.Add(i.cfg.AccessTTL),
		RefreshExpiresAt: now.Add(i.cfg.RefreshTTL),
		LastActivity:     now,
		IsActive:         true,
		Device:           device,
	}

	if err := i.repo.Insert(ctx, s); err != nil {
		return nil, err
	}
	i.cacheSession(ctx, s)

	util.Info("Session minted", util.String("user_id", userID))
	return s, nil
}

// Validate resolves an access token to its session, cache first.
func (i *Issuer) Validate(ctx context.Context, token string) (*model.Session, error) {
	now := i.now().UTC()

	if i.cache != nil {
		if s, err := i.cache.GetSession(ctx, token); err == nil {
			if !s.ValidAt(now) {
				return nil, ErrInvalidSession
			}
			return s, nil
		}
	}

	s, err := i.repo.GetByToken(ctx, token)
	if err == repository.ErrNotFound {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, err
	}
	if !s.ValidAt(now) {
		return nil, ErrInvalidSession
	}

	if err := i.repo.Touch(ctx, token, now); err != nil {
		util.Warn("Failed to touch session", util.ErrorField(err))
	}
	i.cacheSession(ctx, s)
	return s, nil
}

// Refresh trades a valid refresh token for a rotated credential pair.
// The access token always rotates; the refresh token rotates only when
// configured, so clients that cannot durably store a new refresh
// secret keep the old one.
func (i *Issuer) Refresh(ctx context.Context, refreshToken string) (*model.Session, error) {
	old, err := i.repo.GetByRefreshToken(ctx, refreshToken)
	if err == repository.ErrNotFound {
		return nil, ErrInvalidRefresh
	}
	if err != nil {
		return nil, err
	}

	now := i.now().UTC()
	if !old.RefreshValidAt(now) {
		return nil, ErrInvalidRefresh
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}
	refresh := old.RefreshToken
	refreshExpiry := old.RefreshExpiresAt
	if i.cfg.RotateRefresh {
		refresh, err = newToken()
		if err != nil {
			return nil, err
		}
		refreshExpiry = now.Add(i.cfg.RefreshTTL)
	}

	renewed := &model.Session{
		Token:            token,
		RefreshToken:     refresh,
		UserID:           old.UserID,
		CreatedAt:        old.CreatedAt,
		ExpiresAt:        now.Add(i.cfg.AccessTTL),
		RefreshExpiresAt: refreshExpiry,
		LastActivity:     now,
		IsActive:         true,
		Device:           old.Device,
	}

	if err := i.repo.Replace(ctx, old, renewed); err != nil {
		return nil, err
	}
	i.invalidateCached(ctx, old)
	i.cacheSession(ctx, renewed)

	util.Info("Session refreshed", util.String("user_id", old.UserID))
	return renewed, nil
}

// Revoke deactivates the session behind the token.
func (i *Issuer) Revoke(ctx context.Context, token string) error {
	s, err := i.repo.GetByToken(ctx, token)
	if err == repository.ErrNotFound {
		return ErrInvalidSession
	}
	if err != nil {
		return err
	}

	if err := i.repo.Revoke(ctx, token); err != nil {
		return err
	}
	i.invalidateCached(ctx, s)

	util.Info("Session revoked", util.String("user_id", s.UserID))
	return nil
}

// RevokeAll deactivates every active session of the user and reports
// how many were revoked.
func (i *Issuer) RevokeAll(ctx context.Context, userID string) (int, error) {
	revoked, err := i.repo.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	if i.cache != nil {
		if err := i.cache.InvalidateAllForUser(ctx, userID); err != nil {
			util.Warn("Failed to invalidate cached sessions", util.ErrorField(err))
		}
	}
	return revoked, nil
}

// ListActive returns the user's currently valid sessions.
func (i *Issuer) ListActive(ctx context.Context, userID string) ([]*model.Session, error) {
	sessions, err := i.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := i.now().UTC()
	active := sessions[:0]
	for _, s := range sessions {
		if s.ValidAt(now) {
			active = append(active, s)
		}
	}
	return active, nil
}

func (i *Issuer) cacheSession(ctx context.Context, s *model.Session) {
	if i.cache == nil {
		return
	}
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return
	}
	if err := i.cache.CacheSession(ctx, s, ttl); err != nil {
		util.Warn("Failed to cache session", util.ErrorField(err))
	}
}

func (i *Issuer) invalidateCached(ctx context.Context, s *model.Session) {
	if i.cache == nil {
		return
	}
	if err := i.cache.InvalidateSession(ctx, s.Token, s.UserID); err != nil {
		util.Warn("Failed to invalidate cached session", util.ErrorField(err))
	}
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
