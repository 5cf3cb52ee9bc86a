package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phone-auth-service/internal/model"
	"phone-auth-service/internal/repository/memory"
)

func newTestIssuer(t *testing.T, cfg Config) (*Issuer, *memory.SessionStore, *time.Time) {
	t.Helper()

	store := memory.NewSessionStore()
	i := NewIssuer(store, nil, cfg)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	i.now = func() time.Time { return now }
	return i, store, &now
}

func testDevice() model.DeviceMetadata {
	return model.DeviceMetadata{
		DeviceName: "Pixel 8",
		DeviceType: "android",
		IPAddress:  "203.0.113.7",
		UserAgent:  "okhttp/4.12",
	}
}

func TestMintAndValidate(t *testing.T) {
	i, _, _ := newTestIssuer(t, Config{})
	ctx := context.Background()

	s, err := i.Mint(ctx, "user-1", testDevice())
	require.NoError(t, err)
	assert.Len(t, s.Token, 64)
	assert.Len(t, s.RefreshToken, 64)
	assert.NotEqual(t, s.Token, s.RefreshToken)
	assert.True(t, s.IsActive)
	assert.Equal(t, "user-1", s.UserID)

	got, err := i.Validate(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "Pixel 8", got.Device.DeviceName)
}

func TestValidateUnknownToken(t *testing.T) {
	i, _, _ := newTestIssuer(t, Config{})

	_, err := i.Validate(context.Background(), "no-such-token")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestValidateExpiredSession(t *testing.T) {
	i, _, now := newTestIssuer(t, Config{AccessTTL: time.Hour})
	ctx := context.Background()

	s, err := i.Mint(ctx, "user-1", testDevice())
	require.NoError(t, err)

	*now = now.Add(2 * time.Hour)
	_, err = i.Validate(ctx, s.Token)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestRefreshRotatesAccessToken(t *testing.T) {
	i, _, _ := newTestIssuer(t, Config{})
	ctx := context.Background()

	old, err := i.Mint(ctx, "user-1", testDevice())
	require.NoError(t, err)

	renewed, err := i.Refresh(ctx, old.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, old.Token, renewed.Token)
	assert.Equal(t, old.RefreshToken, renewed.RefreshToken, "refresh rotation is off by default")
	assert.Equal(t, old.CreatedAt, renewed.CreatedAt)
	assert.Equal(t, old.Device, renewed.Device)

	// The superseded access token must be dead.
	_, err = i.Validate(ctx, old.Token)
	assert.ErrorIs(t, err, ErrInvalidSession)

	_, err = i.Validate(ctx, renewed.Token)
	assert.NoError(t, err)
}

func TestRefreshWithRotation(t *testing.T) {
	i, _, _ := newTestIssuer(t, Config{RotateRefresh: true})
	ctx := context.Background()

	old, err := i.Mint(ctx, "user-1", testDevice())
	require.NoError(t, err)

	renewed, err := i.Refresh(ctx, old.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, old.RefreshToken, renewed.RefreshToken)

	// The consumed refresh token cannot be replayed.
	_, err = i.Refresh(ctx, old.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefresh)

	_, err = i.Refresh(ctx, renewed.RefreshToken)
	assert.NoError(t, err)
}

func TestRefreshRevokedSession(t *testing.T) {
	i, _, _ := newTestIssuer(t, Config{})
	ctx := context.Background()

	s, err := i.Mint(ctx, "user-1", testDevice())
	require.NoError(t, err)
	require.NoError(t, i.Revoke(ctx, s.Token))

	// Revocation kills the refresh side too, even though the refresh
	// lifetime has not elapsed.
	_, err = i.Refresh(ctx, s.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefresh)
}

func TestRefreshExpired(t *testing.T) {
	i, _, now := newTestIssuer(t, Config{RefreshTTL: 24 * time.Hour})
	ctx := context.Background()

	s, err := i.Mint(ctx, "user-1", testDevice())
	require.NoError(t, err)

	*now = now.Add(25 * time.Hour)
	_, err = i.Refresh(ctx, s.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefresh)
}

func TestRefreshUnknownToken(t *testing.T) {
	i, _, _ := newTestIssuer(t, Config{})

	_, err := i.Refresh(context.Background(), "bogus")
	assert.ErrorIs(t, err, ErrInvalidRefresh)
}

func TestRevoke(t *testing.T) {
	i, _, _ := newTestIssuer(t, Config{})
	ctx := context.Background()

	s, err := i.Mint(ctx, "user-1", testDevice())
	require.NoError(t, err)

	require.NoError(t, i.Revoke(ctx, s.Token))

	_, err = i.Validate(ctx, s.Token)
	assert.ErrorIs(t, err, ErrInvalidSession)

	assert.ErrorIs(t, i.Revoke(ctx, "unknown"), ErrInvalidSession)
}

func TestRevokeAll(t *testing.T) {
	i, _, _ := newTestIssuer(t, Config{})
	ctx := context.Background()

	first, err := i.Mint(ctx, "user-1", testDevice())
	require.NoError(t, err)
	second, err := i.Mint(ctx, "user-1", testDevice())
	require.NoError(t, err)
	other, err := i.Mint(ctx, "user-2", testDevice())
	require.NoError(t, err)

	revoked, err := i.RevokeAll(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, revoked)

	_, err = i.Validate(ctx, first.Token)
	assert.ErrorIs(t, err, ErrInvalidSession)
	_, err = i.Validate(ctx, second.Token)
	assert.ErrorIs(t, err, ErrInvalidSession)

	// Other users are untouched.
	_, err = i.Validate(ctx, other.Token)
	assert.NoError(t, err)
}

func TestListActiveFiltersRevokedAndExpired(t *testing.T) {
	i, _, now := newTestIssuer(t, Config{AccessTTL: time.Hour})
	ctx := context.Background()

	keep, err := i.Mint(ctx, "user-1", testDevice())
	require.NoError(t, err)
	revoked, err := i.Mint(ctx, "user-1", testDevice())
	require.NoError(t, err)
	require.NoError(t, i.Revoke(ctx, revoked.Token))

	active, err := i.ListActive(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, keep.Token, active[0].Token)

	*now = now.Add(2 * time.Hour)
	active, err = i.ListActive(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, active)
}
