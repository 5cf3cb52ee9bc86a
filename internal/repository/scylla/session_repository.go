package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"phone-auth-service/internal/model"
	"phone-auth-service/internal/repository"
	"phone-auth-service/internal/util"
)

// SessionRepository keeps sessions in three tables: the main sessions
// table keyed by access token, a refresh-token lookup table and a
// per-user index. Writes that touch more than one table go through a
// logged batch so the views never diverge.
type SessionRepository struct {
	client *Client
}

func NewSessionRepository(client *Client) *SessionRepository {
	return &SessionRepository{client: client}
}

func (r *SessionRepository) Insert(ctx context.Context, s *model.Session) error {
	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)

	batch.Query(r.client.Prepared.InsertSession.Statement(),
		s.Token, s.RefreshToken, s.UserID, s.CreatedAt, s.ExpiresAt,
		s.RefreshExpiresAt, s.LastActivity, s.IsActive,
		s.Device.DeviceName, s.Device.DeviceType, s.Device.IPAddress, s.Device.UserAgent)
	batch.Query(r.client.Prepared.InsertSessionRefresh.Statement(),
		s.RefreshToken, s.Token)
	batch.Query(r.client.Prepared.InsertSessionByUser.Statement(),
		s.UserID, s.Token, s.CreatedAt)

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to insert session",
			util.String("user_id", s.UserID),
			util.ErrorField(err))
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (r *SessionRepository) GetByToken(ctx context.Context, token string) (*model.Session, error) {
	s := &model.Session{}

	query := r.client.Prepared.GetSessionByToken.Bind(token).WithContext(ctx)
	err := r.client.ScanWithRetry(query,
		&s.Token, &s.RefreshToken, &s.UserID, &s.CreatedAt, &s.ExpiresAt,
		&s.RefreshExpiresAt, &s.LastActivity, &s.IsActive,
		&s.Device.DeviceName, &s.Device.DeviceType, &s.Device.IPAddress, &s.Device.UserAgent)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session by token: %w", err)
	}
	return s, nil
}

func (r *SessionRepository) GetByRefreshToken(ctx context.Context, refreshToken string) (*model.Session, error) {
	var token string
	query := r.client.Prepared.GetTokenByRefresh.Bind(refreshToken).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &token); err != nil {
		if err == gocql.ErrNotFound {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve refresh token: %w", err)
	}
	return r.GetByToken(ctx, token)
}

func (r *SessionRepository) ListByUser(ctx context.Context, userID string) ([]*model.Session, error) {
	iter := r.client.Prepared.ListSessionTokens.Bind(userID).WithContext(ctx).Iter()

	var tokens []string
	var token string
	for iter.Scan(&token) {
		tokens = append(tokens, token)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list sessions for user: %w", err)
	}

	sessions := make([]*model.Session, 0, len(tokens))
	for _, t := range tokens {
		s, err := r.GetByToken(ctx, t)
		if err == repository.ErrNotFound {
			// Index row outlived a purged session.
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func (r *SessionRepository) Revoke(ctx context.Context, token string) error {
	if _, err := r.GetByToken(ctx, token); err != nil {
		return err
	}
	query := r.client.Prepared.RevokeSession.Bind(token).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	sessions, err := r.ListByUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	batch := r.client.Session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	revoked := 0
	for _, s := range sessions {
		if !s.IsActive {
			continue
		}
		batch.Query(r.client.Prepared.RevokeSession.Statement(), s.Token)
		revoked++
	}
	if revoked == 0 {
		return 0, nil
	}
	if err := r.client.ExecuteBatch(batch); err != nil {
		return 0, fmt.Errorf("failed to revoke sessions for user: %w", err)
	}

	util.Info("Revoked all sessions for user",
		util.String("user_id", userID),
		util.Int("revoked", revoked))
	return revoked, nil
}

// Replace retires the old credential pair and installs the rotated one
// in a single logged batch so both can never be live at once.
func (r *SessionRepository) Replace(ctx context.Context, old, renewed *model.Session) error {
	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)

	batch.Query(r.client.Prepared.RevokeSession.Statement(), old.Token)
	batch.Query(`DELETE FROM sessions_by_refresh WHERE refresh_token = ?`, old.RefreshToken)

	batch.Query(r.client.Prepared.InsertSession.Statement(),
		renewed.Token, renewed.RefreshToken, renewed.UserID, renewed.CreatedAt,
		renewed.ExpiresAt, renewed.RefreshExpiresAt, renewed.LastActivity, renewed.IsActive,
		renewed.Device.DeviceName, renewed.Device.DeviceType,
		renewed.Device.IPAddress, renewed.Device.UserAgent)
	batch.Query(r.client.Prepared.InsertSessionRefresh.Statement(),
		renewed.RefreshToken, renewed.Token)
	batch.Query(r.client.Prepared.InsertSessionByUser.Statement(),
		renewed.UserID, renewed.Token, renewed.CreatedAt)

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to rotate session",
			util.String("user_id", old.UserID),
			util.ErrorField(err))
		return fmt.Errorf("failed to rotate session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Touch(ctx context.Context, token string, at time.Time) error {
	query := r.client.Prepared.TouchSession.Bind(at, token).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

func (r *SessionRepository) PurgeExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	iter := r.client.Session.Query(`
        SELECT token, refresh_token, user_id FROM sessions
        WHERE refresh_expires_at < ? ALLOW FILTERING`,
		cutoff).WithContext(ctx).Iter()

	var token, refreshToken, userID string
	purged := 0
	batch := r.client.Session.NewBatch(gocql.UnloggedBatch)
	batchSize := 0

	for iter.Scan(&token, &refreshToken, &userID) {
		batch.Query(`DELETE FROM sessions WHERE token = ?`, token)
		batch.Query(`DELETE FROM sessions_by_refresh WHERE refresh_token = ?`, refreshToken)
		batch.Query(`DELETE FROM sessions_by_user WHERE user_id = ? AND token = ?`, userID, token)
		batchSize++

		if batchSize >= 100 {
			if err := r.client.ExecuteBatch(batch); err != nil {
				iter.Close()
				return purged, fmt.Errorf("failed to purge sessions: %w", err)
			}
			purged += batchSize
			batch = r.client.Session.NewBatch(gocql.UnloggedBatch)
			batchSize = 0
		}
	}

	if batchSize > 0 {
		if err := r.client.ExecuteBatch(batch); err != nil {
			iter.Close()
			return purged, fmt.Errorf("failed to purge sessions: %w", err)
		}
		purged += batchSize
	}

	if err := iter.Close(); err != nil {
		return purged, fmt.Errorf("failed to purge sessions: %w", err)
	}

	util.Info("Purged expired sessions", util.Int("purged", purged))
	return purged, nil
}
