package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"phone-auth-service/internal/model"
	"phone-auth-service/internal/phone"
	"phone-auth-service/internal/repository"
	"phone-auth-service/internal/util"
)

// ChallengeRepository stores verification challenges in the
// phone_challenges table, partitioned by (phone, purpose) and clustered
// newest-first so the latest row is a LIMIT 1 read. A head_id static
// column tracks the partition's latest challenge; creation swaps it
// conditionally, which keeps the pair to at most one pending row. All
// settlement writes are conditional so two verifiers can never both
// consume the same attempt.
type ChallengeRepository struct {
	client *Client
}

func NewChallengeRepository(client *Client) *ChallengeRepository {
	return &ChallengeRepository{client: client}
}

// InsertSuperseding claims the pair head with a conditional swap on the
// head_id static column and writes the new row in the same conditional
// batch, expiring a still-pending predecessor. Every statement targets
// one partition, so the batch applies in full or not at all; an
// unapplied batch means another creator or verifier moved the pair
// first.
func (r *ChallengeRepository) InsertSuperseding(ctx context.Context, ch, prior *model.Challenge) (bool, error) {
	batch := r.client.Batch(gocql.LoggedBatch).WithContext(ctx)

	var priorID interface{}
	if prior != nil {
		priorID = prior.ID.String()
	}
	batch.Query(`UPDATE phone_challenges SET head_id = ?
        WHERE phone = ? AND purpose = ? IF head_id = ?`,
		ch.ID.String(), ch.Phone, ch.Purpose, priorID)

	batch.Query(`INSERT INTO phone_challenges (
            phone, purpose, created_at, challenge_id, code, status,
            attempts, max_attempts, expires_at, verified_at,
            bound_user_id, delivery_ref
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ch.Phone, ch.Purpose, ch.CreatedAt, ch.ID.String(), ch.Code, ch.Status.String(),
		ch.Attempts, ch.MaxAttempts, ch.ExpiresAt, timeOrNil(ch.VerifiedAt),
		ch.BoundUserID, ch.DeliveryRef)

	if prior != nil && prior.Status == model.StatusPending {
		batch.Query(`UPDATE phone_challenges SET status = ?
            WHERE phone = ? AND purpose = ? AND created_at = ? AND challenge_id = ?
            IF status = ?`,
			model.StatusExpired.String(),
			ch.Phone, ch.Purpose, prior.CreatedAt, prior.ID.String(),
			model.StatusPending.String())
	}

	applied, err := r.client.ExecuteBatchCAS(batch)
	if err != nil {
		util.Error("Failed conditional challenge insert",
			util.String("phone", phone.Mask(ch.Phone)),
			util.String("purpose", ch.Purpose),
			util.ErrorField(err))
		return false, fmt.Errorf("failed conditional challenge insert: %w", err)
	}
	return applied, nil
}

func (r *ChallengeRepository) Latest(ctx context.Context, phoneNumber, purpose string) (*model.Challenge, error) {
	ch := &model.Challenge{}
	var id, status string
	var verifiedAt time.Time

	query := r.client.Prepared.LatestChallenge.Bind(phoneNumber, purpose).WithContext(ctx)
	err := r.client.ScanWithRetry(query,
		&ch.Phone, &ch.Purpose, &ch.CreatedAt, &id, &ch.Code, &status,
		&ch.Attempts, &ch.MaxAttempts, &ch.ExpiresAt, &verifiedAt,
		&ch.BoundUserID, &ch.DeliveryRef)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, repository.ErrNotFound
		}
		util.Error("Failed to read latest challenge",
			util.String("phone", phone.Mask(phoneNumber)),
			util.String("purpose", purpose),
			util.ErrorField(err))
		return nil, fmt.Errorf("failed to read latest challenge: %w", err)
	}

	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("malformed challenge id %q: %w", id, err)
	}
	ch.ID = parsedID
	if parsed, ok := model.ParseChallengeStatus(status); ok {
		ch.Status = parsed
	}
	if !verifiedAt.IsZero() {
		ch.VerifiedAt = &verifiedAt
	}
	return ch, nil
}

// CompareAndUpdate settles the attempt with a conditional write guarded
// on the attempt counter observed at read time. Exactly one of N
// concurrent verifiers gets its write applied; the rest see applied ==
// false and must re-read.
func (r *ChallengeRepository) CompareAndUpdate(ctx context.Context, ch *model.Challenge, priorAttempts int) (bool, error) {
	query := r.client.Prepared.SettleChallenge.Bind(
		ch.Attempts, ch.Status.String(), timeOrNil(ch.VerifiedAt), ch.BoundUserID,
		ch.Phone, ch.Purpose, ch.CreatedAt, ch.ID.String(),
		priorAttempts, model.StatusPending.String()).WithContext(ctx)

	applied, err := query.MapScanCAS(make(map[string]interface{}))
	if err != nil {
		util.Error("Failed conditional challenge update",
			util.String("phone", phone.Mask(ch.Phone)),
			util.String("purpose", ch.Purpose),
			util.ErrorField(err))
		return false, fmt.Errorf("failed conditional challenge update: %w", err)
	}
	return applied, nil
}

func (r *ChallengeRepository) MarkExpired(ctx context.Context, ch *model.Challenge) error {
	query := r.client.Prepared.ExpireChallenge.Bind(
		model.StatusExpired.String(),
		ch.Phone, ch.Purpose, ch.CreatedAt, ch.ID.String(),
		model.StatusPending.String()).WithContext(ctx)

	// A lost race means another writer already settled the row.
	if _, err := query.MapScanCAS(make(map[string]interface{})); err != nil {
		return fmt.Errorf("failed to expire challenge: %w", err)
	}
	return nil
}

func (r *ChallengeRepository) SetDeliveryReference(ctx context.Context, ch *model.Challenge, ref string) error {
	query := r.client.Prepared.SetDeliveryReference.Bind(
		ref, ch.Phone, ch.Purpose, ch.CreatedAt, ch.ID.String()).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to set delivery reference: %w", err)
	}
	return nil
}

// PurgeDeadBefore removes settled rows whose expiry passed before the
// cutoff, batched 100 at a time.
func (r *ChallengeRepository) PurgeDeadBefore(ctx context.Context, cutoff time.Time) (int, error) {
	iter := r.client.Session.Query(`
        SELECT phone, purpose, created_at, challenge_id, status
        FROM phone_challenges WHERE expires_at < ? ALLOW FILTERING`,
		cutoff).WithContext(ctx).Iter()

	var (
		phoneNumber, purpose, id, status string
		createdAt                        time.Time
	)
	purged := 0
	batch := r.client.Session.NewBatch(gocql.UnloggedBatch)
	batchSize := 0

	for iter.Scan(&phoneNumber, &purpose, &createdAt, &id, &status) {
		if status == model.StatusPending.String() {
			continue
		}
		batch.Query(`DELETE FROM phone_challenges
            WHERE phone = ? AND purpose = ? AND created_at = ? AND challenge_id = ?`,
			phoneNumber, purpose, createdAt, id)
		batchSize++

		if batchSize >= 100 {
			if err := r.client.ExecuteBatch(batch); err != nil {
				iter.Close()
				return purged, fmt.Errorf("failed to purge challenges: %w", err)
			}
			purged += batchSize
			batch = r.client.Session.NewBatch(gocql.UnloggedBatch)
			batchSize = 0
		}
	}

	if batchSize > 0 {
		if err := r.client.ExecuteBatch(batch); err != nil {
			iter.Close()
			return purged, fmt.Errorf("failed to purge challenges: %w", err)
		}
		purged += batchSize
	}

	if err := iter.Close(); err != nil {
		return purged, fmt.Errorf("failed to purge challenges: %w", err)
	}

	util.Info("Purged settled challenges", util.Int("purged", purged))
	return purged, nil
}

func timeOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
