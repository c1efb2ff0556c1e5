package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"booking-service/internal/models"
	"booking-service/internal/otp"
	"booking-service/internal/util"
)

// ChallengeStore keeps one phone_challenges row per normalized phone.
//
// Schema:
//
//	CREATE TABLE phone_challenges (
//	    phone        text PRIMARY KEY,
//	    code_hash    text,
//	    expires_at   timestamp,
//	    attempts     int,
//	    locked_until timestamp,
//	    last_sent_at timestamp
//	);
//
// Conditional mutations go through lightweight transactions so concurrent
// verifies for the same phone resolve to at most one consumer.
type ChallengeStore struct {
	client *ScyllaClient
}

func NewChallengeStore(client *ScyllaClient) *ChallengeStore {
	return &ChallengeStore{client: client}
}

var _ otp.ChallengeStore = (*ChallengeStore)(nil)

func (s *ChallengeStore) Get(ctx context.Context, phone string) (*models.PhoneChallenge, error) {
	challenge := &models.PhoneChallenge{}
	var lockedUntil time.Time

	err := s.client.Prepared.GetChallenge.Bind(phone).WithContext(ctx).Scan(
		&challenge.Phone, &challenge.CodeHash, &challenge.ExpiresAt,
		&challenge.Attempts, &lockedUntil, &challenge.LastSentAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, otp.ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}

	// gocql scans a null timestamp as the zero time.
	if !lockedUntil.IsZero() {
		challenge.LockedUntil = &lockedUntil
	}

	return challenge, nil
}

func (s *ChallengeStore) Upsert(ctx context.Context, challenge *models.PhoneChallenge) error {
	var lockedUntil time.Time
	if challenge.LockedUntil != nil {
		lockedUntil = *challenge.LockedUntil
	}

	query := s.client.Prepared.UpsertChallenge.Bind(
		challenge.Phone, challenge.CodeHash, challenge.ExpiresAt,
		challenge.Attempts, lockedUntil, challenge.LastSentAt).WithContext(ctx)

	if err := s.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("failed to upsert challenge", zap.Error(err))
		return fmt.Errorf("failed to upsert challenge: %w", err)
	}
	return nil
}

func (s *ChallengeStore) Delete(ctx context.Context, phone string) error {
	query := s.client.Prepared.DeleteChallenge.Bind(phone).WithContext(ctx)
	if err := s.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to delete challenge: %w", err)
	}
	return nil
}

func (s *ChallengeStore) DeleteIfHashMatches(ctx context.Context, phone, codeHash string) (bool, error) {
	var existing string
	applied, err := s.client.Query(`
        DELETE FROM phone_challenges WHERE phone = ? IF code_hash = ?`,
		phone, codeHash).WithContext(ctx).ScanCAS(&existing)
	if err != nil {
		if err == gocql.ErrNotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to consume challenge: %w", err)
	}
	return applied, nil
}

// IncrementAttempts uses a compare-and-set loop: Scylla has no atomic
// counter on a regular column, so the read and conditional update retry
// until one transition wins.
func (s *ChallengeStore) IncrementAttempts(ctx context.Context, phone string) (int, error) {
	const casRetries = 5

	for i := 0; i < casRetries; i++ {
		var current int
		err := s.client.Query(`
            SELECT attempts FROM phone_challenges WHERE phone = ?`,
			phone).WithContext(ctx).Scan(&current)
		if err != nil {
			if err == gocql.ErrNotFound {
				return 0, otp.ErrChallengeNotFound
			}
			return 0, fmt.Errorf("failed to read attempts: %w", err)
		}

		var existing int
		applied, err := s.client.Query(`
            UPDATE phone_challenges SET attempts = ? WHERE phone = ? IF attempts = ?`,
			current+1, phone, current).WithContext(ctx).ScanCAS(&existing)
		if err != nil {
			if err == gocql.ErrNotFound {
				return 0, otp.ErrChallengeNotFound
			}
			return 0, fmt.Errorf("failed to increment attempts: %w", err)
		}
		if applied {
			return current + 1, nil
		}
	}

	return 0, fmt.Errorf("failed to increment attempts for %s: too much contention", phone)
}

func (s *ChallengeStore) SetLock(ctx context.Context, phone string, until time.Time) error {
	var existing string
	applied, err := s.client.Query(`
        UPDATE phone_challenges SET locked_until = ? WHERE phone = ? IF EXISTS`,
		until, phone).WithContext(ctx).ScanCAS(&existing)
	if err != nil && err != gocql.ErrNotFound {
		return fmt.Errorf("failed to set lock: %w", err)
	}
	if err == gocql.ErrNotFound || !applied {
		return otp.ErrChallengeNotFound
	}
	return nil
}

func (s *ChallengeStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	iter := s.client.Query(`
        SELECT phone FROM phone_challenges WHERE expires_at < ? ALLOW FILTERING`,
		now).WithContext(ctx).Iter()

	var phone string
	purged := 0
	for iter.Scan(&phone) {
		if err := s.Delete(ctx, phone); err != nil {
			iter.Close()
			return purged, err
		}
		purged++
	}

	if err := iter.Close(); err != nil {
		return purged, fmt.Errorf("failed to sweep expired challenges: %w", err)
	}
	return purged, nil
}
