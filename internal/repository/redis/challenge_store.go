package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"booking-service/internal/client"
	"booking-service/internal/models"
	"booking-service/internal/otp"
	"booking-service/internal/util"
)

const (
	challengePrefix = "phone_challenge:"

	// Rows are kept past their expiry so Verify can observe and report the
	// expired state (and a lockout can outlive the code's validity). The
	// janitor and lazy deletion remove them; this TTL is the hard backstop.
	retentionGrace = 24 * time.Hour

	opTimeout = 5 * time.Second
)

// Lua scripts keep mutations to a single atomic server-side step.
const (
	// consume deletes the row only while its code hash is unchanged.
	consumeScript = `
if redis.call("HGET", KEYS[1], "code_hash") == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

	// bumpAttempts increments only an existing row; a missing row must not
	// be resurrected as a ghost hash.
	bumpAttemptsScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
	return redis.call("HINCRBY", KEYS[1], "attempts", 1)
end
return -1`

	setLockScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
	redis.call("HSET", KEYS[1], "locked_until", ARGV[1])
	return 1
end
return 0`
)

// ChallengeStore keeps one Redis hash per normalized phone.
type ChallengeStore struct {
	client *client.RedisClient
}

func NewChallengeStore(client *client.RedisClient) *ChallengeStore {
	return &ChallengeStore{client: client}
}

var _ otp.ChallengeStore = (*ChallengeStore)(nil)

func challengeKey(phone string) string {
	return challengePrefix + phone
}

func (s *ChallengeStore) Get(ctx context.Context, phone string) (*models.PhoneChallenge, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	fields, err := s.client.HGetAll(ctx, challengeKey(phone))
	if err != nil {
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}
	if len(fields) == 0 {
		return nil, otp.ErrChallengeNotFound
	}

	return decodeChallenge(phone, fields)
}

func (s *ChallengeStore) Upsert(ctx context.Context, challenge *models.PhoneChallenge) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := challengeKey(challenge.Phone)
	ttl := time.Until(challenge.ExpiresAt) + retentionGrace

	lockedUntil := ""
	if challenge.LockedUntil != nil {
		lockedUntil = challenge.LockedUntil.UTC().Format(time.RFC3339Nano)
	}

	// DEL+HSET+EXPIRE in one MULTI/EXEC so concurrent upserts for the same
	// phone resolve to one complete winner, never a merged row.
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key,
		"code_hash", challenge.CodeHash,
		"expires_at", challenge.ExpiresAt.UTC().Format(time.RFC3339Nano),
		"attempts", challenge.Attempts,
		"locked_until", lockedUntil,
		"last_sent_at", challenge.LastSentAt.UTC().Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("failed to upsert challenge",
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("failed to upsert challenge: %w", err)
	}

	return nil
}

func (s *ChallengeStore) Delete(ctx context.Context, phone string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.client.Del(ctx, challengeKey(phone)); err != nil {
		return fmt.Errorf("failed to delete challenge: %w", err)
	}
	return nil
}

func (s *ChallengeStore) DeleteIfHashMatches(ctx context.Context, phone, codeHash string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.client.Eval(ctx, consumeScript, []string{challengeKey(phone)}, codeHash)
	if err != nil {
		return false, fmt.Errorf("failed to consume challenge: %w", err)
	}

	deleted, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected consume script result %T", res)
	}
	return deleted == 1, nil
}

func (s *ChallengeStore) IncrementAttempts(ctx context.Context, phone string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.client.Eval(ctx, bumpAttemptsScript, []string{challengeKey(phone)})
	if err != nil {
		return 0, fmt.Errorf("failed to increment attempts: %w", err)
	}

	attempts, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected attempts script result %T", res)
	}
	if attempts < 0 {
		return 0, otp.ErrChallengeNotFound
	}
	return int(attempts), nil
}

func (s *ChallengeStore) SetLock(ctx context.Context, phone string, until time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.client.Eval(ctx, setLockScript,
		[]string{challengeKey(phone)},
		until.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to set lock: %w", err)
	}
	if set, ok := res.(int64); !ok || set == 0 {
		return otp.ErrChallengeNotFound
	}
	return nil
}

func (s *ChallengeStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	keys, err := s.client.ScanKeys(ctx, challengePrefix+"*", 500)
	if err != nil {
		return 0, fmt.Errorf("failed to scan challenge keys: %w", err)
	}

	purged := 0
	for _, key := range keys {
		raw, err := s.client.HGet(ctx, key, "expires_at")
		if err != nil {
			if errors.Is(err, client.ErrKeyNotFound) {
				continue // already gone
			}
			return purged, fmt.Errorf("failed to read expiry for %s: %w", key, err)
		}

		expiresAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			util.Warn("challenge row with unreadable expiry, removing",
				zap.String("key", key),
				zap.Error(err))
			if err := s.client.Del(ctx, key); err != nil {
				return purged, fmt.Errorf("failed to delete malformed row: %w", err)
			}
			purged++
			continue
		}

		if expiresAt.Before(now) {
			if err := s.client.Del(ctx, key); err != nil {
				return purged, fmt.Errorf("failed to delete expired row: %w", err)
			}
			purged++
		}
	}

	return purged, nil
}

func decodeChallenge(phone string, fields map[string]string) (*models.PhoneChallenge, error) {
	expiresAt, err := time.Parse(time.RFC3339Nano, fields["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("malformed expires_at: %w", err)
	}

	lastSentAt, err := time.Parse(time.RFC3339Nano, fields["last_sent_at"])
	if err != nil {
		return nil, fmt.Errorf("malformed last_sent_at: %w", err)
	}

	attempts := 0
	if raw := fields["attempts"]; raw != "" {
		if attempts, err = strconv.Atoi(raw); err != nil {
			return nil, fmt.Errorf("malformed attempts: %w", err)
		}
	}

	var lockedUntil *time.Time
	if raw := fields["locked_until"]; raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("malformed locked_until: %w", err)
		}
		lockedUntil = &parsed
	}

	return &models.PhoneChallenge{
		Phone:       phone,
		CodeHash:    fields["code_hash"],
		ExpiresAt:   expiresAt,
		Attempts:    attempts,
		LockedUntil: lockedUntil,
		LastSentAt:  lastSentAt,
	}, nil
}
