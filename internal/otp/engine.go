package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"booking-service/internal/config"
	"booking-service/internal/hashing"
	"booking-service/internal/models"
	"booking-service/internal/phone"
	"booking-service/internal/util"
)

// Reason classifies a failed verification. These are business outcomes, not
// errors: callers branch on them, infrastructure failures surface separately.
type Reason string

const (
	ReasonNoCode  Reason = "no_code"
	ReasonLocked  Reason = "locked"
	ReasonExpired Reason = "expired"
	ReasonInvalid Reason = "invalid"
)

// VerifyResult is the outcome of a single Verify call.
type VerifyResult struct {
	OK          bool
	Reason      Reason
	LockedUntil *time.Time
}

// Engine is the challenge state machine: cooldown-gated issuance, attempt
// accounting with lockout, and one-shot consumption. All state lives in the
// injected store; the engine holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	store  ChallengeStore
	hasher *hashing.Hasher
	cfg    config.OTPConfig

	// now is replaceable in tests.
	now func() time.Time
}

func NewEngine(store ChallengeStore, hasher *hashing.Hasher, cfg config.OTPConfig) *Engine {
	return &Engine{
		store:  store,
		hasher: hasher,
		cfg:    cfg,
		now:    time.Now,
	}
}

// CanResend reports whether a new code may be issued for phone: true when no
// challenge exists or the resend cooldown since the last issuance has
// elapsed. Side-effect free.
func (e *Engine) CanResend(ctx context.Context, phoneKey string) (bool, error) {
	challenge, err := e.store.Get(ctx, phoneKey)
	if err != nil {
		if errors.Is(err, ErrChallengeNotFound) {
			return true, nil
		}
		return false, fmt.Errorf("failed to load challenge: %w", err)
	}
	return e.now().Sub(challenge.LastSentAt) >= e.cfg.ResendCooldown, nil
}

// Issue generates a fresh code, hashes it, and upserts the challenge row
// with attempts and lock reset. Issuance unconditionally supersedes any
// prior challenge for the phone, so an outstanding old code (and any lock)
// dies here. The plaintext code is returned for out-of-band delivery and is
// never persisted or transmitted by the engine itself.
func (e *Engine) Issue(ctx context.Context, phoneKey string) (string, error) {
	code, err := GenerateCode()
	if err != nil {
		return "", err
	}

	codeHash, err := e.hasher.HashCode(code)
	if err != nil {
		return "", fmt.Errorf("failed to hash code: %w", err)
	}

	now := e.now()
	challenge := &models.PhoneChallenge{
		Phone:       phoneKey,
		CodeHash:    codeHash,
		ExpiresAt:   now.Add(e.cfg.TTL),
		Attempts:    0,
		LockedUntil: nil,
		LastSentAt:  now,
	}

	if err := e.store.Upsert(ctx, challenge); err != nil {
		return "", fmt.Errorf("failed to store challenge: %w", err)
	}

	util.Debug("challenge issued",
		util.String("phone", phone.Mask(phoneKey)),
		util.Time("expires_at", challenge.ExpiresAt),
	)

	return code, nil
}

// Verify runs the state machine for one submitted code. Outcomes:
//
//	no row            -> no_code
//	lock in force     -> locked (row untouched, correctness irrelevant)
//	past expiry       -> expired (row deleted)
//	hash mismatch     -> invalid, or locked when this failure crosses the
//	                     attempt threshold (the lock is set in the same call)
//	hash match        -> consumed atomically; a concurrent winner leaves the
//	                     loser with no_code
func (e *Engine) Verify(ctx context.Context, phoneKey, submitted string) (VerifyResult, error) {
	challenge, err := e.store.Get(ctx, phoneKey)
	if err != nil {
		if errors.Is(err, ErrChallengeNotFound) {
			return VerifyResult{Reason: ReasonNoCode}, nil
		}
		return VerifyResult{}, fmt.Errorf("failed to load challenge: %w", err)
	}

	now := e.now()

	if challenge.Locked(now) {
		return VerifyResult{Reason: ReasonLocked, LockedUntil: challenge.LockedUntil}, nil
	}

	if challenge.Expired(now) {
		if err := e.store.Delete(ctx, phoneKey); err != nil {
			return VerifyResult{}, fmt.Errorf("failed to delete expired challenge: %w", err)
		}
		return VerifyResult{Reason: ReasonExpired}, nil
	}

	valid, err := e.hasher.Verify(submitted, challenge.CodeHash)
	if err != nil {
		// A corrupt stored hash can never match; report mismatch, not a crash.
		util.Warn("stored code hash unreadable, treating as mismatch",
			util.String("phone", phone.Mask(phoneKey)),
			util.ErrorField(err),
		)
		valid = false
	}

	if !valid {
		return e.recordFailure(ctx, phoneKey, now)
	}

	consumed, err := e.store.DeleteIfHashMatches(ctx, phoneKey, challenge.CodeHash)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("failed to consume challenge: %w", err)
	}
	if !consumed {
		// Lost the race to a concurrent verify or a superseding issue.
		return VerifyResult{Reason: ReasonNoCode}, nil
	}

	util.Info("challenge verified", util.String("phone", phone.Mask(phoneKey)))
	return VerifyResult{OK: true}, nil
}

func (e *Engine) recordFailure(ctx context.Context, phoneKey string, now time.Time) (VerifyResult, error) {
	attempts, err := e.store.IncrementAttempts(ctx, phoneKey)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("failed to record attempt: %w", err)
	}

	if attempts >= e.cfg.MaxAttempts {
		lockedUntil := now.Add(e.cfg.LockDuration)
		if err := e.store.SetLock(ctx, phoneKey, lockedUntil); err != nil {
			return VerifyResult{}, fmt.Errorf("failed to set lock: %w", err)
		}
		util.Warn("challenge locked after repeated failures",
			util.String("phone", phone.Mask(phoneKey)),
			util.Int("attempts", attempts),
			util.Time("locked_until", lockedUntil),
		)
		// The threshold-crossing failure reports locked, not invalid.
		return VerifyResult{Reason: ReasonLocked, LockedUntil: &lockedUntil}, nil
	}

	return VerifyResult{Reason: ReasonInvalid}, nil
}

// PurgeExpired bulk-deletes all expired challenge rows. The janitor calls
// this periodically; lazy deletion in Verify remains the correctness
// backstop if the sweep falls behind.
func (e *Engine) PurgeExpired(ctx context.Context) (int, error) {
	purged, err := e.store.PurgeExpired(ctx, e.now())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired challenges: %w", err)
	}
	if purged > 0 {
		util.Debug("expired challenges purged", util.Int("count", purged))
	}
	return purged, nil
}
