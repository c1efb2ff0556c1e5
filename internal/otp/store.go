package otp

import (
	"context"
	"errors"
	"time"

	"booking-service/internal/models"
)

// ErrChallengeNotFound is returned by ChallengeStore.Get when no challenge
// row exists for the phone. It is an expected condition, not a failure.
var ErrChallengeNotFound = errors.New("no challenge found for phone")

// ChallengeStore persists at most one PhoneChallenge per normalized phone.
// All mutations are single atomic operations; the engine never issues a
// read-modify-write that could tear a row.
//
// Implementations back this with Redis or Scylla; tests inject an in-memory
// double.
type ChallengeStore interface {
	// Get returns the challenge for phone, or ErrChallengeNotFound.
	Get(ctx context.Context, phone string) (*models.PhoneChallenge, error)

	// Upsert writes the challenge, replacing any existing row for the same
	// phone. Last write wins atomically.
	Upsert(ctx context.Context, challenge *models.PhoneChallenge) error

	// Delete removes the row for phone. Deleting a missing row is not an
	// error.
	Delete(ctx context.Context, phone string) error

	// DeleteIfHashMatches removes the row only if its stored code hash still
	// equals codeHash, and reports whether this call consumed it. Under
	// concurrent correct submissions at most one caller observes true.
	DeleteIfHashMatches(ctx context.Context, phone, codeHash string) (bool, error)

	// IncrementAttempts atomically bumps the failed-attempt counter and
	// returns the new value.
	IncrementAttempts(ctx context.Context, phone string) (int, error)

	// SetLock records an attempt lockout until the given time.
	SetLock(ctx context.Context, phone string, until time.Time) error

	// PurgeExpired bulk-deletes rows whose expiry is before now and returns
	// how many were removed.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}
