package otp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking-service/internal/config"
	"booking-service/internal/hashing"
	"booking-service/internal/models"
)

// memoryStore is an in-memory ChallengeStore with the same atomicity
// guarantees the real backends provide.
type memoryStore struct {
	mu   sync.Mutex
	rows map[string]*models.PhoneChallenge
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: make(map[string]*models.PhoneChallenge)}
}

func (s *memoryStore) Get(_ context.Context, phone string) (*models.PhoneChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[phone]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	cp := *row
	return &cp, nil
}

func (s *memoryStore) Upsert(_ context.Context, challenge *models.PhoneChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *challenge
	s.rows[challenge.Phone] = &cp
	return nil
}

func (s *memoryStore) Delete(_ context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, phone)
	return nil
}

func (s *memoryStore) DeleteIfHashMatches(_ context.Context, phone, codeHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[phone]
	if !ok || row.CodeHash != codeHash {
		return false, nil
	}
	delete(s.rows, phone)
	return true, nil
}

func (s *memoryStore) IncrementAttempts(_ context.Context, phone string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[phone]
	if !ok {
		return 0, ErrChallengeNotFound
	}
	row.Attempts++
	return row.Attempts, nil
}

func (s *memoryStore) SetLock(_ context.Context, phone string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[phone]
	if !ok {
		return ErrChallengeNotFound
	}
	row.LockedUntil = &until
	return nil
}

func (s *memoryStore) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for phone, row := range s.rows {
		if !now.Before(row.ExpiresAt) {
			delete(s.rows, phone)
			purged++
		}
	}
	return purged, nil
}

func (s *memoryStore) has(phone string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[phone]
	return ok
}

const testPhone = "+4915112345678"

func testConfig() config.OTPConfig {
	return config.OTPConfig{
		TTL:            10 * time.Minute,
		ResendCooldown: 60 * time.Second,
		MaxAttempts:    3,
		LockDuration:   15 * time.Minute,
	}
}

func testHasher() *hashing.Hasher {
	return hashing.NewHasher(&config.Config{
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
		},
	})
}

// newTestEngine returns an engine, its store, and a settable clock.
func newTestEngine(t *testing.T) (*Engine, *memoryStore, *time.Time) {
	t.Helper()
	store := newMemoryStore()
	engine := NewEngine(store, testHasher(), testConfig())

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }
	return engine, store, &now
}

func TestIssueAndVerifySuccess(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	code, err := engine.Issue(ctx, testPhone)
	require.NoError(t, err)
	require.Len(t, code, 6)

	result, err := engine.Verify(ctx, testPhone, code)
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.False(t, store.has(testPhone), "success must consume the challenge")
}

func TestVerifyConsumedExactlyOnce(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	code, err := engine.Issue(ctx, testPhone)
	require.NoError(t, err)

	first, err := engine.Verify(ctx, testPhone, code)
	require.NoError(t, err)
	assert.True(t, first.OK)

	second, err := engine.Verify(ctx, testPhone, code)
	require.NoError(t, err)
	assert.False(t, second.OK)
	assert.Equal(t, ReasonNoCode, second.Reason)
}

func TestVerifyNoChallenge(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	result, err := engine.Verify(context.Background(), testPhone, "123456")
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, ReasonNoCode, result.Reason)
}

func TestVerifyWrongCode(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	code, err := engine.Issue(ctx, testPhone)
	require.NoError(t, err)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	result, err := engine.Verify(ctx, testPhone, wrong)
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, ReasonInvalid, result.Reason)
	assert.True(t, store.has(testPhone), "failed attempt keeps the challenge")

	// The correct code still works afterwards.
	result, err = engine.Verify(ctx, testPhone, code)
	require.NoError(t, err)
	assert.True(t, result.OK)
}

func TestVerifyLockoutAfterMaxAttempts(t *testing.T) {
	engine, _, now := newTestEngine(t)
	ctx := context.Background()

	code, err := engine.Issue(ctx, testPhone)
	require.NoError(t, err)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	// First two failures are plain invalid.
	for i := 0; i < 2; i++ {
		result, err := engine.Verify(ctx, testPhone, wrong)
		require.NoError(t, err)
		assert.Equal(t, ReasonInvalid, result.Reason)
	}

	// The third failure crosses the threshold and reports locked.
	result, err := engine.Verify(ctx, testPhone, wrong)
	require.NoError(t, err)
	assert.Equal(t, ReasonLocked, result.Reason)
	require.NotNil(t, result.LockedUntil)
	assert.Equal(t, now.Add(15*time.Minute), *result.LockedUntil)

	// The correct code is rejected while the lock holds.
	result, err = engine.Verify(ctx, testPhone, code)
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, ReasonLocked, result.Reason)

	// After the lock elapses the challenge is usable again.
	*now = now.Add(15*time.Minute + time.Second)
	result, err = engine.Verify(ctx, testPhone, code)
	require.NoError(t, err)
	assert.True(t, result.OK)
}

func TestVerifyExpired(t *testing.T) {
	engine, store, now := newTestEngine(t)
	ctx := context.Background()

	code, err := engine.Issue(ctx, testPhone)
	require.NoError(t, err)

	*now = now.Add(10*time.Minute + time.Second)

	result, err := engine.Verify(ctx, testPhone, code)
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, ReasonExpired, result.Reason)
	assert.False(t, store.has(testPhone), "expired challenge is removed on touch")

	// A later attempt sees no challenge at all.
	result, err = engine.Verify(ctx, testPhone, code)
	require.NoError(t, err)
	assert.Equal(t, ReasonNoCode, result.Reason)
}

func TestCanResendCooldown(t *testing.T) {
	engine, _, now := newTestEngine(t)
	ctx := context.Background()

	ok, err := engine.CanResend(ctx, testPhone)
	require.NoError(t, err)
	assert.True(t, ok, "no challenge means resend is allowed")

	_, err = engine.Issue(ctx, testPhone)
	require.NoError(t, err)

	ok, err = engine.CanResend(ctx, testPhone)
	require.NoError(t, err)
	assert.False(t, ok, "within the cooldown resend is blocked")

	*now = now.Add(59 * time.Second)
	ok, err = engine.CanResend(ctx, testPhone)
	require.NoError(t, err)
	assert.False(t, ok)

	*now = now.Add(time.Second)
	ok, err = engine.CanResend(ctx, testPhone)
	require.NoError(t, err)
	assert.True(t, ok, "cooldown boundary is inclusive")
}

func TestReissueResetsAttemptsAndLock(t *testing.T) {
	engine, _, now := newTestEngine(t)
	ctx := context.Background()

	code, err := engine.Issue(ctx, testPhone)
	require.NoError(t, err)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	for i := 0; i < 3; i++ {
		_, err := engine.Verify(ctx, testPhone, wrong)
		require.NoError(t, err)
	}

	// Issue past the cooldown; the new challenge carries no lock and a
	// fresh attempt counter.
	*now = now.Add(time.Minute)
	newCode, err := engine.Issue(ctx, testPhone)
	require.NoError(t, err)

	result, err := engine.Verify(ctx, testPhone, newCode)
	require.NoError(t, err)
	assert.True(t, result.OK)
}

func TestReissueInvalidatesOldCode(t *testing.T) {
	engine, _, now := newTestEngine(t)
	ctx := context.Background()

	oldCode, err := engine.Issue(ctx, testPhone)
	require.NoError(t, err)

	*now = now.Add(time.Minute)
	newCode, err := engine.Issue(ctx, testPhone)
	require.NoError(t, err)

	if oldCode == newCode {
		t.Skip("generator produced the same code twice")
	}

	result, err := engine.Verify(ctx, testPhone, oldCode)
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, ReasonInvalid, result.Reason)
}

func TestPurgeExpired(t *testing.T) {
	engine, store, now := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Issue(ctx, testPhone)
	require.NoError(t, err)
	_, err = engine.Issue(ctx, "+4915187654321")
	require.NoError(t, err)

	purged, err := engine.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, purged, "live challenges are not purged")

	*now = now.Add(11 * time.Minute)
	purged, err = engine.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, purged)
	assert.False(t, store.has(testPhone))
}
