package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking-service/internal/config"
	"booking-service/internal/hashing"
	"booking-service/internal/models"
	"booking-service/internal/otp"
	"booking-service/internal/phone"
	"booking-service/internal/proof"
)

const testPhone = "+4915112345678"

// fakeChallengeStore is an in-memory otp.ChallengeStore.
type fakeChallengeStore struct {
	mu   sync.Mutex
	rows map[string]*models.PhoneChallenge
}

func newFakeChallengeStore() *fakeChallengeStore {
	return &fakeChallengeStore{rows: make(map[string]*models.PhoneChallenge)}
}

func (s *fakeChallengeStore) Get(_ context.Context, p string) (*models.PhoneChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[p]
	if !ok {
		return nil, otp.ErrChallengeNotFound
	}
	cp := *row
	return &cp, nil
}

func (s *fakeChallengeStore) Upsert(_ context.Context, challenge *models.PhoneChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *challenge
	s.rows[challenge.Phone] = &cp
	return nil
}

func (s *fakeChallengeStore) Delete(_ context.Context, p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, p)
	return nil
}

func (s *fakeChallengeStore) DeleteIfHashMatches(_ context.Context, p, codeHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[p]
	if !ok || row.CodeHash != codeHash {
		return false, nil
	}
	delete(s.rows, p)
	return true, nil
}

func (s *fakeChallengeStore) IncrementAttempts(_ context.Context, p string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[p]
	if !ok {
		return 0, otp.ErrChallengeNotFound
	}
	row.Attempts++
	return row.Attempts, nil
}

func (s *fakeChallengeStore) SetLock(_ context.Context, p string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[p]
	if !ok {
		return otp.ErrChallengeNotFound
	}
	row.LockedUntil = &until
	return nil
}

func (s *fakeChallengeStore) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for p, row := range s.rows {
		if !now.Before(row.ExpiresAt) {
			delete(s.rows, p)
			purged++
		}
	}
	return purged, nil
}

// fakeSender records the last message instead of delivering it.
type fakeSender struct {
	lastPhone string
	lastBody  string
	err       error
	calls     int
}

func (s *fakeSender) Send(_ context.Context, phoneE164, body string) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	s.lastPhone = phoneE164
	s.lastBody = body
	return nil
}

// lastCode extracts the 6-digit code from the recorded message body.
func (s *fakeSender) lastCode(t *testing.T) string {
	t.Helper()
	idx := strings.LastIndex(s.lastBody, ": ")
	require.GreaterOrEqual(t, idx, 0, "message body %q has no code", s.lastBody)
	return s.lastBody[idx+2:]
}

type recordingAuditLog struct {
	mu      sync.Mutex
	entries []models.SMSLogEntry
}

func (l *recordingAuditLog) Append(_ context.Context, entry models.SMSLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

func newTestVerificationService(sender *fakeSender, audit AuditLog) (*VerificationService, *proof.Issuer) {
	hasher := hashing.NewHasher(&config.Config{
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
		},
	})
	engine := otp.NewEngine(newFakeChallengeStore(), hasher, config.OTPConfig{
		TTL:            10 * time.Minute,
		ResendCooldown: 60 * time.Second,
		MaxAttempts:    3,
		LockDuration:   15 * time.Minute,
	})
	issuer := proof.NewIssuer([]byte("test-proof-secret"), 15*time.Minute)

	svc := NewVerificationService(engine, phone.NewNormalizer("+49"), issuer, sender, audit)
	svc.sleep = func(time.Duration) {}
	return svc, issuer
}

func TestStartVerificationSendsCode(t *testing.T) {
	sender := &fakeSender{}
	svc, _ := newTestVerificationService(sender, nil)

	err := svc.StartVerification(context.Background(), "0151 1234 5678", "en")
	require.NoError(t, err)

	assert.Equal(t, testPhone, sender.lastPhone, "code goes to the normalized number")
	assert.Len(t, sender.lastCode(t), 6)
}

func TestStartVerificationValidation(t *testing.T) {
	svc, _ := newTestVerificationService(&fakeSender{}, nil)
	ctx := context.Background()

	err := svc.StartVerification(ctx, "", "en")
	assert.ErrorIs(t, err, ErrPhoneRequired)

	err = svc.StartVerification(ctx, "not a number", "en")
	assert.ErrorIs(t, err, ErrInvalidPhone)
}

func TestStartVerificationCooldown(t *testing.T) {
	sender := &fakeSender{}
	svc, _ := newTestVerificationService(sender, nil)
	ctx := context.Background()

	require.NoError(t, svc.StartVerification(ctx, testPhone, "en"))

	err := svc.StartVerification(ctx, testPhone, "en")
	assert.ErrorIs(t, err, ErrResendCooldown)
	assert.Equal(t, 1, sender.calls, "throttled request must not send")
}

func TestStartVerificationSendFailure(t *testing.T) {
	sender := &fakeSender{err: errors.New("broker down")}
	svc, _ := newTestVerificationService(sender, nil)

	err := svc.StartVerification(context.Background(), testPhone, "en")
	assert.ErrorIs(t, err, ErrSendFailed)
}

func TestCheckVerificationSuccessMintsProof(t *testing.T) {
	sender := &fakeSender{}
	svc, issuer := newTestVerificationService(sender, nil)
	ctx := context.Background()

	require.NoError(t, svc.StartVerification(ctx, testPhone, "en"))
	code := sender.lastCode(t)

	result, err := svc.CheckVerification(ctx, "0151 1234 5678", code, proof.PurposeRegistration)
	require.NoError(t, err)
	assert.True(t, result.Verified)
	require.NotEmpty(t, result.Proof)

	verifiedPhone, err := issuer.Consume(result.Proof, testPhone, proof.PurposeRegistration)
	require.NoError(t, err)
	assert.Equal(t, testPhone, verifiedPhone)
}

func TestCheckVerificationNoProofWithoutPurpose(t *testing.T) {
	sender := &fakeSender{}
	svc, _ := newTestVerificationService(sender, nil)
	ctx := context.Background()

	require.NoError(t, svc.StartVerification(ctx, testPhone, "en"))

	result, err := svc.CheckVerification(ctx, testPhone, sender.lastCode(t), "")
	require.NoError(t, err)
	assert.True(t, result.Verified)
	assert.Empty(t, result.Proof)
}

func TestCheckVerificationWrongCode(t *testing.T) {
	sender := &fakeSender{}
	svc, _ := newTestVerificationService(sender, nil)
	ctx := context.Background()

	require.NoError(t, svc.StartVerification(ctx, testPhone, "en"))

	wrong := "000000"
	if wrong == sender.lastCode(t) {
		wrong = "000001"
	}

	result, err := svc.CheckVerification(ctx, testPhone, wrong, proof.PurposeRegistration)
	require.NoError(t, err)
	assert.False(t, result.Verified)
	assert.Equal(t, otp.ReasonInvalid, result.Reason)
	assert.Empty(t, result.Proof)
}

func TestCheckVerificationFailureIsDelayed(t *testing.T) {
	sender := &fakeSender{}
	svc, _ := newTestVerificationService(sender, nil)

	var slept time.Duration
	svc.sleep = func(d time.Duration) { slept = d }

	result, err := svc.CheckVerification(context.Background(), testPhone, "123456", "")
	require.NoError(t, err)
	assert.False(t, result.Verified)
	assert.GreaterOrEqual(t, slept, failureDelayMin)
	assert.Less(t, slept, failureDelayMin+failureDelaySpread*time.Millisecond)
}

func TestCheckVerificationValidation(t *testing.T) {
	svc, _ := newTestVerificationService(&fakeSender{}, nil)
	ctx := context.Background()

	_, err := svc.CheckVerification(ctx, "", "123456", "")
	assert.ErrorIs(t, err, ErrPhoneRequired)

	_, err = svc.CheckVerification(ctx, testPhone, "", "")
	assert.ErrorIs(t, err, ErrCodeRequired)
}

func TestConsumeProof(t *testing.T) {
	sender := &fakeSender{}
	svc, issuer := newTestVerificationService(sender, nil)

	token, err := issuer.Issue(testPhone, proof.PurposeRegistration)
	require.NoError(t, err)

	// Raw input is normalized before matching against the proof.
	verified, err := svc.ConsumeProof(token, "0151 1234 5678", proof.PurposeRegistration)
	require.NoError(t, err)
	assert.Equal(t, testPhone, verified)

	_, err = svc.ConsumeProof(token, "+4915100000000", proof.PurposeRegistration)
	assert.ErrorIs(t, err, proof.ErrProofMismatch)

	_, err = svc.ConsumeProof(token, "", proof.PurposeRegistration)
	assert.ErrorIs(t, err, ErrPhoneRequired)
}

func TestAuditTrail(t *testing.T) {
	sender := &fakeSender{}
	audit := &recordingAuditLog{}
	svc, _ := newTestVerificationService(sender, audit)
	ctx := context.Background()

	require.NoError(t, svc.StartVerification(ctx, testPhone, "en"))

	result, err := svc.CheckVerification(ctx, testPhone, sender.lastCode(t), "")
	require.NoError(t, err)
	require.True(t, result.Verified)

	require.Len(t, audit.entries, 2)
	assert.Equal(t, models.SMSLogEventIssued, audit.entries[0].Event)
	assert.Equal(t, models.SMSLogEventVerified, audit.entries[1].Event)

	// Only the masked number reaches the audit log.
	for _, entry := range audit.entries {
		assert.NotContains(t, entry.PhoneMasked, "15112345678")
		assert.Equal(t, phone.Mask(testPhone), entry.PhoneMasked)
	}
}
