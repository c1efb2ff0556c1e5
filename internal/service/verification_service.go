package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"booking-service/internal/models"
	"booking-service/internal/otp"
	"booking-service/internal/phone"
	"booking-service/internal/proof"
	"booking-service/internal/sms"
	"booking-service/internal/util"
)

var (
	ErrPhoneRequired  = errors.New("phone number is required")
	ErrCodeRequired   = errors.New("verification code is required")
	ErrInvalidPhone   = errors.New("phone number is not valid")
	ErrResendCooldown = errors.New("a code was sent recently, please wait before requesting another")
	ErrSendFailed     = errors.New("failed to send verification code")
)

// Failed checks are delayed by a random amount so response timing does not
// reveal whether a challenge exists for the submitted phone number.
const (
	failureDelayMin    = 300 * time.Millisecond
	failureDelaySpread = 200
)

// AuditLog records verification events. Implemented by the ClickHouse
// repository; nil when auditing is disabled.
type AuditLog interface {
	Append(ctx context.Context, entry models.SMSLogEntry) error
}

// CheckResult is what a code check hands back to the transport layer.
type CheckResult struct {
	Verified    bool
	Reason      otp.Reason
	LockedUntil *time.Time
	// Proof is a signed verification proof, set only on success and only
	// when the caller named a purpose to bind it to.
	Proof string
}

// VerificationService drives phone verification end to end: normalize,
// issue and deliver a code, check submissions, and mint proofs.
type VerificationService struct {
	engine     *otp.Engine
	normalizer *phone.Normalizer
	issuer     *proof.Issuer
	sender     sms.Sender
	auditLog   AuditLog

	sleep func(time.Duration)
}

func NewVerificationService(engine *otp.Engine, normalizer *phone.Normalizer, issuer *proof.Issuer, sender sms.Sender, auditLog AuditLog) *VerificationService {
	return &VerificationService{
		engine:     engine,
		normalizer: normalizer,
		issuer:     issuer,
		sender:     sender,
		auditLog:   auditLog,
		sleep:      time.Sleep,
	}
}

// StartVerification issues a fresh code for the phone number and enqueues it
// for SMS delivery. Re-requesting within the cooldown window returns
// ErrResendCooldown without touching the existing challenge.
func (s *VerificationService) StartVerification(ctx context.Context, rawPhone, lang string) error {
	if rawPhone == "" {
		return ErrPhoneRequired
	}

	phoneE164 := s.normalizer.Normalize(rawPhone)
	if !phone.IsE164(phoneE164) {
		return ErrInvalidPhone
	}

	ok, err := s.engine.CanResend(ctx, phoneE164)
	if err != nil {
		return fmt.Errorf("failed to check resend cooldown: %w", err)
	}
	if !ok {
		util.Info("verification code resend throttled",
			zap.String("phone", phone.Mask(phoneE164)))
		return ErrResendCooldown
	}

	code, err := s.engine.Issue(ctx, phoneE164)
	if err != nil {
		return fmt.Errorf("failed to issue verification code: %w", err)
	}

	body := sms.ComposeBody(lang, code)
	if err := s.sender.Send(ctx, phoneE164, body); err != nil {
		util.Error("failed to deliver verification code",
			zap.String("phone", phone.Mask(phoneE164)),
			zap.Error(err))
		return ErrSendFailed
	}

	s.audit(ctx, phoneE164, models.SMSLogEventIssued, "sent")
	return nil
}

// CheckVerification checks a submitted code. On success the challenge is
// consumed and, when purpose is non-empty, a verification proof is minted
// for it. All failure outcomes are delayed to blunt enumeration.
func (s *VerificationService) CheckVerification(ctx context.Context, rawPhone, code, purpose string) (CheckResult, error) {
	if rawPhone == "" {
		return CheckResult{}, ErrPhoneRequired
	}
	if code == "" {
		return CheckResult{}, ErrCodeRequired
	}

	phoneE164 := s.normalizer.Normalize(rawPhone)

	result, err := s.engine.Verify(ctx, phoneE164, code)
	if err != nil {
		return CheckResult{}, fmt.Errorf("failed to verify code: %w", err)
	}

	if !result.OK {
		s.sleep(failureDelayMin + time.Duration(rand.Intn(failureDelaySpread))*time.Millisecond)
		s.audit(ctx, phoneE164, models.SMSLogEventRejected, string(result.Reason))
		return CheckResult{Reason: result.Reason, LockedUntil: result.LockedUntil}, nil
	}

	out := CheckResult{Verified: true}
	if purpose != "" {
		token, err := s.issuer.Issue(phoneE164, purpose)
		if err != nil {
			return CheckResult{}, fmt.Errorf("failed to issue verification proof: %w", err)
		}
		out.Proof = token
	}

	s.audit(ctx, phoneE164, models.SMSLogEventVerified, "success")
	return out, nil
}

// ConsumeProof checks a verification proof against the phone and purpose of
// the current request and returns the verified E.164 number. For callers
// outside this service that accept proofs (registration, phone update).
func (s *VerificationService) ConsumeProof(token, rawPhone, purpose string) (string, error) {
	if rawPhone == "" {
		return "", ErrPhoneRequired
	}
	return s.issuer.Consume(token, s.normalizer.Normalize(rawPhone), purpose)
}

// audit writes a best-effort log row; failures are already logged by the
// repository and never surface to the caller.
func (s *VerificationService) audit(ctx context.Context, phoneE164, event, outcome string) {
	if s.auditLog == nil {
		return
	}
	_ = s.auditLog.Append(ctx, models.SMSLogEntry{
		EventID:     uuid.New().String(),
		PhoneMasked: phone.Mask(phoneE164),
		Event:       event,
		Outcome:     outcome,
		OccurredAt:  time.Now().UTC(),
	})
}
