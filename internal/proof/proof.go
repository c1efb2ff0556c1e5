package proof

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Purposes a proof may be bound to.
const (
	PurposeRegistration = "registration"
	PurposePhoneUpdate  = "phone_update"
)

var (
	// ErrInvalidProof covers bad signatures, expiry, and malformed tokens.
	// Consumers get one indistinguishable failure for all of them.
	ErrInvalidProof = errors.New("invalid or expired verification proof")

	// ErrProofMismatch is returned by Consume when the proof is valid but
	// does not cover the phone or purpose of the current request.
	ErrProofMismatch = errors.New("verification proof does not match request")
)

// Claims is the typed payload of a verification proof: the statement that
// phoneE164 was OTP-verified, optionally bound to a purpose.
type Claims struct {
	PhoneE164 string `json:"phoneE164"`
	Purpose   string `json:"purpose,omitempty"`
	jwt.RegisteredClaims
}

// Issuer mints and validates verification proofs. It is stateless: proofs
// are bearer tokens whose unforgeability rests entirely on the signature,
// and there is no server-side revocation.
//
// The signing secret must be dedicated to proofs; sharing it with session
// tokens would let a session token masquerade as a verified-phone claim.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	return &Issuer{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue signs a proof for phoneE164. An empty purpose leaves the proof
// unbound; consumers then only match on the phone.
func (i *Issuer) Issue(phoneE164, purpose string) (string, error) {
	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		PhoneE164: phoneE164,
		Purpose:   purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	})

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign verification proof: %w", err)
	}
	return signed, nil
}

// Validate checks signature and expiry and returns the decoded claims.
func (i *Issuer) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return i.secret, nil
		},
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidProof
	}
	if claims.PhoneE164 == "" {
		return nil, ErrInvalidProof
	}

	return claims, nil
}

// Consume validates the proof and performs the consumer-side checks the
// issuer itself does not enforce: the proof must cover expectedPhone, and if
// either side names a purpose they must agree. Returns the verified phone.
func (i *Issuer) Consume(tokenString, expectedPhone, expectedPurpose string) (string, error) {
	claims, err := i.Validate(tokenString)
	if err != nil {
		return "", err
	}

	if claims.PhoneE164 != expectedPhone {
		return "", fmt.Errorf("%w: phone mismatch", ErrProofMismatch)
	}
	if claims.Purpose != "" && claims.Purpose != expectedPurpose {
		return "", fmt.Errorf("%w: purpose mismatch", ErrProofMismatch)
	}

	return claims.PhoneE164, nil
}
