package models

import "time"

// PhoneChallenge is the single row of OTP state kept per normalized phone
// number. It exists from issuance until success, lazy expiry deletion, or the
// janitor sweep; a verified challenge is never retained.
type PhoneChallenge struct {
	Phone       string     `json:"phone" db:"phone"`
	CodeHash    string     `json:"-" db:"code_hash"`
	ExpiresAt   time.Time  `json:"expires_at" db:"expires_at"`
	Attempts    int        `json:"attempts" db:"attempts"`
	LockedUntil *time.Time `json:"locked_until,omitempty" db:"locked_until"`
	LastSentAt  time.Time  `json:"last_sent_at" db:"last_sent_at"`
}

// Expired reports whether the challenge is past its validity window.
func (c *PhoneChallenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Locked reports whether the challenge is under an attempt lockout.
func (c *PhoneChallenge) Locked(now time.Time) bool {
	return c.LockedUntil != nil && now.Before(*c.LockedUntil)
}

// Customer is a registered customer of the booking system. PhoneVerified is
// set only through a consumed verification proof, never directly.
type Customer struct {
	CustomerID    string    `json:"customer_id" db:"customer_id"`
	Email         string    `json:"email" db:"email"`
	Name          string    `json:"name" db:"name"`
	PasswordHash  string    `json:"-" db:"password_hash"`
	PhoneE164     string    `json:"phone_e164" db:"phone_e164"`
	PhoneVerified bool      `json:"phone_verified" db:"phone_verified"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// SMSJob is the message handed to the outbound SMS gateway via Kafka. The
// verification core only enqueues it; delivery is out of process.
type SMSJob struct {
	JobID     string    `json:"job_id"`
	To        string    `json:"to"`
	Body      string    `json:"body"`
	Unicode   bool      `json:"unicode"`
	ClientRef string    `json:"client_ref"`
	CreatedAt time.Time `json:"created_at"`
}

// SMSLogEntry is the append-only audit record written to ClickHouse for each
// verification event. Phone numbers are stored masked.
type SMSLogEntry struct {
	EventID     string    `db:"event_id"`
	PhoneMasked string    `db:"phone_masked"`
	Event       string    `db:"event"`
	Outcome     string    `db:"outcome"`
	OccurredAt  time.Time `db:"occurred_at"`
}

// SMS log event names.
const (
	SMSLogEventIssued   = "code_issued"
	SMSLogEventVerified = "code_verified"
	SMSLogEventRejected = "code_rejected"
)
