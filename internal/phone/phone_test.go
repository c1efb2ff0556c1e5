package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	n := NewNormalizer("+49")

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"already e164", "+4915112345678", "+4915112345678"},
		{"formatted e164", "+49 (151) 123-456-78", "+4915112345678"},
		{"national with trunk zero", "015112345678", "+4915112345678"},
		{"national without trunk zero", "15112345678", "+4915112345678"},
		{"surrounding whitespace", "  +4915112345678  ", "+4915112345678"},
		{"foreign country code kept", "+3212345678", "+3212345678"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Normalize(tt.raw))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	n := NewNormalizer("+49")

	for _, raw := range []string{"+49 151 123 456 78", "0151-1234-5678", "+32 12 34 56 78"} {
		once := n.Normalize(raw)
		assert.Equal(t, once, n.Normalize(once), "normalizing twice must not change the key for %q", raw)
	}
}

func TestNormalizeSameNumberSameKey(t *testing.T) {
	n := NewNormalizer("+49")

	spellings := []string{"+4915112345678", "+49 151 1234 5678", "015112345678", "0151-1234-5678"}
	want := n.Normalize(spellings[0])
	for _, s := range spellings[1:] {
		assert.Equal(t, want, n.Normalize(s), "spelling %q must map to the same key", s)
	}
}

func TestMask(t *testing.T) {
	assert.Equal(t, "+49******78", Mask("+4915112345678"))
	// Unmatchable input passes through untouched.
	assert.Equal(t, "garbage", Mask("garbage"))
}

func TestIsE164(t *testing.T) {
	assert.True(t, IsE164("+4915112345678"))
	assert.True(t, IsE164("+12025550143"))
	assert.False(t, IsE164("4915112345678"))
	assert.False(t, IsE164("+0151123"))
	assert.False(t, IsE164("+49 151"))
	assert.False(t, IsE164(""))
}
