package hashing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking-service/internal/config"
)

func newTestHasher() *Hasher {
	return NewHasher(&config.Config{
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
		},
	})
}

func TestHashAndVerify(t *testing.T) {
	h := newTestHasher()

	encoded, err := h.HashCode("482913")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$"))
	assert.NotContains(t, encoded, "482913", "plaintext must not leak into the encoded hash")

	ok, err := h.Verify("482913", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("482914", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashIsSalted(t *testing.T) {
	h := newTestHasher()

	first, err := h.HashCode("482913")
	require.NoError(t, err)
	second, err := h.HashCode("482913")
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "same input must hash differently under fresh salts")
}

func TestVerifyMalformedHash(t *testing.T) {
	h := newTestHasher()

	for _, encoded := range []string{"", "plainhash", "$argon2id$v=19$broken", "$bcrypt$whatever$x$y$z"} {
		ok, err := h.Verify("482913", encoded)
		assert.False(t, ok)
		assert.ErrorIs(t, err, ErrInvalidHash)
	}
}

func TestVerifyIncompatibleVersion(t *testing.T) {
	h := newTestHasher()

	encoded, err := h.HashCode("482913")
	require.NoError(t, err)

	tampered := strings.Replace(encoded, "$v=19$", "$v=18$", 1)
	ok, err := h.Verify("482913", tampered)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrIncompatibleVersion)
}

func TestVerifySurvivesParameterChange(t *testing.T) {
	old := newTestHasher()
	encoded, err := old.HashCode("482913")
	require.NoError(t, err)

	// A hasher with different costs still verifies, parameters travel with
	// the hash.
	current := NewHasher(&config.Config{
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  2048,
			Argon2TimeCost:    2,
			Argon2Parallelism: 2,
		},
	})

	ok, err := current.Verify("482913", encoded)
	require.NoError(t, err)
	assert.True(t, ok)
}
