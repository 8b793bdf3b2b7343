package kdf

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Low-cost settings so the suite stays fast.
func testSettings() Settings {
	return Settings{Iterations: 1, MemoryKiB: 8 * 1024, Parallelism: 1}
}

func TestDeriveKey_Deterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")

	for _, alg := range []string{AlgorithmArgon2id, AlgorithmPBKDF2} {
		t.Run(alg, func(t *testing.T) {
			k1, err := DeriveKey(alg, []byte("correct horse"), salt, testSettings())
			require.NoError(t, err)
			k2, err := DeriveKey(alg, []byte("correct horse"), salt, testSettings())
			require.NoError(t, err)

			assert.Len(t, k1, KeySize)
			assert.Equal(t, k1, k2, "same inputs must yield the same key")
		})
	}
}

func TestDeriveKey_DifferentPasswordDifferentKey(t *testing.T) {
	salt := []byte("0123456789abcdef")

	k1, err := DeriveKey(AlgorithmArgon2id, []byte("password-a"), salt, testSettings())
	require.NoError(t, err)
	k2, err := DeriveKey(AlgorithmArgon2id, []byte("password-b"), salt, testSettings())
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
}

func TestDeriveKey_DifferentSaltDifferentKey(t *testing.T) {
	k1, err := DeriveKey(AlgorithmArgon2id, []byte("password"), []byte("salt-one-16bytes"), testSettings())
	require.NoError(t, err)
	k2, err := DeriveKey(AlgorithmArgon2id, []byte("password"), []byte("salt-two-16bytes"), testSettings())
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
}

func TestDeriveKey_UnsupportedAlgorithm(t *testing.T) {
	_, err := DeriveKey("MD5", []byte("p"), []byte("s"), testSettings())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedAlgorithm))
}

func TestSettings_EncodeParseRoundTrip(t *testing.T) {
	s := DefaultSettings()
	parsed, err := ParseSettings(s.Encode())
	require.NoError(t, err)
	assert.Equal(t, s, parsed)
}

func TestParseSettings_Invalid(t *testing.T) {
	_, err := ParseSettings("{not json")
	require.Error(t, err)
}

func TestParseSettings_RejectsZeroIterations(t *testing.T) {
	_, err := ParseSettings(`{"iterations":0,"memoryKiB":65536,"parallelism":4}`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSettings))
}

// A server controls the settings a client derives with, so out-of-range
// values must surface as errors rather than crash the process.
func TestDeriveKey_RejectsOutOfRangeSettings(t *testing.T) {
	salt := []byte("0123456789abcdef")

	tests := []struct {
		name      string
		algorithm string
		settings  Settings
	}{
		{"argon2id zero value", AlgorithmArgon2id, Settings{}},
		{"argon2id zero iterations", AlgorithmArgon2id, Settings{MemoryKiB: 8 * 1024, Parallelism: 1}},
		{"argon2id zero parallelism", AlgorithmArgon2id, Settings{Iterations: 1, MemoryKiB: 8 * 1024}},
		{"argon2id memory below minimum", AlgorithmArgon2id, Settings{Iterations: 1, MemoryKiB: 7, Parallelism: 1}},
		{"pbkdf2 zero iterations", AlgorithmPBKDF2, Settings{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			key, err := DeriveKey(tc.algorithm, []byte("password"), salt, tc.settings)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidSettings))
			assert.Nil(t, key)
		})
	}
}
