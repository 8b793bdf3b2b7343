package totp

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify_AcceptsCurrentCode(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	code, err := CodeAt(secret, now)
	require.NoError(t, err)

	assert.True(t, Verify(code, secret, now))
}

func TestVerify_AcceptsAdjacentSteps(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	prev, err := CodeAt(secret, now.Add(-Step))
	require.NoError(t, err)
	next, err := CodeAt(secret, now.Add(Step))
	require.NoError(t, err)

	assert.True(t, Verify(prev, secret, now), "one step behind must verify")
	assert.True(t, Verify(next, secret, now), "one step ahead must verify")
}

func TestVerify_RejectsStaleCode(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	stale, err := CodeAt(secret, now.Add(-3*Step))
	require.NoError(t, err)

	assert.False(t, Verify(stale, secret, now))
}

func TestVerify_RejectsMalformedInput(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)

	assert.False(t, Verify("12345", secret, now), "short code")
	assert.False(t, Verify("1234567", secret, now), "long code")
	assert.False(t, Verify("123456", "not!base32", now), "bad secret")
}

func TestGenerateSecret_Base32NoPadding(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)
	assert.NotContains(t, secret, "=")
	assert.Equal(t, 32, len(secret)) // 20 bytes -> 32 base32 chars
}

func TestProvisionURI_Shape(t *testing.T) {
	uri := ProvisionURI("alice@example.org", "Keyfold", "SECRET")
	assert.True(t, strings.HasPrefix(uri, "otpauth://totp/"))
	assert.Contains(t, uri, "secret=SECRET")
	assert.Contains(t, uri, "issuer=Keyfold")
	assert.Contains(t, uri, "digits=6")
}
