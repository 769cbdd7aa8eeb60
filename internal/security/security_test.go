package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSRFVerify(t *testing.T) {
	c, err := NewCSRF()
	require.NoError(t, err)
	token := c.Token()
	require.NotEmpty(t, token)

	assert.True(t, c.Verify(token, token))
	assert.False(t, c.Verify(token, ""), "missing cookie must fail")
	assert.False(t, c.Verify("", token), "missing header must fail")
	assert.False(t, c.Verify("", ""))
	assert.False(t, c.Verify(token, "other"))
	assert.False(t, c.Verify("other", token))
}

func TestCSRFTokensAreUnique(t *testing.T) {
	a, err := NewCSRF()
	require.NoError(t, err)
	b, err := NewCSRF()
	require.NoError(t, err)
	assert.NotEqual(t, a.Token(), b.Token())
}

func TestRateLimiterRefusesPastLimit(t *testing.T) {
	r := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		allowed, _ := r.Allow("client")
		require.True(t, allowed, "call %d within the limit", i+1)
	}
	allowed, resetAt := r.Allow("client")
	assert.False(t, allowed)
	assert.False(t, resetAt.IsZero(), "refusal carries the window reset time")
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	r := NewRateLimiter(1, time.Minute)

	allowed, _ := r.Allow("a")
	require.True(t, allowed)
	allowed, _ = r.Allow("a")
	assert.False(t, allowed)

	allowed, _ = r.Allow("b")
	assert.True(t, allowed, "a different key has its own window")
}

func TestRateLimiterWindowResets(t *testing.T) {
	now := time.Now()
	r := NewRateLimiter(1, time.Minute)
	r.now = func() time.Time { return now }

	allowed, _ := r.Allow("client")
	require.True(t, allowed)
	allowed, resetAt := r.Allow("client")
	require.False(t, allowed)
	assert.Equal(t, now.Add(time.Minute), resetAt)

	// Step past the window: the expired entry is overwritten.
	now = now.Add(time.Minute + time.Second)
	allowed, _ = r.Allow("client")
	assert.True(t, allowed)
}
