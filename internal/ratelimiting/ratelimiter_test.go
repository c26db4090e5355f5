package ratelimiting

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type mockedRateLimiter struct {
	consumeFunc func(key string) bool
}

func (m *mockedRateLimiter) Consume(key string) bool {
	return m.consumeFunc(key)
}

func TestTokenBucketRateLimiter(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping test in short mode")
	}
	rateLimiter, stop := NewTokenBucketRateLimiter(1, 2)
	defer stop()

	assert.True(t, rateLimiter.Consume("ip: 2.2.2.2"))

	// Burst of 2
	assert.True(t, rateLimiter.Consume("ip: 1.1.1.1"))
	assert.True(t, rateLimiter.Consume("ip: 1.1.1.1"))
	assert.False(t, rateLimiter.Consume("ip: 1.1.1.1"))

	time.Sleep(1100 * time.Millisecond)

	// Refill rate of 1
	assert.True(t, rateLimiter.Consume("ip: 1.1.1.1"))
	assert.False(t, rateLimiter.Consume("ip: 1.1.1.1"))

	// Fresh keys get the full burst
	assert.True(t, rateLimiter.Consume("ip: 3.3.3.3"))
	assert.True(t, rateLimiter.Consume("ip: 3.3.3.3"))
	assert.False(t, rateLimiter.Consume("ip: 3.3.3.3"))
}

func TestIPKeyFunc(t *testing.T) {
	cases := []struct {
		remoteAddr string
		expected   string
	}{
		{"123.123.123.123", "ip: 123.123.123.123"},
		{"123.123.123.123:54321", "ip: 123.123.123.123"},
		{"[2001:db8::1]:443", "ip: 2001:db8::1"},
		{"2001:db8::1", "ip: 2001:db8::1"},
	}
	for _, c := range cases {
		t.Run(c.remoteAddr, func(t *testing.T) {
			assert.Equal(t, c.expected, IPKeyFunc(&http.Request{RemoteAddr: c.remoteAddr}))
		})
	}
}

func TestRequestBasedRateLimiter(t *testing.T) {
	var expectedKey string
	var allowed bool
	rateLimiter := &mockedRateLimiter{
		consumeFunc: func(key string) bool {
			t.Helper()
			assert.Equal(t, expectedKey, key)
			return allowed
		},
	}
	requestRateLimiter := NewRequestBasedRateLimiter(rateLimiter, IPKeyFunc)

	expectedKey = "ip: 1.1.1.1"
	allowed = true
	assert.True(t, requestRateLimiter.Consume(&http.Request{RemoteAddr: "1.1.1.1:1234"}))
	allowed = false
	assert.False(t, requestRateLimiter.Consume(&http.Request{RemoteAddr: "1.1.1.1:1234"}))

	expectedKey = "ip: 2.1.1.1"
	allowed = true
	assert.True(t, requestRateLimiter.Consume(&http.Request{RemoteAddr: "2.1.1.1:80"}))
	assert.Equal(t, "ip: 2.1.1.1", requestRateLimiter.KeyFor(&http.Request{RemoteAddr: "2.1.1.1:80"}))
}
