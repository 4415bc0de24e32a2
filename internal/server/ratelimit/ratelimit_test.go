package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConnectionLimit(t *testing.T) {
	rl := New(2, 0)
	defer rl.Close()

	assert.True(t, rl.CanConnect("1.2.3.4"))
	rl.AddConnection("1.2.3.4")
	rl.AddConnection("1.2.3.4")
	assert.False(t, rl.CanConnect("1.2.3.4"))
	assert.True(t, rl.CanConnect("5.6.7.8"))

	rl.RemoveConnection("1.2.3.4")
	assert.True(t, rl.CanConnect("1.2.3.4"))
}

func TestRequestBudget(t *testing.T) {
	rl := New(0, 2)
	defer rl.Close()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.AllowRequest("u1"))
	assert.True(t, rl.AllowRequest("u1"))
	assert.False(t, rl.AllowRequest("u1"))
	assert.True(t, rl.AllowRequest("u2"))

	now = now.Add(61 * time.Second)
	assert.True(t, rl.AllowRequest("u1"))

	rl.cleanup()
	rl.mu.RLock()
	assert.Len(t, rl.requests["u1"], 1)
	assert.NotContains(t, rl.requests, "u2")
	rl.mu.RUnlock()
}

func TestZeroBudgetDisablesLimits(t *testing.T) {
	rl := New(0, 0)
	defer rl.Close()
	for i := 0; i < 100; i++ {
		rl.AddConnection("ip")
		assert.True(t, rl.AllowRequest("u1"))
	}
	assert.True(t, rl.CanConnect("ip"))
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", GetClientIP(r))

	r.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", GetClientIP(r))

	r.Header.Set("X-Forwarded-For", "10.0.0.3")
	assert.Equal(t, "10.0.0.3", GetClientIP(r))
}
