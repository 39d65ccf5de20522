package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowBurstThenBlock(t *testing.T) {
	l := NewPerMinute(60, 3)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("a"), "request %d within burst", i)
	}
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "accounts have separate buckets")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("a"), "one token refills per second at 60/min")
	assert.False(t, l.Allow("a"))
}

func TestDisabled(t *testing.T) {
	l := NewPerMinute(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("a"))
	}
}

func TestPrune(t *testing.T) {
	l := NewPerMinute(60, 1)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Allow("old")
	now = now.Add(idleTTL / 2)
	l.Allow("fresh")
	now = now.Add(idleTTL / 2)

	l.prune()
	assert.NotContains(t, l.buckets, "old")
	assert.Contains(t, l.buckets, "fresh")
}
