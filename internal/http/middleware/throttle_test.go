package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIPThrottle_PerIPBuckets(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	th := NewIPThrottle(1, 2)
	th.now = func() time.Time { return now }

	assert.True(t, th.Allow("10.0.0.1"))
	assert.True(t, th.Allow("10.0.0.1"))
	assert.False(t, th.Allow("10.0.0.1"))
	assert.True(t, th.Allow("10.0.0.2"), "other clients keep their own bucket")

	now = now.Add(time.Second)
	assert.True(t, th.Allow("10.0.0.1"))
}

func TestIPThrottle_SweepsIdleVisitors(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	th := NewIPThrottle(1, 1)
	th.now = func() time.Time { return now }

	th.Allow("10.0.0.1")
	th.Allow("10.0.0.2")
	now = now.Add(time.Hour)
	th.Allow("10.0.0.3")

	assert.Len(t, th.visitors, 1)
}
