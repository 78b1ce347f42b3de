package request

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestCooldown(base, max time.Duration) (*Cooldown, *time.Time) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewCooldown(base, max)
	c.now = func() time.Time { return now }
	c.jitter = func(time.Duration) time.Duration { return 0 }
	return c, &now
}

func TestCooldown_Doubles(t *testing.T) {
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{10, 60 * time.Second},
		{100, 60 * time.Second},
	}
	for _, tt := range tests {
		c, _ := newTestCooldown(time.Second, time.Minute)
		for i := 0; i < tt.failures; i++ {
			c.Failed("gmaps")
		}
		assert.Equal(t, tt.want, c.Remaining("gmaps"), "failures=%d", tt.failures)
		assert.Equal(t, tt.failures, c.Failures("gmaps"))
	}
}

func TestCooldown_JitterBounded(t *testing.T) {
	c := NewCooldown(time.Second, time.Minute)
	c.Failed("gmaps")
	got := c.Remaining("gmaps")
	assert.Greater(t, got, 900*time.Millisecond)
	assert.LessOrEqual(t, got, 1100*time.Millisecond)
}

func TestCooldown_GradualRecovery(t *testing.T) {
	c, _ := newTestCooldown(time.Second, time.Minute)
	c.Failed("gmaps")
	c.Failed("gmaps")
	c.Failed("gmaps")

	c.Succeeded("gmaps")
	assert.Equal(t, 2, c.Failures("gmaps"))
	assert.Positive(t, c.Remaining("gmaps"), "one success does not lift the cooldown")

	c.Succeeded("gmaps")
	c.Succeeded("gmaps")
	assert.Zero(t, c.Failures("gmaps"))
	assert.Zero(t, c.Remaining("gmaps"))
}

func TestCooldown_ExpiresWithClock(t *testing.T) {
	c, now := newTestCooldown(time.Second, time.Minute)
	c.Failed("gmaps")
	*now = now.Add(999 * time.Millisecond)
	assert.Equal(t, time.Millisecond, c.Remaining("gmaps"))
	*now = now.Add(time.Second)
	assert.Zero(t, c.Remaining("gmaps"))
}

func TestCooldown_Defer(t *testing.T) {
	c, _ := newTestCooldown(time.Second, time.Minute)

	c.Defer("gmaps", 5*time.Second)
	assert.Equal(t, 5*time.Second, c.Remaining("gmaps"))
	assert.Zero(t, c.Failures("gmaps"), "Retry-After is not a failure")

	// A shorter hint never shortens the wait
	c.Defer("gmaps", time.Second)
	assert.Equal(t, 5*time.Second, c.Remaining("gmaps"))

	// Capped at max
	c.Defer("gmaps", time.Hour)
	assert.Equal(t, time.Minute, c.Remaining("gmaps"))
}

func TestCooldown_IsolatedProviders(t *testing.T) {
	c, _ := newTestCooldown(time.Second, time.Minute)
	c.Failed("gmaps")
	assert.Zero(t, c.Failures("probe"))
	assert.Zero(t, c.Remaining("probe"))
}

func TestCooldown_WaitHonorsContext(t *testing.T) {
	c := NewCooldown(time.Second, time.Second)
	c.Failed("gmaps")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Wait(ctx, "gmaps"), context.DeadlineExceeded)
	assert.NoError(t, c.Wait(context.Background(), "unknown"))
}
