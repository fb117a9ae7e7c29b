package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsync-io/flowsync/pkg/errors"
)

func TestNextDelayPermanentClasses(t *testing.T) {
	p := DefaultPolicy()

	for _, class := range []errors.ErrorType{
		errors.ErrorTypeClient,
		errors.ErrorTypeConfig,
		errors.ErrorTypeData,
		errors.ErrorTypeSink,
		errors.ErrorTypeAuthentication,
	} {
		t.Run(string(class), func(t *testing.T) {
			_, ok := p.NextDelay(1, class, 0)
			assert.False(t, ok, "%s must never be retried", class)
		})
	}
}

func TestNextDelayRetryBudget(t *testing.T) {
	p := NewPolicy(3, time.Second)

	for retry := 1; retry <= 3; retry++ {
		_, ok := p.NextDelay(retry, errors.ErrorTypeServer, 0)
		assert.True(t, ok, "retry %d is within budget", retry)
	}

	_, ok := p.NextDelay(4, errors.ErrorTypeServer, 0)
	assert.False(t, ok, "budget of 3 delayed retries is spent")
}

func TestNextDelayExponentialGrowth(t *testing.T) {
	p := &Policy{
		MaxRetries:      5,
		InitialDelay:    time.Second,
		MaxDelay:        30 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0, // deterministic
	}

	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	for i, want := range expected {
		delay, ok := p.NextDelay(i+1, errors.ErrorTypeTimeout, 0)
		require.True(t, ok)
		assert.Equal(t, want, delay)
	}
}

func TestNextDelayCap(t *testing.T) {
	p := &Policy{
		MaxRetries:      10,
		InitialDelay:    time.Second,
		MaxDelay:        5 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0,
	}

	delay, ok := p.NextDelay(8, errors.ErrorTypeConnection, 0)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, delay)
}

func TestNextDelayRateLimitHint(t *testing.T) {
	p := NewPolicy(3, time.Second)

	t.Run("hint honored", func(t *testing.T) {
		delay, ok := p.NextDelay(1, errors.ErrorTypeRateLimit, 7*time.Second)
		require.True(t, ok)
		assert.Equal(t, 7*time.Second, delay)
	})

	t.Run("hint capped at max delay", func(t *testing.T) {
		delay, ok := p.NextDelay(1, errors.ErrorTypeRateLimit, 5*time.Minute)
		require.True(t, ok)
		assert.Equal(t, p.MaxDelay, delay)
	})

	t.Run("no hint falls back to backoff", func(t *testing.T) {
		delay, ok := p.NextDelay(1, errors.ErrorTypeRateLimit, 0)
		require.True(t, ok)
		assert.Greater(t, delay, time.Duration(0))
	})

	t.Run("budget still applies", func(t *testing.T) {
		_, ok := p.NextDelay(4, errors.ErrorTypeRateLimit, 7*time.Second)
		assert.False(t, ok)
	})
}

func TestNextDelayJitterBounds(t *testing.T) {
	p := &Policy{
		MaxRetries:      3,
		InitialDelay:    time.Second,
		MaxDelay:        30 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.5,
	}

	// base delay for retry 2 is 2s; jitter 0.5 keeps it in [1s, 3s]
	for i := 0; i < 100; i++ {
		delay, ok := p.NextDelay(2, errors.ErrorTypeServer, 0)
		require.True(t, ok)
		assert.GreaterOrEqual(t, delay, 1*time.Second)
		assert.LessOrEqual(t, delay, 3*time.Second)
	}
}

func TestPolicyBuilders(t *testing.T) {
	p := DefaultPolicy().WithMaxRetries(7).WithDelay(2*time.Second, time.Minute)

	assert.Equal(t, 7, p.MaxRetries)
	assert.Equal(t, 2*time.Second, p.InitialDelay)
	assert.Equal(t, time.Minute, p.MaxDelay)

	// the default policy is untouched
	assert.Equal(t, 3, DefaultPolicy().MaxRetries)
}
