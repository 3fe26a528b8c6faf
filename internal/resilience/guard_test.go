package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/marketmind/internal/model"
)

func TestCall_RetriesThenSucceeds(t *testing.T) {
	g := NewGuards(GuardConfig{Retry: fastRetry(3)})
	calls := 0
	v, err := Call(context.Background(), g, model.SourceNews, "Acme", func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", Transient(errors.New("rss timeout"))
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 2, calls)
	assert.Equal(t, Closed, g.Breakers().For(model.SourceNews).State())
}

func TestCall_OpenCircuitShortCircuits(t *testing.T) {
	g := NewGuards(GuardConfig{
		Retry:   fastRetry(1),
		Breaker: BreakerConfig{Threshold: 1, Cooldown: time.Hour},
	})
	fail := func(context.Context) (int, error) { return 0, Transient(errors.New("down")) }

	_, err := Call(context.Background(), g, model.SourceFinancial, "Acme", fail)
	require.Error(t, err)

	called := false
	_, err = Call(context.Background(), g, model.SourceFinancial, "Acme", func(context.Context) (int, error) {
		called = true
		return 1, nil
	})
	assert.True(t, eris.Is(err, ErrCircuitOpen), "got %v", err)
	assert.False(t, called)

	_, err = Call(context.Background(), g, model.SourceNews, "Acme", func(context.Context) (int, error) { return 1, nil })
	assert.NoError(t, err, "other sources keep their own breaker")
}

func TestCall_RateLimited(t *testing.T) {
	g := NewGuards(GuardConfig{Retry: fastRetry(1), RatePerSec: 20, Burst: 1})
	start := time.Now()
	for range 3 {
		_, err := Call(context.Background(), g, model.SourceSentiment, "Acme", func(context.Context) (int, error) { return 0, nil })
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestCall_LimiterHonorsContext(t *testing.T) {
	g := NewGuards(GuardConfig{Retry: fastRetry(1), RatePerSec: 0.001, Burst: 1})
	_, err := Call(context.Background(), g, model.SourceRegulatory, "Acme", func(context.Context) (int, error) { return 0, nil })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = Call(ctx, g, model.SourceRegulatory, "Acme", func(context.Context) (int, error) { return 0, nil })
	assert.ErrorContains(t, err, "rate limit regulatory")
}
