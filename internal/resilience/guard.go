package resilience

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/marketmind/internal/model"
)

// GuardConfig configures the protection applied to every collaborator call.
type GuardConfig struct {
	Retry   RetryConfig
	Breaker BreakerConfig
	// RatePerSec limits attempts per source. Zero means unlimited.
	RatePerSec float64
	// Burst is the limiter bucket size. Defaults to 1.
	Burst int
}

// Guards rate-limits, circuit-breaks and retries calls per source.
type Guards struct {
	cfg      GuardConfig
	breakers *Breakers

	mu       sync.Mutex
	limiters map[model.Source]*rate.Limiter
}

// NewGuards creates per-source guards from cfg.
func NewGuards(cfg GuardConfig) *Guards {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Guards{
		cfg:      cfg,
		breakers: NewBreakers(cfg.Breaker),
		limiters: make(map[model.Source]*rate.Limiter),
	}
}

// Breakers exposes the per-source breakers for observability.
func (g *Guards) Breakers() *Breakers { return g.breakers }

func (g *Guards) limiter(src model.Source) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.limiters[src]
	if !ok {
		limit := rate.Inf
		if g.cfg.RatePerSec > 0 {
			limit = rate.Limit(g.cfg.RatePerSec)
		}
		l = rate.NewLimiter(limit, g.cfg.Burst)
		g.limiters[src] = l
	}
	return l
}

// Call runs fn for src. Every attempt waits for the source's limiter and
// passes its breaker; transient failures are retried per the retry config.
func Call[T any](ctx context.Context, g *Guards, src model.Source, companyID string, fn func(ctx context.Context) (T, error)) (T, error) {
	retry := g.cfg.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = RetryLogger(src, companyID)
	}
	limiter := g.limiter(src)
	breaker := g.breakers.For(src)

	return DoVal(ctx, retry, func(ctx context.Context) (T, error) {
		var zero T
		if err := limiter.Wait(ctx); err != nil {
			return zero, eris.Wrapf(err, "resilience: rate limit %s", src)
		}
		if err := breaker.Allow(); err != nil {
			return zero, eris.Wrapf(err, "resilience: %s", src)
		}
		val, err := fn(ctx)
		breaker.Record(err)
		return val, err
	})
}
