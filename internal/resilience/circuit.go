// Package resilience guards collaborator fetches with retries, circuit
// breakers and rate limits.
package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/marketmind/internal/model"
)

// State is the position of a circuit breaker.
type State int

const (
	// Closed lets calls through.
	Closed State = iota
	// Open rejects calls until the cooldown passes.
	Open
	// HalfOpen lets probe calls through to test recovery.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen rejects a call without running it.
var ErrCircuitOpen = eris.New("resilience: circuit breaker is open")

// BreakerConfig controls a circuit breaker.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the circuit. Default: 5.
	Threshold int
	// Cooldown is how long the circuit stays open. Default: 30s.
	Cooldown time.Duration
	// Probes is the number of successful half-open calls that close it again. Default: 1.
	Probes int
	// OnStateChange observes transitions.
	OnStateChange func(from, to State)
}

// DefaultBreakerConfig returns the breaker settings used when none are configured.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 5, Cooldown: 30 * time.Second, Probes: 1}
}

// Breaker stops calling a collaborator that keeps failing.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	d := DefaultBreakerConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = d.Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = d.Cooldown
	}
	if cfg.Probes <= 0 {
		cfg.Probes = d.Probes
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Allow returns ErrCircuitOpen while the circuit is open and the cooldown
// has not passed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open {
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return ErrCircuitOpen
		}
		b.transition(HalfOpen)
	}
	return nil
}

// Record feeds the outcome of an allowed call back into the breaker. Only
// transient errors count as failures; a permanent error means the
// collaborator answered.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || !IsTransient(err) {
		b.failures = 0
		if b.state == HalfOpen {
			b.probes++
			if b.probes >= b.cfg.Probes {
				b.probes = 0
				b.transition(Closed)
			}
		}
		return
	}

	b.failures++
	switch {
	case b.state == HalfOpen:
		b.probes = 0
		b.openedAt = b.now()
		b.transition(Open)
	case b.state == Closed && b.failures >= b.cfg.Threshold:
		b.openedAt = b.now()
		b.transition(Open)
	}
}

// State returns the current state, reporting HalfOpen once the cooldown has passed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return HalfOpen
	}
	return b.state
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}

// Breakers holds one breaker per source.
type Breakers struct {
	cfg BreakerConfig

	mu  sync.Mutex
	set map[model.Source]*Breaker
}

// NewBreakers creates an empty per-source set. Transitions are logged.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{cfg: cfg, set: make(map[model.Source]*Breaker)}
}

// For returns the breaker for src, creating it on first use.
func (bs *Breakers) For(src model.Source) *Breaker {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if b, ok := bs.set[src]; ok {
		return b
	}
	cfg := bs.cfg
	observe := cfg.OnStateChange
	cfg.OnStateChange = func(from, to State) {
		zap.L().Warn("resilience: circuit state changed",
			zap.String("source", string(src)),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
		if observe != nil {
			observe(from, to)
		}
	}
	b := NewBreaker(cfg)
	bs.set[src] = b
	return b
}

// States snapshots every breaker created so far.
func (bs *Breakers) States() map[model.Source]State {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	out := make(map[model.Source]State, len(bs.set))
	for src, b := range bs.set {
		out[src] = b.State()
	}
	return out
}
