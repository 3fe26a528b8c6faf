package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/marketmind/internal/model"
	"github.com/sells-group/marketmind/internal/resilience"
	"github.com/sells-group/marketmind/internal/store"
)

// pageSize is how many record summaries Collect reads per query.
const pageSize = 500

// Snapshot holds a point-in-time view of research health.
type Snapshot struct {
	// Record metrics (within lookback window).
	Records          int     `json:"records"`
	AvgCompleteness  float64 `json:"avg_completeness"`
	DeadlineExceeded int     `json:"deadline_exceeded"`

	Sources  map[model.Source]SourceHealth `json:"sources"`
	Breakers map[model.Source]string       `json:"breakers,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// SourceHealth counts how often a source left records incomplete.
type SourceHealth struct {
	Failed  int `json:"failed"`
	Missing int `json:"missing"`
	// UnavailableRate is (failed + missing) / records.
	UnavailableRate float64 `json:"unavailable_rate"`
}

// BreakerStates reports the circuit state of each source.
type BreakerStates interface {
	States() map[model.Source]resilience.State
}

// Collector gathers metrics from the record store and the live breakers.
type Collector struct {
	store    store.Store
	breakers BreakerStates
	now      func() time.Time
}

// NewCollector creates a new metrics collector. breakers may be nil.
func NewCollector(st store.Store, breakers BreakerStates) *Collector {
	return &Collector{store: st, breakers: breakers, now: time.Now}
}

// Collect gathers a snapshot over records finalized within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		Sources:       make(map[model.Source]SourceHealth),
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	var totalCompleteness float64
	for offset := 0; ; offset += pageSize {
		page, err := c.store.ListRecords(ctx, store.RecordFilter{Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list records")
		}

		done := len(page) < pageSize
		for _, r := range page {
			// Newest first, so the first record past the cutoff ends the scan.
			if r.FinalizedAt.Before(cutoff) {
				done = true
				break
			}
			snap.Records++
			totalCompleteness += r.Completeness
			if r.DeadlineExceeded {
				snap.DeadlineExceeded++
			}
			for _, src := range r.Failed {
				h := snap.Sources[src]
				h.Failed++
				snap.Sources[src] = h
			}
			for _, src := range r.Missing {
				h := snap.Sources[src]
				h.Missing++
				snap.Sources[src] = h
			}
		}
		if done {
			break
		}
	}

	if snap.Records > 0 {
		snap.AvgCompleteness = totalCompleteness / float64(snap.Records)
		for src, h := range snap.Sources {
			h.UnavailableRate = float64(h.Failed+h.Missing) / float64(snap.Records)
			snap.Sources[src] = h
		}
	}

	if c.breakers != nil {
		states := c.breakers.States()
		if len(states) > 0 {
			snap.Breakers = make(map[model.Source]string, len(states))
			for src, st := range states {
				snap.Breakers[src] = st.String()
			}
		}
	}

	return snap, nil
}
