package collect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/marketmind/internal/aggregate"
	"github.com/sells-group/marketmind/internal/model"
	"github.com/sells-group/marketmind/internal/resilience"
	"github.com/sells-group/marketmind/internal/store"
)

// Options configures a Runner.
type Options struct {
	// Budget is how long Research waits for collaborators before
	// finalizing what it has. Default: 30s.
	Budget time.Duration
	// FetchTimeout bounds one collaborator attempt. Default: 10s.
	FetchTimeout time.Duration
	// MaxConcurrent caps collaborators running at once. Default: 5.
	MaxConcurrent int
	// Guard configures retries, breakers and rate limits per source.
	Guard resilience.GuardConfig

	// Store receives finalized records and serves reuse lookups. Optional.
	Store store.Store
	// ReuseMaxAge lets successful results younger than this from the latest
	// stored record stand in for a fresh fetch. Zero disables reuse.
	ReuseMaxAge time.Duration

	// Observer receives fetch and record outcomes. Optional.
	Observer Observer

	Now func() time.Time
}

// Observer is told about every fetch outcome and finalized record.
type Observer interface {
	ObserveFetch(src model.Source, status model.Status, d time.Duration)
	ObserveLate(src model.Source)
	ObserveRecord(rec *model.CompanyRecord)
}

type nopObserver struct{}

func (nopObserver) ObserveFetch(model.Source, model.Status, time.Duration) {}
func (nopObserver) ObserveLate(model.Source)                               {}
func (nopObserver) ObserveRecord(*model.CompanyRecord)                     {}

// Runner fans collaborators out for one company and finalizes the merged record.
type Runner struct {
	agg    *aggregate.Aggregator
	opts   Options
	guards *resilience.Guards

	inflight sync.WaitGroup
}

// NewRunner creates a Runner that submits into agg.
func NewRunner(agg *aggregate.Aggregator, opts Options) *Runner {
	if opts.Budget <= 0 {
		opts.Budget = 30 * time.Second
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Runner{agg: agg, opts: opts, guards: resilience.NewGuards(opts.Guard)}
}

// Guards exposes the per-source guards for observability.
func (r *Runner) Guards() *resilience.Guards { return r.guards }

// Research collects every source for companyID and returns the finalized
// record. Collaborator failures never fail the call; they show up as failed
// or missing sources. The only errors are an invalid company and, when a
// store is configured, a failed save (the record is still returned).
func (r *Runner) Research(ctx context.Context, companyID string, collaborators []Collaborator) (*model.CompanyRecord, error) {
	h, err := r.agg.BeginResearch(companyID)
	if err != nil {
		return nil, err
	}
	deadline := r.opts.Now().Add(r.opts.Budget)

	log := zap.L().With(zap.String("record_id", h.ID()), zap.String("company", companyID))

	reused := r.reuse(ctx, h, companyID, log)

	todo := make([]Collaborator, 0, len(collaborators))
	for _, c := range collaborators {
		if reused[c.Source()] {
			log.Debug("collect: source served from store", zap.String("source", string(c.Source())))
			continue
		}
		todo = append(todo, c)
	}

	finalized := make(chan struct{})
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()

		g := new(errgroup.Group)
		g.SetLimit(r.opts.MaxConcurrent)
		for _, c := range todo {
			g.Go(func() error {
				r.submit(h, r.fetch(ctx, companyID, c), log)
				return nil
			})
		}
		_ = g.Wait()

		<-finalized
		r.agg.Release(h)
	}()

	rec, err := r.agg.Finalize(ctx, h, deadline)
	close(finalized)
	if err != nil {
		return nil, eris.Wrap(err, "collect: finalize")
	}

	r.opts.Observer.ObserveRecord(rec)
	log.Info("collect: research complete",
		zap.Float64("completeness", rec.Completeness),
		zap.Bool("deadline_exceeded", rec.DeadlineExceeded),
		zap.Int("collaborators", len(todo)),
		zap.Int("reused", len(reused)),
	)

	if r.opts.Store != nil {
		if err := r.opts.Store.SaveRecord(ctx, rec); err != nil {
			return rec, eris.Wrap(err, "collect: save record")
		}
	}
	return rec, nil
}

// Wait blocks until every collaborator started by Research has returned.
func (r *Runner) Wait() {
	r.inflight.Wait()
}

// fetch runs one collaborator under its guards and converts the outcome
// into a result. It never returns an error: failures become failure results.
func (r *Runner) fetch(ctx context.Context, companyID string, c Collaborator) (res model.SourceResult) {
	src := c.Source()
	res = model.SourceResult{Source: src, CompanyID: companyID}
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			zap.L().Error("collect: collaborator panicked", zap.String("source", string(src)), zap.Any("panic", p))
			res.Payload = nil
			res.Status = model.StatusFailure
			res.Error = fmt.Sprintf("collaborator panicked: %v", p)
		}
		res.FetchedAt = r.opts.Now()
		r.opts.Observer.ObserveFetch(src, res.Status, time.Since(start))
	}()

	payload, err := resilience.Call(ctx, r.guards, src, companyID, func(ctx context.Context) (model.Payload, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, r.opts.FetchTimeout)
		defer cancel()
		return c.Fetch(attemptCtx, companyID)
	})

	var partial *PartialError
	switch {
	case err == nil && payload == nil:
		res.Status = model.StatusFailure
		res.Error = "collaborator returned no data"
	case err == nil:
		res.Status = model.StatusSuccess
		res.Payload = payload
	case errors.As(err, &partial) && partial.Payload != nil:
		res.Status = model.StatusPartialFailure
		res.Payload = partial.Payload
		res.Error = partial.Err.Error()
	default:
		res.Status = model.StatusFailure
		res.Error = err.Error()
	}

	if res.Payload != nil && res.Payload.Source() != src {
		res.Status = model.StatusFailure
		res.Error = fmt.Sprintf("collaborator returned a %s payload", res.Payload.Source())
		res.Payload = nil
	}
	return res
}

func (r *Runner) submit(h aggregate.Handle, res model.SourceResult, log *zap.Logger) {
	err := r.agg.Submit(h, res)
	switch {
	case err == nil:
	case eris.Is(err, aggregate.ErrFinalized):
		r.opts.Observer.ObserveLate(res.Source)
		log.Warn("collect: late result discarded",
			zap.String("source", string(res.Source)),
			zap.String("status", string(res.Status)),
		)
	default:
		log.Error("collect: submit failed", zap.String("source", string(res.Source)), zap.Error(err))
	}
}

// reuse resubmits recent successful results from the latest stored record
// and returns the sources it covered.
func (r *Runner) reuse(ctx context.Context, h aggregate.Handle, companyID string, log *zap.Logger) map[model.Source]bool {
	covered := make(map[model.Source]bool)
	if r.opts.Store == nil || r.opts.ReuseMaxAge <= 0 {
		return covered
	}

	key, err := aggregate.CompanyKey(companyID)
	if err != nil {
		return covered
	}
	prev, err := r.opts.Store.LatestRecord(ctx, key)
	if err != nil {
		if !eris.Is(err, store.ErrNotFound) {
			log.Warn("collect: reuse lookup failed", zap.Error(err))
		}
		return covered
	}

	now := r.opts.Now()
	for _, res := range prev.Results {
		if res.Status != model.StatusSuccess || now.Sub(res.FetchedAt) > r.opts.ReuseMaxAge {
			continue
		}
		res.CompanyID = companyID
		if err := r.agg.Submit(h, res); err != nil {
			log.Warn("collect: stored result rejected", zap.String("source", string(res.Source)), zap.Error(err))
			continue
		}
		covered[res.Source] = true
	}
	if len(covered) > 0 {
		log.Info("collect: reused stored results", zap.String("previous_record", prev.ID), zap.Int("sources", len(covered)))
	}
	return covered
}
