// Package aggregate merges independently arriving source results into one
// research record per company.
//
// A research request begins with BeginResearch, receives any number of
// Submit calls (safe for concurrent use, applied one at a time), and ends
// with Finalize, which waits until every expected source has reported or
// the deadline passes and then freezes the record. Partial data is always
// usable: failures and missing sources lower the completeness score and
// never turn into errors.
package aggregate

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/marketmind/internal/model"
)

// noDetail replaces the empty error detail of a non-success result.
const noDetail = "source reported failure without detail"

// Config is the explicit configuration of an Aggregator.
type Config struct {
	// Expected lists the sources a record waits for. Defaults to all sources.
	Expected []model.Source
	// Policy resolves contested fields. Defaults to DefaultPolicy.
	Policy *Policy
	// Decay controls confidence decay by data age.
	Decay DecayConfig
	// StaleAfter marks values older than this as stale. Zero disables.
	StaleAfter time.Duration
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Handle refers to one in-progress research request.
type Handle struct {
	id string
}

// ID returns the record id the handle refers to.
func (h Handle) ID() string { return h.id }

// Aggregator owns every in-progress CompanyRecord until it is finalized.
type Aggregator struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]*entry
}

// entry is the mutable state behind one handle. mu serializes merges.
type entry struct {
	// company and started are fixed at BeginResearch and read without mu.
	company string
	started time.Time

	mu       sync.Mutex
	record   *model.CompanyRecord
	results  []stored
	seen     map[string]bool
	complete chan struct{}
	signaled bool
	frozen   *model.CompanyRecord
}

// New validates cfg and creates an Aggregator.
func New(cfg Config) (*Aggregator, error) {
	if cfg.Expected == nil {
		cfg.Expected = model.AllSources()
	}
	if len(cfg.Expected) == 0 {
		return nil, eris.New("aggregate: at least one expected source is required")
	}
	seen := make(map[model.Source]bool, len(cfg.Expected))
	for _, src := range cfg.Expected {
		if !src.Valid() {
			return nil, eris.Errorf("aggregate: unknown expected source %q", src)
		}
		if seen[src] {
			return nil, eris.Errorf("aggregate: duplicate expected source %q", src)
		}
		seen[src] = true
	}
	cfg.Expected = slices.Clone(cfg.Expected)
	slices.Sort(cfg.Expected)

	if cfg.Policy == nil {
		cfg.Policy = DefaultPolicy()
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.Decay.Floor < 0 || cfg.Decay.Floor > 1 {
		return nil, eris.Errorf("aggregate: decay floor must be in [0,1], got %v", cfg.Decay.Floor)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Aggregator{
		cfg:     cfg,
		entries: make(map[string]*entry),
	}, nil
}

// Expected returns the sources every record waits for, in lexical order.
func (a *Aggregator) Expected() []model.Source {
	return slices.Clone(a.cfg.Expected)
}

// BeginResearch creates an empty record for companyID.
func (a *Aggregator) BeginResearch(companyID string) (Handle, error) {
	key, err := CompanyKey(companyID)
	if err != nil {
		return Handle{}, err
	}

	now := a.cfg.Now()
	rec := &model.CompanyRecord{
		ID:          uuid.New().String(),
		CompanyID:   strings.TrimSpace(companyID),
		CompanyKey:  key,
		Results:     []model.SourceResult{},
		Fields:      map[string]model.FieldValue{},
		Expected:    slices.Clone(a.cfg.Expected),
		Missing:     slices.Clone(a.cfg.Expected),
		GeneratedAt: now,
	}
	e := &entry{
		company:  rec.CompanyID,
		started:  now,
		record:   rec,
		seen:     make(map[string]bool),
		complete: make(chan struct{}),
	}

	a.mu.Lock()
	a.entries[rec.ID] = e
	a.mu.Unlock()

	zap.L().Debug("aggregate: research started",
		zap.String("record_id", rec.ID),
		zap.String("company", companyID),
	)
	return Handle{id: rec.ID}, nil
}

func (a *Aggregator) lookup(h Handle) (*entry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[h.id]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownHandle, "record %s", h.id)
	}
	return e, nil
}

// Submit merges one result into the record behind h. Failure results are
// recorded, never rejected. Resubmitting an identical result is a no-op.
func (a *Aggregator) Submit(h Handle, res model.SourceResult) error {
	e, err := a.lookup(h)
	if err != nil {
		return err
	}

	res, err = normalize(res, e)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	log := zap.L().With(
		zap.String("record_id", h.id),
		zap.String("source", string(res.Source)),
		zap.String("status", string(res.Status)),
	)

	if e.frozen != nil {
		log.Warn("aggregate: result arrived after finalize")
		return eris.Wrapf(ErrFinalized, "record %s", h.id)
	}

	key, keyErr := CompanyKey(res.CompanyID)
	if keyErr != nil || key != e.record.CompanyKey {
		return eris.Wrapf(ErrCompanyMismatch, "record %s is for %q, result is for %q",
			h.id, e.record.CompanyID, res.CompanyID)
	}

	id := res.Fingerprint()
	if e.seen[id] {
		log.Debug("aggregate: duplicate result ignored", zap.String("result_id", id))
		return nil
	}
	e.seen[id] = true
	e.results = append(e.results, stored{id: id, res: res})

	a.rebuild(e.record, e.results, a.cfg.Now())

	if res.Status != model.StatusSuccess {
		log.Info("aggregate: source failure recorded", zap.String("error", res.Error))
	}
	log.Debug("aggregate: result merged",
		zap.Int("results", len(e.results)),
		zap.Float64("completeness", e.record.Completeness),
	)

	if !e.signaled && len(e.record.Missing) == 0 {
		e.signaled = true
		close(e.complete)
	}
	return nil
}

// normalize copies res and repairs what a failure report may legitimately
// lack, filling gaps from the record e was opened for. Repairs depend only
// on res and e, so resubmitting the same failure yields the same
// fingerprint. Structural problems on successful results are rejected.
func normalize(res model.SourceResult, e *entry) (model.SourceResult, error) {
	res = res.Clone()
	if res.Status != model.StatusSuccess && res.Status.Valid() {
		if res.Error == "" {
			res.Error = noDetail
		}
		if res.FetchedAt.IsZero() {
			res.FetchedAt = e.started
		}
		if strings.TrimSpace(res.CompanyID) == "" {
			res.CompanyID = e.company
		}
		if res.Status == model.StatusFailure && res.Payload != nil && res.Payload.Source() != res.Source {
			zap.L().Warn("aggregate: dropping mismatched payload from failure result",
				zap.String("source", string(res.Source)),
				zap.String("payload", string(res.Payload.Source())),
			)
			res.Payload = nil
		}
	}
	if err := res.Validate(); err != nil {
		return res, eris.Wrap(ErrInvalidResult, err.Error())
	}
	return res, nil
}

// Finalize waits until every expected source has reported, the deadline
// passes, or ctx is done, then freezes the record and returns a copy.
// The deadline is measured against the configured clock.
// Reaching the deadline is not an error: the record is returned with its
// missing sources listed and DeadlineExceeded set. A cancelled ctx freezes
// the record the same way but leaves DeadlineExceeded unset; a ctx whose
// own deadline expired counts as reaching the deadline. Later calls return
// the same frozen record.
func (a *Aggregator) Finalize(ctx context.Context, h Handle, deadline time.Time) (*model.CompanyRecord, error) {
	e, err := a.lookup(h)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.frozen != nil {
		out := e.frozen.Clone()
		e.mu.Unlock()
		return out, nil
	}
	e.mu.Unlock()

	timer := time.NewTimer(deadline.Sub(a.cfg.Now()))
	defer timer.Stop()

	reason := "complete"
	select {
	case <-e.complete:
	case <-timer.C:
		reason = "deadline"
	case <-ctx.Done():
		reason = "canceled"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = "deadline"
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.frozen == nil {
		now := a.cfg.Now()
		a.rebuild(e.record, e.results, now)
		e.record.DeadlineExceeded = reason == "deadline" && len(e.record.Missing) > 0
		e.record.FinalizedAt = &now
		e.frozen = e.record.Clone()

		zap.L().Info("aggregate: record finalized",
			zap.String("record_id", h.id),
			zap.String("company", e.record.CompanyID),
			zap.String("reason", reason),
			zap.Float64("completeness", e.record.Completeness),
			zap.Int("results", len(e.results)),
			zap.Strings("missing", sourceNames(e.record.Missing)),
			zap.Strings("failed", sourceNames(e.record.Failed)),
		)
	}
	return e.frozen.Clone(), nil
}

// Snapshot returns a copy of the record's current state without freezing it.
func (a *Aggregator) Snapshot(h Handle) (*model.CompanyRecord, error) {
	e, err := a.lookup(h)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.frozen != nil {
		return e.frozen.Clone(), nil
	}
	return e.record.Clone(), nil
}

// Release forgets h. Later calls with h return ErrUnknownHandle.
func (a *Aggregator) Release(h Handle) {
	a.mu.Lock()
	delete(a.entries, h.id)
	a.mu.Unlock()
}

func sourceNames(srcs []model.Source) []string {
	out := make([]string, len(srcs))
	for i, s := range srcs {
		out[i] = string(s)
	}
	return out
}
