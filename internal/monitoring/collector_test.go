package monitoring

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/marketmind/internal/model"
	"github.com/sells-group/marketmind/internal/resilience"
	"github.com/sells-group/marketmind/internal/store"
)

var now = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

// mockStore serves record summaries newest first.
type mockStore struct {
	summaries []store.RecordSummary
	listErr   error
	calls     int
}

func (m *mockStore) ListRecords(_ context.Context, filter store.RecordFilter) ([]store.RecordSummary, error) {
	m.calls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	if filter.Offset >= len(m.summaries) {
		return nil, nil
	}
	end := min(filter.Offset+filter.Limit, len(m.summaries))
	return m.summaries[filter.Offset:end], nil
}

// Unused store methods.
func (m *mockStore) SaveRecord(context.Context, *model.CompanyRecord) error { return nil }
func (m *mockStore) GetRecord(context.Context, string) (*model.CompanyRecord, error) {
	return nil, store.ErrNotFound
}
func (m *mockStore) LatestRecord(context.Context, string) (*model.CompanyRecord, error) {
	return nil, store.ErrNotFound
}
func (m *mockStore) SourceHistory(context.Context) (map[model.Source]map[model.Status]int, error) {
	return nil, nil
}
func (m *mockStore) Migrate(context.Context) error { return nil }
func (m *mockStore) Close() error                  { return nil }

type fakeBreakers map[model.Source]resilience.State

func (f fakeBreakers) States() map[model.Source]resilience.State { return f }

func summary(age time.Duration, completeness float64, failed, missing []model.Source) store.RecordSummary {
	return store.RecordSummary{
		ID:           fmt.Sprintf("rec-%s", age),
		CompanyID:    "Acme",
		Completeness: completeness,
		Failed:       failed,
		Missing:      missing,
		FinalizedAt:  now.Add(-age),
	}
}

func newCollector(st store.Store, b BreakerStates) *Collector {
	c := NewCollector(st, b)
	c.now = func() time.Time { return now }
	return c
}

func TestCollector_Collect(t *testing.T) {
	st := &mockStore{summaries: []store.RecordSummary{
		summary(time.Hour, 1, nil, nil),
		summary(2*time.Hour, 0.6, []model.Source{model.SourceNews}, []model.Source{model.SourceRegulatory}),
		summary(3*time.Hour, 0.4, []model.Source{model.SourceNews}, nil),
		// Outside the 24h window.
		summary(30*time.Hour, 0, []model.Source{model.SourceFinancial}, nil),
	}}
	st.summaries[2].DeadlineExceeded = true

	snap, err := newCollector(st, nil).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 3, snap.Records)
	assert.InDelta(t, 2.0/3.0, snap.AvgCompleteness, 1e-9)
	assert.Equal(t, 1, snap.DeadlineExceeded)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, now, snap.CollectedAt)

	require.Contains(t, snap.Sources, model.SourceNews)
	assert.Equal(t, 2, snap.Sources[model.SourceNews].Failed)
	assert.InDelta(t, 2.0/3.0, snap.Sources[model.SourceNews].UnavailableRate, 1e-9)
	assert.Equal(t, 1, snap.Sources[model.SourceRegulatory].Missing)
	assert.NotContains(t, snap.Sources, model.SourceFinancial)
	assert.Nil(t, snap.Breakers)
}

func TestCollector_Paginates(t *testing.T) {
	st := &mockStore{}
	for i := 0; i < pageSize+10; i++ {
		st.summaries = append(st.summaries, summary(time.Duration(i)*time.Second, 1, nil, nil))
	}

	snap, err := newCollector(st, nil).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, pageSize+10, snap.Records)
	assert.Equal(t, 2, st.calls)
}

func TestCollector_EmptyStore(t *testing.T) {
	snap, err := newCollector(&mockStore{}, nil).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.Records)
	assert.Zero(t, snap.AvgCompleteness)
	assert.Empty(t, snap.Sources)
}

func TestCollector_Breakers(t *testing.T) {
	b := fakeBreakers{model.SourceNews: resilience.Open, model.SourceFinancial: resilience.Closed}

	snap, err := newCollector(&mockStore{}, b).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, map[model.Source]string{
		model.SourceNews:      "open",
		model.SourceFinancial: "closed",
	}, snap.Breakers)
}

func TestCollector_ListError(t *testing.T) {
	_, err := newCollector(&mockStore{listErr: eris.New("db down")}, nil).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list records")
}
