package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/marketmind/internal/model"
	"github.com/sells-group/marketmind/internal/resilience"
)

type fakeBreakers map[model.Source]resilience.State

func (f fakeBreakers) States() map[model.Source]resilience.State { return f }

func TestObserveFetch(t *testing.T) {
	m := New()
	m.ObserveFetch(model.SourceNews, model.StatusFailure, 2*time.Second)
	m.ObserveFetch(model.SourceNews, model.StatusFailure, time.Second)
	m.ObserveFetch(model.SourceFinancial, model.StatusSuccess, 100*time.Millisecond)

	assert.InDelta(t, 2, testutil.ToFloat64(m.fetches.WithLabelValues("news", "failure")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.fetches.WithLabelValues("financial", "success")), 1e-9)
	assert.Equal(t, 2, testutil.CollectAndCount(m.fetchDuration))
}

func TestObserveRecord(t *testing.T) {
	m := New()
	m.ObserveRecord(&model.CompanyRecord{Completeness: 1})
	m.ObserveRecord(&model.CompanyRecord{Completeness: 0.4})
	m.ObserveRecord(&model.CompanyRecord{Completeness: 0.6, DeadlineExceeded: true})

	assert.InDelta(t, 1, testutil.ToFloat64(m.records.WithLabelValues("complete")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.records.WithLabelValues("incomplete")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.records.WithLabelValues("deadline_exceeded")), 1e-9)
	assert.Equal(t, 1, testutil.CollectAndCount(m.completeness))
}

func TestObserveLate(t *testing.T) {
	m := New()
	m.ObserveLate(model.SourceSentiment)
	assert.InDelta(t, 1, testutil.ToFloat64(m.lateResults.WithLabelValues("sentiment")), 1e-9)
}

func TestWatchBreakers(t *testing.T) {
	m := New()
	m.WatchBreakers(fakeBreakers{model.SourceNews: resilience.Open, model.SourceFinancial: resilience.Closed})

	expected := `
# HELP marketmind_circuit_state Circuit breaker state per source (0=closed, 1=open, 2=half-open).
# TYPE marketmind_circuit_state gauge
marketmind_circuit_state{source="financial"} 0
marketmind_circuit_state{source="news"} 1
`
	require.NoError(t, testutil.GatherAndCompare(m.registry, strings.NewReader(expected), "marketmind_circuit_state"))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveFetch(model.SourceRegulatory, model.StatusPartialFailure, time.Second)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `marketmind_source_results_total{source="regulatory",status="partial_failure"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
