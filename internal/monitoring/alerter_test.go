package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/marketmind/internal/config"
	"github.com/sells-group/marketmind/internal/model"
)

func thresholds() config.MonitoringConfig {
	return config.MonitoringConfig{
		FailureRateThreshold:  0.25,
		CompletenessThreshold: 0.6,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	snap := &Snapshot{
		Records:         20,
		AvgCompleteness: 0.9,
		Sources: map[model.Source]SourceHealth{
			model.SourceNews: {Failed: 2, UnavailableRate: 0.1},
		},
		LookbackHours: 24,
	}

	assert.Empty(t, NewAlerter(thresholds()).Evaluate(snap))
}

func TestAlerter_Evaluate_SourceUnavailable(t *testing.T) {
	snap := &Snapshot{
		Records:         10,
		AvgCompleteness: 0.8,
		Sources: map[model.Source]SourceHealth{
			model.SourceRegulatory: {Missing: 3, UnavailableRate: 0.3},
			model.SourceNews:       {Failed: 3, Missing: 1, UnavailableRate: 0.4},
		},
		LookbackHours: 24,
	}

	alerts := NewAlerter(thresholds()).Evaluate(snap)
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertSourceUnavailable, alerts[0].Type)
	assert.Equal(t, "news", alerts[0].Details["source"])
	assert.Contains(t, alerts[0].Message, "40.0%")
	assert.Equal(t, "regulatory", alerts[1].Details["source"])
}

func TestAlerter_Evaluate_LowCompleteness(t *testing.T) {
	snap := &Snapshot{Records: 8, AvgCompleteness: 0.45, DeadlineExceeded: 3, LookbackHours: 12}

	alerts := NewAlerter(thresholds()).Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLowCompleteness, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "45.0%")
	assert.Equal(t, 3, alerts[0].Details["deadline_exceeded"])
}

func TestAlerter_Evaluate_MinimumRecordsRequired(t *testing.T) {
	// Only 3 records, below the minimum for rate alerts.
	snap := &Snapshot{
		Records:         3,
		AvgCompleteness: 0.2,
		Sources: map[model.Source]SourceHealth{
			model.SourceNews: {Failed: 3, UnavailableRate: 1},
		},
	}

	assert.Empty(t, NewAlerter(thresholds()).Evaluate(snap))
}

func TestAlerter_Evaluate_CircuitOpen(t *testing.T) {
	snap := &Snapshot{
		Breakers: map[model.Source]string{
			model.SourceSentiment: "open",
			model.SourceNews:      "half-open",
			model.SourceFinancial: "open",
		},
	}

	alerts := NewAlerter(thresholds()).Evaluate(snap)
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertCircuitOpen, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "financial")
	assert.Contains(t, alerts[1].Message, "sentiment")
}

func TestAlerter_Evaluate_ZeroCompletenessThreshold(t *testing.T) {
	cfg := thresholds()
	cfg.CompletenessThreshold = 0 // disabled

	assert.Empty(t, NewAlerter(cfg).Evaluate(&Snapshot{Records: 50, AvgCompleteness: 0.1}))
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertSourceUnavailable, Severity: "high", Message: "test alert 1"},
		{Type: AlertCircuitOpen, Severity: "high", Message: "test alert 2"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	sent := NewAlerter(config.MonitoringConfig{}).SendAlerts(context.Background(), []Alert{
		{Type: AlertSourceUnavailable, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{WebhookURL: "http://example.com"})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), nil))
}

func fastAlerter(url string) *Alerter {
	a := NewAlerter(config.MonitoringConfig{WebhookURL: url})
	a.retry.InitialBackoff = time.Millisecond
	a.retry.MaxBackoff = 5 * time.Millisecond
	return a
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	sent := fastAlerter(ts.URL).SendAlerts(context.Background(), []Alert{{Type: AlertCircuitOpen, Message: "test"}})
	assert.Equal(t, 0, sent)
	assert.Equal(t, int32(3), calls.Load(), "server errors are retried")
}

func TestAlerter_SendAlerts_RetriesThenDelivers(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	sent := fastAlerter(ts.URL).SendAlerts(context.Background(), []Alert{{Type: AlertLowCompleteness, Message: "test"}})
	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAlerter_SendAlerts_RejectedNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	sent := fastAlerter(ts.URL).SendAlerts(context.Background(), []Alert{{Type: AlertCircuitOpen, Message: "test"}})
	assert.Equal(t, 0, sent)
	assert.Equal(t, int32(1), calls.Load())
}
