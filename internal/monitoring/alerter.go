package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/marketmind/internal/config"
	"github.com/sells-group/marketmind/internal/resilience"
)

// minRecords is the sample size below which rate alerts stay quiet.
const minRecords = 5

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertSourceUnavailable AlertType = "source_unavailable"
	AlertLowCompleteness   AlertType = "low_completeness"
	AlertCircuitOpen       AlertType = "circuit_open"
)

// Alert is one threshold breach.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns snapshots into alerts and posts them to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
		},
	}
}

// Evaluate returns the alerts snap triggers: per-source unavailability,
// then low completeness, then open breakers. Sources are visited in order.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	now := time.Now().UTC()

	var alerts []Alert
	if snap.Records >= minRecords {
		alerts = append(alerts, a.unavailable(snap, now)...)
		if alert, ok := a.lowCompleteness(snap, now); ok {
			alerts = append(alerts, alert)
		}
	}
	return append(alerts, openBreakers(snap, now)...)
}

func (a *Alerter) unavailable(snap *Snapshot, now time.Time) []Alert {
	limit := a.cfg.FailureRateThreshold
	var out []Alert
	for _, src := range slices.Sorted(maps.Keys(snap.Sources)) {
		h := snap.Sources[src]
		if h.UnavailableRate <= limit {
			continue
		}
		out = append(out, Alert{
			Type:     AlertSourceUnavailable,
			Severity: "high",
			Message: fmt.Sprintf("Source %s gave no data for %.1f%% of %d records in the last %dh (limit %.1f%%)",
				src, h.UnavailableRate*100, snap.Records, snap.LookbackHours, limit*100),
			Details: map[string]any{
				"source":           string(src),
				"unavailable_rate": h.UnavailableRate,
				"threshold":        limit,
				"failed":           h.Failed,
				"missing":          h.Missing,
				"records":          snap.Records,
			},
			Timestamp: now,
		})
	}
	return out
}

// lowCompleteness is disabled by a zero threshold.
func (a *Alerter) lowCompleteness(snap *Snapshot, now time.Time) (Alert, bool) {
	floor := a.cfg.CompletenessThreshold
	if floor <= 0 || snap.AvgCompleteness >= floor {
		return Alert{}, false
	}
	return Alert{
		Type:     AlertLowCompleteness,
		Severity: "medium",
		Message: fmt.Sprintf("Records in the last %dh average %.1f%% complete (floor %.1f%%, %d records)",
			snap.LookbackHours, snap.AvgCompleteness*100, floor*100, snap.Records),
		Details: map[string]any{
			"avg_completeness":  snap.AvgCompleteness,
			"threshold":         floor,
			"deadline_exceeded": snap.DeadlineExceeded,
		},
		Timestamp: now,
	}, true
}

func openBreakers(snap *Snapshot, now time.Time) []Alert {
	var out []Alert
	for _, src := range slices.Sorted(maps.Keys(snap.Breakers)) {
		if snap.Breakers[src] != resilience.Open.String() {
			continue
		}
		out = append(out, Alert{
			Type:      AlertCircuitOpen,
			Severity:  "high",
			Message:   fmt.Sprintf("Circuit for %s is open, fetches are short-circuited", src),
			Details:   map[string]any{"source": string(src)},
			Timestamp: now,
		})
	}
	return out
}

// SendAlerts posts each alert to the webhook and returns how many were
// accepted. Without a webhook it sends nothing.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		log := zap.L().With(zap.String("type", string(alert.Type)), zap.String("severity", alert.Severity))
		err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
			return a.post(ctx, alert)
		})
		if err != nil {
			log.Error("monitoring: alert not delivered", zap.Error(err))
			continue
		}
		log.Info("monitoring: alert delivered")
		sent++
	}
	return sent
}

// post sends one alert. Server errors are retryable.
func (a *Alerter) post(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: encode alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post webhook")
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return resilience.Transient(eris.Errorf("monitoring: webhook answered %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return eris.Errorf("monitoring: webhook rejected alert with %d", resp.StatusCode)
	}
	return nil
}
