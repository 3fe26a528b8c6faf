package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/marketmind/internal/aggregate"
	"github.com/sells-group/marketmind/internal/config"
	"github.com/sells-group/marketmind/internal/model"
	"github.com/sells-group/marketmind/internal/store"
)

var testNow = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

// testRecord finalizes a record for company with a financial success
// (down 7.5%) and a failed news fetch.
func testRecord(t *testing.T, company string, at time.Time) *model.CompanyRecord {
	t.Helper()
	agg, err := aggregate.New(aggregate.Config{
		Expected: []model.Source{model.SourceFinancial, model.SourceNews},
		Now:      func() time.Time { return at },
	})
	require.NoError(t, err)

	h, err := agg.BeginResearch(company)
	require.NoError(t, err)
	require.NoError(t, agg.Submit(h, model.SourceResult{
		Source:    model.SourceFinancial,
		CompanyID: company,
		Payload: &model.FinancialPayload{
			Ticker:             "ACME",
			Currency:           "USD",
			StockPrice:         decimal.NewNullDecimal(decimal.RequireFromString("1234.5")),
			MarketCap:          decimal.NewNullDecimal(decimal.NewFromInt(2_500_000_000)),
			PriceChangePercent: decimal.NewNullDecimal(decimal.RequireFromString("-7.5")),
		},
		FetchedAt: at.Add(-5 * time.Minute),
		Status:    model.StatusSuccess,
	}))
	require.NoError(t, agg.Submit(h, model.SourceResult{
		Source:    model.SourceNews,
		CompanyID: company,
		FetchedAt: at.Add(-time.Minute),
		Status:    model.StatusFailure,
		Error:     "feed unavailable",
	}))

	rec, err := agg.Finalize(context.Background(), h, at.Add(time.Minute))
	require.NoError(t, err)
	agg.Release(h)
	return rec
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// testConfig mirrors the Load defaults with paths under a temp dir.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	c := &config.Config{}
	c.Store.Driver = "sqlite"
	c.Store.Dir = filepath.Join(dir, "store")
	c.Aggregate.ExpectedSources = []string{"financial", "news", "sentiment"}
	c.Aggregate.DeadlineSecs = 5
	c.Aggregate.HalfLifeDays = 7
	c.Aggregate.DecayFloor = 0.1
	c.Aggregate.StaleAfterHours = 72
	c.Collect.DataDir = filepath.Join(dir, "research")
	c.Collect.MaxConcurrent = 5
	c.Collect.FetchTimeoutSecs = 2
	c.Collect.Retry.MaxAttempts = 1
	c.Server.Port = 8080
	return c
}
