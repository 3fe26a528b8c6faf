package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/marketmind/internal/aggregate"
	"github.com/sells-group/marketmind/internal/model"
)

// finalizedRecord builds a frozen record for company with a financial
// success and a news failure, finalized at the given time.
func finalizedRecord(t *testing.T, company string, at time.Time) *model.CompanyRecord {
	t.Helper()
	agg, err := aggregate.New(aggregate.Config{
		Expected: []model.Source{model.SourceFinancial, model.SourceNews, model.SourceSentiment},
		Now:      func() time.Time { return at },
	})
	require.NoError(t, err)

	h, err := agg.BeginResearch(company)
	require.NoError(t, err)
	require.NoError(t, agg.Submit(h, model.SourceResult{
		Source:    model.SourceFinancial,
		CompanyID: company,
		Payload: &model.FinancialPayload{
			Ticker:     "ACME",
			StockPrice: decimal.NewNullDecimal(decimal.RequireFromString("101.5")),
			Summary:    "steady",
		},
		FetchedAt: at.Add(-time.Minute),
		Status:    model.StatusSuccess,
	}))
	require.NoError(t, agg.Submit(h, model.SourceResult{
		Source:    model.SourceNews,
		CompanyID: company,
		FetchedAt: at.Add(-time.Minute),
		Status:    model.StatusFailure,
		Error:     "feed unavailable",
	}))

	rec, err := agg.Finalize(context.Background(), h, at.Add(-time.Second))
	require.NoError(t, err)
	return rec
}
