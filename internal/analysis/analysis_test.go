package analysis

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/marketmind/internal/model"
)

func record(fields map[string]string) *model.CompanyRecord {
	rec := &model.CompanyRecord{ID: "r1", CompanyID: "Acme", Fields: map[string]model.FieldValue{}, Completeness: 1}
	for k, v := range fields {
		val := model.Text(v)
		if d, err := decimal.NewFromString(v); err == nil {
			val = model.Number(d)
		}
		rec.Fields[k] = model.FieldValue{Key: k, Value: val}
	}
	return rec
}

func types(fs []Finding) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.Type + ":" + f.Level
	}
	return out
}

func TestAnalyze_SharpDrop(t *testing.T) {
	rec := record(map[string]string{
		model.FieldPriceChangePercent: "-12.5",
		model.FieldMarketCap:          "2100000000",
		model.FieldSentimentScore:     "0.35",
	})
	rec.LegalConcerns = []string{"patent dispute"}

	a := Analyze(rec)
	assert.Equal(t, []string{"price_movement:high", "market_position:concerning"}, types(a.MarketTrends))
	assert.Equal(t, "Market cap: $2,100,000,000", a.MarketTrends[1].Description)
	assert.Equal(t, "Significant price movement of -12.50%", a.MarketTrends[0].Description)
	assert.Equal(t, []string{"investment:medium", "market_sentiment:high"}, types(a.Opportunities))
	assert.Equal(t, []string{"market_risk:high", "legal_risk:high"}, types(a.Risks))
	assert.Empty(t, a.DataQuality)
}

func TestAnalyze_ModestMove(t *testing.T) {
	rec := record(map[string]string{
		model.FieldPriceChangePercent: "6",
		model.FieldMarketCap:          "500",
		model.FieldCurrency:           "EUR",
		model.FieldSentimentScore:     "0.2",
	})
	rec.ComplianceRisks = []string{"GDPR"}

	a := Analyze(rec)
	assert.Equal(t, []string{"price_movement:medium", "market_position:stable"}, types(a.MarketTrends))
	assert.Equal(t, "Market cap: 500 EUR", a.MarketTrends[1].Description)
	assert.Empty(t, a.Opportunities, "0.2 is not above the sentiment threshold")
	assert.Equal(t, []string{"regulatory_risk:medium"}, types(a.Risks))
}

func TestAnalyze_BoundaryMoves(t *testing.T) {
	a := Analyze(record(map[string]string{model.FieldPriceChangePercent: "5"}))
	assert.Empty(t, a.MarketTrends)
	assert.Empty(t, a.Risks)

	a = Analyze(record(map[string]string{model.FieldPriceChangePercent: "-5", model.FieldMarketCap: "1"}))
	assert.Equal(t, []string{"market_position:concerning"}, types(a.MarketTrends))
	assert.Empty(t, a.Risks, "exactly -5 is not a significant decline")
}

func TestAnalyze_NoPriceData(t *testing.T) {
	a := Analyze(record(map[string]string{model.FieldMarketCap: "1000"}))
	assert.Equal(t, []string{"market_position:stable"}, types(a.MarketTrends))
	assert.Empty(t, a.Opportunities)
	assert.NotNil(t, a.Risks)
}

func TestAnalyze_Competitors(t *testing.T) {
	rec := record(nil)
	rec.Competitors = []model.CompetitorMention{
		{Name: "Globex", Mentions: 1, Relevance: "high"},
		{Name: "Initech", Mentions: 4},
		{Name: "Umbrella", Mentions: 0},
	}
	a := Analyze(rec)
	require.Len(t, a.Competitors, 2)
	assert.Equal(t, model.CompetitorMention{Name: "Initech", Mentions: 4, Relevance: "high"}, a.Competitors[0])
	assert.Equal(t, model.CompetitorMention{Name: "Globex", Mentions: 1, Relevance: "medium"}, a.Competitors[1])
	assert.Equal(t, "high", rec.Competitors[0].Relevance, "record is not modified")
}

func TestAnalyze_DataQuality(t *testing.T) {
	rec := record(map[string]string{model.FieldStockPrice: "10"})
	rec.Completeness = 0.4
	rec.Missing = []model.Source{model.SourceNews}
	rec.Failed = []model.Source{model.SourceFinancial, model.SourceSentiment}
	fv := rec.Fields[model.FieldStockPrice]
	fv.Stale = true
	rec.Fields[model.FieldStockPrice] = fv

	a := Analyze(rec)
	assert.Equal(t,
		"Completeness 40%; no data from news; failed sources: financial, sentiment; stale fields: stock_price",
		a.DataQuality)
}
