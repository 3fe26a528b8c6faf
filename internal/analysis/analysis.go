// Package analysis derives market insights from a finalized research record.
package analysis

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"github.com/sells-group/marketmind/internal/model"
)

var (
	significantMove = decimal.NewFromInt(5)
	highImpactMove  = decimal.NewFromInt(10)
	concerningDrop  = decimal.NewFromInt(-5)
	positiveMood    = decimal.RequireFromString("0.2")
)

// Finding is one derived insight. Level is the impact, confidence or
// severity, depending on the list it belongs to.
type Finding struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Level       string `json:"level"`
}

// Analysis is the derived view of a record.
type Analysis struct {
	RecordID      string                    `json:"record_id"`
	CompanyID     string                    `json:"company_id"`
	MarketTrends  []Finding                 `json:"market_trends"`
	Opportunities []Finding                 `json:"opportunities"`
	Risks         []Finding                 `json:"risk_factors"`
	Competitors   []model.CompetitorMention `json:"competitor_analysis"`
	DataQuality   string                    `json:"data_quality,omitempty"`
}

// Analyze is deterministic: the same record always yields the same analysis.
func Analyze(rec *model.CompanyRecord) Analysis {
	a := Analysis{
		RecordID:      rec.ID,
		CompanyID:     rec.CompanyID,
		MarketTrends:  []Finding{},
		Opportunities: []Finding{},
		Risks:         []Finding{},
		Competitors:   []model.CompetitorMention{},
	}

	change, hasChange := number(rec, model.FieldPriceChangePercent)

	if hasChange && change.Abs().GreaterThan(significantMove) {
		impact := "medium"
		if change.Abs().GreaterThan(highImpactMove) {
			impact = "high"
		}
		a.MarketTrends = append(a.MarketTrends, Finding{
			Type:        "price_movement",
			Description: fmt.Sprintf("Significant price movement of %s%%", change.StringFixed(2)),
			Level:       impact,
		})
	}
	if capital, ok := number(rec, model.FieldMarketCap); ok {
		impact := "stable"
		if hasChange && !change.GreaterThan(concerningDrop) {
			impact = "concerning"
		}
		a.MarketTrends = append(a.MarketTrends, Finding{
			Type:        "market_position",
			Description: "Market cap: " + formatMoney(rec, capital),
			Level:       impact,
		})
	}

	if hasChange && change.IsNegative() {
		a.Opportunities = append(a.Opportunities, Finding{
			Type:        "investment",
			Description: "Potential buying opportunity",
			Level:       "medium",
		})
	}
	if score, ok := number(rec, model.FieldSentimentScore); ok && score.GreaterThan(positiveMood) {
		a.Opportunities = append(a.Opportunities, Finding{
			Type:        "market_sentiment",
			Description: "Positive market sentiment indicates growth potential",
			Level:       "high",
		})
	}

	if hasChange && change.LessThan(concerningDrop) {
		a.Risks = append(a.Risks, Finding{
			Type:        "market_risk",
			Description: "Significant price decline",
			Level:       "high",
		})
	}
	if len(rec.LegalConcerns) > 0 {
		a.Risks = append(a.Risks, Finding{
			Type:        "legal_risk",
			Description: "Active legal concerns detected: " + strings.Join(rec.LegalConcerns, "; "),
			Level:       "high",
		})
	}
	if len(rec.ComplianceRisks) > 0 {
		a.Risks = append(a.Risks, Finding{
			Type:        "regulatory_risk",
			Description: "Compliance exposure: " + strings.Join(rec.ComplianceRisks, "; "),
			Level:       "medium",
		})
	}

	for _, c := range rec.Competitors {
		if c.Mentions <= 0 {
			continue
		}
		c.Relevance = "medium"
		if c.Mentions > 2 {
			c.Relevance = "high"
		}
		a.Competitors = append(a.Competitors, c)
	}
	slices.SortStableFunc(a.Competitors, func(x, y model.CompetitorMention) int {
		return y.Mentions - x.Mentions
	})

	a.DataQuality = dataQuality(rec)
	return a
}

func number(rec *model.CompanyRecord, key string) (decimal.Decimal, bool) {
	fv, ok := rec.Field(key)
	if !ok || !fv.Value.IsNumeric() {
		return decimal.Decimal{}, false
	}
	return fv.Value.Number, true
}

func formatMoney(rec *model.CompanyRecord, d decimal.Decimal) string {
	amount := humanize.CommafWithDigits(d.InexactFloat64(), 0)
	if cur, ok := rec.Field(model.FieldCurrency); ok && cur.Value.Text != "" && cur.Value.Text != "USD" {
		return amount + " " + cur.Value.Text
	}
	return "$" + amount
}

// dataQuality explains what a reader of the record is missing, or returns
// "" for a complete, fresh record.
func dataQuality(rec *model.CompanyRecord) string {
	var parts []string
	if len(rec.Missing) > 0 {
		parts = append(parts, "no data from "+joinSources(rec.Missing))
	}
	if len(rec.Failed) > 0 {
		parts = append(parts, "failed sources: "+joinSources(rec.Failed))
	}
	var stale []string
	for _, key := range rec.FieldKeys() {
		if rec.Fields[key].Stale {
			stale = append(stale, key)
		}
	}
	if len(stale) > 0 {
		parts = append(parts, "stale fields: "+strings.Join(stale, ", "))
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("Completeness %.0f%%; %s", rec.Completeness*100, strings.Join(parts, "; "))
}

func joinSources(srcs []model.Source) string {
	names := make([]string, len(srcs))
	for i, s := range srcs {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}
