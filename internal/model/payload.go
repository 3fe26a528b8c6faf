package model

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// Field keys produced by the payload variants.
const (
	FieldTicker             = "ticker"
	FieldExchange           = "exchange"
	FieldCurrency           = "currency"
	FieldStockPrice         = "stock_price"
	FieldPERatio            = "pe_ratio"
	FieldVolume             = "volume"
	FieldMarketCap          = "market_cap"
	FieldPriceChangePercent = "price_change_percent"
	FieldFinancialSummary   = "financial_summary"

	FieldNewsSummary = "news_summary"

	FieldSentimentScore       = "sentiment_score"
	FieldSocialSentimentScore = "social_sentiment_score"
	FieldArticlesAnalyzed     = "articles_analyzed"
	FieldPostsAnalyzed        = "posts_analyzed"
	FieldSentimentSummary     = "sentiment_summary"

	FieldRegulatorySummary = "regulatory_summary"
	FieldCompetitorSummary = "competitor_summary"
)

// TextField reports whether key is filled with text by some payload variant.
func TextField(key string) bool {
	switch key {
	case FieldTicker, FieldExchange, FieldCurrency, FieldFinancialSummary, FieldNewsSummary,
		FieldSentimentSummary, FieldRegulatorySummary, FieldCompetitorSummary:
		return true
	}
	return false
}

// Payload is the source-specific data a collaborator returns. The set of
// implementations is closed: FinancialPayload, NewsPayload, SentimentPayload,
// RegulatoryPayload and CompetitorPayload.
type Payload interface {
	// Source is the only collaborator kind allowed to carry this payload.
	Source() Source
	// ClonePayload returns a deep copy.
	ClonePayload() Payload
	sealed()
}

// FinancialPayload is market data for a listed company.
type FinancialPayload struct {
	Ticker             string              `json:"ticker,omitempty"`
	Exchange           string              `json:"exchange,omitempty"`
	Currency           string              `json:"currency,omitempty"`
	StockPrice         decimal.NullDecimal `json:"stock_price"`
	PERatio            decimal.NullDecimal `json:"pe_ratio"`
	Volume             decimal.NullDecimal `json:"volume"`
	MarketCap          decimal.NullDecimal `json:"market_cap"`
	PriceChangePercent decimal.NullDecimal `json:"price_change_percent"`
	Summary            string              `json:"summary,omitempty"`
}

func (*FinancialPayload) Source() Source { return SourceFinancial }
func (*FinancialPayload) sealed()        {}

func (p *FinancialPayload) ClonePayload() Payload {
	c := *p
	return &c
}

// Article is one news item about the company.
type Article struct {
	Title       string     `json:"title"`
	Link        string     `json:"link,omitempty"`
	Outlet      string     `json:"source,omitempty"`
	PublishedAt *time.Time `json:"date,omitempty"`
}

// articleDateLayouts are the publication date formats feeds emit.
var articleDateLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// UnmarshalJSON accepts any of articleDateLayouts for the date. A date in
// another format is dropped rather than failing the whole payload.
func (a *Article) UnmarshalJSON(data []byte) error {
	type plain Article
	var w struct {
		plain
		Date string `json:"date"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return eris.Wrap(err, "model: unmarshal article")
	}
	*a = Article(w.plain)
	a.PublishedAt = nil
	for _, layout := range articleDateLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(w.Date)); err == nil {
			t = t.UTC()
			a.PublishedAt = &t
			break
		}
	}
	return nil
}

// NewsPayload is the set of headlines gathered for the company.
type NewsPayload struct {
	Articles []Article `json:"news"`
	Summary  string    `json:"summary,omitempty"`
}

func (*NewsPayload) Source() Source { return SourceNews }
func (*NewsPayload) sealed()        {}

func (p *NewsPayload) ClonePayload() Payload {
	c := *p
	c.Articles = make([]Article, len(p.Articles))
	for i, a := range p.Articles {
		if a.PublishedAt != nil {
			t := *a.PublishedAt
			a.PublishedAt = &t
		}
		c.Articles[i] = a
	}
	return &c
}

// SentimentPayload is the news and social sentiment analysis.
type SentimentPayload struct {
	NewsScore        decimal.NullDecimal `json:"news_score"`
	SocialScore      decimal.NullDecimal `json:"social_score"`
	ArticlesAnalyzed decimal.NullDecimal `json:"articles_analyzed"`
	PostsAnalyzed    decimal.NullDecimal `json:"social_posts_analyzed"`
	LegalConcerns    []string            `json:"legal_concerns,omitempty"`
	PotentialRisks   []string            `json:"potential_risks,omitempty"`

	// DerivedMetrics are numeric guesses inferred from text, keyed by the
	// field they estimate (for example price_change_percent). Sources with
	// declared priority override them.
	DerivedMetrics map[string]decimal.Decimal `json:"derived_metrics,omitempty"`
	Summary        string                     `json:"summary,omitempty"`
}

func (*SentimentPayload) Source() Source { return SourceSentiment }
func (*SentimentPayload) sealed()        {}

func (p *SentimentPayload) ClonePayload() Payload {
	c := *p
	c.LegalConcerns = slices.Clone(p.LegalConcerns)
	c.PotentialRisks = slices.Clone(p.PotentialRisks)
	c.DerivedMetrics = maps.Clone(p.DerivedMetrics)
	return &c
}

// RegulatoryMention is a headline that matched a regulatory keyword.
type RegulatoryMention struct {
	Regulation string `json:"regulation"`
	Title      string `json:"title"`
	Link       string `json:"link,omitempty"`
}

// RegulatoryPayload is the regulatory exposure analysis.
type RegulatoryPayload struct {
	Regions         []string            `json:"regions,omitempty"`
	Mentions        []RegulatoryMention `json:"regulatory_mentions,omitempty"`
	ComplianceRisks []string            `json:"compliance_risks,omitempty"`
	Summary         string              `json:"summary,omitempty"`
}

func (*RegulatoryPayload) Source() Source { return SourceRegulatory }
func (*RegulatoryPayload) sealed()        {}

func (p *RegulatoryPayload) ClonePayload() Payload {
	c := *p
	c.Regions = slices.Clone(p.Regions)
	c.Mentions = slices.Clone(p.Mentions)
	c.ComplianceRisks = slices.Clone(p.ComplianceRisks)
	return &c
}

// CompetitorMention counts how often a competitor appears alongside the company.
type CompetitorMention struct {
	Name      string `json:"competitor"`
	Mentions  int    `json:"mentions"`
	Relevance string `json:"relevance,omitempty"`
}

// CompetitorPayload is the competitor landscape.
type CompetitorPayload struct {
	Competitors []CompetitorMention `json:"competitor_analysis"`
	Summary     string              `json:"summary,omitempty"`
}

func (*CompetitorPayload) Source() Source { return SourceCompetitor }
func (*CompetitorPayload) sealed()        {}

func (p *CompetitorPayload) ClonePayload() Payload {
	c := *p
	c.Competitors = slices.Clone(p.Competitors)
	return &c
}

// NewPayload returns an empty payload of the variant that belongs to src.
func NewPayload(src Source) (Payload, error) {
	switch src {
	case SourceFinancial:
		return &FinancialPayload{}, nil
	case SourceNews:
		return &NewsPayload{}, nil
	case SourceSentiment:
		return &SentimentPayload{}, nil
	case SourceRegulatory:
		return &RegulatoryPayload{}, nil
	case SourceCompetitor:
		return &CompetitorPayload{}, nil
	default:
		return nil, eris.Errorf("model: no payload for source %q", src)
	}
}

// DecodePayload parses raw JSON into the payload variant for src.
func DecodePayload(src Source, raw []byte) (Payload, error) {
	p, err := NewPayload(src)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, eris.Wrapf(err, "model: decode %s payload", src)
	}
	return p, nil
}
