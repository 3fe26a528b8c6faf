package aggregate

import (
	"cmp"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/marketmind/internal/model"
)

// stored is a retained result with its fingerprint.
type stored struct {
	id  string
	res model.SourceResult
}

// candidate is one source's offer for a field or collection entry.
type candidate[T any] struct {
	item     T
	tiebreak string
	source   model.Source
	status   model.Status
	fetched  time.Time
	resultID string
	priority int
	declared bool
}

// compareCandidates orders candidates best first: declared priority (higher
// wins, declared beats undeclared), then later fetch time, then lexically
// smaller source, then content and result id so the order is total.
func compareCandidates[T any](a, b candidate[T]) int {
	if a.declared != b.declared {
		if a.declared {
			return -1
		}
		return 1
	}
	if a.declared && a.priority != b.priority {
		return cmp.Compare(b.priority, a.priority)
	}
	if c := b.fetched.Compare(a.fetched); c != 0 {
		return c
	}
	if c := cmp.Compare(a.source, b.source); c != 0 {
		return c
	}
	if c := cmp.Compare(a.tiebreak, b.tiebreak); c != 0 {
		return c
	}
	return cmp.Compare(a.resultID, b.resultID)
}

// compareStored is the canonical order of retained results.
func compareStored(a, b stored) int {
	if c := a.res.FetchedAt.Compare(b.res.FetchedAt); c != 0 {
		return c
	}
	if c := cmp.Compare(a.res.Source, b.res.Source); c != 0 {
		return c
	}
	return cmp.Compare(a.id, b.id)
}

// merger folds retained results into field and collection candidates.
type merger struct {
	policy *Policy

	fields        map[string][]candidate[model.Value]
	articles      map[string][]candidate[model.Article]
	competitors   map[string][]candidate[model.CompetitorMention]
	mentions      map[string][]candidate[model.RegulatoryMention]
	legalConcerns map[string][]candidate[string]
	risks         map[string][]candidate[string]
	compliance    map[string][]candidate[string]
	regions       map[string][]candidate[string]
}

func newMerger(policy *Policy) *merger {
	return &merger{
		policy:        policy,
		fields:        make(map[string][]candidate[model.Value]),
		articles:      make(map[string][]candidate[model.Article]),
		competitors:   make(map[string][]candidate[model.CompetitorMention]),
		mentions:      make(map[string][]candidate[model.RegulatoryMention]),
		legalConcerns: make(map[string][]candidate[string]),
		risks:         make(map[string][]candidate[string]),
		compliance:    make(map[string][]candidate[string]),
		regions:       make(map[string][]candidate[string]),
	}
}

// origin carries the provenance shared by everything one result contributes.
type origin struct {
	source   model.Source
	status   model.Status
	fetched  time.Time
	resultID string
}

func newCandidate[T any](m *merger, o origin, key string, item T, tiebreak string) candidate[T] {
	pr, declared := m.policy.Priority(key, o.source)
	return candidate[T]{
		item:     item,
		tiebreak: tiebreak,
		source:   o.source,
		status:   o.status,
		fetched:  o.fetched,
		resultID: o.resultID,
		priority: pr,
		declared: declared,
	}
}

func (m *merger) text(o origin, key, s string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return
	}
	m.fields[key] = append(m.fields[key], newCandidate(m, o, key, model.Text(s), s))
}

func (m *merger) number(o origin, key string, d decimal.NullDecimal) {
	if !d.Valid {
		return
	}
	m.numberValue(o, key, d.Decimal)
}

func (m *merger) numberValue(o origin, key string, d decimal.Decimal) {
	m.fields[key] = append(m.fields[key], newCandidate(m, o, key, model.Number(d), d.String()))
}

func (m *merger) set(dst map[string][]candidate[string], o origin, collection string, values []string) {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		k := foldKey(v)
		dst[k] = append(dst[k], newCandidate(m, o, collection, v, v))
	}
}

// add contributes one retained result. Only success and partial-failure
// payloads carry data.
func (m *merger) add(s stored) {
	res := s.res
	if !res.Status.Contributes() || res.Payload == nil {
		return
	}
	o := origin{source: res.Source, status: res.Status, fetched: res.FetchedAt, resultID: s.id}

	switch p := res.Payload.(type) {
	case *model.FinancialPayload:
		m.text(o, model.FieldTicker, p.Ticker)
		m.text(o, model.FieldExchange, p.Exchange)
		m.text(o, model.FieldCurrency, p.Currency)
		m.number(o, model.FieldStockPrice, p.StockPrice)
		m.number(o, model.FieldPERatio, p.PERatio)
		m.number(o, model.FieldVolume, p.Volume)
		m.number(o, model.FieldMarketCap, p.MarketCap)
		m.number(o, model.FieldPriceChangePercent, p.PriceChangePercent)
		m.text(o, model.FieldFinancialSummary, p.Summary)

	case *model.NewsPayload:
		for _, a := range p.Articles {
			k := articleKey(a)
			if k == "" {
				continue
			}
			m.articles[k] = append(m.articles[k], newCandidate(m, o, "articles", a, articleTiebreak(a)))
		}
		m.text(o, model.FieldNewsSummary, p.Summary)

	case *model.SentimentPayload:
		m.number(o, model.FieldSentimentScore, p.NewsScore)
		m.number(o, model.FieldSocialSentimentScore, p.SocialScore)
		m.number(o, model.FieldArticlesAnalyzed, p.ArticlesAnalyzed)
		m.number(o, model.FieldPostsAnalyzed, p.PostsAnalyzed)
		for key, d := range p.DerivedMetrics {
			// A number must never displace or shadow a text field.
			if model.TextField(key) {
				zap.L().Debug("aggregate: derived metric on text field ignored",
					zap.String("key", key),
					zap.String("result_id", s.id),
				)
				continue
			}
			m.numberValue(o, key, d)
		}
		m.set(m.legalConcerns, o, "legal_concerns", p.LegalConcerns)
		m.set(m.risks, o, "risks", p.PotentialRisks)
		m.text(o, model.FieldSentimentSummary, p.Summary)

	case *model.RegulatoryPayload:
		m.set(m.regions, o, "regions", p.Regions)
		m.set(m.compliance, o, "compliance_risks", p.ComplianceRisks)
		for _, rm := range p.Mentions {
			if strings.TrimSpace(rm.Regulation) == "" {
				continue
			}
			k := foldKey(rm.Regulation) + "|" + cmp.Or(strings.TrimSpace(rm.Link), foldKey(rm.Title))
			tb := rm.Regulation + "|" + rm.Title + "|" + rm.Link
			m.mentions[k] = append(m.mentions[k], newCandidate(m, o, "regulatory_mentions", rm, tb))
		}
		m.text(o, model.FieldRegulatorySummary, p.Summary)

	case *model.CompetitorPayload:
		for _, c := range p.Competitors {
			if strings.TrimSpace(c.Name) == "" {
				continue
			}
			k := foldKey(c.Name)
			tb := c.Name + "|" + strconv.Itoa(c.Mentions) + "|" + c.Relevance
			m.competitors[k] = append(m.competitors[k], newCandidate(m, o, "competitors", c, tb))
		}
		m.text(o, model.FieldCompetitorSummary, p.Summary)

	default:
		zap.L().Warn("aggregate: unhandled payload variant",
			zap.String("source", string(res.Source)),
		)
	}
}

func articleKey(a model.Article) string {
	if link := strings.TrimSpace(a.Link); link != "" {
		return "link:" + link
	}
	if title := strings.TrimSpace(a.Title); title != "" {
		return "title:" + foldKey(title)
	}
	return ""
}

func articleTiebreak(a model.Article) string {
	published := ""
	if a.PublishedAt != nil {
		published = a.PublishedAt.UTC().Format(time.RFC3339Nano)
	}
	return a.Title + "|" + a.Link + "|" + a.Outlet + "|" + published
}

// resolveField picks the winning value for key. Losing text values that
// differ from the winner are kept as alternatives; numeric losers are dropped.
func resolveField(key string, cands []candidate[model.Value]) model.FieldValue {
	slices.SortFunc(cands, compareCandidates[model.Value])
	win := cands[0]
	fv := model.FieldValue{
		Key:       key,
		Value:     win.item,
		Source:    win.source,
		FetchedAt: win.fetched,
		ResultID:  win.resultID,
	}
	if win.item.IsNumeric() {
		return fv
	}

	kept := []model.Value{win.item}
	for _, c := range cands[1:] {
		if c.item.IsNumeric() || slices.ContainsFunc(kept, c.item.Equal) {
			continue
		}
		kept = append(kept, c.item)
		fv.Alternatives = append(fv.Alternatives, model.FieldValue{
			Key:       key,
			Value:     c.item,
			Source:    c.source,
			FetchedAt: c.fetched,
			ResultID:  c.resultID,
		})
	}
	return fv
}

// resolveCollection picks one entry per key and returns them in key order.
func resolveCollection[T any](byKey map[string][]candidate[T]) []T {
	if len(byKey) == 0 {
		return nil
	}
	out := make([]T, 0, len(byKey))
	for _, k := range slices.Sorted(maps.Keys(byKey)) {
		cands := byKey[k]
		slices.SortFunc(cands, compareCandidates[T])
		out = append(out, cands[0].item)
	}
	return out
}

// rebuild recomputes every derived part of rec from the retained results.
// The outcome depends only on the set of results, never on arrival order.
func (a *Aggregator) rebuild(rec *model.CompanyRecord, results []stored, now time.Time) {
	slices.SortFunc(results, compareStored)

	m := newMerger(a.cfg.Policy)
	rec.Results = make([]model.SourceResult, len(results))
	for i, s := range results {
		rec.Results[i] = s.res
		m.add(s)
	}

	statusByResult := make(map[string]model.Status, len(results))
	for _, s := range results {
		statusByResult[s.id] = s.res.Status
	}

	rec.Fields = make(map[string]model.FieldValue, len(m.fields))
	for key, cands := range m.fields {
		fv := resolveField(key, cands)
		a.annotate(&fv, statusByResult[fv.ResultID], now)
		for i := range fv.Alternatives {
			a.annotate(&fv.Alternatives[i], statusByResult[fv.Alternatives[i].ResultID], now)
		}
		rec.Fields[key] = fv
	}

	rec.Articles = resolveCollection(m.articles)
	rec.Competitors = resolveCollection(m.competitors)
	rec.RegulatoryMentions = resolveCollection(m.mentions)
	rec.LegalConcerns = resolveCollection(m.legalConcerns)
	rec.Risks = resolveCollection(m.risks)
	rec.ComplianceRisks = resolveCollection(m.compliance)
	rec.Regions = resolveCollection(m.regions)

	a.score(rec)
	rec.GeneratedAt = now
}

// annotate sets the decayed confidence and staleness of a field value.
func (a *Aggregator) annotate(fv *model.FieldValue, st model.Status, now time.Time) {
	raw := a.cfg.Policy.Confidence(fv.Source) * statusFactor(st)
	fv.Confidence = EffectiveConfidence(raw, fv.FetchedAt, now, a.cfg.Decay)
	fv.Stale = a.cfg.StaleAfter > 0 && now.Sub(fv.FetchedAt) > a.cfg.StaleAfter
}

// score recomputes source bookkeeping and completeness: the fraction of
// expected sources with at least one successful result.
func (a *Aggregator) score(rec *model.CompanyRecord) {
	reported := make(map[model.Source]bool)
	succeeded := make(map[model.Source]bool)
	for _, res := range rec.Results {
		reported[res.Source] = true
		if res.Status == model.StatusSuccess {
			succeeded[res.Source] = true
		}
	}

	rec.Reported = slices.Sorted(maps.Keys(reported))
	rec.Missing = nil
	rec.Failed = nil
	hits := 0
	for _, src := range rec.Expected {
		switch {
		case succeeded[src]:
			hits++
		case reported[src]:
			rec.Failed = append(rec.Failed, src)
		default:
			rec.Missing = append(rec.Missing, src)
		}
	}

	if len(rec.Expected) == 0 {
		rec.Completeness = 0
		return
	}
	rec.Completeness = float64(hits) / float64(len(rec.Expected))
}
