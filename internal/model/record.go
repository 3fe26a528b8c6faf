package model

import (
	"maps"
	"slices"
	"time"
)

// CompanyRecord is the merged research artifact for one company.
type CompanyRecord struct {
	ID         string `json:"id"`
	CompanyID  string `json:"company_id"`
	CompanyKey string `json:"company_key"`

	// Results holds every submitted result, failures included, in canonical
	// order (fetch time, then source, then fingerprint).
	Results []SourceResult `json:"results"`

	Fields             map[string]FieldValue `json:"fields"`
	Articles           []Article             `json:"articles,omitempty"`
	Competitors        []CompetitorMention   `json:"competitors,omitempty"`
	RegulatoryMentions []RegulatoryMention   `json:"regulatory_mentions,omitempty"`
	LegalConcerns      []string              `json:"legal_concerns,omitempty"`
	Risks              []string              `json:"risks,omitempty"`
	ComplianceRisks    []string              `json:"compliance_risks,omitempty"`
	Regions            []string              `json:"regions,omitempty"`

	Expected []Source `json:"expected_sources"`
	Reported []Source `json:"reported_sources,omitempty"`
	Missing  []Source `json:"missing_sources,omitempty"`
	Failed   []Source `json:"failed_sources,omitempty"`

	Completeness float64 `json:"completeness"`
	// DeadlineExceeded is set when finalize stopped waiting at its deadline
	// with sources still missing. A cancelled request leaves it unset.
	DeadlineExceeded bool `json:"deadline_exceeded"`

	GeneratedAt time.Time  `json:"generated_at"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

// Field returns the resolved value for key.
func (r *CompanyRecord) Field(key string) (FieldValue, bool) {
	fv, ok := r.Fields[key]
	return fv, ok
}

// HasSource reports whether src has reported, in any status.
func (r *CompanyRecord) HasSource(src Source) bool {
	return slices.Contains(r.Reported, src)
}

// Succeeded reports whether any retained result from src has success status.
func (r *CompanyRecord) Succeeded(src Source) bool {
	for _, res := range r.Results {
		if res.Source == src && res.Status == StatusSuccess {
			return true
		}
	}
	return false
}

// Finalized reports whether the record has been frozen.
func (r *CompanyRecord) Finalized() bool {
	return r.FinalizedAt != nil
}

// Clone returns a deep copy of r.
func (r *CompanyRecord) Clone() *CompanyRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Results = make([]SourceResult, len(r.Results))
	for i, res := range r.Results {
		out.Results[i] = res.Clone()
	}
	out.Fields = make(map[string]FieldValue, len(r.Fields))
	for k, fv := range r.Fields {
		out.Fields[k] = fv.Clone()
	}
	out.Articles = cloneArticles(r.Articles)
	out.Competitors = slices.Clone(r.Competitors)
	out.RegulatoryMentions = slices.Clone(r.RegulatoryMentions)
	out.LegalConcerns = slices.Clone(r.LegalConcerns)
	out.Risks = slices.Clone(r.Risks)
	out.ComplianceRisks = slices.Clone(r.ComplianceRisks)
	out.Regions = slices.Clone(r.Regions)
	out.Expected = slices.Clone(r.Expected)
	out.Reported = slices.Clone(r.Reported)
	out.Missing = slices.Clone(r.Missing)
	out.Failed = slices.Clone(r.Failed)
	if r.FinalizedAt != nil {
		t := *r.FinalizedAt
		out.FinalizedAt = &t
	}
	return &out
}

// FieldKeys returns the resolved field keys in lexical order.
func (r *CompanyRecord) FieldKeys() []string {
	return slices.Sorted(maps.Keys(r.Fields))
}

func cloneArticles(in []Article) []Article {
	if in == nil {
		return nil
	}
	out := make([]Article, len(in))
	for i, a := range in {
		if a.PublishedAt != nil {
			t := *a.PublishedAt
			a.PublishedAt = &t
		}
		out[i] = a
	}
	return out
}
