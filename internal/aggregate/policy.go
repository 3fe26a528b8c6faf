package aggregate

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/marketmind/internal/model"
)

// defaultSourceConfidence applies to sources the policy does not rate.
const defaultSourceConfidence = 0.5

// Policy decides which source wins a contested field and how much each
// source is trusted.
type Policy struct {
	// Priorities ranks sources globally; higher wins. Sources absent from the
	// map have no declared priority and lose to any source that has one.
	Priorities map[model.Source]int `yaml:"priorities"`

	// SourceConfidence is the raw confidence of a value from each source, before decay.
	SourceConfidence map[model.Source]float64 `yaml:"source_confidence"`

	// Fields overrides the global priorities for individual field keys.
	Fields map[string]FieldPolicy `yaml:"fields"`
}

// FieldPolicy overrides priorities for a single field.
type FieldPolicy struct {
	Priorities map[model.Source]int `yaml:"priorities"`
}

// DefaultPolicy ranks market data above text-derived sources. Sentiment is
// left undeclared so its numeric guesses never override declared sources.
func DefaultPolicy() *Policy {
	return &Policy{
		Priorities: map[model.Source]int{
			model.SourceFinancial:  100,
			model.SourceRegulatory: 60,
			model.SourceNews:       40,
			model.SourceCompetitor: 30,
		},
		SourceConfidence: map[model.Source]float64{
			model.SourceFinancial:  0.95,
			model.SourceRegulatory: 0.85,
			model.SourceNews:       0.75,
			model.SourceCompetitor: 0.7,
			model.SourceSentiment:  0.6,
		},
		Fields: map[string]FieldPolicy{
			model.FieldSentimentScore: {Priorities: map[model.Source]int{model.SourceSentiment: 100}},
		},
	}
}

// LoadPolicy reads a policy from a YAML file with a top-level "policy" key.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "aggregate: read policy %s", path)
	}

	var wrapper struct {
		Policy Policy `yaml:"policy"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "aggregate: parse policy")
	}

	p := &wrapper.Policy
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate rejects policies that name unknown sources or out-of-range confidences.
func (p *Policy) Validate() error {
	for src := range p.Priorities {
		if !src.Valid() {
			return eris.Errorf("aggregate: policy priority for unknown source %q", src)
		}
	}
	for src, c := range p.SourceConfidence {
		if !src.Valid() {
			return eris.Errorf("aggregate: policy confidence for unknown source %q", src)
		}
		if c < 0 || c > 1 {
			return eris.Errorf("aggregate: policy confidence for %s must be in [0,1], got %v", src, c)
		}
	}
	for key, fp := range p.Fields {
		for src := range fp.Priorities {
			if !src.Valid() {
				return eris.Errorf("aggregate: policy field %s names unknown source %q", key, src)
			}
		}
	}
	return nil
}

// Priority returns the declared priority of src for field, checking the
// field override before the global ranking.
func (p *Policy) Priority(field string, src model.Source) (int, bool) {
	if p == nil {
		return 0, false
	}
	if fp, ok := p.Fields[field]; ok {
		if pr, ok := fp.Priorities[src]; ok {
			return pr, true
		}
	}
	pr, ok := p.Priorities[src]
	return pr, ok
}

// Confidence returns the raw confidence assigned to src.
func (p *Policy) Confidence(src model.Source) float64 {
	if p != nil {
		if c, ok := p.SourceConfidence[src]; ok {
			return c
		}
	}
	return defaultSourceConfidence
}
