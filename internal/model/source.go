package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Source identifies the collaborator kind that produced a SourceResult.
type Source string

const (
	SourceCompetitor Source = "competitor"
	SourceFinancial  Source = "financial"
	SourceNews       Source = "news"
	SourceRegulatory Source = "regulatory"
	SourceSentiment  Source = "sentiment"
)

// AllSources returns every known source in lexical order.
func AllSources() []Source {
	return []Source{
		SourceCompetitor,
		SourceFinancial,
		SourceNews,
		SourceRegulatory,
		SourceSentiment,
	}
}

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceCompetitor, SourceFinancial, SourceNews, SourceRegulatory, SourceSentiment:
		return true
	}
	return false
}

// ParseSource converts a config or CLI string into a Source.
func ParseSource(raw string) (Source, error) {
	s := Source(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", eris.Errorf("model: unknown source %q", raw)
	}
	return s, nil
}

// ParseSources converts a list of strings, rejecting unknown and duplicate entries.
func ParseSources(raw []string) ([]Source, error) {
	out := make([]Source, 0, len(raw))
	seen := make(map[Source]bool, len(raw))
	for _, r := range raw {
		s, err := ParseSource(r)
		if err != nil {
			return nil, err
		}
		if seen[s] {
			return nil, eris.Errorf("model: duplicate source %q", r)
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}

// Status is the outcome a collaborator reports for one fetch.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusPartialFailure Status = "partial_failure"
	StatusFailure        Status = "failure"
)

// Valid reports whether st is a known status.
func (st Status) Valid() bool {
	switch st {
	case StatusSuccess, StatusPartialFailure, StatusFailure:
		return true
	}
	return false
}

// Contributes reports whether results with this status carry usable payload data.
func (st Status) Contributes() bool {
	return st == StatusSuccess || st == StatusPartialFailure
}
