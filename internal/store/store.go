// Package store persists finalized research records.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/marketmind/internal/model"
)

// ErrNotFound is returned when no record matches a lookup.
var ErrNotFound = eris.New("store: record not found")

// RecordFilter specifies criteria for listing records.
type RecordFilter struct {
	CompanyKey      string  `json:"company_key,omitempty"`
	MinCompleteness float64 `json:"min_completeness,omitempty"`
	Limit           int     `json:"limit,omitempty"`
	Offset          int     `json:"offset,omitempty"`
}

// RecordSummary is the listing view of a stored record.
type RecordSummary struct {
	ID               string         `json:"id"`
	CompanyID        string         `json:"company_id"`
	CompanyKey       string         `json:"company_key"`
	Completeness     float64        `json:"completeness"`
	DeadlineExceeded bool           `json:"deadline_exceeded"`
	Missing          []model.Source `json:"missing_sources,omitempty"`
	Failed           []model.Source `json:"failed_sources,omitempty"`
	GeneratedAt      time.Time      `json:"generated_at"`
	FinalizedAt      time.Time      `json:"finalized_at"`
}

// Store defines the persistence interface for finalized records.
type Store interface {
	// SaveRecord inserts rec or replaces the record with the same id.
	SaveRecord(ctx context.Context, rec *model.CompanyRecord) error
	GetRecord(ctx context.Context, id string) (*model.CompanyRecord, error)
	// LatestRecord returns the most recently finalized record for a company key.
	LatestRecord(ctx context.Context, companyKey string) (*model.CompanyRecord, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]RecordSummary, error)
	// SourceHistory counts stored results per source and status.
	SourceHistory(ctx context.Context) (map[model.Source]map[model.Status]int, error)

	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 50

func (f RecordFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

func checkSavable(rec *model.CompanyRecord) error {
	if rec == nil {
		return eris.New("store: nil record")
	}
	if rec.ID == "" || rec.CompanyKey == "" {
		return eris.New("store: record has no id or company key")
	}
	if !rec.Finalized() {
		return eris.Errorf("store: record %s is not finalized", rec.ID)
	}
	return nil
}

func summarize(rec *model.CompanyRecord) RecordSummary {
	s := RecordSummary{
		ID:               rec.ID,
		CompanyID:        rec.CompanyID,
		CompanyKey:       rec.CompanyKey,
		Completeness:     rec.Completeness,
		DeadlineExceeded: rec.DeadlineExceeded,
		Missing:          rec.Missing,
		Failed:           rec.Failed,
		GeneratedAt:      rec.GeneratedAt.UTC(),
	}
	if rec.FinalizedAt != nil {
		s.FinalizedAt = rec.FinalizedAt.UTC()
	}
	return s
}

func encodeRecord(rec *model.CompanyRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	return data, eris.Wrapf(err, "store: marshal record %s", rec.ID)
}

func decodeRecord(data []byte) (*model.CompanyRecord, error) {
	var rec model.CompanyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal record")
	}
	return &rec, nil
}

func sourceStrings(srcs []model.Source) []string {
	out := make([]string, len(srcs))
	for i, s := range srcs {
		out[i] = string(s)
	}
	return out
}

func toSources(raw []string) []model.Source {
	if len(raw) == 0 {
		return nil
	}
	out := make([]model.Source, len(raw))
	for i, s := range raw {
		out[i] = model.Source(s)
	}
	return out
}

// resultRows flattens a record's results into source_results rows.
func resultRows(rec *model.CompanyRecord) [][]any {
	rows := make([][]any, 0, len(rec.Results))
	for _, res := range rec.Results {
		rows = append(rows, []any{
			rec.ID, res.Fingerprint(), string(res.Source), string(res.Status), res.FetchedAt.UTC(), res.Error,
		})
	}
	return rows
}

var resultColumns = []string{"record_id", "fingerprint", "source", "status", "fetched_at", "error"}
