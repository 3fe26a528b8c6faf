package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// SourceResult is the output of one collaborator fetch for one company.
type SourceResult struct {
	Source    Source    `json:"source"`
	CompanyID string    `json:"company_id"`
	Payload   Payload   `json:"payload,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
}

// wireResult mirrors SourceResult with the payload left undecoded until the
// source tag is known.
type wireResult struct {
	Source    Source          `json:"source"`
	CompanyID string          `json:"company_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	FetchedAt time.Time       `json:"fetched_at"`
	Status    Status          `json:"status"`
	Error     string          `json:"error,omitempty"`
}

// MarshalJSON normalizes FetchedAt to UTC so equal results encode identically.
func (r SourceResult) MarshalJSON() ([]byte, error) {
	w := wireResult{
		Source:    r.Source,
		CompanyID: r.CompanyID,
		FetchedAt: r.FetchedAt.UTC(),
		Status:    r.Status,
		Error:     r.Error,
	}
	if r.Payload != nil {
		raw, err := json.Marshal(r.Payload)
		if err != nil {
			return nil, eris.Wrap(err, "model: marshal payload")
		}
		w.Payload = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the payload into the variant named by the source tag.
func (r *SourceResult) UnmarshalJSON(data []byte) error {
	var w wireResult
	if err := json.Unmarshal(data, &w); err != nil {
		return eris.Wrap(err, "model: unmarshal source result")
	}
	*r = SourceResult{
		Source:    w.Source,
		CompanyID: w.CompanyID,
		FetchedAt: w.FetchedAt,
		Status:    w.Status,
		Error:     w.Error,
	}
	if len(w.Payload) == 0 || string(w.Payload) == "null" {
		return nil
	}
	p, err := DecodePayload(w.Source, w.Payload)
	if err != nil {
		return err
	}
	r.Payload = p
	return nil
}

// Validate checks the shape of a result: known source and status, a company,
// a payload variant matching the source, and an error detail present exactly
// when the status is not success.
func (r SourceResult) Validate() error {
	if !r.Source.Valid() {
		return eris.Errorf("model: unknown source %q", r.Source)
	}
	if !r.Status.Valid() {
		return eris.Errorf("model: unknown status %q", r.Status)
	}
	if r.CompanyID == "" {
		return eris.New("model: result has no company")
	}
	if r.FetchedAt.IsZero() {
		return eris.New("model: result has no fetch timestamp")
	}
	if r.Payload != nil && r.Payload.Source() != r.Source {
		return eris.Errorf("model: %s result carries %s payload", r.Source, r.Payload.Source())
	}
	if r.Status == StatusSuccess && r.Payload == nil {
		return eris.Errorf("model: successful %s result has no payload", r.Source)
	}
	if r.Status == StatusSuccess && r.Error != "" {
		return eris.New("model: successful result carries error detail")
	}
	if r.Status != StatusSuccess && r.Error == "" {
		return eris.Errorf("model: %s result has no error detail", r.Status)
	}
	return nil
}

// Fingerprint identifies the result by content. Two results that encode to
// the same JSON share a fingerprint.
func (r SourceResult) Fingerprint() string {
	data, err := json.Marshal(r)
	if err != nil {
		// Payload variants are plain structs; encoding cannot fail for them.
		data = []byte(string(r.Source) + "|" + r.CompanyID + "|" + r.FetchedAt.UTC().String())
	}
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Clone returns a deep copy of r.
func (r SourceResult) Clone() SourceResult {
	out := r
	if r.Payload != nil {
		out.Payload = r.Payload.ClonePayload()
	}
	return out
}
