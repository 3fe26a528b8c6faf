// Package collect runs source collaborators for a company and feeds their
// results into an aggregator.
package collect

import (
	"context"
	"time"

	"github.com/sells-group/marketmind/internal/model"
)

// Collaborator fetches the payload of one source for a company.
type Collaborator interface {
	Source() model.Source
	Fetch(ctx context.Context, companyID string) (model.Payload, error)
}

// PartialError reports that a collaborator produced usable but incomplete data.
type PartialError struct {
	Payload model.Payload
	Err     error
}

func (e *PartialError) Error() string { return "partial result: " + e.Err.Error() }

func (e *PartialError) Unwrap() error { return e.Err }

// StaticCollaborator returns a fixed payload or error, optionally after a delay.
type StaticCollaborator struct {
	Src     model.Source
	Payload model.Payload
	Err     error
	Delay   time.Duration
}

func (s *StaticCollaborator) Source() model.Source { return s.Src }

func (s *StaticCollaborator) Fetch(ctx context.Context, _ string) (model.Payload, error) {
	if s.Delay > 0 {
		t := time.NewTimer(s.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if s.Payload != nil {
		return s.Payload.ClonePayload(), s.Err
	}
	return nil, s.Err
}
