package aggregate

import "github.com/rotisserie/eris"

var (
	// ErrInvalidCompany is returned by BeginResearch for empty or malformed company identifiers.
	ErrInvalidCompany = eris.New("aggregate: invalid company")

	// ErrUnknownHandle is returned for handles that were never issued or have been released.
	ErrUnknownHandle = eris.New("aggregate: unknown handle")

	// ErrFinalized is returned when a result arrives after the record was frozen.
	ErrFinalized = eris.New("aggregate: record already finalized")

	// ErrCompanyMismatch is returned when a result names a different company than its handle.
	ErrCompanyMismatch = eris.New("aggregate: result company does not match handle")

	// ErrInvalidResult is returned for structurally malformed results.
	ErrInvalidResult = eris.New("aggregate: invalid source result")
)
