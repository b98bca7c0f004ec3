/*
errors.go - Centralized error types for the snapshot engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Store implementations and the API wrap or map these errors.

ERROR CATEGORIES:
  1. Input errors - Malformed catalog records, bad queries
  2. Pass errors  - Fetch failures, lock contention, commit failures
  3. Store errors - Duplicate or inconsistent snapshot rows

SEE ALSO:
  - pipeline.go: Produces pass errors
  - api/handlers.go: Maps errors to HTTP status codes
*/
package snapshot

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrMalformedRecord is returned when a catalog record cannot be ingested.
	ErrMalformedRecord = errors.New("malformed product record")

	// ErrFetchFailed is returned when the catalog source could not be read.
	ErrFetchFailed = errors.New("catalog fetch failed")

	// ErrCommitFailed is returned when a run could not be persisted.
	// The store is unchanged when this is returned.
	ErrCommitFailed = errors.New("run commit failed")

	// ErrLockHeld is returned when another ingest pass holds the ingest lock.
	ErrLockHeld = errors.New("ingest lock held by another pass")

	// ErrDuplicateSnapshot is returned when a product already has a row in the run.
	ErrDuplicateSnapshot = errors.New("duplicate snapshot for product in run")

	// ErrInvalidRun is returned when a batch mixes run numbers or uses a run below 1.
	ErrInvalidRun = errors.New("invalid run number in batch")

	// ErrNoRuns is returned when an operation needs a committed run and none exists.
	ErrNoRuns = errors.New("no committed runs")

	// ErrProductNotFound is returned when a product has no snapshot rows.
	ErrProductNotFound = errors.New("product not found")

	// ErrInvalidQuery is returned for unknown sort keys or bad paging.
	ErrInvalidQuery = errors.New("invalid query")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RecordError identifies the record that made a batch unusable.
type RecordError struct {
	Index     int
	ProductID ProductID
	Reason    string
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d (product %q): %s", e.Index, e.ProductID, e.Reason)
}

func (e *RecordError) Unwrap() error {
	return ErrMalformedRecord
}

// CommitError wraps the store failure of a run commit.
type CommitError struct {
	Run  RunNumber
	Rows int
	Err  error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit run %d (%d rows): %v", e.Run, e.Rows, e.Err)
}

func (e *CommitError) Unwrap() []error {
	return []error{ErrCommitFailed, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if repeating the whole pass might succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrFetchFailed) ||
		errors.Is(err, ErrLockHeld) ||
		errors.Is(err, ErrCommitFailed)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidQuery) ||
		errors.Is(err, ErrMalformedRecord)
}

// IsNotFound returns true if the error indicates missing data.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrNoRuns)
}
