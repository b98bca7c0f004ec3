/*
store.go - Persistence and collaborator interfaces

PURPOSE:
  Defines the interface between the snapshot engine and the database,
  plus the two collaborators a pass depends on: the catalog source and
  the ingest lock.

APPEND-ONLY CONTRACT:
  - AppendRun(): Atomic write of every row of one run
  - NO Update() or Delete() methods exist

ATOMIC RUNS:
  AppendRun() ensures all-or-nothing semantics. A reader never sees a
  run number with only some of its product rows present. A failed commit
  leaves the store unchanged, so the next pass resolves the same run.

IMPLEMENTATIONS:
  - snapshot/store/memory.go: In-memory for testing
  - store/sqlite/sqlite.go:   SQLite (embedded deployments)
  - store/postgres/postgres.go: PostgreSQL via pgx

SEE ALSO:
  - sequencer.go: Reads MaxRunNumber
  - pipeline.go:  Reads LoadHistory, writes AppendRun
*/
package snapshot

import "context"

// =============================================================================
// STORE - Interface for snapshot persistence (append-only)
// =============================================================================

// Store handles persistence of snapshot rows.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete.
type Store interface {
	// MaxRunNumber returns the highest committed run, or 0 for an empty store.
	MaxRunNumber(ctx context.Context) (RunNumber, error)

	// LoadHistory returns all rows for a product, ordered by run ascending.
	LoadHistory(ctx context.Context, productID ProductID) ([]ProductSnapshot, error)

	// LoadRun returns all rows with the given run number.
	LoadRun(ctx context.Context, run RunNumber) ([]ProductSnapshot, error)

	// AppendRun persists rows atomically. Either all succeed or none do.
	// Every row must carry the same run number.
	AppendRun(ctx context.Context, rows []ProductSnapshot) error

	// ListRuns summarizes committed runs, newest first.
	ListRuns(ctx context.Context) ([]RunSummary, error)
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// Source delivers one full catalog listing.
type Source interface {
	Fetch(ctx context.Context) ([]RawProduct, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]RawProduct, error)

func (f SourceFunc) Fetch(ctx context.Context) ([]RawProduct, error) { return f(ctx) }

// Locker serializes ingest passes. Run numbering is max+1, so two
// concurrent passes would resolve the same run.
type Locker interface {
	// Acquire blocks until the lock is held or ctx is done. Implementations
	// that cannot wait return ErrLockHeld.
	Acquire(ctx context.Context) (release func(), err error)
}

// Recorder receives pass outcomes. observability.Metrics implements it.
type Recorder interface {
	ObserveIngest(result string, rows int, run RunNumber, seconds float64)
}
