package snapshot

import (
	"context"
	"fmt"
)

// =============================================================================
// RUN SEQUENCER
// =============================================================================

// Sequencer derives run numbers from what the store holds.
//
// INVARIANTS:
//   - The in-progress run is max(committed)+1, or 1 for an empty store.
//   - Resolve once per pass and stamp every row with the result.
//     Calling Next per row would see the pass's own rows once committed.
//
// Gaps left by manual deletes are tolerated: numbering continues from the max.
type Sequencer struct {
	Store Store
}

func NewSequencer(store Store) *Sequencer {
	return &Sequencer{Store: store}
}

// Next returns the run number for a new pass.
func (s *Sequencer) Next(ctx context.Context) (RunNumber, error) {
	latest, err := s.Store.MaxRunNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolve run number: %w", err)
	}
	return latest + 1, nil
}

// Latest returns the latest closed run, or 0 when nothing was committed.
func (s *Sequencer) Latest(ctx context.Context) (RunNumber, error) {
	next, err := s.Next(ctx)
	if err != nil {
		return 0, err
	}
	return next - 1, nil
}
