// Package store provides Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/stockpulse/snapshot"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	byProduct map[snapshot.ProductID][]snapshot.ProductSnapshot
	byRun     map[snapshot.RunNumber][]snapshot.ProductSnapshot
	maxRun    snapshot.RunNumber
}

func NewMemory() *Memory {
	return &Memory{
		byProduct: make(map[snapshot.ProductID][]snapshot.ProductSnapshot),
		byRun:     make(map[snapshot.RunNumber][]snapshot.ProductSnapshot),
	}
}

func (m *Memory) MaxRunNumber(_ context.Context) (snapshot.RunNumber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxRun, nil
}

// AppendRun adds all rows of one run atomically. Append-only.
func (m *Memory) AppendRun(_ context.Context, rows []snapshot.ProductSnapshot) error {
	if len(rows) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check the whole batch first (atomic check)
	run := rows[0].RunNumber
	if run < 1 {
		return fmt.Errorf("%w: %d", snapshot.ErrInvalidRun, run)
	}
	seen := make(map[snapshot.ProductID]bool, len(rows))
	for _, row := range rows {
		if row.RunNumber != run {
			return fmt.Errorf("%w: %d and %d", snapshot.ErrInvalidRun, run, row.RunNumber)
		}
		if seen[row.ProductID] || m.hasLocked(row.ProductID, run) {
			return fmt.Errorf("%w: %s in run %d", snapshot.ErrDuplicateSnapshot, row.ProductID, run)
		}
		seen[row.ProductID] = true
	}

	// Append all (atomic write)
	for _, row := range rows {
		m.appendLocked(row)
	}
	return nil
}

func (m *Memory) hasLocked(id snapshot.ProductID, run snapshot.RunNumber) bool {
	for _, row := range m.byRun[run] {
		if row.ProductID == id {
			return true
		}
	}
	return false
}

func (m *Memory) appendLocked(row snapshot.ProductSnapshot) {
	rows := m.byProduct[row.ProductID]

	// Binary search for insertion point keeps history ordered by run
	i := sort.Search(len(rows), func(i int) bool {
		return rows[i].RunNumber > row.RunNumber
	})
	rows = append(rows, snapshot.ProductSnapshot{})
	copy(rows[i+1:], rows[i:])
	rows[i] = row
	m.byProduct[row.ProductID] = rows

	m.byRun[row.RunNumber] = append(m.byRun[row.RunNumber], row)
	if row.RunNumber > m.maxRun {
		m.maxRun = row.RunNumber
	}
}

func (m *Memory) LoadHistory(_ context.Context, id snapshot.ProductID) ([]snapshot.ProductSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]snapshot.ProductSnapshot, len(m.byProduct[id]))
	copy(result, m.byProduct[id])
	return result, nil
}

func (m *Memory) LoadRun(_ context.Context, run snapshot.RunNumber) ([]snapshot.ProductSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]snapshot.ProductSnapshot, len(m.byRun[run]))
	copy(result, m.byRun[run])
	return result, nil
}

func (m *Memory) ListRuns(_ context.Context) ([]snapshot.RunSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]snapshot.RunSummary, 0, len(m.byRun))
	for run, rows := range m.byRun {
		s := snapshot.RunSummary{Run: run, Rows: len(rows)}
		for _, row := range rows {
			if s.CreatedAt.IsZero() || row.CreatedAt.Before(s.CreatedAt) {
				s.CreatedAt = row.CreatedAt
			}
		}
		runs = append(runs, s)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Run > runs[j].Run })
	return runs, nil
}

// Len returns the total number of rows held.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, rows := range m.byRun {
		n += len(rows)
	}
	return n
}
