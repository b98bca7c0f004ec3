/*
pipeline.go - One scrape-and-persist pass

PURPOSE:
  Drives a pass from raw catalog records to a committed run:

    validate -> lock -> resolve run -> de-duplicate -> infer -> commit

PASS SEMANTICS:
  - The run number is resolved exactly once, after the lock is held.
  - Duplicate product IDs keep their first occurrence (the catalog lists a
    product under every subcategory group it belongs to).
  - All rows share one CreatedAt and are committed with a single AppendRun.
  - Any failure before or during commit leaves the store unchanged, so a
    retry resolves the same run number again.

RETRIES:
  Run() wraps fetch+ingest and repeats the whole pass on retryable errors
  (see IsRetryable) with linear backoff. Malformed records are not retried.

SEE ALSO:
  - inference.go: Sold counters
  - store.go:     Store, Source, Locker contracts
*/
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Pass outcomes reported to the Recorder.
const (
	ResultSuccess = "success"
	ResultEmpty   = "empty"
	ResultFailed  = "failed"
)

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	// Locker serializes passes. Default: an in-process lock.
	Locker Locker
	// Metrics receives pass outcomes. Optional.
	Metrics Recorder
	// Now stamps CreatedAt. Default: time.Now.
	Now func() time.Time
	// NewID generates row IDs. Default: uuid.NewString.
	NewID func() string
	// MaxAttempts bounds Run() retries. Default: 3.
	MaxAttempts int
	// RetryBackoff is multiplied by the attempt number. Default: 5s.
	RetryBackoff time.Duration
}

func (c *PipelineConfig) defaults() {
	if c.Locker == nil {
		c.Locker = newLocalLock()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.NewID == nil {
		c.NewID = uuid.NewString
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 5 * time.Second
	}
}

// Pipeline ingests catalog passes into a Store.
type Pipeline struct {
	store  Store
	seq    *Sequencer
	engine Engine
	config PipelineConfig
	logger *slog.Logger
}

// NewPipeline creates a Pipeline over store.
func NewPipeline(store Store, cfg PipelineConfig, logger *slog.Logger) *Pipeline {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:  store,
		seq:    NewSequencer(store),
		config: cfg,
		logger: logger,
	}
}

// Result describes a completed pass.
type Result struct {
	Run      RunNumber
	Rows     int
	Attempts int
}

// =============================================================================
// INGEST
// =============================================================================

// Ingest writes one run from raw records and returns the number of rows written.
// An empty batch writes nothing and returns 0.
func (p *Pipeline) Ingest(ctx context.Context, raw []RawProduct) (int, error) {
	res, err := p.ingest(ctx, raw)
	return res.Rows, err
}

func (p *Pipeline) ingest(ctx context.Context, raw []RawProduct) (Result, error) {
	started := time.Now()
	res, err := p.ingestLocked(ctx, raw)

	outcome := ResultSuccess
	switch {
	case err != nil:
		outcome = ResultFailed
		p.logger.Error("[Pipeline] pass failed", "run", res.Run, "error", err)
	case res.Rows == 0:
		outcome = ResultEmpty
		p.logger.Warn("[Pipeline] empty catalog, no run written")
	default:
		p.logger.Info("[Pipeline] run committed", "run", res.Run, "rows", res.Rows,
			"duplicates", len(raw)-res.Rows, "elapsed", time.Since(started))
	}
	p.observe(outcome, res, started)
	return res, err
}

func (p *Pipeline) observe(outcome string, res Result, started time.Time) {
	if p.config.Metrics != nil {
		p.config.Metrics.ObserveIngest(outcome, res.Rows, res.Run, time.Since(started).Seconds())
	}
}

func (p *Pipeline) ingestLocked(ctx context.Context, raw []RawProduct) (Result, error) {
	if err := ValidateBatch(raw); err != nil {
		return Result{}, err
	}
	records := Dedupe(raw)
	if len(records) == 0 {
		return Result{}, nil
	}

	release, err := p.config.Locker.Acquire(ctx)
	if err != nil {
		return Result{}, err
	}
	defer release()

	run, err := p.seq.Next(ctx)
	if err != nil {
		return Result{}, err
	}

	createdAt := p.config.Now().UTC()
	rows := make([]ProductSnapshot, 0, len(records))
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return Result{Run: run}, err
		}
		history, err := p.store.LoadHistory(ctx, r.ProductID)
		if err != nil {
			return Result{Run: run}, fmt.Errorf("load history for %s: %w", r.ProductID, err)
		}
		sales := p.engine.Infer(r.Stock, history)
		rows = append(rows, NewSnapshot(p.config.NewID(), run, r, sales, createdAt))
	}

	if err := p.store.AppendRun(ctx, rows); err != nil {
		return Result{Run: run}, &CommitError{Run: run, Rows: len(rows), Err: err}
	}
	return Result{Run: run, Rows: len(rows)}, nil
}

// =============================================================================
// RUN - fetch + ingest with whole-pass retries
// =============================================================================

// Run fetches the catalog from src and ingests it, retrying the whole pass
// on retryable errors up to MaxAttempts.
func (p *Pipeline) Run(ctx context.Context, src Source) (Result, error) {
	var lastErr error
	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		res, err := p.runOnce(ctx, src)
		if err == nil {
			res.Attempts = attempt
			return res, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == p.config.MaxAttempts {
			break
		}
		p.logger.Warn("[Pipeline] retrying pass", "attempt", attempt, "error", err)
		if err := sleepCtx(ctx, time.Duration(attempt)*p.config.RetryBackoff); err != nil {
			return Result{}, fmt.Errorf("pass cancelled during retry: %w", err)
		}
	}
	return Result{}, lastErr
}

func (p *Pipeline) runOnce(ctx context.Context, src Source) (Result, error) {
	started := time.Now()
	raw, err := src.Fetch(ctx)
	if err != nil {
		if !errors.Is(err, ErrFetchFailed) && !errors.Is(err, ErrMalformedRecord) {
			err = fmt.Errorf("%w: %w", ErrFetchFailed, err)
		}
		p.logger.Error("[Pipeline] fetch failed", "error", err)
		p.observe(ResultFailed, Result{}, started)
		return Result{}, err
	}
	return p.ingest(ctx, raw)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// =============================================================================
// LOCAL LOCK - default Locker
// =============================================================================

type localLock struct {
	ch chan struct{}
}

func newLocalLock() *localLock {
	return &localLock{ch: make(chan struct{}, 1)}
}

func (l *localLock) Acquire(ctx context.Context) (func(), error) {
	select {
	case l.ch <- struct{}{}:
		return func() { <-l.ch }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrLockHeld, ctx.Err())
	}
}
