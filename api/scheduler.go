/*
scheduler.go - Periodic ingest scheduler

PURPOSE:
  Runs one catalog pass every Interval so the snapshot table grows by one
  run per day without an external cron.

DESIGN:
  - One background goroutine driven by a ticker
  - Passes never overlap: a tick that arrives during a pass is dropped
  - Stop cancels an in-flight pass and waits for it to return
  - Failures are logged; the next tick tries again

CONFIGURATION:
  - Interval:   time between passes (default: 24h)
  - RunOnStart: run a pass immediately on Start (default: false)
  - Enabled:    whether the scheduler is active (default: true)

USAGE:
  scheduler := NewIngestScheduler(pipeline, source, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerIngest (manual pass)
  - snapshot/pipeline.go: Run
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/stockpulse/snapshot"
)

// IngestScheduler runs the pipeline on a fixed interval.
type IngestScheduler struct {
	Pipeline   *snapshot.Pipeline
	Source     snapshot.Source
	Interval   time.Duration
	RunOnStart bool
	Enabled    bool

	logger *slog.Logger
	ticker *time.Ticker
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex

	statusMu sync.Mutex
	lastRun  time.Time
	lastErr  error
	last     snapshot.Result
}

// NewIngestScheduler creates a new scheduler.
func NewIngestScheduler(pipeline *snapshot.Pipeline, source snapshot.Source, logger *slog.Logger) *IngestScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestScheduler{
		Pipeline: pipeline,
		Source:   source,
		Interval: 24 * time.Hour,
		Enabled:  true,
		logger:   logger,
	}
}

// Start begins the scheduler.
func (s *IngestScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.logger.Info("[Scheduler] Disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)

	go s.run(ctx, s.ticker.C)

	s.logger.Info("[Scheduler] Started", "interval", s.Interval, "run_on_start", s.RunOnStart)
}

// Stop stops the scheduler and waits for an in-flight pass.
func (s *IngestScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		s.cancel()
		s.wg.Wait()
		s.ticker = nil
		s.logger.Info("[Scheduler] Stopped")
	}
}

// Last returns the outcome of the most recent pass. The zero time means
// no pass has finished yet.
func (s *IngestScheduler) Last() (time.Time, snapshot.Result, error) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.lastRun, s.last, s.lastErr
}

func (s *IngestScheduler) run(ctx context.Context, tick <-chan time.Time) {
	defer s.wg.Done()

	if s.RunOnStart {
		s.runPass(ctx)
	}

	for {
		select {
		case <-tick:
			s.runPass(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *IngestScheduler) runPass(ctx context.Context) {
	s.logger.Info("[Scheduler] Starting ingest pass")

	res, err := s.Pipeline.Run(ctx, s.Source)

	s.statusMu.Lock()
	s.lastRun, s.last, s.lastErr = time.Now(), res, err
	s.statusMu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			s.logger.Info("[Scheduler] Pass cancelled")
			return
		}
		s.logger.Error("[Scheduler] Pass failed", "error", err)
		return
	}
	s.logger.Info("[Scheduler] Pass finished", "run", res.Run, "rows", res.Rows, "attempts", res.Attempts)
}
