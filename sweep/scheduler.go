package sweep

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Intervals configures the cadence of each sweep. A zero interval disables
// that sweep.
type Intervals struct {
	Retry   time.Duration
	Stuck   time.Duration
	Timeout time.Duration
	Archive time.Duration
	Purge   time.Duration
}

// Scheduler runs the sweeps on independent tickers.
type Scheduler struct {
	sweeper   *Sweeper
	intervals Intervals
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a sweep scheduler.
func NewScheduler(sweeper *Sweeper, intervals Intervals, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		sweeper:   sweeper,
		intervals: intervals,
		logger:    logger,
	}
}

// Start launches one loop per enabled sweep.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.launch(ctx, "retry_overdue", s.intervals.Retry, s.sweeper.RetryOverdue)
	s.launch(ctx, "requeue_stuck", s.intervals.Stuck, s.sweeper.RequeueStuck)
	s.launch(ctx, "enforce_timeouts", s.intervals.Timeout, s.sweeper.EnforceTimeouts)
	s.launch(ctx, "archive", s.intervals.Archive, s.sweeper.Archive)
	s.launch(ctx, "purge", s.intervals.Purge, s.sweeper.Purge)
}

// Stop cancels all loops and waits for in-flight sweeps to finish.
func (s *Scheduler) Stop(_ context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) launch(ctx context.Context, name string, interval time.Duration, run func(context.Context) (int, error)) {
	if interval <= 0 {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := run(ctx); err != nil {
					s.logger.ErrorContext(ctx, "sweep failed", "sweep", name, "error", err)
				}
			}
		}
	}()
}
