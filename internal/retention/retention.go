// Package retention deletes transcripts that have not been updated within a
// configured age.
package retention

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner deletes conversations last updated before cutoff.
type Pruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scheduler runs the retention sweep on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	pruner Pruner
	maxAge time.Duration
	logger *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler that prunes transcripts older than maxAge.
func New(pruner Pruner, maxAge time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		pruner: pruner,
		maxAge: maxAge,
		logger: logger,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start registers the sweep under schedule (standard five-field cron syntax or
// descriptors such as "@daily") and starts the scheduler.
func (s *Scheduler) Start(schedule string) error {
	if s.maxAge <= 0 {
		return errors.New("retention max age must be positive")
	}
	if _, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.RunOnce(s.ctx); err != nil {
			s.logger.Error("retention sweep failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("retention scheduler started", slog.String("schedule", schedule), slog.Duration("max_age", s.maxAge))
	return nil
}

// RunOnce performs a single sweep and returns the number of conversations
// removed.
func (s *Scheduler) RunOnce(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.maxAge)
	n, err := s.pruner.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("retention sweep removed conversations", slog.Int64("count", n), slog.Time("cutoff", cutoff))
	}
	return n, nil
}

// Stop waits for a running sweep to finish and cancels any future ones.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.cancel()
}
