package retention

import (
	"context"
	"time"

	"github.com/adhocore/gronx"

	"chatsync/pkg/cache"
	"chatsync/pkg/logger"
)

// Sweeper prunes conversations whose snapshot has not been refreshed
// within the retention window. It runs on a cron schedule against the
// daemon's pebble log.
type Sweeper struct {
	log     *cache.Cache
	cron    string
	maxAge  time.Duration
	started bool
}

func New(log *cache.Cache, cron string, maxAgeDays int) *Sweeper {
	if cron == "" {
		cron = "0 3 * * *"
	}
	if maxAgeDays <= 0 {
		maxAgeDays = 90
	}
	return &Sweeper{log: log, cron: cron, maxAge: time.Duration(maxAgeDays) * 24 * time.Hour}
}

// Start launches the scheduler goroutine. Invalid cron expressions
// disable the sweeper rather than failing startup.
func (s *Sweeper) Start(ctx context.Context) {
	if s.started {
		return
	}
	if !gronx.IsValid(s.cron) {
		logger.Error("retention_invalid_cron", "cron", s.cron)
		return
	}
	s.started = true
	logger.Info("retention_enabled", "cron", s.cron, "max_age", s.maxAge.String())
	go s.run(ctx)
}

func (s *Sweeper) run(ctx context.Context) {
	for {
		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(s.cron, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", s.cron, "err", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		select {
		case <-time.After(time.Until(next)):
			if err := s.RunOnce(); err != nil {
				logger.Error("retention_run_error", "err", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce deletes every conversation older than the retention window.
// Exported so an operator trigger or test can run a sweep on demand.
func (s *Sweeper) RunOnce() error {
	tasks, err := s.log.Tasks()
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-s.maxAge).UnixMilli()
	removed := 0
	for id, savedTS := range tasks {
		if savedTS >= cutoff {
			continue
		}
		if err := s.log.DeleteTask(id); err != nil {
			logger.Warn("retention_delete_failed", "task", id, "err", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info("retention_swept", "removed", removed, "scanned", len(tasks))
	}
	return nil
}
