package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// JanitorConfig controls background expiry.
type JanitorConfig struct {
	TTL          time.Duration
	Interval     time.Duration
	RetryBackoff time.Duration
	// Schedule is an optional cron expression ("0 * * * *", "@hourly").
	// When set it replaces Interval.
	Schedule string
}

// Janitor periodically removes sessions idle past their TTL.
type Janitor struct {
	store    *Store
	ttl      time.Duration
	schedule cron.Schedule
	backoff  time.Duration
	logger   *slog.Logger

	// OnSweep, when set, is called after every sweep attempt.
	OnSweep func(removed int, err error)
}

// NewJanitor validates cfg and returns a Janitor. It does not start it.
func NewJanitor(store *Store, cfg JanitorConfig, logger *slog.Logger) (*Janitor, error) {
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("session ttl must be positive, got %s", cfg.TTL)
	}
	if cfg.RetryBackoff <= 0 {
		return nil, fmt.Errorf("sweep retry backoff must be positive, got %s", cfg.RetryBackoff)
	}

	var sched cron.Schedule
	if cfg.Schedule != "" {
		s, err := cron.ParseStandard(cfg.Schedule)
		if err != nil {
			return nil, fmt.Errorf("parsing sweep schedule %q: %w", cfg.Schedule, err)
		}
		sched = s
	} else {
		if cfg.Interval <= 0 {
			return nil, fmt.Errorf("sweep interval must be positive, got %s", cfg.Interval)
		}
		sched = cron.Every(cfg.Interval)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		store:    store,
		ttl:      cfg.TTL,
		schedule: sched,
		backoff:  cfg.RetryBackoff,
		logger:   logger,
	}, nil
}

// Run sweeps immediately, then on schedule, until ctx is cancelled. A failed
// sweep is retried after the backoff instead of the regular schedule.
func (j *Janitor) Run(ctx context.Context) {
	j.logger.Info("session janitor started",
		slog.String("root", j.store.Root()),
		slog.Duration("ttl", j.ttl),
	)
	for {
		wait := j.sweep()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			j.logger.Info("session janitor stopped")
			return
		case <-timer.C:
		}
	}
}

// sweep runs one pass and returns how long to sleep before the next.
func (j *Janitor) sweep() (wait time.Duration) {
	var (
		removed []string
		err     error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic during sweep: %v", r)
			}
		}()
		removed, err = j.store.SweepExpired(j.ttl)
	}()

	if j.OnSweep != nil {
		j.OnSweep(len(removed), err)
	}

	if err != nil {
		j.logger.Warn("session sweep failed",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", j.backoff),
		)
		return j.backoff
	}

	j.logger.Debug("session sweep completed", slog.Int("removed", len(removed)))
	now := time.Now()
	return j.schedule.Next(now).Sub(now)
}
