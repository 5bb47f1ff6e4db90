package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tallycache/tally/internal/fastcount"
	"github.com/tallycache/tally/internal/models"
	"github.com/tallycache/tally/pkg/logger"
)

const (
	defaultRunHistoryDays = 30
	defaultExpiredGrace   = 24 * time.Hour
	defaultPurgeSpec      = "@hourly"
	defaultSweepSpec      = "@every 1m"
)

// Cleaner coordinates background maintenance: purging expired cached counts,
// pruning old precache run records, and sweeping managers whose precache
// schedule is due even when no count requests arrive.
type Cleaner struct {
	db       *gorm.DB
	entries  *fastcount.EntryStore
	registry *fastcount.Registry
	cron     *cron.Cron
	now      func() time.Time
	log      *zap.Logger
	enabled  bool

	expiredGrace   time.Duration
	runHistoryDays int

	purgeSchedule string
	sweepSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithExpiredGrace adjusts how long expired count rows linger before purging.
func WithExpiredGrace(grace time.Duration) Option {
	return func(cleaner *Cleaner) {
		if grace >= 0 {
			cleaner.expiredGrace = grace
		}
	}
}

// WithRunHistoryDays adjusts how long precache run records are retained.
func WithRunHistoryDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.runHistoryDays = days
		}
	}
}

// WithPurgeSchedule overrides the cron specification for the purge job.
func WithPurgeSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.purgeSchedule = spec
		}
	}
}

// WithSweepSchedule overrides the cron specification for the precache sweep.
func WithSweepSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.sweepSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency
// results in the corresponding job being skipped.
func NewCleaner(db *gorm.DB, entries *fastcount.EntryStore, registry *fastcount.Registry, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:             db,
		entries:        entries,
		registry:       registry,
		now:            time.Now,
		expiredGrace:   defaultExpiredGrace,
		runHistoryDays: defaultRunHistoryDays,
		purgeSchedule:  defaultPurgeSpec,
		sweepSchedule:  defaultSweepSpec,
		log:            logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	cleaner.enabled = cleaner.entries != nil || cleaner.registry != nil || cleaner.db != nil

	return cleaner
}

// Start registers the jobs with the cron scheduler and launches it if at
// least one job is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled {
		return nil
	}

	if c.entries != nil || c.db != nil {
		if _, err := c.cron.AddFunc(c.purgeSchedule, func() {
			if err := c.purge(context.Background()); err != nil {
				c.log.Warn("retention purge failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.registry != nil {
		if _, err := c.cron.AddFunc(c.sweepSchedule, func() {
			c.registry.Sweep(context.Background())
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured maintenance routines sequentially.
// Primarily used in tests and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if err := c.purge(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}

	if c.registry != nil {
		c.registry.Sweep(ctx)
	}

	return errs
}

func (c *Cleaner) purge(ctx context.Context) error {
	var errs error
	now := c.now()

	if c.entries != nil {
		removed, err := c.entries.DeleteExpiredBefore(ctx, now.Add(-c.expiredGrace))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("purge expired counts: %w", err))
		} else if removed > 0 {
			c.log.Info("purged expired cached counts", zap.Int64("removed", removed))
		}
	}

	if c.db != nil && c.runHistoryDays > 0 {
		removed, err := CleanupRunHistory(ctx, c.db, now, c.runHistoryDays)
		if err != nil {
			errs = multierr.Append(errs, err)
		} else if removed > 0 {
			c.log.Info("pruned precache run history", zap.Int64("removed", removed))
		}
	}

	return errs
}

// CleanupRunHistory removes precache run records older than the retention window.
func CleanupRunHistory(ctx context.Context, db *gorm.DB, now time.Time, retentionDays int) (int64, error) {
	if db == nil {
		return 0, errors.New("cleanup run history: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cutoff := now.AddDate(0, 0, -retentionDays)
	result := db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.PrecacheRun{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup run history: %w", result.Error)
	}
	return result.RowsAffected, nil
}
