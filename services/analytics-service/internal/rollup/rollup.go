// Package rollup aggregates meal facts into daily_company_stats on a cron
// schedule.
package rollup

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/lunchpass/libs/db"
	"github.com/md-rashed-zaman/lunchpass/libs/entitlement"
	"github.com/robfig/cron/v3"
)

type DayRoller interface {
	RollupDay(ctx context.Context, day string) (int64, error)
}

type Config struct {
	// Schedule is a standard five field cron spec in the lunch time zone.
	Schedule        string
	LookbackDays    int
	AdvisoryLockKey int64
}

type Roller struct {
	pool   *db.Pool
	store  DayRoller
	logger *slog.Logger
	loc    *time.Location
	cfg    Config
	now    func() time.Time
}

func New(pool *db.Pool, store DayRoller, logger *slog.Logger, loc *time.Location, cfg Config) *Roller {
	if cfg.Schedule == "" {
		cfg.Schedule = "5 0 * * *"
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 2
	}
	if cfg.AdvisoryLockKey == 0 {
		cfg.AdvisoryLockKey = 4242301
	}
	return &Roller{pool: pool, store: store, logger: logger, loc: loc, cfg: cfg, now: time.Now}
}

// Run blocks until ctx is done, firing Once on the schedule.
func (r *Roller) Run(ctx context.Context) error {
	c := cron.New(cron.WithLocation(r.loc))
	if _, err := c.AddFunc(r.cfg.Schedule, func() { r.locked(ctx) }); err != nil {
		return err
	}
	c.Start()
	r.logger.Info("rollup scheduled", "schedule", r.cfg.Schedule)
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// locked runs Once only on the replica holding the advisory lock.
func (r *Roller) locked(ctx context.Context) {
	if r.pool == nil {
		r.Once(ctx)
		return
	}
	ok, release, err := r.pool.TryAdvisoryLock(ctx, r.cfg.AdvisoryLockKey)
	if err != nil {
		r.logger.Error("rollup lock failed", "err", err)
		return
	}
	if !ok {
		r.logger.Info("rollup skipped, another replica holds the lock")
		return
	}
	defer release()
	r.Once(ctx)
}

// Once rebuilds the stats of the last LookbackDays days, yesterday first.
// Later days are re-rolled to pick up facts that arrived late.
func (r *Roller) Once(ctx context.Context) {
	for _, day := range Days(r.now().In(r.loc), r.cfg.LookbackDays) {
		n, err := r.store.RollupDay(ctx, day)
		if err != nil {
			r.logger.Error("rollup failed", "day", day, "err", err)
			continue
		}
		r.logger.Info("rollup done", "day", day, "rows", n)
	}
}

// Days lists the n calendar days before now's day, newest first.
func Days(now time.Time, n int) []string {
	y, m, d := now.Date()
	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, entitlement.FormatDate(time.Date(y, m, d-i, 12, 0, 0, 0, now.Location())))
	}
	return out
}

// ValidSchedule reports whether spec parses as a standard cron spec.
func ValidSchedule(spec string) error {
	_, err := cron.ParseStandard(spec)
	return err
}
