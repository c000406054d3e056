// Package scheduler triggers the daily auto-close sweep.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/vwinv/backend-almadina/internal/dto"
	"github.com/vwinv/backend-almadina/internal/infra"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// AutoCloseLockKey guards the sweep across server replicas.
const AutoCloseLockKey = "lock:auto_close"

// Sweeper closes every stale OPEN register.
type Sweeper interface {
	RunAutoCloseSweep(ctx context.Context) dto.AutoCloseResult
}

// Locker hands out a release func when the key was free.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// Scheduler runs the sweep on a cron schedule evaluated in the business
// time zone.
type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	locker  Locker
	lockTTL time.Duration
}

// New registers the sweep under spec (six fields, seconds first). locker may
// be nil for single-instance deployments.
func New(spec string, loc *time.Location, sweeper Sweeper, locker Locker, lockTTL time.Duration) (*Scheduler, error) {
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithSeconds(),
	)
	s := &Scheduler{cron: c, sweeper: sweeper, locker: locker, lockTTL: lockTTL}

	if _, err := c.AddFunc(spec, s.tick); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler started")
}

// Stop waits for a running sweep to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		log.Info().Msg("scheduler stopped")
	case <-ctx.Done():
		log.Warn().Msg("scheduler stop timed out with a sweep in flight")
	}
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout())
	defer cancel()
	runWithRecovery("auto_close", func() {
		_, _ = RunAutoClose(ctx, s.sweeper, s.locker, s.lockTTL)
	})
}

func (s *Scheduler) timeout() time.Duration {
	if s.lockTTL > 0 {
		return s.lockTTL
	}
	return 5 * time.Minute
}

// RunAutoClose runs one sweep under the replica lock. ran is false when
// another holder owned the lock and nothing was swept.
func RunAutoClose(ctx context.Context, sweeper Sweeper, locker Locker, lockTTL time.Duration) (result dto.AutoCloseResult, ran bool) {
	if locker != nil {
		release, err := locker.Acquire(ctx, AutoCloseLockKey, lockTTL)
		if errors.Is(err, infra.ErrLockHeld) {
			log.Info().Msg("auto-close sweep already running elsewhere, skipping")
			return dto.AutoCloseResult{}, false
		}
		if err != nil {
			// Without Redis we cannot coordinate; closing twice is safe
			// because each register is re-checked under its row lock.
			log.Warn().Err(err).Msg("auto-close lock unavailable, sweeping without it")
		} else {
			defer func() {
				if err := release(context.Background()); err != nil {
					log.Warn().Err(err).Msg("auto-close lock release failed")
				}
			}()
		}
	}
	return sweeper.RunAutoCloseSweep(ctx), true
}

func runWithRecovery(job string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("job", job).Interface("panic", r).Msg("scheduled job panicked")
		}
	}()
	start := time.Now()
	log.Info().Str("job", job).Msg("scheduled job starting")
	fn()
	log.Info().Str("job", job).Dur("took", time.Since(start)).Msg("scheduled job completed")
}
