package main

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// janitor runs the periodic cleanup jobs on a cron scheduler.
type janitor struct {
	c        *cron.Cron
	log      *zap.Logger
	sessions SessionStore
	limiter  *loginLimiter
}

func newJanitor(log *zap.Logger, sessions SessionStore, limiter *loginLimiter) *janitor {
	return &janitor{
		c:        cron.New(),
		log:      log,
		sessions: sessions,
		limiter:  limiter,
	}
}

func (j *janitor) Start(interval time.Duration) error {
	schedule := fmt.Sprintf("@every %s", interval)
	if err := j.addJob("session sweep", schedule, j.sweepSessions); err != nil {
		return err
	}
	if err := j.addJob("login limiter prune", schedule, j.pruneLimiter); err != nil {
		return err
	}
	j.c.Start()
	return nil
}

// Stop halts the scheduler and waits for running jobs or ctx, whichever is first.
func (j *janitor) Stop(ctx context.Context) {
	select {
	case <-j.c.Stop().Done():
	case <-ctx.Done():
	}
}

func (j *janitor) addJob(name, schedule string, job func()) error {
	_, err := j.c.AddFunc(schedule, func() {
		j.log.Debug("started scheduled job", zap.String("job", name))
		job()
	})
	if err != nil {
		return fmt.Errorf("scheduling %s: %w", name, err)
	}
	j.log.Info("queued scheduled job", zap.String("job", name), zap.String("schedule", schedule))
	return nil
}

func (j *janitor) sweepSessions() {
	removed, err := j.sessions.Sweep(context.Background())
	if err != nil {
		j.log.Error("sweeping expired sessions", zap.Error(err))
		return
	}
	if removed > 0 {
		j.log.Info("swept expired sessions", zap.Int("removed", removed))
	}
}

func (j *janitor) pruneLimiter() {
	if removed := j.limiter.prune(); removed > 0 {
		j.log.Debug("pruned login rate buckets", zap.Int("removed", removed))
	}
}
