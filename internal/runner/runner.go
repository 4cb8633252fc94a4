// Package runner drives the engine's long-running loop: one step per
// iteration, a cooperative sleep between steps, and exponential backoff
// while steps keep failing.
package runner

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// maxErrorDelay caps the backoff between failing steps.
const maxErrorDelay = 900 * time.Second

// Step is one unit of engine work: a direct improvement cycle or a
// community state-machine transition.
type Step func(ctx context.Context) error

// Loop runs a Step until its context is cancelled.
type Loop struct {
	step     Step
	interval time.Duration
	logger   *zap.Logger

	// sleep is replaceable so tests can observe delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLoop returns a loop pausing interval between steps.
func NewLoop(step Step, interval time.Duration, logger *zap.Logger) *Loop {
	return &Loop{
		step:     step,
		interval: interval,
		logger:   logger.Named("loop"),
		sleep:    sleepCtx,
	}
}

// Run executes steps until ctx is cancelled and then returns ctx.Err().
// A step error never stops the loop; it stretches the pause before the
// next attempt and is logged.
func (l *Loop) Run(ctx context.Context) error {
	consecutive := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.step(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			consecutive++
			delay := errorDelay(l.interval, consecutive)
			l.logger.Error("Step failed, backing off",
				zap.Error(err),
				zap.Int("consecutive_errors", consecutive),
				zap.Duration("delay", delay),
			)
			if err := l.sleep(ctx, delay); err != nil {
				return err
			}
			continue
		}
		consecutive = 0
		if err := l.sleep(ctx, l.interval); err != nil {
			return err
		}
	}
}

// errorDelay doubles the base interval per consecutive failure, capped
// at maxErrorDelay.
func errorDelay(interval time.Duration, consecutive int) time.Duration {
	delay := interval
	for i := 1; i < consecutive; i++ {
		delay *= 2
		if delay >= maxErrorDelay {
			return maxErrorDelay
		}
	}
	if delay > maxErrorDelay {
		return maxErrorDelay
	}
	return delay
}

// sleepCtx pauses for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
