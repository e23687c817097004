package adaptive

import (
	"context"
	"errors"
	"time"

	"github.com/wpeva/new-undetect-browser-sub005/internal/browser"
)

// ErrScheduleRunning is returned when a schedule is started while another is
// active on the same controller.
var ErrScheduleRunning = errors.New("adaptive: schedule already running")

// SessionFactory acquires a browser session for one scheduled cycle. The
// returned release func is always called after the cycle, even on error.
type SessionFactory func(ctx context.Context) (browser.Session, func(), error)

// StartSchedule arms a recurring timer that runs one cycle per interval. The
// timer is an owned goroutine cancelled by StopSchedule; a generation counter
// makes sure a tick that raced a stop never starts or reports work. One
// active schedule per controller.
func (c *Controller) StartSchedule(interval time.Duration, factory SessionFactory) error {
	if interval <= 0 {
		return errors.New("adaptive: schedule interval must be positive")
	}
	if factory == nil {
		return errors.New("adaptive: session factory is required")
	}

	c.schedMu.Lock()
	defer c.schedMu.Unlock()
	if c.schedCancel != nil {
		return ErrScheduleRunning
	}

	gen := c.schedGen.Add(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.schedCancel = cancel
	c.schedDone = done

	go c.scheduleLoop(ctx, gen, interval, factory, done)
	c.logger.Info("schedule started", "interval", interval)
	return nil
}

// StopSchedule cancels the timer and waits for the loop to exit. Idempotent;
// safe to call with no schedule running.
func (c *Controller) StopSchedule() {
	c.schedMu.Lock()
	cancel := c.schedCancel
	done := c.schedDone
	c.schedCancel = nil
	c.schedDone = nil
	// Bump the generation so an in-flight tick is discarded even if it
	// already passed the context check.
	c.schedGen.Add(1)
	c.schedMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.logger.Info("schedule stopped")
}

func (c *Controller) scheduleLoop(ctx context.Context, gen int64, interval time.Duration, factory SessionFactory, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.schedGen.Load() != gen {
				return
			}
			c.runScheduledCycle(ctx, gen, factory)
		}
	}
}

// runScheduledCycle acquires a session, runs one cycle, and releases the
// session. Errors are logged, never propagated: the schedule simply waits for
// the next tick.
func (c *Controller) runScheduledCycle(ctx context.Context, gen int64, factory SessionFactory) {
	session, release, err := factory(ctx)
	if err != nil {
		c.logger.Error("scheduled cycle could not acquire session", "error", err)
		return
	}
	if release != nil {
		defer release()
	}

	result, err := c.RunCycle(ctx, session)
	if c.schedGen.Load() != gen {
		// Stopped while the cycle ran; drop the stale result.
		return
	}
	if err != nil {
		c.logger.Error("scheduled cycle failed", "error", err, "reason", result.Reason)
		return
	}
	c.logger.Info("scheduled cycle completed",
		"deployed", result.Deployed,
		"old_score", result.OldScore,
		"new_score", result.NewScore,
		"reason", result.Reason,
	)
}
