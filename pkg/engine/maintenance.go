package engine

import (
	"context"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"
)

const maintenanceTick = time.Minute

// StartMaintenance runs the periodic housekeeping loop in a background
// goroutine: evicting idle conversation states and retrying queued writes
// whenever the configured cron expression comes due. Stops with the engine.
func (e *Engine) StartMaintenance() {
	expr := e.cfg.State.SweepCron
	if expr == "" {
		return
	}
	cron := gronx.New()
	if !cron.IsValid(expr) {
		e.log.Warn("invalid sweep cron, maintenance disabled", zap.String("cron", expr))
		return
	}

	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		ticker := time.NewTicker(maintenanceTick)
		defer ticker.Stop()

		for {
			select {
			case <-e.bgCtx.Done():
				return
			case now := <-ticker.C:
				due, err := cron.IsDue(expr, now)
				if err != nil || !due {
					continue
				}
				e.runMaintenance(e.bgCtx)
			}
		}
	}()
}

func (e *Engine) runMaintenance(ctx context.Context) {
	evicted := e.states.SweepIdle()
	e.facade.RetryPending(ctx)
	if evicted > 0 {
		e.log.Info("swept idle conversation states", zap.Int("evicted", evicted))
	}
}
