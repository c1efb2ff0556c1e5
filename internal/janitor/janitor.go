package janitor

import (
	"context"
	"time"

	"booking-service/internal/util"
)

// Purger is the slice of the OTP engine the janitor needs.
type Purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// Janitor periodically sweeps expired challenge rows. Sweep failures are
// logged and the schedule continues: lazy expiry in Verify keeps the system
// correct even if every sweep fails.
type Janitor struct {
	purger   Purger
	interval time.Duration
}

func New(purger Purger, interval time.Duration) *Janitor {
	return &Janitor{purger: purger, interval: interval}
}

// Run blocks, sweeping on every tick until ctx is cancelled. Callers start
// it in its own goroutine.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	util.Info("janitor started", util.Duration("interval", j.interval))

	for {
		select {
		case <-ctx.Done():
			util.Info("janitor stopped")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	purged, err := j.purger.PurgeExpired(sweepCtx)
	if err != nil {
		util.Error("challenge sweep failed", util.ErrorField(err))
		return
	}
	if purged > 0 {
		util.Info("challenge sweep completed", util.Int("purged", purged))
	}
}
