package utils

import (
	"context"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"
)

// RunCron calls fn at every tick of the cron expression until ctx is done.
// Runs do not overlap; a run still going at the next tick delays it.
func RunCron(ctx context.Context, expr string, logger *zap.Logger, fn func(context.Context)) {
	for {
		next, err := gronx.NextTickAfter(expr, time.Now().UTC(), false)
		if err != nil {
			logger.Error("cron next tick failed", zap.String("cron", expr), zap.Error(err))
			select {
			case <-time.After(30 * time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			fn(ctx)
		}
	}
}
