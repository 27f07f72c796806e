package voucher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Refreshable is anything that can re-sync itself from the backend
type Refreshable interface {
	Refresh(ctx context.Context) error
}

// Refresher periodically re-lists vouchers on a cron schedule
type Refresher struct {
	target   Refreshable
	schedule cron.Schedule
	timeout  time.Duration
}

// NewRefresher parses expr (standard cron syntax or descriptors such as "@every 5m")
func NewRefresher(expr string, target Refreshable) (*Refresher, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parsing refresh schedule %q: %w", expr, err)
	}
	if schedule.Next(time.Now()).IsZero() {
		return nil, fmt.Errorf("refresh schedule %q never fires", expr)
	}
	return &Refresher{
		target:   target,
		schedule: schedule,
		timeout:  30 * time.Second,
	}, nil
}

// Run refreshes on every scheduled tick until ctx is cancelled
func (r *Refresher) Run(ctx context.Context) {
	slog.Info("Starting voucher refresher")
	for {
		now := time.Now()
		next := r.schedule.Next(now)
		if next.IsZero() {
			slog.Warn("Refresh schedule has no further runs, stopping")
			return
		}
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("Stopping voucher refresher")
			return
		case <-timer.C:
			r.refresh(ctx)
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.target.Refresh(ctx); err != nil {
		slog.Warn("Scheduled voucher refresh failed", "error", err)
	}
}
