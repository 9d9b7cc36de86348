package notify

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/thedrkness/livebot/telemetry"
)

// StartSweep schedules a periodic cleanup of tracked notification records. A
// crashed or never-finalized offline cycle would otherwise pin records in
// memory for the lifetime of the process.
// Env knobs:
//
//	TRACKER_SWEEP_SCHEDULE (cron expression, default every 30 minutes)
//	TRACKER_RECORD_TTL     (default 6h)
func StartSweep(ctx context.Context, tracker *Tracker) error {
	schedule := os.Getenv("TRACKER_SWEEP_SCHEDULE")
	if schedule == "" {
		schedule = "*/30 * * * *"
	}
	ttl := 6 * time.Hour
	if v := os.Getenv("TRACKER_RECORD_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			ttl = d
		}
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		removed := tracker.SweepOlderThan(ttl)
		telemetry.SetTrackedRecords(tracker.Len())
		if removed > 0 {
			slog.Info("tracker sweep removed stale records", slog.Int("removed", removed), slog.Duration("ttl", ttl))
		}
	})
	if err != nil {
		return err
	}
	c.Start()
	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	slog.Info("tracker sweep scheduled", slog.String("schedule", schedule), slog.Duration("ttl", ttl))
	return nil
}
