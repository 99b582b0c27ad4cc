package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jholhewres/zapclaw/pkg/zapclaw/config"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/media"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/router"
	"github.com/jholhewres/zapclaw/pkg/zapclaw/scheduler"
)

const (
	jobDailySummary = "daily-summary"
	jobPurgeAudio   = "purge-audio"
)

// registerJobs adds the periodic jobs enabled in cfg to sched.
func registerJobs(sched *scheduler.Scheduler, cfg *config.Config, rt *router.Router, blobs *media.FileSystemStore, logger *slog.Logger) error {
	if cfg.Schedule.DailySummary != "" {
		err := sched.Add(jobDailySummary, cfg.Schedule.DailySummary, dailySummaryJob(rt, logger))
		if err != nil {
			return fmt.Errorf("scheduling daily summary: %w", err)
		}
	}

	if cfg.Media.RetentionDays > 0 && cfg.Schedule.Purge != "" {
		age := time.Duration(cfg.Media.RetentionDays) * 24 * time.Hour
		err := sched.Add(jobPurgeAudio, cfg.Schedule.Purge, purgeJob(blobs, age, logger))
		if err != nil {
			return fmt.Errorf("scheduling audio purge: %w", err)
		}
	}
	return nil
}

// dailySummaryJob posts today's summary to every allow-listed group.
// Groups with nothing recorded are skipped.
func dailySummaryJob(rt *router.Router, logger *slog.Logger) scheduler.JobFunc {
	return func(ctx context.Context) error {
		var errs []error
		for _, group := range rt.Rules().Groups() {
			err := rt.SummarizeGroup(ctx, group)
			switch {
			case err == nil:
				logger.Info("daily summary posted", "group", group)
			case errors.Is(err, router.ErrNoHistory):
				logger.Debug("daily summary skipped, no messages today", "group", group)
			default:
				errs = append(errs, fmt.Errorf("%s: %w", group, err))
			}
		}
		return errors.Join(errs...)
	}
}

func purgeJob(blobs *media.FileSystemStore, age time.Duration, logger *slog.Logger) scheduler.JobFunc {
	return func(ctx context.Context) error {
		n, err := blobs.PurgeOlderThan(ctx, age)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("purged old audio", "files", n, "older_than", age)
		}
		return nil
	}
}
