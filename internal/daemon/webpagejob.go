package daemon

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"go.vereda.tec.br/escriba/internal/store"
	"go.vereda.tec.br/escriba/internal/strategy"
)

// WebpageJobLoop enumerates every known archival strategy for a webpage
// and creates one PENDING Snapshot per strategy.
type WebpageJobLoop struct {
	webpageJobs store.WebpageJobRepository
	webpages    store.WebpageRepository
	snapshots   store.SnapshotRepository
	interval    time.Duration
	logger      *zap.Logger
}

// NewWebpageJobLoop constructs a WebpageJobLoop polling every interval.
// It touches no rows; the startup sweep of EXECUTING rows is Recover.
func NewWebpageJobLoop(
	webpageJobs store.WebpageJobRepository,
	webpages store.WebpageRepository,
	snapshots store.SnapshotRepository,
	interval time.Duration,
	logger *zap.Logger,
) *WebpageJobLoop {
	return &WebpageJobLoop{
		webpageJobs: webpageJobs,
		webpages:    webpages,
		snapshots:   snapshots,
		interval:    interval,
		logger:      logger.Named("webpage_job_loop"),
	}
}

// Recover sweeps orphaned EXECUTING rows to FAILED. Call once at process
// startup before Run, so that a job interrupted mid-enumeration by a
// crash is not left stuck EXECUTING forever.
func (l *WebpageJobLoop) Recover(ctx context.Context) error {
	n, err := l.webpageJobs.BulkTransition(ctx, store.StateExecuting, store.StateFailed)
	if err != nil {
		return fmt.Errorf("webpage_job_loop: recover: %w", err)
	}
	if n > 0 {
		l.logger.Warn("recovered orphaned executing webpage jobs", zap.Int64("count", n))
	}
	return nil
}

// Run blocks, claiming and processing one PENDING WebpageJob per tick,
// until ctx is cancelled.
func (l *WebpageJobLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		if err := l.tick(ctx); err != nil {
			l.logger.Error("tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *WebpageJobLoop) tick(ctx context.Context) error {
	job, err := l.webpageJobs.ClaimPending(ctx)
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return fmt.Errorf("webpage_job_loop: claim pending: %w", err)
	}

	webpage, err := l.webpages.GetByID(ctx, job.WebpageID)
	if err != nil {
		l.logger.Error("failed to load webpage", zap.Stringer("webpage_job_id", job.ID), zap.Error(err))
		if serr := l.webpageJobs.SetState(ctx, job.ID, store.StateFailed); serr != nil {
			l.logger.Error("failed to mark webpage job failed", zap.Error(serr))
		}
		return nil
	}

	for _, s := range strategy.All() {
		if _, err := l.snapshots.Create(ctx, webpage.ID, int(s)); err != nil {
			l.logger.Error("failed to create snapshot", zap.Stringer("webpage_id", webpage.ID), zap.Stringer("strategy", s), zap.Error(err))
			if serr := l.webpageJobs.SetState(ctx, job.ID, store.StateFailed); serr != nil {
				l.logger.Error("failed to mark webpage job failed", zap.Error(serr))
			}
			return nil
		}
	}

	if err := l.webpageJobs.SetState(ctx, job.ID, store.StateSucceeded); err != nil {
		return fmt.Errorf("webpage_job_loop: set succeeded: %w", err)
	}
	return nil
}
