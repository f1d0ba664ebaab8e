package daemon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"go.vereda.tec.br/escriba/internal/store"
)

const archiveDerivationBatchSize = 100

// ArchiveLoop promotes the captured stdout of a successful
// Internet-Archive-strategy snapshot into its parent webpage's
// internet_archive_url, once.
type ArchiveLoop struct {
	snapshots store.SnapshotRepository
	webpages  store.WebpageRepository
	interval  time.Duration
	logger    *zap.Logger
}

// NewArchiveLoop constructs an ArchiveLoop polling every interval.
func NewArchiveLoop(snapshots store.SnapshotRepository, webpages store.WebpageRepository, interval time.Duration, logger *zap.Logger) *ArchiveLoop {
	return &ArchiveLoop{
		snapshots: snapshots,
		webpages:  webpages,
		interval:  interval,
		logger:    logger.Named("archive_loop"),
	}
}

// Run blocks until ctx is cancelled.
func (l *ArchiveLoop) Run(ctx context.Context) error {
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

func (l *ArchiveLoop) tick(ctx context.Context) error {
	ready, err := l.snapshots.ListReadyForArchiveUpdate(ctx, archiveDerivationBatchSize)
	if err != nil {
		return fmt.Errorf("archive_loop: list ready: %w", err)
	}

	for _, snap := range ready {
		archivedURL := ""
		if snap.Stdout != nil {
			archivedURL = strings.TrimSpace(*snap.Stdout)
		}
		if archivedURL == "" {
			l.logger.Warn("archive snapshot succeeded but captured no url", zap.Stringer("snapshot_id", snap.ID))
		}
		// Update keyed by the snapshot's own webpage_uid, not the
		// snapshot's own uid — the obvious correct binding, and the one
		// every other query in this loop uses.
		if err := l.webpages.SetInternetArchiveURL(ctx, snap.WebpageID, archivedURL); err != nil {
			l.logger.Error("failed to set webpage archive url", zap.Stringer("webpage_id", snap.WebpageID), zap.Error(err))
		}
	}
	return nil
}
