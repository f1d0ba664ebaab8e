package daemon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"go.vereda.tec.br/escriba/internal/store"
)

// titleDerivationBatchSize caps how many ready snapshots one tick
// consumes, matching the fixed page size the original derivation queries
// used.
const titleDerivationBatchSize = 100

// TitleLoop promotes the captured stdout of a successful title-strategy
// snapshot into its parent webpage's title, once.
type TitleLoop struct {
	snapshots store.SnapshotRepository
	webpages  store.WebpageRepository
	interval  time.Duration
	logger    *zap.Logger
}

// NewTitleLoop constructs a TitleLoop polling every interval.
func NewTitleLoop(snapshots store.SnapshotRepository, webpages store.WebpageRepository, interval time.Duration, logger *zap.Logger) *TitleLoop {
	return &TitleLoop{
		snapshots: snapshots,
		webpages:  webpages,
		interval:  interval,
		logger:    logger.Named("title_loop"),
	}
}

// Run blocks until ctx is cancelled.
func (l *TitleLoop) Run(ctx context.Context) error {
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

func (l *TitleLoop) tick(ctx context.Context) error {
	ready, err := l.snapshots.ListReadyForTitleUpdate(ctx, titleDerivationBatchSize)
	if err != nil {
		return fmt.Errorf("title_loop: list ready: %w", err)
	}

	for _, snap := range ready {
		title := ""
		if snap.Stdout != nil {
			title = strings.TrimSpace(*snap.Stdout)
		}
		if title == "" {
			l.logger.Warn("title snapshot succeeded but captured no title", zap.Stringer("snapshot_id", snap.ID))
		}
		if err := l.webpages.SetTitle(ctx, snap.WebpageID, title); err != nil {
			l.logger.Error("failed to set webpage title", zap.Stringer("webpage_id", snap.WebpageID), zap.Error(err))
		}
	}
	return nil
}
