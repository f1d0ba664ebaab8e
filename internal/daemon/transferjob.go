// Package daemon hosts the long-lived polling loops that drive the
// archival pipeline's job state machines forward: parsing a transfer
// into webpages, enumerating a webpage's archival strategies, dispatching
// snapshots over the message bus, and promoting snapshot outputs into
// webpage attributes.
package daemon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"go.vereda.tec.br/escriba/internal/store"
)

// TransferJobLoop parses each pending Transfer's raw user input into one
// Webpage row (and association) per distinct URL, plus one PENDING
// WebpageJob per webpage so the webpage-job loop has something to claim.
type TransferJobLoop struct {
	transfers    store.TransferRepository
	transferJobs store.TransferJobRepository
	webpages     store.WebpageRepository
	webpageJobs  store.WebpageJobRepository
	interval     time.Duration
	logger       *zap.Logger
}

// NewTransferJobLoop constructs a TransferJobLoop polling every interval.
func NewTransferJobLoop(
	transfers store.TransferRepository,
	transferJobs store.TransferJobRepository,
	webpages store.WebpageRepository,
	webpageJobs store.WebpageJobRepository,
	interval time.Duration,
	logger *zap.Logger,
) *TransferJobLoop {
	return &TransferJobLoop{
		transfers:    transfers,
		transferJobs: transferJobs,
		webpages:     webpages,
		webpageJobs:  webpageJobs,
		interval:     interval,
		logger:       logger.Named("transfer_job_loop"),
	}
}

// Recover sweeps orphaned EXECUTING rows to FAILED. Call once at process
// startup before Run, so that a transfer job interrupted mid-parse by a
// crash is not left stuck EXECUTING forever.
func (l *TransferJobLoop) Recover(ctx context.Context) error {
	n, err := l.transferJobs.BulkTransition(ctx, store.StateExecuting, store.StateFailed)
	if err != nil {
		return fmt.Errorf("transfer_job_loop: recover: %w", err)
	}
	if n > 0 {
		l.logger.Warn("recovered orphaned executing transfer jobs", zap.Int64("count", n))
	}
	return nil
}

// Run blocks, claiming and processing one PENDING TransferJob per tick,
// until ctx is cancelled.
func (l *TransferJobLoop) Run(ctx context.Context) error {
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

func (l *TransferJobLoop) tick(ctx context.Context) error {
	job, err := l.transferJobs.ClaimPending(ctx)
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return fmt.Errorf("transfer_job_loop: claim pending: %w", err)
	}

	transfer, err := l.transfers.GetByID(ctx, job.TransferID)
	if err != nil {
		l.fail(ctx, job.ID, fmt.Errorf("transfer_job_loop: load transfer: %w", err))
		return nil
	}

	for _, raw := range identifyTransferURLs(transfer.UserInput) {
		webpageID, err := l.webpages.Create(ctx, raw, job.ID)
		if err != nil {
			l.fail(ctx, job.ID, fmt.Errorf("transfer_job_loop: create webpage: %w", err))
			return nil
		}
		if _, err := l.webpageJobs.Create(ctx, webpageID); err != nil {
			l.fail(ctx, job.ID, fmt.Errorf("transfer_job_loop: create webpage job: %w", err))
			return nil
		}
	}

	if err := l.transferJobs.SetState(ctx, job.ID, store.StateSucceeded); err != nil {
		return fmt.Errorf("transfer_job_loop: set succeeded: %w", err)
	}
	return nil
}

func (l *TransferJobLoop) fail(ctx context.Context, jobID uuid.UUID, cause error) {
	l.logger.Error("transfer job failed", zap.Stringer("transfer_job_id", jobID), zap.Error(cause))
	if err := l.transferJobs.SetState(ctx, jobID, store.StateFailed); err != nil {
		l.logger.Error("failed to mark transfer job failed", zap.Stringer("transfer_job_id", jobID), zap.Error(err))
	}
}

// identifyTransferURLs splits a Transfer's raw newline-separated input
// into trimmed, non-blank, deduplicated URL strings, preserving first
// occurrence order. Duplicate URLs within the same transfer are a user
// mistake, not a second archival request. Lines that fail to parse as a
// URL are still yielded — validation and normalization happen downstream
// in WebpageRepository.Create.
func identifyTransferURLs(userInput string) []string {
	lines := strings.Split(userInput, "\n")
	seen := make(map[string]bool, len(lines))
	urls := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		urls = append(urls, trimmed)
	}
	return urls
}
