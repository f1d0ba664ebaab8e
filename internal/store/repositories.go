package store

import (
	"context"

	"github.com/google/uuid"
)

// ListOptions contains common pagination options for list queries.
type ListOptions struct {
	Limit  int
	Offset int
}

// -----------------------------------------------------------------------------
// TransferRepository
// -----------------------------------------------------------------------------

// TransferRepository is typed CRUD for Transfer rows. Transfers are
// immutable once created, so there is no Update.
type TransferRepository interface {
	Create(ctx context.Context, userInput string) (*Transfer, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Transfer, error)
	List(ctx context.Context, opts ListOptions) ([]Transfer, int64, error)
}

// -----------------------------------------------------------------------------
// TransferJobRepository
// -----------------------------------------------------------------------------

// TransferJobRepository is typed CRUD plus state-machine operations for
// TransferJob rows.
type TransferJobRepository interface {
	Create(ctx context.Context, transferID uuid.UUID) (*TransferJob, error)

	// ClaimPending atomically moves one PENDING row to EXECUTING and
	// returns it. Returns ErrNotFound if no row is PENDING.
	ClaimPending(ctx context.Context) (*TransferJob, error)

	SetState(ctx context.Context, id uuid.UUID, state JobState) error

	// BulkTransition moves every row currently in from into to, in one
	// statement, and reports how many rows were affected. Used at startup
	// to recover orphaned EXECUTING rows into FAILED.
	BulkTransition(ctx context.Context, from, to JobState) (int64, error)

	ListByTransfer(ctx context.Context, transferID uuid.UUID) ([]TransferJob, error)
}

// -----------------------------------------------------------------------------
// WebpageRepository
// -----------------------------------------------------------------------------

// WebpageRepository is typed CRUD for Webpage rows.
type WebpageRepository interface {
	// Create upserts a Webpage by normalized URL and always inserts an
	// association row linking it to transferJobID, whether or not the
	// webpage itself already existed. Returns the existing or new uid.
	Create(ctx context.Context, rawURL string, transferJobID uuid.UUID) (uuid.UUID, error)

	GetByID(ctx context.Context, id uuid.UUID) (*Webpage, error)
	ListByTransferJob(ctx context.Context, transferJobID uuid.UUID) ([]Webpage, error)

	SetTitle(ctx context.Context, id uuid.UUID, title string) error
	SetInternetArchiveURL(ctx context.Context, id uuid.UUID, archiveURL string) error
}

// -----------------------------------------------------------------------------
// WebpageJobRepository
// -----------------------------------------------------------------------------

// WebpageJobRepository is typed CRUD plus state-machine operations for
// WebpageJob rows.
type WebpageJobRepository interface {
	Create(ctx context.Context, webpageID uuid.UUID) (*WebpageJob, error)
	ClaimPending(ctx context.Context) (*WebpageJob, error)
	SetState(ctx context.Context, id uuid.UUID, state JobState) error
	BulkTransition(ctx context.Context, from, to JobState) (int64, error)
	ListByWebpage(ctx context.Context, webpageID uuid.UUID) ([]WebpageJob, error)
}

// -----------------------------------------------------------------------------
// SnapshotRepository
// -----------------------------------------------------------------------------

// SnapshotRepository is typed CRUD plus derivation-query operations for
// Snapshot rows.
type SnapshotRepository interface {
	// Create always inserts a new row — unlike Webpage.Create, there is no
	// upsert: every (webpage, strategy) dispatch is its own attempt.
	Create(ctx context.Context, webpageID uuid.UUID, strategyCode int) (*Snapshot, error)

	ClaimPending(ctx context.Context) (*Snapshot, error)
	BulkTransition(ctx context.Context, from, to JobState) (int64, error)

	// SetResult persists the terminal state together with the helper
	// program's result JSON, stdout, and stderr in one update, satisfying
	// the invariant that result is written only together with a terminal
	// state.
	SetResult(ctx context.Context, id uuid.UUID, state JobState, result, stdout, stderr string) error

	// SetFailed persists a terminal FAILED state with no result payload,
	// used when a dispatch attempt never received a reply.
	SetFailed(ctx context.Context, id uuid.UUID) error

	// ListReadyForTitleUpdate returns up to limit SUCCEEDED title
	// snapshots whose parent webpage still has a NULL title, newest
	// first. The query is the idempotence mechanism for the title
	// derivation loop: once the parent is updated it is never selected
	// again.
	ListReadyForTitleUpdate(ctx context.Context, limit int) ([]Snapshot, error)

	// ListReadyForArchiveUpdate is the analogous query for the
	// internet_archive strategy, additionally requiring the snapshot's
	// result JSON to report rc == 0.
	ListReadyForArchiveUpdate(ctx context.Context, limit int) ([]Snapshot, error)
}

// ListOptionsDefault caps unrestricted list calls at a sane page size.
var ListOptionsDefault = ListOptions{Limit: 100}
