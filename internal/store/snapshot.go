package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type gormSnapshotRepository struct {
	db     *gorm.DB
	driver string
}

// NewSnapshotRepository returns a SnapshotRepository backed by db. driver
// must match the Driver value db was opened with ("sqlite" or
// "postgres") — it selects the dialect-specific JSON extraction used by
// ListReadyForArchiveUpdate.
func NewSnapshotRepository(db *gorm.DB, driver string) SnapshotRepository {
	return &gormSnapshotRepository{db: db, driver: driver}
}

func (r *gormSnapshotRepository) Create(ctx context.Context, webpageID uuid.UUID, strategyCode int) (*Snapshot, error) {
	s := &Snapshot{WebpageID: webpageID, Strategy: strategyCode, JobState: StatePending}
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, fmt.Errorf("snapshot: create: %w", err)
	}
	return s, nil
}

func (r *gormSnapshotRepository) ClaimPending(ctx context.Context) (*Snapshot, error) {
	var s Snapshot
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_state = ?", StatePending).
			Order("creation_time ASC").
			First(&s).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		result := tx.Model(&Snapshot{}).
			Where("uid = ? AND job_state = ?", s.ID, StatePending).
			Updates(map[string]interface{}{"job_state": StateExecuting, "modified_time": now})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		s.JobState = StateExecuting
		s.ModifiedTime = &now
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("snapshot: claim pending: %w", err)
	}
	return &s, nil
}

// BulkTransition moves every row currently in from into to. See
// TransferJobRepository.BulkTransition for why the WHERE clause binds
// from and the SET clause binds to.
func (r *gormSnapshotRepository) BulkTransition(ctx context.Context, from, to JobState) (int64, error) {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&Snapshot{}).
		Where("job_state = ?", from).
		Updates(map[string]interface{}{"job_state": to, "modified_time": now})
	if result.Error != nil {
		return 0, fmt.Errorf("snapshot: bulk transition: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// SetResult persists the terminal state together with the helper
// program's captured result JSON, stdout, and stderr in a single update.
func (r *gormSnapshotRepository) SetResult(ctx context.Context, id uuid.UUID, state JobState, result, stdout, stderr string) error {
	now := time.Now().UTC()
	updateResult := r.db.WithContext(ctx).Model(&Snapshot{}).
		Where("uid = ?", id).
		Updates(map[string]interface{}{
			"job_state":     state,
			"modified_time": now,
			"result":        result,
			"stdout":        stdout,
			"stderr":        stderr,
		})
	if updateResult.Error != nil {
		return fmt.Errorf("snapshot: set result: %w", updateResult.Error)
	}
	if updateResult.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetFailed records a terminal FAILED state with no result payload, used
// when a dispatch attempt never received a reply from any worker.
func (r *gormSnapshotRepository) SetFailed(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&Snapshot{}).
		Where("uid = ?", id).
		Updates(map[string]interface{}{"job_state": StateFailed, "modified_time": now})
	if result.Error != nil {
		return fmt.Errorf("snapshot: set failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListReadyForTitleUpdate returns up to limit SUCCEEDED title snapshots
// whose parent webpage still has a NULL title. The NULL check is what
// makes the title derivation loop idempotent: once the webpage's title
// is set, its title snapshots stop matching this query regardless of
// how many more polling ticks run.
func (r *gormSnapshotRepository) ListReadyForTitleUpdate(ctx context.Context, limit int) ([]Snapshot, error) {
	var snapshots []Snapshot
	err := r.db.WithContext(ctx).
		Joins("JOIN webpage ON webpage.uid = snapshot.webpage_uid").
		Where("snapshot.strategy = ? AND snapshot.job_state = ? AND webpage.title IS NULL", strategyTitleCode, StateSucceeded).
		Order("snapshot.creation_time DESC").
		Limit(limit).
		Find(&snapshots).Error
	if err != nil {
		return nil, fmt.Errorf("snapshot: list ready for title update: %w", err)
	}
	return snapshots, nil
}

// ListReadyForArchiveUpdate is the analogous query for the Internet
// Archive strategy, additionally requiring the captured result JSON to
// report rc == 0 — a helper program can exit successfully from the
// worker's point of view (it produced a reply) while recording a
// non-zero return code for the archival attempt itself.
func (r *gormSnapshotRepository) ListReadyForArchiveUpdate(ctx context.Context, limit int) ([]Snapshot, error) {
	var jsonRCZero string
	switch r.driver {
	case "postgres":
		jsonRCZero = "(snapshot.result::jsonb->>'rc')::int = 0"
	default:
		jsonRCZero = "json_extract(snapshot.result, '$.rc') = 0"
	}

	var snapshots []Snapshot
	err := r.db.WithContext(ctx).
		Joins("JOIN webpage ON webpage.uid = snapshot.webpage_uid").
		Where("snapshot.strategy = ? AND snapshot.job_state = ? AND webpage.internet_archive_url IS NULL AND "+jsonRCZero,
			strategyInternetArchiveCode, StateSucceeded).
		Order("snapshot.creation_time DESC").
		Limit(limit).
		Find(&snapshots).Error
	if err != nil {
		return nil, fmt.Errorf("snapshot: list ready for archive update: %w", err)
	}
	return snapshots, nil
}

// strategyTitleCode and strategyInternetArchiveCode mirror the
// strategy.Title and strategy.InternetArchive constants. Duplicated here
// as untyped ints rather than imported, since internal/store must not
// depend on internal/strategy: the store package is the lower layer in
// the dependency graph.
const (
	strategyTitleCode           = 1
	strategyInternetArchiveCode = 30
)
