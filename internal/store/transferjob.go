package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type gormTransferJobRepository struct {
	db *gorm.DB
}

// NewTransferJobRepository returns a TransferJobRepository backed by db.
func NewTransferJobRepository(db *gorm.DB) TransferJobRepository {
	return &gormTransferJobRepository{db: db}
}

func (r *gormTransferJobRepository) Create(ctx context.Context, transferID uuid.UUID) (*TransferJob, error) {
	tj := &TransferJob{TransferID: transferID, JobState: StatePending}
	if err := r.db.WithContext(ctx).Create(tj).Error; err != nil {
		return nil, fmt.Errorf("transfer_job: create: %w", err)
	}
	return tj, nil
}

// ClaimPending picks the oldest PENDING row and transitions it to
// EXECUTING inside a transaction, re-checking the state in the UPDATE's
// WHERE clause so a concurrent claim cannot be double-dispatched.
func (r *gormTransferJobRepository) ClaimPending(ctx context.Context) (*TransferJob, error) {
	var tj TransferJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_state = ?", StatePending).
			Order("creation_time ASC").
			First(&tj).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		result := tx.Model(&TransferJob{}).
			Where("uid = ? AND job_state = ?", tj.ID, StatePending).
			Updates(map[string]interface{}{"job_state": StateExecuting, "modified_time": now})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		tj.JobState = StateExecuting
		tj.ModifiedTime = &now
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("transfer_job: claim pending: %w", err)
	}
	return &tj, nil
}

func (r *gormTransferJobRepository) SetState(ctx context.Context, id uuid.UUID, state JobState) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&TransferJob{}).
		Where("uid = ?", id).
		Updates(map[string]interface{}{"job_state": state, "modified_time": now})
	if result.Error != nil {
		return fmt.Errorf("transfer_job: set state: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// BulkTransition moves every row currently in state from into state to.
// Used at startup to sweep orphaned EXECUTING rows to FAILED after a
// crash. The WHERE clause names the state being left (from) and the SET
// clause names the state being entered (to) — the inverse binding is a
// bug, not a stylistic choice; see the snapshot-dispatch loop's startup
// recovery call for the corrected direction this mirrors.
func (r *gormTransferJobRepository) BulkTransition(ctx context.Context, from, to JobState) (int64, error) {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&TransferJob{}).
		Where("job_state = ?", from).
		Updates(map[string]interface{}{"job_state": to, "modified_time": now})
	if result.Error != nil {
		return 0, fmt.Errorf("transfer_job: bulk transition: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *gormTransferJobRepository) ListByTransfer(ctx context.Context, transferID uuid.UUID) ([]TransferJob, error) {
	var jobs []TransferJob
	if err := r.db.WithContext(ctx).
		Where("transfer_uid = ?", transferID).
		Order("creation_time DESC").
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("transfer_job: list by transfer: %w", err)
	}
	return jobs, nil
}
