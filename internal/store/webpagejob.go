package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type gormWebpageJobRepository struct {
	db *gorm.DB
}

// NewWebpageJobRepository returns a WebpageJobRepository backed by db.
func NewWebpageJobRepository(db *gorm.DB) WebpageJobRepository {
	return &gormWebpageJobRepository{db: db}
}

func (r *gormWebpageJobRepository) Create(ctx context.Context, webpageID uuid.UUID) (*WebpageJob, error) {
	wj := &WebpageJob{WebpageID: webpageID, JobState: StatePending}
	if err := r.db.WithContext(ctx).Create(wj).Error; err != nil {
		return nil, fmt.Errorf("webpage_job: create: %w", err)
	}
	return wj, nil
}

func (r *gormWebpageJobRepository) ClaimPending(ctx context.Context) (*WebpageJob, error) {
	var wj WebpageJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_state = ?", StatePending).
			Order("creation_time ASC").
			First(&wj).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		result := tx.Model(&WebpageJob{}).
			Where("uid = ? AND job_state = ?", wj.ID, StatePending).
			Updates(map[string]interface{}{"job_state": StateExecuting, "modified_time": now})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		wj.JobState = StateExecuting
		wj.ModifiedTime = &now
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("webpage_job: claim pending: %w", err)
	}
	return &wj, nil
}

func (r *gormWebpageJobRepository) SetState(ctx context.Context, id uuid.UUID, state JobState) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&WebpageJob{}).
		Where("uid = ?", id).
		Updates(map[string]interface{}{"job_state": state, "modified_time": now})
	if result.Error != nil {
		return fmt.Errorf("webpage_job: set state: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// BulkTransition moves every row currently in from into to. See
// TransferJobRepository.BulkTransition for why the WHERE clause binds
// from and the SET clause binds to.
func (r *gormWebpageJobRepository) BulkTransition(ctx context.Context, from, to JobState) (int64, error) {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&WebpageJob{}).
		Where("job_state = ?", from).
		Updates(map[string]interface{}{"job_state": to, "modified_time": now})
	if result.Error != nil {
		return 0, fmt.Errorf("webpage_job: bulk transition: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *gormWebpageJobRepository) ListByWebpage(ctx context.Context, webpageID uuid.UUID) ([]WebpageJob, error) {
	var jobs []WebpageJob
	if err := r.db.WithContext(ctx).
		Where("webpage_uid = ?", webpageID).
		Order("creation_time DESC").
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("webpage_job: list by webpage: %w", err)
	}
	return jobs, nil
}
