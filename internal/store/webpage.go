package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormWebpageRepository struct {
	db *gorm.DB
}

// NewWebpageRepository returns a WebpageRepository backed by db.
func NewWebpageRepository(db *gorm.DB) WebpageRepository {
	return &gormWebpageRepository{db: db}
}

// Create normalizes rawURL, upserts the Webpage row by its unique URL
// column, and always inserts a fresh association row — whether or not
// the webpage already existed — so the same URL reached by two
// different transfers records two associations against one Webpage.
func (r *gormWebpageRepository) Create(ctx context.Context, rawURL string, transferJobID uuid.UUID) (uuid.UUID, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return uuid.UUID{}, err
	}

	var webpageID uuid.UUID
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		w := Webpage{URL: normalized}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "url"}},
			DoNothing: true,
		}).Create(&w)
		if res.Error != nil {
			return fmt.Errorf("webpage: upsert: %w", res.Error)
		}

		if res.RowsAffected == 0 {
			// Conflict hit: the row already existed and nothing was
			// inserted. BeforeCreate still filled w.ID with a fresh id that
			// was never stored, so discard it and look the row up by its
			// unique URL instead.
			w = Webpage{}
			if err := tx.Where("url = ?", normalized).First(&w).Error; err != nil {
				return fmt.Errorf("webpage: lookup after conflict: %w", err)
			}
		}
		webpageID = w.ID

		assoc := WebpageTransferJobAssociation{WebpageID: webpageID, TransferJobID: transferJobID}
		if err := tx.Create(&assoc).Error; err != nil {
			return fmt.Errorf("webpage: associate: %w", err)
		}
		return nil
	})
	if err != nil {
		return uuid.UUID{}, err
	}
	return webpageID, nil
}

func (r *gormWebpageRepository) GetByID(ctx context.Context, id uuid.UUID) (*Webpage, error) {
	var w Webpage
	err := r.db.WithContext(ctx).First(&w, "uid = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("webpage: get by id: %w", err)
	}
	return &w, nil
}

func (r *gormWebpageRepository) ListByTransferJob(ctx context.Context, transferJobID uuid.UUID) ([]Webpage, error) {
	var pages []Webpage
	err := r.db.WithContext(ctx).
		Joins("JOIN webpage_transfer_job_association a ON a.webpage_uid = webpage.uid").
		Where("a.transfer_job_uid = ?", transferJobID).
		Order("webpage.creation_time ASC").
		Find(&pages).Error
	if err != nil {
		return nil, fmt.Errorf("webpage: list by transfer job: %w", err)
	}
	return pages, nil
}

func (r *gormWebpageRepository) SetTitle(ctx context.Context, id uuid.UUID, title string) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&Webpage{}).
		Where("uid = ?", id).
		Updates(map[string]interface{}{"title": title, "modified_time": now})
	if result.Error != nil {
		return fmt.Errorf("webpage: set title: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormWebpageRepository) SetInternetArchiveURL(ctx context.Context, id uuid.UUID, archiveURL string) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&Webpage{}).
		Where("uid = ?", id).
		Updates(map[string]interface{}{"internet_archive_url": archiveURL, "modified_time": now})
	if result.Error != nil {
		return fmt.Errorf("webpage: set internet archive url: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
