package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type gormTransferRepository struct {
	db *gorm.DB
}

// NewTransferRepository returns a TransferRepository backed by db.
func NewTransferRepository(db *gorm.DB) TransferRepository {
	return &gormTransferRepository{db: db}
}

func (r *gormTransferRepository) Create(ctx context.Context, userInput string) (*Transfer, error) {
	t := &Transfer{UserInput: userInput}
	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, fmt.Errorf("transfer: create: %w", err)
	}
	return t, nil
}

func (r *gormTransferRepository) GetByID(ctx context.Context, id uuid.UUID) (*Transfer, error) {
	var t Transfer
	err := r.db.WithContext(ctx).First(&t, "uid = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("transfer: get by id: %w", err)
	}
	return &t, nil
}

func (r *gormTransferRepository) List(ctx context.Context, opts ListOptions) ([]Transfer, int64, error) {
	var transfers []Transfer
	var total int64

	if err := r.db.WithContext(ctx).Model(&Transfer{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("transfer: list count: %w", err)
	}
	if err := r.db.WithContext(ctx).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("creation_time DESC").
		Find(&transfers).Error; err != nil {
		return nil, 0, fmt.Errorf("transfer: list: %w", err)
	}
	return transfers, total, nil
}
