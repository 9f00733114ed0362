package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hpcgate/hpcgate/internal/db"
)

// gormFolderRepository is the GORM implementation of FolderRepository.
type gormFolderRepository struct {
	db *gorm.DB
}

// NewFolderRepository returns a FolderRepository backed by the provided *gorm.DB.
func NewFolderRepository(db *gorm.DB) FolderRepository {
	return &gormFolderRepository{db: db}
}

// Create inserts a new folder record into the database.
func (r *gormFolderRepository) Create(ctx context.Context, folder *db.Folder) error {
	if err := r.db.WithContext(ctx).Create(folder).Error; err != nil {
		return fmt.Errorf("folders: create: %w", err)
	}
	return nil
}

// GetByID retrieves a folder by its UUID. Returns ErrNotFound if no record
// exists or the row was soft-deleted.
func (r *gormFolderRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.Folder, error) {
	var folder db.Folder
	err := r.db.WithContext(ctx).First(&folder, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("folders: get by id: %w", err)
	}
	return &folder, nil
}

// Update persists all fields of an existing folder record.
func (r *gormFolderRepository) Update(ctx context.Context, folder *db.Folder) error {
	result := r.db.WithContext(ctx).Save(folder)
	if result.Error != nil {
		return fmt.Errorf("folders: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete soft-deletes a folder record.
func (r *gormFolderRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&db.Folder{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("folders: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByUser returns a paginated list of one user's folders, ordered by
// creation time descending.
func (r *gormFolderRepository) ListByUser(ctx context.Context, userID string, opts ListOptions) ([]db.Folder, int64, error) {
	var folders []db.Folder
	var total int64

	if err := r.db.WithContext(ctx).
		Model(&db.Folder{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("folders: list by user count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at DESC").
		Find(&folders).Error; err != nil {
		return nil, 0, fmt.Errorf("folders: list by user: %w", err)
	}

	return folders, total, nil
}
