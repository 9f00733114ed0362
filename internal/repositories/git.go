package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/hpcgate/hpcgate/internal/db"
)

// gormGitRepository is the GORM implementation of GitRepository.
type gormGitRepository struct {
	db *gorm.DB
}

// NewGitRepository returns a GitRepository backed by the provided *gorm.DB.
func NewGitRepository(db *gorm.DB) GitRepository {
	return &gormGitRepository{db: db}
}

// Create inserts a new registered repository. Returns ErrConflict when the
// id is already taken.
func (r *gormGitRepository) Create(ctx context.Context, git *db.Git) error {
	if err := r.db.WithContext(ctx).Create(git).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE") {
			return ErrConflict
		}
		return fmt.Errorf("gits: create: %w", err)
	}
	return nil
}

// GetByID retrieves a registered repository by its string id.
func (r *gormGitRepository) GetByID(ctx context.Context, id string) (*db.Git, error) {
	var git db.Git
	err := r.db.WithContext(ctx).First(&git, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("gits: get by id: %w", err)
	}
	return &git, nil
}

// Update persists all fields of an existing registered repository.
func (r *gormGitRepository) Update(ctx context.Context, git *db.Git) error {
	result := r.db.WithContext(ctx).Save(git)
	if result.Error != nil {
		return fmt.Errorf("gits: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a registered repository.
func (r *gormGitRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&db.Git{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("gits: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all registered repositories ordered by id.
func (r *gormGitRepository) List(ctx context.Context) ([]db.Git, error) {
	var gits []db.Git
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&gits).Error; err != nil {
		return nil, fmt.Errorf("gits: list: %w", err)
	}
	return gits, nil
}
