package repositories

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/hpcgate/hpcgate/internal/db"
)

// gormAccessRepository is the GORM implementation of AccessRepository.
type gormAccessRepository struct {
	db *gorm.DB
}

// NewAccessRepository returns an AccessRepository backed by the provided *gorm.DB.
func NewAccessRepository(db *gorm.DB) AccessRepository {
	return &gormAccessRepository{db: db}
}

// IsAllowed reports whether userID may submit jobs. When the allowlist is
// empty the check is open and every user passes.
func (r *gormAccessRepository) IsAllowed(ctx context.Context, userID string) (bool, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&db.AllowedUser{}).Count(&total).Error; err != nil {
		return false, fmt.Errorf("access: allowlist count: %w", err)
	}
	if total == 0 {
		return true, nil
	}

	var entry db.AllowedUser
	err := r.db.WithContext(ctx).First(&entry, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("access: allowlist lookup: %w", err)
	}
	return true, nil
}

// IsDenied reports whether userID is blocked from submitting, with the
// recorded reason when present.
func (r *gormAccessRepository) IsDenied(ctx context.Context, userID string) (bool, string, error) {
	var entry db.DeniedUser
	err := r.db.WithContext(ctx).First(&entry, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, "", nil
		}
		return false, "", fmt.Errorf("access: denylist lookup: %w", err)
	}
	return true, entry.Reason, nil
}
