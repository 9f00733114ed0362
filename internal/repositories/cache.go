package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/hpcgate/hpcgate/internal/db"
)

// gormCacheRepository is the GORM implementation of CacheRepository.
type gormCacheRepository struct {
	db *gorm.DB
}

// NewCacheRepository returns a CacheRepository backed by the provided *gorm.DB.
func NewCacheRepository(db *gorm.DB) CacheRepository {
	return &gormCacheRepository{db: db}
}

// GetByPath retrieves the cache row for (hpc, hpcPath).
func (r *gormCacheRepository) GetByPath(ctx context.Context, hpc, hpcPath string) (*db.Cache, error) {
	var cache db.Cache
	err := r.db.WithContext(ctx).
		First(&cache, "hpc = ? AND hpc_path = ?", hpc, hpcPath).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("caches: get by path: %w", err)
	}
	return &cache, nil
}

// Upsert creates the row for (hpc, hpcPath) or bumps its UpdatedAt to now.
func (r *gormCacheRepository) Upsert(ctx context.Context, hpc, hpcPath string) (*db.Cache, error) {
	existing, err := r.GetByPath(ctx, hpc, hpcPath)
	if err == nil {
		if err := r.db.WithContext(ctx).
			Model(existing).
			Update("updated_at", time.Now().UTC()).Error; err != nil {
			return nil, fmt.Errorf("caches: touch: %w", err)
		}
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	cache := &db.Cache{Hpc: hpc, HpcPath: hpcPath}
	if err := r.db.WithContext(ctx).Create(cache).Error; err != nil {
		return nil, fmt.Errorf("caches: create: %w", err)
	}
	return cache, nil
}

// DeleteByPath removes the row for (hpc, hpcPath). Deleting a row that does
// not exist is not an error; invalidation is idempotent.
func (r *gormCacheRepository) DeleteByPath(ctx context.Context, hpc, hpcPath string) error {
	if err := r.db.WithContext(ctx).
		Delete(&db.Cache{}, "hpc = ? AND hpc_path = ?", hpc, hpcPath).Error; err != nil {
		return fmt.Errorf("caches: delete by path: %w", err)
	}
	return nil
}
