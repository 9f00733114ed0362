package repositories

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/hpcgate/hpcgate/internal/db"
)

// gormGlobusTokenRepository is the GORM implementation of GlobusTokenRepository.
type gormGlobusTokenRepository struct {
	db *gorm.DB
}

// NewGlobusTokenRepository returns a GlobusTokenRepository backed by the
// provided *gorm.DB.
func NewGlobusTokenRepository(db *gorm.DB) GlobusTokenRepository {
	return &gormGlobusTokenRepository{db: db}
}

// Get retrieves the refresh token record for a Globus identity.
func (r *gormGlobusTokenRepository) Get(ctx context.Context, identity string) (*db.GlobusTransferRefreshToken, error) {
	var token db.GlobusTransferRefreshToken
	err := r.db.WithContext(ctx).First(&token, "identity = ?", identity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("globus tokens: get: %w", err)
	}
	return &token, nil
}

// Put stores or replaces the refresh token for a Globus identity. The token
// value is encrypted at rest via db.EncryptedString.
func (r *gormGlobusTokenRepository) Put(ctx context.Context, identity, token string) error {
	record := &db.GlobusTransferRefreshToken{
		Identity:     identity,
		TransferText: db.EncryptedString(token),
	}
	if err := r.db.WithContext(ctx).Save(record).Error; err != nil {
		return fmt.Errorf("globus tokens: put: %w", err)
	}
	return nil
}
