package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hpcgate/hpcgate/internal/db"
)

// gormEventRepository is the GORM implementation of EventRepository.
type gormEventRepository struct {
	db *gorm.DB
}

// NewEventRepository returns an EventRepository backed by the provided *gorm.DB.
func NewEventRepository(db *gorm.DB) EventRepository {
	return &gormEventRepository{db: db}
}

// Create appends an event to a job's event stream.
func (r *gormEventRepository) Create(ctx context.Context, event *db.Event) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("events: create: %w", err)
	}
	return nil
}

// ListByJob returns all events for a job in causal (insertion) order.
func (r *gormEventRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]db.Event, error) {
	var events []db.Event
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("events: list by job: %w", err)
	}
	return events, nil
}

// gormLogRepository is the GORM implementation of LogRepository.
type gormLogRepository struct {
	db *gorm.DB
}

// NewLogRepository returns a LogRepository backed by the provided *gorm.DB.
func NewLogRepository(db *gorm.DB) LogRepository {
	return &gormLogRepository{db: db}
}

// Create appends a log line to a job's log stream.
func (r *gormLogRepository) Create(ctx context.Context, log *db.Log) error {
	if err := r.db.WithContext(ctx).Create(log).Error; err != nil {
		return fmt.Errorf("logs: create: %w", err)
	}
	return nil
}

// ListByJob returns all log lines for a job in insertion order.
func (r *gormLogRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]db.Log, error) {
	var logs []db.Log
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("logs: list by job: %w", err)
	}
	return logs, nil
}
