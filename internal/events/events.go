// Package events records the lifecycle trail of a job: typed events and raw
// Slurm output logs. Emission is best-effort: a failed write is logged and
// swallowed so bookkeeping never takes a job worker down.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hpcgate/hpcgate/internal/db"
	"github.com/hpcgate/hpcgate/internal/repositories"
)

// Event types, in rough lifecycle order.
const (
	TypeJobRegistered         = "JOB_REGISTERED"
	TypeJobQueued             = "JOB_QUEUED"
	TypeJobInit               = "JOB_INIT"
	TypeJobInitError          = "JOB_INIT_ERROR"
	TypeJobRetry              = "JOB_RETRY"
	TypeJobFailed             = "JOB_FAILED"
	TypeJobEnded              = "JOB_ENDED"
	TypeSlurmUploadExecutable = "SLURM_UPLOAD_EXECUTABLE"
	TypeSlurmUploadData       = "SLURM_UPLOAD_DATA"
	TypeSlurmCreateResult     = "SLURM_CREATE_RESULT"
)

// maxLogLength bounds one stored log message. Slurm output files can run to
// megabytes; the trail keeps a head-end excerpt and marks the cut.
const maxLogLength = 500

const truncationMark = "... [truncated]"

// Publisher pushes live updates to connected clients. Satisfied by the
// websocket hub; a nil Publisher disables live updates.
type Publisher interface {
	Publish(topic string, payload any)
}

// Message is the wire form of one live update.
type Message struct {
	JobID     string    `json:"job_id"`
	Kind      string    `json:"kind"` // "event" or "log"
	Type      string    `json:"type,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Emitter writes events and logs for jobs and maintains the job timestamps
// that certain event types imply.
type Emitter struct {
	events    repositories.EventRepository
	logs      repositories.LogRepository
	jobs      repositories.JobRepository
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewEmitter builds an Emitter. publisher may be nil.
func NewEmitter(
	events repositories.EventRepository,
	logs repositories.LogRepository,
	jobs repositories.JobRepository,
	publisher Publisher,
	logger *zap.Logger,
) *Emitter {
	return &Emitter{
		events:    events,
		logs:      logs,
		jobs:      jobs,
		publisher: publisher,
		logger:    logger.Named("events"),
		now:       time.Now,
	}
}

// Emit records one typed event for a job. JOB_INIT stamps the job's
// initialization time; JOB_ENDED and JOB_FAILED stamp its finish time, the
// latter also marking the job failed.
func (e *Emitter) Emit(ctx context.Context, jobID uuid.UUID, eventType, message string) {
	event := &db.Event{JobID: jobID, Type: eventType, Message: message}
	if err := e.events.Create(ctx, event); err != nil {
		e.logger.Warn("record event", zap.String("job", jobID.String()), zap.String("type", eventType), zap.Error(err))
	}

	e.applyTimestamps(ctx, jobID, eventType)
	e.publish(jobID, "event", eventType, message)
}

// Log records one raw output excerpt for a job, truncated to keep rows
// bounded.
func (e *Emitter) Log(ctx context.Context, jobID uuid.UUID, message string) {
	message = Truncate(message)
	log := &db.Log{JobID: jobID, Message: message}
	if err := e.logs.Create(ctx, log); err != nil {
		e.logger.Warn("record log", zap.String("job", jobID.String()), zap.Error(err))
	}
	e.publish(jobID, "log", "", message)
}

func (e *Emitter) applyTimestamps(ctx context.Context, jobID uuid.UUID, eventType string) {
	switch eventType {
	case TypeJobInit:
		now := e.now()
		if err := e.jobs.SetInitializedAt(ctx, jobID, now); err != nil {
			e.logger.Warn("stamp initialized_at", zap.String("job", jobID.String()), zap.Error(err))
		}
	case TypeJobEnded:
		now := e.now()
		if err := e.jobs.SetFinishedAt(ctx, jobID, now, false); err != nil {
			e.logger.Warn("stamp finished_at", zap.String("job", jobID.String()), zap.Error(err))
		}
	case TypeJobFailed:
		now := e.now()
		if err := e.jobs.SetFinishedAt(ctx, jobID, now, true); err != nil {
			e.logger.Warn("stamp finished_at", zap.String("job", jobID.String()), zap.Error(err))
		}
	}
}

func (e *Emitter) publish(jobID uuid.UUID, kind, eventType, content string) {
	if e.publisher == nil {
		return
	}
	e.publisher.Publish("job:"+jobID.String(), Message{
		JobID:     jobID.String(),
		Kind:      kind,
		Type:      eventType,
		Content:   content,
		Timestamp: e.now(),
	})
}

// Truncate bounds a log message to the stored maximum.
func Truncate(message string) string {
	if len(message) <= maxLogLength {
		return message
	}
	return message[:maxLogLength] + truncationMark
}
