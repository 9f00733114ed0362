// Package repositories defines the persistence interfaces consumed by the
// supervisor core and their GORM implementations. The core never touches
// *gorm.DB directly; every entity is reached through one of these
// interfaces so that tests can substitute in-memory fakes and the sqlite and
// mysql backends stay interchangeable.
package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hpcgate/hpcgate/internal/db"
)

// ListOptions contains common pagination options for list queries.
type ListOptions struct {
	Limit  int
	Offset int
}

// -----------------------------------------------------------------------------
// JobRepository
// -----------------------------------------------------------------------------

type JobRepository interface {
	Create(ctx context.Context, job *db.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.Job, error)

	// Update persists all fields of an existing job record. After admission
	// a job is owned by exactly one maintainer worker, so full saves do not
	// race with other writers.
	Update(ctx context.Context, job *db.Job) error

	// SetQueuedAt stamps the admission-queue entry time without touching any
	// other field. Used by PushJobToQueue while the job is still immutable.
	SetQueuedAt(ctx context.Context, id uuid.UUID, t time.Time) error

	// SetInitializedAt stamps the moment the job's remote workspace became
	// ready.
	SetInitializedAt(ctx context.Context, id uuid.UUID, t time.Time) error

	// SetFinishedAt stamps the job's terminal time and failure flag.
	SetFinishedAt(ctx context.Context, id uuid.UUID, t time.Time, failed bool) error

	List(ctx context.Context, opts ListOptions) ([]db.Job, int64, error)
	ListByUser(ctx context.Context, userID string, opts ListOptions) ([]db.Job, int64, error)
}

// -----------------------------------------------------------------------------
// FolderRepository
// -----------------------------------------------------------------------------

type FolderRepository interface {
	Create(ctx context.Context, folder *db.Folder) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.Folder, error)
	Update(ctx context.Context, folder *db.Folder) error

	// Delete soft-deletes the folder row. The remote workspace itself is
	// torn down separately by the maintainer.
	Delete(ctx context.Context, id uuid.UUID) error

	ListByUser(ctx context.Context, userID string, opts ListOptions) ([]db.Folder, int64, error)
}

// -----------------------------------------------------------------------------
// CacheRepository
// -----------------------------------------------------------------------------

type CacheRepository interface {
	// GetByPath returns the cache row claiming ownership of (hpc, hpcPath).
	// Returns ErrNotFound when no row exists.
	GetByPath(ctx context.Context, hpc, hpcPath string) (*db.Cache, error)

	// Upsert creates the row for (hpc, hpcPath) or, if it already exists,
	// bumps its UpdatedAt to now. Called after a successful cache build.
	Upsert(ctx context.Context, hpc, hpcPath string) (*db.Cache, error)

	// DeleteByPath removes the row for (hpc, hpcPath). Called when the
	// remote zip is invalidated so no row claims a path without a zip.
	DeleteByPath(ctx context.Context, hpc, hpcPath string) error
}

// -----------------------------------------------------------------------------
// EventRepository / LogRepository
// -----------------------------------------------------------------------------

type EventRepository interface {
	Create(ctx context.Context, event *db.Event) error
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]db.Event, error)
}

type LogRepository interface {
	Create(ctx context.Context, log *db.Log) error
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]db.Log, error)
}

// -----------------------------------------------------------------------------
// GitRepository
// -----------------------------------------------------------------------------

type GitRepository interface {
	Create(ctx context.Context, git *db.Git) error
	GetByID(ctx context.Context, id string) (*db.Git, error)
	Update(ctx context.Context, git *db.Git) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]db.Git, error)
}

// -----------------------------------------------------------------------------
// AccessRepository
// -----------------------------------------------------------------------------

// AccessRepository answers the submission allow/deny check. An empty
// allowlist means every user not on the denylist may submit.
type AccessRepository interface {
	IsAllowed(ctx context.Context, userID string) (bool, error)
	IsDenied(ctx context.Context, userID string) (bool, string, error)
}

// -----------------------------------------------------------------------------
// GlobusTokenRepository
// -----------------------------------------------------------------------------

type GlobusTokenRepository interface {
	Get(ctx context.Context, identity string) (*db.GlobusTransferRefreshToken, error)
	Put(ctx context.Context, identity, token string) error
}
