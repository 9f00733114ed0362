package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// base contains the common fields shared by all models.
// ID uses UUID v7 (time-ordered) for efficient B-tree indexing and natural
// chronological ordering without a separate created_at sort. CreatedAt and
// UpdatedAt are managed automatically by GORM.
type base struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a new UUID v7 if the ID is not already set.
func (b *base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// softDelete extends base with a nullable DeletedAt field for soft deletion.
// GORM automatically filters out soft-deleted records from all queries unless
// Unscoped() is used explicitly.
type softDelete struct {
	base
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// -----------------------------------------------------------------------------
// Jobs
// -----------------------------------------------------------------------------

// Job is the unit of work submitted against one cluster. Lifecycle:
// created by the HTTP layer, queued when the supervisor accepts it into a
// cluster queue, running once the scheduler admits it, terminal on ended
// (possibly failed) or cancelled. After admission a job is mutated by exactly
// one maintainer worker; before admission it is immutable except QueuedAt.
//
// The Local*Folder fields are JSON source descriptors (see staging.Source);
// they describe where the inputs come from, not remote state. The Remote*
// fields reference Folder rows created by the staging engine. Folder
// associations are resolved via explicit repository lookups, not GORM
// foreign keys: GORM cannot auto-resolve UUID-typed keys, and value-type ids
// keep the Job and Folder tables free of back-pointers.
type Job struct {
	base
	UserID       string `gorm:"not null;index"`
	Hpc          string `gorm:"not null;index"` // cluster name from the config map
	Maintainer   string `gorm:"not null"`       // maintainer variant discriminator
	CredentialID string `gorm:"default:''"`     // secret-store key, private accounts only
	RemoteID     string `gorm:"default:''"`     // Slurm job id once submitted

	// Opaque string→string maps, serialized as JSON.
	Param string `gorm:"type:text;default:'{}'"`
	Env   string `gorm:"type:text;default:'{}'"`
	Slurm string `gorm:"type:text;default:'{}'"`

	// Source descriptors, serialized as JSON. Empty when unset.
	LocalExecutableFolder string `gorm:"type:text;default:''"`
	LocalDataFolder       string `gorm:"type:text;default:''"`

	// Remote workspace references, populated by the maintainer during init.
	RemoteExecutableFolderID *uuid.UUID `gorm:"type:text"`
	RemoteDataFolderID       *uuid.UUID `gorm:"type:text"`
	RemoteResultFolderID     *uuid.UUID `gorm:"type:text"`

	QueuedAt      *time.Time
	InitializedAt *time.Time
	FinishedAt    *time.Time
	IsFailed      bool `gorm:"not null;default:false"`

	// Usage counters collected from sacct after completion.
	Nodes       int   `gorm:"default:0"`
	CPUs        int   `gorm:"default:0"`
	CPUTime     int64 `gorm:"default:0"` // seconds
	Memory      int64 `gorm:"default:0"` // bytes requested
	MemoryUsage int64 `gorm:"default:0"` // bytes, MaxRSS
	WallTime    int64 `gorm:"default:0"` // seconds
}

// -----------------------------------------------------------------------------
// Folders
// -----------------------------------------------------------------------------

// Folder describes a remote workspace created by the staging engine.
// Rows persist after job completion for audit and are soft-deletable.
type Folder struct {
	softDelete
	Hpc        string `gorm:"not null;index"`
	UserID     string `gorm:"not null;index"`
	HpcPath    string `gorm:"not null"`
	GlobusPath string `gorm:"default:''"`
}

// -----------------------------------------------------------------------------
// Caches
// -----------------------------------------------------------------------------

// Cache is a content-addressed record of a staged source: Hpc plus HpcPath
// (the cached zip under <root>/cache/<fingerprint>.zip). An entry is valid
// iff the remote zip exists; staleness is measured by comparing UpdatedAt to
// the source's authoritative timestamp (last-commit time for Git sources).
type Cache struct {
	base
	Hpc     string `gorm:"not null;index:idx_cache_hpc_path,unique"`
	HpcPath string `gorm:"not null;index:idx_cache_hpc_path,unique"`
}

// -----------------------------------------------------------------------------
// Events & Logs
// -----------------------------------------------------------------------------

// Event is one entry in a job's append-only event stream. Type is one of the
// enumerated event types (events package); Message is free text.
type Event struct {
	base
	JobID   uuid.UUID `gorm:"type:text;not null;index"`
	Type    string    `gorm:"not null"`
	Message string    `gorm:"type:text;not null"`
}

// Log is one entry in a job's append-only log stream. Messages longer than
// 500 characters are truncated by the emitter with a sentinel suffix before
// insertion.
type Log struct {
	base
	JobID   uuid.UUID `gorm:"type:text;not null;index"`
	Message string    `gorm:"type:text;not null"`
}

// -----------------------------------------------------------------------------
// Gits
// -----------------------------------------------------------------------------

// Git is a registered repository that jobs may reference as an executable
// source by its ID. The staging engine maintains a local mirror per entry
// and uses the mirror's last-commit time for cache invalidation.
// Sha optionally pins the checkout; empty means the default branch head.
type Git struct {
	ID        string    `gorm:"primaryKey"`
	Address   string    `gorm:"not null"`
	Sha       string    `gorm:"default:''"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// -----------------------------------------------------------------------------
// Globus
// -----------------------------------------------------------------------------

// GlobusTransferRefreshToken stores the per-identity refresh token used to
// drive remote-to-remote Globus transfers. The token is encrypted at rest.
type GlobusTransferRefreshToken struct {
	Identity     string          `gorm:"primaryKey"`
	TransferText EncryptedString `gorm:"type:text;not null;column:transfer_refresh_token"`
	CreatedAt    time.Time       `gorm:"not null"`
	UpdatedAt    time.Time       `gorm:"not null"`
}

// -----------------------------------------------------------------------------
// Access control side-tables
// -----------------------------------------------------------------------------

// AllowedUser and DeniedUser back the submission allow/deny check. User
// authentication itself happens in the external notebook service; these
// tables only gate who may push jobs through this supervisor.
type AllowedUser struct {
	base
	UserID string `gorm:"not null;uniqueIndex"`
}

type DeniedUser struct {
	base
	UserID string `gorm:"not null;uniqueIndex"`
	Reason string `gorm:"type:text;default:''"`
}
