package staging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hpcgate/hpcgate/internal/config"
	"github.com/hpcgate/hpcgate/internal/db"
	"github.com/hpcgate/hpcgate/internal/globus"
	"github.com/hpcgate/hpcgate/internal/repositories"
	"github.com/hpcgate/hpcgate/internal/ssh"
)

// Kind names the three folders of a job workspace.
type Kind string

const (
	KindExecutable Kind = "executable"
	KindData       Kind = "data"
	KindResult     Kind = "result"
)

// Engine builds job folders on cluster filesystems.
type Engine struct {
	clusters map[string]config.Cluster
	folders  repositories.FolderRepository
	caches   repositories.CacheRepository
	gits     repositories.GitRepository
	transfer globus.Transferrer
	mirror   *Mirror
	workDir  string
	logger   *zap.Logger

	// One lock per (cluster, fingerprint) serializes cache builds so two
	// jobs staging the same model don't race on the shared zip.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds an Engine. transfer may be nil when no Globus staging is
// configured.
func New(
	clusters map[string]config.Cluster,
	folders repositories.FolderRepository,
	caches repositories.CacheRepository,
	gits repositories.GitRepository,
	transfer globus.Transferrer,
	workDir string,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		clusters: clusters,
		folders:  folders,
		caches:   caches,
		gits:     gits,
		transfer: transfer,
		mirror:   NewMirror(workDir),
		workDir:  workDir,
		logger:   logger.Named("staging"),
		locks:    make(map[string]*sync.Mutex),
	}
}

// WorkspacePath returns a job's root directory on a cluster.
func WorkspacePath(cluster config.Cluster, jobID uuid.UUID) string {
	return path.Join(cluster.RootPath, "job_"+jobID.String())
}

func cacheZipPath(cluster config.Cluster, fingerprint string) string {
	return path.Join(cluster.RootPath, "cache", fingerprint+".zip")
}

func (e *Engine) fingerprintLock(hpc, fingerprint string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := hpc + "/" + fingerprint
	if l, ok := e.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	e.locks[key] = l
	return l
}

// Stage materializes one folder of a job workspace on its cluster and
// records it. The returned folder row carries the remote path the
// maintainer binds into the batch script.
func (e *Engine) Stage(ctx context.Context, sess ssh.Session, hpc string, job *db.Job, src Source, kind Kind) (*db.Folder, error) {
	cluster, ok := e.clusters[hpc]
	if !ok {
		return nil, fmt.Errorf("staging: unknown cluster %q", hpc)
	}

	dest := path.Join(WorkspacePath(cluster, job.ID), string(kind))
	folder := &db.Folder{
		Hpc:     hpc,
		UserID:  job.UserID,
		HpcPath: dest,
	}

	switch src.Type {
	case SourceEmpty:
		if err := sess.Mkdir(ctx, dest, true); err != nil {
			return nil, err
		}

	case SourceGit, SourceLocal:
		remoteZip, err := e.ensureCache(ctx, sess, hpc, cluster, src)
		if err != nil {
			return nil, err
		}
		if err := sess.Unzip(ctx, remoteZip, dest); err != nil {
			return nil, err
		}

	case SourceGlobus:
		globusPath, err := e.stageGlobus(ctx, sess, cluster, job.ID, src, kind)
		if err != nil {
			return nil, err
		}
		folder.GlobusPath = globusPath

	default:
		return nil, fmt.Errorf("staging: cannot stage source type %q", src.Type)
	}

	if err := e.folders.Create(ctx, folder); err != nil {
		return nil, err
	}
	e.logger.Info("folder staged",
		zap.String("hpc", hpc),
		zap.String("job", job.ID.String()),
		zap.String("kind", string(kind)),
		zap.String("source", src.Type))
	return folder, nil
}

// ensureCache returns the remote path of a fresh cache zip for the source,
// building it when missing or stale. Git sources are stale when the
// repository head moved past the cached build; local sources are rebuilt on
// every call since nothing tracks their mutation.
func (e *Engine) ensureCache(ctx context.Context, sess ssh.Session, hpc string, cluster config.Cluster, src Source) (string, error) {
	fingerprint := src.Fingerprint()
	remoteZip := cacheZipPath(cluster, fingerprint)

	lock := e.fingerprintLock(hpc, fingerprint)
	lock.Lock()
	defer lock.Unlock()

	localDir := src.LocalPath
	rebuild := true

	if src.Type == SourceGit {
		git, err := e.gits.GetByID(ctx, src.GitID)
		if err != nil {
			return "", fmt.Errorf("staging: git %s: %w", src.GitID, err)
		}

		sha, committedAt, err := e.mirror.Sync(ctx, git.ID, git.Address)
		if err != nil {
			return "", err
		}
		if git.Sha != sha {
			git.Sha = sha
			if err := e.gits.Update(ctx, git); err != nil {
				e.logger.Warn("record git head", zap.String("git", git.ID), zap.Error(err))
			}
		}
		localDir = e.mirror.CheckoutPath(git.ID)

		row, err := e.caches.GetByPath(ctx, hpc, remoteZip)
		switch {
		case errors.Is(err, repositories.ErrNotFound):
		case err != nil:
			return "", err
		case row.UpdatedAt.After(committedAt):
			if exists, err := sess.Exists(ctx, remoteZip); err == nil && exists {
				rebuild = false
			}
		}
	}

	if !rebuild {
		e.logger.Debug("cache hit", zap.String("hpc", hpc), zap.String("zip", remoteZip))
		return remoteZip, nil
	}

	if err := e.uploadZip(ctx, sess, localDir, remoteZip); err != nil {
		// A half-written zip must not masquerade as a cache entry.
		if derr := e.caches.DeleteByPath(ctx, hpc, remoteZip); derr != nil && !errors.Is(derr, repositories.ErrNotFound) {
			e.logger.Warn("invalidate cache row", zap.String("zip", remoteZip), zap.Error(derr))
		}
		return "", err
	}

	// Registration is best-effort: the zip is already uploaded, so a failed
	// registry write costs a rebuild on the next stage, not this one.
	if _, err := e.caches.Upsert(ctx, hpc, remoteZip); err != nil {
		e.logger.Warn("record cache row", zap.String("zip", remoteZip), zap.Error(err))
	}
	e.logger.Info("cache built", zap.String("hpc", hpc), zap.String("zip", remoteZip))
	return remoteZip, nil
}

func (e *Engine) uploadZip(ctx context.Context, sess ssh.Session, localDir, remoteZip string) error {
	tmpDir := filepath.Join(e.workDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return fmt.Errorf("staging: create tmp dir: %w", err)
	}
	tmp, err := os.CreateTemp(tmpDir, "stage-*.zip")
	if err != nil {
		return fmt.Errorf("staging: create tmp zip: %w", err)
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	if err := zipDirectory(localDir, tmp.Name()); err != nil {
		return err
	}
	if err := sess.Mkdir(ctx, path.Dir(remoteZip), true); err != nil {
		return err
	}
	return sess.Upload(ctx, tmp.Name(), remoteZip)
}

// stageGlobus transfers a folder from the user's collection onto the
// cluster's collection, landing inside the job workspace. The cluster must
// expose a Globus endpoint whose root maps onto its filesystem root.
func (e *Engine) stageGlobus(ctx context.Context, sess ssh.Session, cluster config.Cluster, jobID uuid.UUID, src Source, kind Kind) (string, error) {
	if e.transfer == nil {
		return "", fmt.Errorf("staging: globus staging not configured")
	}
	if cluster.Globus == nil {
		return "", fmt.Errorf("staging: cluster has no globus endpoint")
	}

	dest := path.Join(WorkspacePath(cluster, jobID), string(kind))
	if err := sess.Mkdir(ctx, dest, true); err != nil {
		return "", err
	}

	destGlobusPath := path.Join(cluster.Globus.RootPath, "job_"+jobID.String(), string(kind))
	taskID, err := e.transfer.InitTransfer(ctx, globus.TransferSpec{
		Identity:            cluster.Globus.Identity,
		SourceEndpoint:      src.GlobusEndpoint,
		SourcePath:          src.GlobusPath,
		DestinationEndpoint: cluster.Globus.Endpoint,
		DestinationPath:     destGlobusPath,
		Label:               "stage " + string(kind) + " for job " + jobID.String(),
	})
	if err != nil {
		return "", err
	}
	if err := e.transfer.MonitorTransfer(ctx, cluster.Globus.Identity, taskID); err != nil {
		return "", err
	}
	return destGlobusPath, nil
}

// Teardown removes a job's workspace from its cluster and soft-deletes the
// folder rows. Cache zips survive teardown.
func (e *Engine) Teardown(ctx context.Context, sess ssh.Session, hpc string, job *db.Job) error {
	cluster, ok := e.clusters[hpc]
	if !ok {
		return fmt.Errorf("staging: unknown cluster %q", hpc)
	}
	if err := sess.Rm(ctx, WorkspacePath(cluster, job.ID)); err != nil {
		return err
	}

	for _, id := range []*uuid.UUID{job.RemoteExecutableFolderID, job.RemoteDataFolderID, job.RemoteResultFolderID} {
		if id == nil {
			continue
		}
		if err := e.folders.Delete(ctx, *id); err != nil && !errors.Is(err, repositories.ErrNotFound) {
			e.logger.Warn("delete folder row", zap.String("folder", id.String()), zap.Error(err))
		}
	}
	return nil
}
