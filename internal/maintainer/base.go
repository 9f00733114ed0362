package maintainer

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hpcgate/hpcgate/internal/config"
	"github.com/hpcgate/hpcgate/internal/db"
	"github.com/hpcgate/hpcgate/internal/events"
	"github.com/hpcgate/hpcgate/internal/slurm"
	"github.com/hpcgate/hpcgate/internal/ssh"
	"github.com/hpcgate/hpcgate/internal/staging"
)

const (
	scriptName = "job.sbatch"
	stdoutName = "job.stdout"
	stderrName = "job.stderr"
)

// base carries the machinery shared by the maintainer variants: workspace
// staging, script upload, submission, polling and collection. Variants
// differ only in how they turn a job into script command lines.
type base struct {
	deps    Deps
	hpc     string
	cluster config.Cluster

	// defaultResultFile, when set, is sorted to the front of the published
	// result listing. The community variant fills it from the manifest.
	defaultResultFile string

	isInit bool
	isEnd  bool
}

func newBase(deps Deps, job *db.Job) (*base, error) {
	cluster, ok := deps.Clusters[job.Hpc]
	if !ok {
		return nil, fmt.Errorf("maintainer: unknown cluster %q", job.Hpc)
	}
	return &base{deps: deps, hpc: job.Hpc, cluster: cluster}, nil
}

func (b *base) IsInit() bool { return b.isInit }
func (b *base) IsEnd() bool  { return b.isEnd }

func (b *base) workspace(job *db.Job) string {
	return staging.WorkspacePath(b.cluster, job.ID)
}

func (b *base) resultPath(job *db.Job) string {
	return path.Join(b.workspace(job), string(staging.KindResult))
}

// stageWorkspace builds the executable, data and result folders and records
// their ids on the job.
func (b *base) stageWorkspace(ctx context.Context, sess ssh.Session, job *db.Job) error {
	execSrc, err := staging.ParseSource(job.LocalExecutableFolder)
	if err != nil {
		return err
	}
	dataSrc, err := staging.ParseSource(job.LocalDataFolder)
	if err != nil {
		return err
	}

	if job.RemoteExecutableFolderID == nil {
		folder, err := b.deps.Staging.Stage(ctx, sess, b.hpc, job, execSrc, staging.KindExecutable)
		if err != nil {
			return fmt.Errorf("stage executable: %w", err)
		}
		job.RemoteExecutableFolderID = &folder.ID
		emit(ctx, b.deps.Emitter, job, events.TypeSlurmUploadExecutable, "executable folder staged at "+folder.HpcPath)
	}

	if job.RemoteDataFolderID == nil && dataSrc.Type != staging.SourceEmpty {
		folder, err := b.deps.Staging.Stage(ctx, sess, b.hpc, job, dataSrc, staging.KindData)
		if err != nil {
			return fmt.Errorf("stage data: %w", err)
		}
		job.RemoteDataFolderID = &folder.ID
		emit(ctx, b.deps.Emitter, job, events.TypeSlurmUploadData, "data folder staged at "+folder.HpcPath)
	}

	if job.RemoteResultFolderID == nil {
		folder, err := b.deps.Staging.Stage(ctx, sess, b.hpc, job, staging.Source{Type: staging.SourceEmpty}, staging.KindResult)
		if err != nil {
			return fmt.Errorf("create result folder: %w", err)
		}
		job.RemoteResultFolderID = &folder.ID
		emit(ctx, b.deps.Emitter, job, events.TypeSlurmCreateResult, "result folder created at "+folder.HpcPath)
	}

	return nil
}

// uploadScript writes the batch script into the workspace through the shell.
func (b *base) uploadScript(ctx context.Context, sess ssh.Session, job *db.Job, script string) error {
	target := path.Join(b.workspace(job), scriptName)
	cmd := fmt.Sprintf("cat > '%s' << 'HPCGATE_SCRIPT_EOF'\n%s\nHPCGATE_SCRIPT_EOF", target, script)
	res, err := sess.Exec(ctx, cmd)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("maintainer: write script: %s", strings.TrimSpace(res.Stderr))
	}
	return nil
}

// submit sends the job to Slurm and persists its remote id.
func (b *base) submit(ctx context.Context, sess ssh.Session, job *db.Job, opts slurm.Options) error {
	remoteID, err := b.deps.Slurm.Submit(ctx, sess, b.workspace(job), scriptName)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	job.RemoteID = remoteID
	job.Nodes = opts.NumOfNode
	job.CPUs = opts.NumOfTask * max(opts.CPUPerTask, 1)
	if err := b.deps.Jobs.Update(ctx, job); err != nil {
		return err
	}

	emit(ctx, b.deps.Emitter, job, events.TypeJobInit, "job submitted to slurm as "+remoteID)
	b.isInit = true
	b.deps.Logger.Info("job submitted",
		zap.String("job", job.ID.String()),
		zap.String("hpc", b.hpc),
		zap.String("remote_id", remoteID))
	return nil
}

// Maintain polls the scheduler once and finishes the job on a terminal
// state.
func (b *base) Maintain(ctx context.Context, sess ssh.Session, job *db.Job) error {
	if b.isEnd {
		return nil
	}
	if job.RemoteID == "" {
		return fmt.Errorf("maintainer: job %s has no remote id", job.ID)
	}

	state, err := b.deps.Slurm.Status(ctx, sess, job.RemoteID)
	if err != nil {
		return err
	}
	if state == slurm.StateRunning {
		return nil
	}

	if state == slurm.StateFailed {
		job.IsFailed = true
	}
	b.collectLogs(ctx, sess, job)
	b.collectUsage(ctx, sess, job)
	b.collectListing(ctx, sess, job)

	switch state {
	case slurm.StateComplete:
		emit(ctx, b.deps.Emitter, job, events.TypeJobEnded, "job completed")
	case slurm.StateFailed:
		emit(ctx, b.deps.Emitter, job, events.TypeJobFailed, "slurm reported job failure")
	}
	b.isEnd = true
	return nil
}

// OnCancel stops the remote job. Called only for jobs already on the
// cluster; queued jobs never reach their maintainer.
func (b *base) OnCancel(ctx context.Context, sess ssh.Session, job *db.Job) error {
	if job.RemoteID != "" {
		if err := b.deps.Slurm.Cancel(ctx, sess, job.RemoteID); err != nil {
			return err
		}
	}
	job.IsFailed = true
	b.collectLogs(ctx, sess, job)
	emit(ctx, b.deps.Emitter, job, events.TypeJobFailed, "job cancelled")
	b.isEnd = true
	return nil
}

// collectLogs pulls the scheduler's output files into the job trail.
// Missing files are normal for jobs that died before producing output.
func (b *base) collectLogs(ctx context.Context, sess ssh.Session, job *db.Job) {
	for _, name := range []string{stdoutName, stderrName} {
		target := path.Join(b.resultPath(job), name)
		res, err := sess.Exec(ctx, fmt.Sprintf("cat '%s'", target))
		if err != nil {
			b.deps.Logger.Warn("read job output", zap.String("job", job.ID.String()), zap.String("file", name), zap.Error(err))
			continue
		}
		if res.ExitCode != 0 || strings.TrimSpace(res.Stdout) == "" {
			continue
		}
		b.deps.Emitter.Log(ctx, job.ID, name+":\n"+res.Stdout)
	}
}

// collectUsage records the finished job's accounting.
func (b *base) collectUsage(ctx context.Context, sess ssh.Session, job *db.Job) {
	usage, err := b.deps.Slurm.CollectUsage(ctx, sess, job.RemoteID)
	if err != nil {
		b.deps.Logger.Warn("collect usage", zap.String("job", job.ID.String()), zap.Error(err))
		return
	}

	job.WallTime = int64(usage.WallTime.Seconds())
	job.CPUTime = int64(usage.CPUTime.Seconds())
	job.Memory = usage.Memory
	job.MemoryUsage = usage.MemoryUsage
	if usage.Nodes > 0 {
		job.Nodes = usage.Nodes
	}
	if usage.CPUs > 0 {
		job.CPUs = usage.CPUs
	}
	if err := b.deps.Jobs.Update(ctx, job); err != nil {
		b.deps.Logger.Warn("persist usage", zap.String("job", job.ID.String()), zap.Error(err))
	}
}

// collectListing records the result folder's file paths so the API can
// answer download queries without a shell.
func (b *base) collectListing(ctx context.Context, sess ssh.Session, job *db.Job) {
	if b.deps.Results == nil {
		return
	}

	resultPath := b.resultPath(job)
	res, err := sess.Exec(ctx, fmt.Sprintf("cd '%s' && find . -type f", resultPath))
	if err != nil || res.ExitCode != 0 {
		b.deps.Logger.Warn("list result folder", zap.String("job", job.ID.String()), zap.Error(err))
		return
	}

	var files []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimPrefix(strings.TrimSpace(line), "./")
		if line != "" {
			files = append(files, line)
		}
	}
	sort.Strings(files)

	// The declared default download leads the listing.
	if def := strings.TrimPrefix(b.defaultResultFile, "./"); def != "" {
		for i, f := range files {
			if f == def {
				files = append(files[:i], files[i+1:]...)
				files = append([]string{def}, files...)
				break
			}
		}
	}
	if err := b.deps.Results.Put(ctx, job.ID, files); err != nil {
		b.deps.Logger.Warn("cache result listing", zap.String("job", job.ID.String()), zap.Error(err))
	}
}

// validatedOptions decodes the job's Slurm request and re-checks it against
// the cluster ceiling. The boundary already rejected over-ceiling requests;
// this guards jobs whose cluster rules tightened while they were queued.
func (b *base) validatedOptions(job *db.Job) (slurm.Options, error) {
	opts, err := decodeSlurmOptions(job.Slurm)
	if err != nil {
		return opts, err
	}
	if err := slurm.Validate(opts, b.cluster); err != nil {
		return opts, err
	}
	return opts, nil
}

// scriptEnv decodes the job's environment map.
func (b *base) scriptEnv(job *db.Job) (map[string]string, error) {
	return decodeMap(job.Env)
}
