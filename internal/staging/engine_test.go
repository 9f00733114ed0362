package staging

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hpcgate/hpcgate/internal/config"
	"github.com/hpcgate/hpcgate/internal/db"
	"github.com/hpcgate/hpcgate/internal/repositories"
	"github.com/hpcgate/hpcgate/internal/ssh/sshtest"
)

type fakeFolderRepo struct {
	repositories.FolderRepository

	created []*db.Folder
	deleted []uuid.UUID
}

func (f *fakeFolderRepo) Create(_ context.Context, folder *db.Folder) error {
	folder.ID = uuid.New()
	f.created = append(f.created, folder)
	return nil
}

func (f *fakeFolderRepo) Delete(_ context.Context, id uuid.UUID) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeCacheRepo struct {
	rows      map[string]*db.Cache
	deleted   []string
	upsertErr error
}

func newFakeCacheRepo() *fakeCacheRepo {
	return &fakeCacheRepo{rows: map[string]*db.Cache{}}
}

func cacheKey(hpc, hpcPath string) string { return hpc + "|" + hpcPath }

func (f *fakeCacheRepo) GetByPath(_ context.Context, hpc, hpcPath string) (*db.Cache, error) {
	row, ok := f.rows[cacheKey(hpc, hpcPath)]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return row, nil
}

func (f *fakeCacheRepo) Upsert(_ context.Context, hpc, hpcPath string) (*db.Cache, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	row := &db.Cache{Hpc: hpc, HpcPath: hpcPath}
	row.UpdatedAt = time.Now()
	f.rows[cacheKey(hpc, hpcPath)] = row
	return row, nil
}

func (f *fakeCacheRepo) DeleteByPath(_ context.Context, hpc, hpcPath string) error {
	f.deleted = append(f.deleted, hpcPath)
	delete(f.rows, cacheKey(hpc, hpcPath))
	return nil
}

type fakeGitRepo struct {
	repositories.GitRepository

	rows map[string]*db.Git
}

func (f *fakeGitRepo) GetByID(_ context.Context, id string) (*db.Git, error) {
	row, ok := f.rows[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return row, nil
}

func (f *fakeGitRepo) Update(_ context.Context, git *db.Git) error {
	f.rows[git.ID] = git
	return nil
}

func testEngine(t *testing.T) (*Engine, *fakeFolderRepo, *fakeCacheRepo) {
	t.Helper()
	clusters := map[string]config.Cluster{
		"hpc1": {IP: "10.0.0.1", RootPath: "/work"},
	}
	folders := &fakeFolderRepo{}
	caches := newFakeCacheRepo()
	engine := New(clusters, folders, caches, nil, nil, t.TempDir(), zap.NewNop())
	return engine, folders, caches
}

func testGitEngine(t *testing.T, address string) (*Engine, *fakeGitRepo, *sshtest.Session) {
	t.Helper()
	clusters := map[string]config.Cluster{
		"hpc1": {IP: "10.0.0.1", RootPath: "/work"},
	}
	gits := &fakeGitRepo{rows: map[string]*db.Git{
		"model": {ID: "model", Address: address},
	}}
	engine := New(clusters, &fakeFolderRepo{}, newFakeCacheRepo(), gits, nil, t.TempDir(), zap.NewNop())
	return engine, gits, sshtest.New()
}

func runFixtureGit(t *testing.T, dir string, env []string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
}

// commitFixture commits with a pinned date so staleness comparisons against
// wall-clock cache rows are deterministic.
func commitFixture(t *testing.T, dir, content, date string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.sh"), []byte(content), 0o755))
	runFixtureGit(t, dir, nil, "add", ".")
	runFixtureGit(t, dir,
		[]string{"GIT_AUTHOR_DATE=" + date, "GIT_COMMITTER_DATE=" + date},
		"commit", "-m", "update")
}

func gitFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runFixtureGit(t, dir, nil, "init")
	runFixtureGit(t, dir, nil, "config", "user.email", "dev@example.com")
	runFixtureGit(t, dir, nil, "config", "user.name", "dev")
	commitFixture(t, dir, "echo hi\n", "2024-01-01 00:00:00 +0000")
	return dir
}

func newStagedJob() *db.Job {
	job := &db.Job{UserID: "alice", Hpc: "hpc1"}
	job.ID = uuid.New()
	return job
}

func TestWorkspacePath(t *testing.T) {
	cluster := config.Cluster{RootPath: "/work"}
	jobID := uuid.New()
	assert.Equal(t, "/work/job_"+jobID.String(), WorkspacePath(cluster, jobID))
}

func TestStage_EmptySourceCreatesDirectory(t *testing.T) {
	engine, folders, _ := testEngine(t)
	sess := sshtest.New()
	job := newStagedJob()

	folder, err := engine.Stage(context.Background(), sess, "hpc1", job, Source{Type: SourceEmpty}, KindResult)
	require.NoError(t, err)

	want := "/work/job_" + job.ID.String() + "/result"
	assert.Equal(t, want, folder.HpcPath)
	assert.Equal(t, "alice", folder.UserID)
	assert.Contains(t, sess.Mkdirs, want)
	require.Len(t, folders.created, 1)
}

func TestStage_LocalSourceBuildsCacheAndUnzips(t *testing.T) {
	engine, folders, caches := testEngine(t)
	sess := sshtest.New()
	job := newStagedJob()

	localDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(localDir, "run.sh"), []byte("echo hi\n"), 0o755))
	src := Source{Type: SourceLocal, LocalPath: localDir}

	folder, err := engine.Stage(context.Background(), sess, "hpc1", job, src, KindExecutable)
	require.NoError(t, err)

	remoteZip := "/work/cache/" + src.Fingerprint() + ".zip"
	assert.Contains(t, sess.Uploads, remoteZip)
	require.Len(t, sess.Unzips, 1)
	assert.Equal(t, remoteZip, sess.Unzips[0][0])
	assert.Equal(t, folder.HpcPath, sess.Unzips[0][1])

	// A successful build records the cache row.
	_, err = caches.GetByPath(context.Background(), "hpc1", remoteZip)
	assert.NoError(t, err)
	assert.Len(t, folders.created, 1)
}

func TestStage_LocalSourceAlwaysRebuilds(t *testing.T) {
	engine, _, _ := testEngine(t)
	sess := sshtest.New()

	localDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(localDir, "run.sh"), []byte("echo hi\n"), 0o755))
	src := Source{Type: SourceLocal, LocalPath: localDir}

	ctx := context.Background()
	_, err := engine.Stage(ctx, sess, "hpc1", newStagedJob(), src, KindExecutable)
	require.NoError(t, err)
	_, err = engine.Stage(ctx, sess, "hpc1", newStagedJob(), src, KindExecutable)
	require.NoError(t, err)

	// Nothing tracks local directory mutation, so the zip is rebuilt and
	// re-uploaded for every staging.
	assert.Len(t, sess.Uploads, 2)
}

func TestStage_CacheRecordFailureDoesNotFailStage(t *testing.T) {
	engine, folders, caches := testEngine(t)
	caches.upsertErr = errors.New("registry down")
	sess := sshtest.New()

	localDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(localDir, "run.sh"), []byte("echo hi\n"), 0o755))
	src := Source{Type: SourceLocal, LocalPath: localDir}

	_, err := engine.Stage(context.Background(), sess, "hpc1", newStagedJob(), src, KindExecutable)
	require.NoError(t, err)

	// The zip already landed on the cluster; losing the registry row only
	// costs a rebuild on the next staging.
	assert.Len(t, sess.Uploads, 1)
	assert.Len(t, sess.Unzips, 1)
	assert.Empty(t, caches.rows)
	require.Len(t, folders.created, 1)
}

func TestStage_GitSourceCacheHitSkipsUpload(t *testing.T) {
	fixture := gitFixture(t)
	engine, gits, sess := testGitEngine(t, "file://"+fixture)
	src := Source{Type: SourceGit, GitID: "model"}
	ctx := context.Background()

	_, err := engine.Stage(ctx, sess, "hpc1", newStagedJob(), src, KindExecutable)
	require.NoError(t, err)
	_, err = engine.Stage(ctx, sess, "hpc1", newStagedJob(), src, KindExecutable)
	require.NoError(t, err)

	// The head did not move, so the second staging unzips the cached zip
	// without re-uploading it.
	assert.Len(t, sess.Uploads, 1)
	assert.Len(t, sess.Unzips, 2)
	assert.NotEmpty(t, gits.rows["model"].Sha)
}

func TestStage_GitSourceRebuildsWhenHeadMoves(t *testing.T) {
	fixture := gitFixture(t)
	engine, gits, sess := testGitEngine(t, "file://"+fixture)
	src := Source{Type: SourceGit, GitID: "model"}
	ctx := context.Background()

	_, err := engine.Stage(ctx, sess, "hpc1", newStagedJob(), src, KindExecutable)
	require.NoError(t, err)
	firstSha := gits.rows["model"].Sha

	// A commit dated past the cache row marks the zip stale.
	commitFixture(t, fixture, "echo bye\n", "2030-01-01 00:00:00 +0000")
	_, err = engine.Stage(ctx, sess, "hpc1", newStagedJob(), src, KindExecutable)
	require.NoError(t, err)

	assert.Len(t, sess.Uploads, 2)
	assert.NotEqual(t, firstSha, gits.rows["model"].Sha)
}

func TestStage_UnknownCluster(t *testing.T) {
	engine, _, _ := testEngine(t)

	_, err := engine.Stage(context.Background(), sshtest.New(), "nope", newStagedJob(), Source{Type: SourceEmpty}, KindResult)
	assert.Error(t, err)
}

func TestStage_GlobusWithoutTransferrer(t *testing.T) {
	engine, _, _ := testEngine(t)
	src := Source{Type: SourceGlobus, GlobusEndpoint: "ep", GlobusPath: "/data"}

	_, err := engine.Stage(context.Background(), sshtest.New(), "hpc1", newStagedJob(), src, KindData)
	assert.Error(t, err)
}

func TestTeardown_RemovesWorkspaceAndFolderRows(t *testing.T) {
	engine, folders, _ := testEngine(t)
	sess := sshtest.New()
	job := newStagedJob()
	execID := uuid.New()
	job.RemoteExecutableFolderID = &execID

	require.NoError(t, engine.Teardown(context.Background(), sess, "hpc1", job))
	assert.Contains(t, sess.Removed, "/work/job_"+job.ID.String())
	assert.Equal(t, []uuid.UUID{execID}, folders.deleted)
}
