package queue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hpcgate/hpcgate/internal/db"
	"github.com/hpcgate/hpcgate/internal/repositories"
)

type fakeJobRepo struct {
	repositories.JobRepository

	jobs map[uuid.UUID]*db.Job
}

func (f *fakeJobRepo) GetByID(_ context.Context, id uuid.UUID) (*db.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return job, nil
}

func newTestQueue(t *testing.T) (*Queue, *fakeJobRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	jobs := &fakeJobRepo{jobs: map[uuid.UUID]*db.Job{}}
	return New(rdb, jobs, zap.NewNop()), jobs, mr
}

func (f *fakeJobRepo) add(hpc string) *db.Job {
	job := &db.Job{Hpc: hpc}
	job.ID = uuid.New()
	f.jobs[job.ID] = job
	return job
}

func TestQueue_FIFOPerCluster(t *testing.T) {
	q, jobs, _ := newTestQueue(t)
	ctx := context.Background()

	first := jobs.add("hpc1")
	second := jobs.add("hpc1")
	other := jobs.add("hpc2")

	require.NoError(t, q.Push(ctx, "hpc1", first.ID))
	require.NoError(t, q.Push(ctx, "hpc1", second.ID))
	require.NoError(t, q.Push(ctx, "hpc2", other.ID))

	n, err := q.Length(ctx, "hpc1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := q.Pop(ctx, "hpc1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)

	got, err = q.Pop(ctx, "hpc1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.ID, got.ID)

	// hpc2's queue is untouched by hpc1 pops.
	got, err = q.Pop(ctx, "hpc2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, other.ID, got.ID)
}

func TestQueue_PeekDoesNotConsume(t *testing.T) {
	q, jobs, _ := newTestQueue(t)
	ctx := context.Background()

	first := jobs.add("hpc1")
	require.NoError(t, q.Push(ctx, "hpc1", first.ID))

	for i := 0; i < 2; i++ {
		id, ok, err := q.Peek(ctx, "hpc1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, first.ID, id)
	}

	n, err := q.Length(ctx, "hpc1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestQueue_PeekEmpty(t *testing.T) {
	q, _, _ := newTestQueue(t)

	id, ok, err := q.Peek(context.Background(), "hpc1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, uuid.Nil, id)
}

func TestQueue_IsEmpty(t *testing.T) {
	q, jobs, _ := newTestQueue(t)
	ctx := context.Background()

	empty, err := q.IsEmpty(ctx, "hpc1")
	require.NoError(t, err)
	assert.True(t, empty)

	require.NoError(t, q.Push(ctx, "hpc1", jobs.add("hpc1").ID))
	empty, err = q.IsEmpty(ctx, "hpc1")
	require.NoError(t, err)
	assert.False(t, empty)
}

func TestQueue_PopEmptyReturnsNil(t *testing.T) {
	q, _, _ := newTestQueue(t)

	job, err := q.Pop(context.Background(), "hpc1")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestQueue_PopSkipsVanishedJobs(t *testing.T) {
	q, jobs, _ := newTestQueue(t)
	ctx := context.Background()

	gone := uuid.New() // never added to the repo
	kept := jobs.add("hpc1")

	require.NoError(t, q.Push(ctx, "hpc1", gone))
	require.NoError(t, q.Push(ctx, "hpc1", kept.ID))

	got, err := q.Pop(ctx, "hpc1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, kept.ID, got.ID)
}

func TestQueue_PopSkipsMalformedEntries(t *testing.T) {
	q, jobs, mr := newTestQueue(t)
	ctx := context.Background()

	_, err := mr.RPush("job_queue:hpc1", "not-a-uuid")
	require.NoError(t, err)
	kept := jobs.add("hpc1")
	require.NoError(t, q.Push(ctx, "hpc1", kept.ID))

	got, err := q.Pop(ctx, "hpc1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, kept.ID, got.ID)
}
