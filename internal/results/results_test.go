package results

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb)
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	jobID := uuid.New()

	files := []string{"./out.csv", "./logs/run.log"}
	require.NoError(t, store.Put(ctx, jobID, files))

	got, err := store.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, files, got)
}

func TestStore_PutOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	jobID := uuid.New()

	require.NoError(t, store.Put(ctx, jobID, []string{"./a"}))
	require.NoError(t, store.Put(ctx, jobID, []string{"./b"}))

	got, err := store.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, []string{"./b"}, got)
}

func TestStore_GetUnknownJob(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
