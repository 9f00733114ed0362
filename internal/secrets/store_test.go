package secrets

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
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

	id, err := store.Put(ctx, "alice", "hunter2")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	cred, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, cred.ID)
	assert.Equal(t, "alice", cred.User)
	assert.Equal(t, "hunter2", cred.Password)
}

func TestStore_PutIssuesDistinctIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, err := store.Put(ctx, "alice", "pw")
	require.NoError(t, err)
	b, err := store.Put(ctx, "alice", "pw")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestStore_GetUnknownID(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Put(ctx, "alice", "pw")
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, id))
	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is not an error.
	assert.NoError(t, store.Delete(ctx, id))
}
