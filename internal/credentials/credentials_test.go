package credentials

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hpcgate/hpcgate/internal/config"
	"github.com/hpcgate/hpcgate/internal/secrets"
	"github.com/hpcgate/hpcgate/internal/ssh"
	"github.com/hpcgate/hpcgate/internal/ssh/sshtest"
)

func testGuard(t *testing.T, sess *sshtest.Session) (*Guard, *secrets.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := secrets.NewStore(rdb)

	clusters := map[string]config.Cluster{
		"private": {IP: "10.0.0.2", Port: 22},
		"community": {
			IP:                 "10.0.0.1",
			IsCommunityAccount: true,
			CommunityLogin:     &config.Login{User: "svc"},
		},
	}
	guard := NewGuard(clusters, store, func(_ ssh.Config) (ssh.Session, error) {
		return sess, nil
	}, zap.NewNop())
	return guard, store
}

func TestRegister_StoresValidatedLogin(t *testing.T) {
	sess := sshtest.New(sshtest.Rule{Contains: "echo ok", Result: ssh.Result{Stdout: "ok\n"}})
	guard, store := testGuard(t, sess)

	id, err := guard.Register(context.Background(), "private", "alice", "pw")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	cred, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "alice", cred.User)
	assert.Equal(t, "pw", cred.Password)
	assert.True(t, sess.Disposed())
}

func TestRegister_RejectsFailedProbe(t *testing.T) {
	sess := sshtest.New(sshtest.Rule{
		Contains: "echo ok",
		Result:   ssh.Result{ExitCode: 1, Stderr: "account expired"},
	})
	guard, _ := testGuard(t, sess)

	_, err := guard.Register(context.Background(), "private", "alice", "wrong")
	assert.Error(t, err)
}

func TestRegister_RejectsFailedConnect(t *testing.T) {
	sess := sshtest.New()
	sess.ConnectErr = sshtest.TransportError("auth failed")
	guard, _ := testGuard(t, sess)

	_, err := guard.Register(context.Background(), "private", "alice", "wrong")
	assert.Error(t, err)
}

func TestRegister_RejectsCommunityCluster(t *testing.T) {
	guard, _ := testGuard(t, sshtest.New())

	_, err := guard.Register(context.Background(), "community", "alice", "pw")
	assert.Error(t, err)
}

func TestRegister_UnknownCluster(t *testing.T) {
	guard, _ := testGuard(t, sshtest.New())

	_, err := guard.Register(context.Background(), "nope", "alice", "pw")
	assert.Error(t, err)
}
