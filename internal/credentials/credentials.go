// Package credentials validates and registers user SSH logins for
// private-account clusters. A login is proven by opening a throwaway shell
// against the cluster and running a trivial command before the credential
// is stored.
package credentials

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hpcgate/hpcgate/internal/config"
	"github.com/hpcgate/hpcgate/internal/pool"
	"github.com/hpcgate/hpcgate/internal/secrets"
	"github.com/hpcgate/hpcgate/internal/ssh"
)

// Guard checks logins against clusters and stores the ones that work.
type Guard struct {
	clusters map[string]config.Cluster
	store    *secrets.Store
	factory  pool.Factory
	logger   *zap.Logger
}

// NewGuard builds a Guard. factory is swapped out in tests.
func NewGuard(clusters map[string]config.Cluster, store *secrets.Store, factory pool.Factory, logger *zap.Logger) *Guard {
	if factory == nil {
		factory = func(cfg ssh.Config) (ssh.Session, error) { return ssh.NewShell(cfg) }
	}
	return &Guard{clusters: clusters, store: store, factory: factory, logger: logger.Named("credentials")}
}

// Register validates the login against the cluster and stores it, returning
// the credential id jobs reference.
func (g *Guard) Register(ctx context.Context, hpc, user, password string) (string, error) {
	cluster, ok := g.clusters[hpc]
	if !ok {
		return "", fmt.Errorf("credentials: unknown cluster %q", hpc)
	}
	if cluster.IsCommunityAccount {
		return "", fmt.Errorf("credentials: cluster %q uses a community account", hpc)
	}

	if err := g.validate(ctx, cluster, user, password); err != nil {
		return "", err
	}

	id, err := g.store.Put(ctx, user, password)
	if err != nil {
		return "", err
	}
	g.logger.Info("credential registered", zap.String("hpc", hpc), zap.String("user", user))
	return id, nil
}

// validate opens a short-lived shell and proves the login works.
func (g *Guard) validate(ctx context.Context, cluster config.Cluster, user, password string) error {
	sess, err := g.factory(ssh.Config{
		Host:     cluster.IP,
		Port:     cluster.Port,
		User:     user,
		Password: password,
	})
	if err != nil {
		return fmt.Errorf("credentials: build session: %w", err)
	}
	defer sess.Dispose()

	if err := sess.Connect(ctx); err != nil {
		return fmt.Errorf("credentials: login rejected: %w", err)
	}

	res, err := sess.Exec(ctx, "echo ok")
	if err != nil {
		return fmt.Errorf("credentials: probe failed: %w", err)
	}
	if res.ExitCode != 0 || strings.TrimSpace(res.Stdout) != "ok" {
		return fmt.Errorf("credentials: probe produced unexpected output")
	}
	return nil
}
