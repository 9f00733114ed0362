// Package pool manages SSH session lifecycles across clusters. Community
// accounts share one reference-counted shell per cluster; private accounts
// get one shell per job that lives exactly as long as the job's worker.
package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hpcgate/hpcgate/internal/config"
	"github.com/hpcgate/hpcgate/internal/ssh"
)

// Factory builds an unconnected session for one account. Swapped out in
// tests.
type Factory func(cfg ssh.Config) (ssh.Session, error)

func defaultFactory(cfg ssh.Config) (ssh.Session, error) {
	return ssh.NewShell(cfg)
}

// Pool hands out sessions to job workers, the staging engine and the
// credential guard.
type Pool struct {
	clusters map[string]config.Cluster
	factory  Factory
	logger   *zap.Logger

	mu      sync.Mutex
	shared  map[string]*sharedEntry
	private map[uuid.UUID]ssh.Session
}

type sharedEntry struct {
	session ssh.Session
	refs    int
}

// Option configures a Pool.
type Option func(*Pool)

// WithFactory replaces the session constructor.
func WithFactory(f Factory) Option {
	return func(p *Pool) { p.factory = f }
}

// New builds a Pool over the configured clusters.
func New(clusters map[string]config.Cluster, logger *zap.Logger, opts ...Option) *Pool {
	p := &Pool{
		clusters: clusters,
		factory:  defaultFactory,
		logger:   logger.Named("pool"),
		shared:   make(map[string]*sharedEntry),
		private:  make(map[uuid.UUID]ssh.Session),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire returns a connected session for the job on the named cluster.
// Community clusters share one shell per cluster; login is ignored for them.
// Private clusters require a login and get a dedicated shell keyed by job id.
// Every Acquire must be paired with a Release.
func (p *Pool) Acquire(ctx context.Context, hpc string, jobID uuid.UUID, login *config.Login) (ssh.Session, error) {
	cluster, ok := p.clusters[hpc]
	if !ok {
		return nil, fmt.Errorf("pool: unknown cluster %q", hpc)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if cluster.IsCommunityAccount {
		return p.acquireSharedLocked(ctx, hpc, cluster)
	}

	if login == nil {
		return nil, fmt.Errorf("pool: cluster %q requires user credentials", hpc)
	}
	if existing, ok := p.private[jobID]; ok {
		return existing, nil
	}

	session, err := p.connect(ctx, cluster, *login)
	if err != nil {
		return nil, err
	}
	p.private[jobID] = session
	p.logger.Debug("opened private session", zap.String("hpc", hpc), zap.String("job", jobID.String()))
	return session, nil
}

func (p *Pool) acquireSharedLocked(ctx context.Context, hpc string, cluster config.Cluster) (ssh.Session, error) {
	if entry, ok := p.shared[hpc]; ok {
		entry.refs++
		return entry.session, nil
	}

	session, err := p.connect(ctx, cluster, *cluster.CommunityLogin)
	if err != nil {
		return nil, err
	}
	p.shared[hpc] = &sharedEntry{session: session, refs: 1}
	p.logger.Debug("opened shared session", zap.String("hpc", hpc))
	return session, nil
}

func (p *Pool) connect(ctx context.Context, cluster config.Cluster, login config.Login) (ssh.Session, error) {
	session, err := p.factory(ssh.Config{
		Host:           cluster.IP,
		Port:           cluster.Port,
		User:           login.User,
		Password:       login.Password,
		PrivateKeyPath: login.PrivateKeyPath,
	})
	if err != nil {
		return nil, fmt.Errorf("pool: build session: %w", err)
	}
	if err := session.Connect(ctx); err != nil {
		session.Dispose()
		return nil, fmt.Errorf("pool: connect: %w", err)
	}
	return session, nil
}

// Release returns a session obtained through Acquire. Shared shells are
// disposed when the last holder releases; private shells are disposed
// immediately.
func (p *Pool) Release(hpc string, jobID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if session, ok := p.private[jobID]; ok {
		delete(p.private, jobID)
		if err := session.Dispose(); err != nil {
			p.logger.Warn("dispose private session", zap.String("job", jobID.String()), zap.Error(err))
		}
		return
	}

	entry, ok := p.shared[hpc]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs > 0 {
		return
	}
	delete(p.shared, hpc)
	if err := entry.session.Dispose(); err != nil {
		p.logger.Warn("dispose shared session", zap.String("hpc", hpc), zap.Error(err))
	}
}

// SharedRefs reports the holder count of a cluster's shared shell.
func (p *Pool) SharedRefs(hpc string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.shared[hpc]; ok {
		return entry.refs
	}
	return 0
}

// Destroy disposes every open session. Called on shutdown after workers
// have drained.
func (p *Pool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for hpc, entry := range p.shared {
		entry.session.Dispose()
		delete(p.shared, hpc)
	}
	for jobID, session := range p.private {
		session.Dispose()
		delete(p.private, jobID)
	}
}
