// Package maintainer implements the per-job state machines that drive a job
// from staged workspace to collected results. A maintainer instance belongs
// to exactly one job worker; the worker loops it through Init until the job
// is submitted, then through Maintain until the job ends, and calls OnCancel
// when the supervisor signals cancellation.
package maintainer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/hpcgate/hpcgate/internal/config"
	"github.com/hpcgate/hpcgate/internal/db"
	"github.com/hpcgate/hpcgate/internal/events"
	"github.com/hpcgate/hpcgate/internal/repositories"
	"github.com/hpcgate/hpcgate/internal/results"
	"github.com/hpcgate/hpcgate/internal/slurm"
	"github.com/hpcgate/hpcgate/internal/ssh"
	"github.com/hpcgate/hpcgate/internal/staging"
)

// Maintainer drives one job. Implementations are not safe for concurrent
// use; each instance is confined to its worker goroutine.
type Maintainer interface {
	// Init stages the workspace and submits the job to Slurm. The worker
	// calls it repeatedly until IsInit reports true; a failed attempt
	// leaves the maintainer ready for a retry.
	Init(ctx context.Context, sess ssh.Session, job *db.Job) error

	// Maintain polls the scheduler once and, on a terminal state, collects
	// outputs and accounting. Sets IsEnd.
	Maintain(ctx context.Context, sess ssh.Session, job *db.Job) error

	// OnCancel stops the remote job and marks the maintainer ended.
	OnCancel(ctx context.Context, sess ssh.Session, job *db.Job) error

	IsInit() bool
	IsEnd() bool
}

// Variant tags resolved against the registry.
const (
	VariantCommunity = "community_contribution"
	VariantBasic     = "basic"
)

// Deps carries the shared collaborators a maintainer needs.
type Deps struct {
	Clusters   map[string]config.Cluster
	Containers map[string]config.Container
	Kernels    map[string]config.Kernel

	Jobs    repositories.JobRepository
	Staging *staging.Engine
	Slurm   *slurm.Client
	Emitter *events.Emitter
	Results *results.Store
	Logger  *zap.Logger
}

// Factory builds a maintainer instance for one job.
type Factory func(deps Deps, job *db.Job) (Maintainer, error)

var registry = map[string]Factory{
	VariantCommunity: newCommunity,
	VariantBasic:     newBasic,
}

// New resolves a variant tag and builds a maintainer for the job.
func New(variant string, deps Deps, job *db.Job) (Maintainer, error) {
	factory, ok := registry[variant]
	if !ok {
		return nil, fmt.Errorf("maintainer: unknown variant %q", variant)
	}
	return factory(deps, job)
}

// Variants lists the registered variant tags in sorted order.
func Variants() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveHpc picks the cluster a job runs on: the job's explicit choice, or
// the default of its maintainer configuration.
func ResolveHpc(job *db.Job, maintainers map[string]config.MaintainerConfig) (string, error) {
	if job.Hpc != "" {
		return job.Hpc, nil
	}
	mc, ok := maintainers[job.Maintainer]
	if !ok || mc.DefaultHpc == "" {
		return "", fmt.Errorf("maintainer: no cluster for job %s", job.ID)
	}
	return mc.DefaultHpc, nil
}

func decodeMap(raw string) (map[string]string, error) {
	if raw == "" {
		return map[string]string{}, nil
	}
	m := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("maintainer: decode map: %w", err)
	}
	return m, nil
}

func decodeSlurmOptions(raw string) (slurm.Options, error) {
	var opts slurm.Options
	if raw == "" {
		return opts, nil
	}
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return opts, fmt.Errorf("maintainer: decode slurm options: %w", err)
	}
	return opts, nil
}

// emit is a shorthand used by the variants.
func emit(ctx context.Context, e *events.Emitter, job *db.Job, eventType, message string) {
	e.Emit(ctx, job.ID, eventType, message)
}
