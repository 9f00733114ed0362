package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/hpcgate/hpcgate/internal/config"
	"github.com/hpcgate/hpcgate/internal/maintainer"
	"github.com/hpcgate/hpcgate/internal/queue"
	"github.com/hpcgate/hpcgate/internal/supervisor"
)

// ClusterHandler exposes the configured clusters and maintainers so clients
// can discover what they may submit against.
type ClusterHandler struct {
	cfg        *config.Config
	queue      *queue.Queue
	supervisor *supervisor.Supervisor
	logger     *zap.Logger
}

// NewClusterHandler builds a ClusterHandler.
func NewClusterHandler(cfg *config.Config, q *queue.Queue, sup *supervisor.Supervisor, logger *zap.Logger) *ClusterHandler {
	return &ClusterHandler{cfg: cfg, queue: q, supervisor: sup, logger: logger}
}

type clusterResponse struct {
	Name               string              `json:"name"`
	IsCommunityAccount bool                `json:"is_community_account"`
	JobPoolCapacity    int                 `json:"job_pool_capacity"`
	Running            int                 `json:"running"`
	Queued             int64               `json:"queued"`
	SlurmInputRules    config.SlurmCeiling `json:"slurm_input_rules"`
}

// List reports every cluster with its live occupancy.
func (h *ClusterHandler) List(w http.ResponseWriter, r *http.Request) {
	items := make([]clusterResponse, 0, len(h.cfg.Hpcs))
	for _, name := range h.cfg.ClusterNames() {
		cluster := h.cfg.Hpcs[name]
		queued, err := h.queue.Length(r.Context(), name)
		if err != nil {
			h.logger.Error("queue length", zap.String("hpc", name), zap.Error(err))
			ErrInternal(w)
			return
		}
		items = append(items, clusterResponse{
			Name:               name,
			IsCommunityAccount: cluster.IsCommunityAccount,
			JobPoolCapacity:    cluster.JobPoolCapacity,
			Running:            h.supervisor.RunningCount(name),
			Queued:             queued,
			SlurmInputRules:    cluster.SlurmInputRules,
		})
	}
	Ok(w, items)
}

type maintainerResponse struct {
	Name       string `json:"name"`
	Variant    string `json:"variant"`
	DefaultHpc string `json:"default_hpc,omitempty"`
}

// Maintainers reports the configured maintainer entries and the known
// variant tags.
func (h *ClusterHandler) Maintainers(w http.ResponseWriter, r *http.Request) {
	items := make([]maintainerResponse, 0, len(h.cfg.Maintainers))
	for name, mc := range h.cfg.Maintainers {
		items = append(items, maintainerResponse{Name: name, Variant: mc.Maintainer, DefaultHpc: mc.DefaultHpc})
	}
	Ok(w, envelope{"items": items, "variants": maintainer.Variants()})
}

// Containers reports the configured container images.
func (h *ClusterHandler) Containers(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.cfg.Containers))
	for name := range h.cfg.Containers {
		names = append(names, name)
	}
	Ok(w, names)
}
