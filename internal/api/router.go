package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hpcgate/hpcgate/internal/config"
	"github.com/hpcgate/hpcgate/internal/credentials"
	"github.com/hpcgate/hpcgate/internal/db"
	"github.com/hpcgate/hpcgate/internal/queue"
	"github.com/hpcgate/hpcgate/internal/repositories"
	"github.com/hpcgate/hpcgate/internal/results"
	"github.com/hpcgate/hpcgate/internal/supervisor"
	"github.com/hpcgate/hpcgate/internal/websocket"
)

// RouterConfig holds the dependencies needed to build the HTTP router. It
// is populated in main after all components are initialized and passed as a
// single struct to keep the constructor signature manageable.
type RouterConfig struct {
	Cfg        *config.Config
	Supervisor *supervisor.Supervisor
	Queue      *queue.Queue
	Guard      *credentials.Guard
	Results    *results.Store
	Hub        *websocket.Hub
	DB         *gorm.DB
	Logger     *zap.Logger

	Jobs   repositories.JobRepository
	Events repositories.EventRepository
	Logs   repositories.LogRepository
	Gits   repositories.GitRepository
	Access repositories.AccessRepository

	// Registry backs the /metrics endpoint. Nil disables it.
	Registry *prometheus.Registry
}

// NewRouter builds the fully configured Chi router. All resources live
// under /api/v1; health and metrics are served from the root.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	jobHandler := NewJobHandler(cfg.Cfg, cfg.Jobs, cfg.Events, cfg.Logs, cfg.Supervisor, cfg.Results, cfg.Logger)
	credentialHandler := NewCredentialHandler(cfg.Guard, cfg.Logger)
	gitHandler := NewGitHandler(cfg.Gits, cfg.Logger)
	clusterHandler := NewClusterHandler(cfg.Cfg, cfg.Queue, cfg.Supervisor, cfg.Logger)
	wsHandler := NewWSHandler(cfg.Hub, cfg.Logger)

	r.Get("/healthz", healthz(cfg.DB, cfg.Hub))
	if cfg.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(RequireUser)

			// Submission routes additionally pass the allow/deny check.
			r.Group(func(r chi.Router) {
				r.Use(CheckAccess(cfg.Access, cfg.Logger))
				r.Post("/jobs", jobHandler.Submit)
				r.Post("/credentials", credentialHandler.Register)
			})

			r.Get("/jobs", jobHandler.List)
			r.Get("/jobs/{id}", jobHandler.GetByID)
			r.Post("/jobs/{id}/cancel", jobHandler.Cancel)
			r.Get("/jobs/{id}/events", jobHandler.Events)
			r.Get("/jobs/{id}/logs", jobHandler.Logs)
			r.Get("/jobs/{id}/result", jobHandler.Result)
		})

		// Discovery routes carry no user data.
		r.Get("/hpcs", clusterHandler.List)
		r.Get("/maintainers", clusterHandler.Maintainers)
		r.Get("/containers", clusterHandler.Containers)

		// Git registry management.
		r.Get("/gits", gitHandler.List)
		r.Post("/gits", gitHandler.Create)
		r.Get("/gits/{id}", gitHandler.GetByID)
		r.Put("/gits/{id}", gitHandler.Update)
		r.Delete("/gits/{id}", gitHandler.Delete)

		// Live updates.
		r.Get("/ws", wsHandler.Serve)
	})

	return r
}

// healthz reports process liveness plus database reachability and the
// connected websocket client count.
func healthz(database *gorm.DB, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		code := http.StatusOK
		if err := db.Ping(r.Context(), database); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		JSON(w, code, envelope{
			"status":     status,
			"ws_clients": hub.ConnectedCount(),
		})
	}
}
