package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hpcgate/hpcgate/internal/config"
	"github.com/hpcgate/hpcgate/internal/db"
	"github.com/hpcgate/hpcgate/internal/repositories"
	"github.com/hpcgate/hpcgate/internal/results"
	"github.com/hpcgate/hpcgate/internal/slurm"
	"github.com/hpcgate/hpcgate/internal/staging"
	"github.com/hpcgate/hpcgate/internal/supervisor"
)

// JobHandler serves the job resource: submission, inspection, cancellation
// and the per-job event, log and result listings.
type JobHandler struct {
	cfg        *config.Config
	jobs       repositories.JobRepository
	eventsRepo repositories.EventRepository
	logsRepo   repositories.LogRepository
	supervisor *supervisor.Supervisor
	results    *results.Store
	logger     *zap.Logger
}

// NewJobHandler builds a JobHandler.
func NewJobHandler(
	cfg *config.Config,
	jobs repositories.JobRepository,
	eventsRepo repositories.EventRepository,
	logsRepo repositories.LogRepository,
	sup *supervisor.Supervisor,
	res *results.Store,
	logger *zap.Logger,
) *JobHandler {
	return &JobHandler{
		cfg:        cfg,
		jobs:       jobs,
		eventsRepo: eventsRepo,
		logsRepo:   logsRepo,
		supervisor: sup,
		results:    res,
		logger:     logger,
	}
}

type submitJobRequest struct {
	Maintainer   string            `json:"maintainer"`
	Hpc          string            `json:"hpc,omitempty"`
	CredentialID string            `json:"credential_id,omitempty"`
	Param        map[string]string `json:"param,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	Slurm        *slurm.Options    `json:"slurm,omitempty"`

	ExecutableFolder staging.Source  `json:"executable_folder"`
	DataFolder       *staging.Source `json:"data_folder,omitempty"`
}

type jobResponse struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	Maintainer    string            `json:"maintainer"`
	Hpc           string            `json:"hpc"`
	RemoteID      string            `json:"remote_id,omitempty"`
	Param         map[string]string `json:"param,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
	Slurm         *slurm.Options    `json:"slurm,omitempty"`
	IsFailed      bool              `json:"is_failed"`
	CreatedAt     time.Time         `json:"created_at"`
	QueuedAt      *time.Time        `json:"queued_at,omitempty"`
	InitializedAt *time.Time        `json:"initialized_at,omitempty"`
	FinishedAt    *time.Time        `json:"finished_at,omitempty"`

	Nodes       int   `json:"nodes,omitempty"`
	CPUs        int   `json:"cpus,omitempty"`
	CPUTime     int64 `json:"cpu_time_seconds,omitempty"`
	WallTime    int64 `json:"wall_time_seconds,omitempty"`
	Memory      int64 `json:"memory_bytes,omitempty"`
	MemoryUsage int64 `json:"memory_usage_bytes,omitempty"`
}

func toJobResponse(job *db.Job) jobResponse {
	resp := jobResponse{
		ID:            job.ID.String(),
		UserID:        job.UserID,
		Maintainer:    job.Maintainer,
		Hpc:           job.Hpc,
		RemoteID:      job.RemoteID,
		IsFailed:      job.IsFailed,
		CreatedAt:     job.CreatedAt,
		QueuedAt:      job.QueuedAt,
		InitializedAt: job.InitializedAt,
		FinishedAt:    job.FinishedAt,
		Nodes:         job.Nodes,
		CPUs:          job.CPUs,
		CPUTime:       job.CPUTime,
		WallTime:      job.WallTime,
		Memory:        job.Memory,
		MemoryUsage:   job.MemoryUsage,
	}
	resp.Param, _ = decodeStringMap(job.Param)
	resp.Env, _ = decodeStringMap(job.Env)
	if job.Slurm != "" {
		var opts slurm.Options
		if err := jsonUnmarshal(job.Slurm, &opts); err == nil {
			resp.Slurm = &opts
		}
	}
	return resp
}

// Submit registers a job and places it on its cluster's admission queue.
func (h *JobHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	mc, ok := h.cfg.Maintainers[req.Maintainer]
	if !ok {
		ErrUnprocessable(w, "unknown maintainer "+req.Maintainer)
		return
	}

	hpc := req.Hpc
	if hpc == "" {
		hpc = mc.DefaultHpc
	}
	cluster, ok := h.cfg.Hpcs[hpc]
	if !ok {
		ErrUnprocessable(w, "unknown hpc "+hpc)
		return
	}
	if !cluster.IsCommunityAccount && req.CredentialID == "" {
		ErrUnprocessable(w, "cluster "+hpc+" requires a registered credential")
		return
	}

	if err := req.ExecutableFolder.Validate(); err != nil {
		ErrUnprocessable(w, err.Error())
		return
	}
	if req.ExecutableFolder.Type == staging.SourceEmpty {
		ErrUnprocessable(w, "executable folder source is required")
		return
	}
	if req.DataFolder != nil {
		if err := req.DataFolder.Validate(); err != nil {
			ErrUnprocessable(w, err.Error())
			return
		}
	}

	var opts slurm.Options
	if req.Slurm != nil {
		opts = *req.Slurm
		if err := slurm.Validate(opts, cluster); err != nil {
			ErrUnprocessable(w, err.Error())
			return
		}
	}

	job := &db.Job{
		UserID:                userFromCtx(r.Context()),
		Maintainer:            req.Maintainer,
		Hpc:                   hpc,
		CredentialID:          req.CredentialID,
		Param:                 encodeStringMap(req.Param),
		Env:                   encodeStringMap(req.Env),
		Slurm:                 jsonMarshal(opts),
		LocalExecutableFolder: jsonMarshal(req.ExecutableFolder),
	}
	if req.DataFolder != nil {
		job.LocalDataFolder = jsonMarshal(*req.DataFolder)
	}

	if err := h.jobs.Create(r.Context(), job); err != nil {
		h.logger.Error("create job", zap.Error(err))
		ErrInternal(w)
		return
	}

	if err := h.supervisor.PushJobToQueue(r.Context(), job); err != nil {
		h.logger.Error("enqueue job", zap.String("job", job.ID.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	Created(w, toJobResponse(job))
}

// List returns the caller's jobs, newest first.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := listOptionsFromQuery(r)
	jobs, total, err := h.jobs.ListByUser(r.Context(), userFromCtx(r.Context()), opts)
	if err != nil {
		h.logger.Error("list jobs", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		items = append(items, toJobResponse(&jobs[i]))
	}
	Ok(w, envelope{"items": items, "total": total})
}

// GetByID returns one of the caller's jobs.
func (h *JobHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	Ok(w, toJobResponse(job))
}

// Cancel signals a running job's worker. A job still waiting on the queue
// is not interrupted; the response reports whether a worker was signalled.
func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}

	cancelled := h.supervisor.CancelJob(job.ID)
	JSON(w, http.StatusAccepted, envelope{"data": envelope{
		"id":        job.ID.String(),
		"cancelled": cancelled,
	}})
}

// Events returns a job's lifecycle events in order.
func (h *JobHandler) Events(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}

	list, err := h.eventsRepo.ListByJob(r.Context(), job.ID)
	if err != nil {
		h.logger.Error("list events", zap.Error(err))
		ErrInternal(w)
		return
	}

	type eventResponse struct {
		Type      string    `json:"type"`
		Message   string    `json:"message"`
		CreatedAt time.Time `json:"created_at"`
	}
	items := make([]eventResponse, 0, len(list))
	for _, e := range list {
		items = append(items, eventResponse{Type: e.Type, Message: e.Message, CreatedAt: e.CreatedAt})
	}
	Ok(w, items)
}

// Logs returns a job's stored output excerpts in order.
func (h *JobHandler) Logs(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}

	list, err := h.logsRepo.ListByJob(r.Context(), job.ID)
	if err != nil {
		h.logger.Error("list logs", zap.Error(err))
		ErrInternal(w)
		return
	}

	type logResponse struct {
		Message   string    `json:"message"`
		CreatedAt time.Time `json:"created_at"`
	}
	items := make([]logResponse, 0, len(list))
	for _, l := range list {
		items = append(items, logResponse{Message: l.Message, CreatedAt: l.CreatedAt})
	}
	Ok(w, items)
}

// Result returns the cached result-folder listing of a finished job.
func (h *JobHandler) Result(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}

	files, err := h.results.Get(r.Context(), job.ID)
	if errors.Is(err, results.ErrNotFound) {
		ErrNotFound(w)
		return
	}
	if err != nil {
		h.logger.Error("result listing", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, envelope{"files": files})
}

// ownedJob loads the path job and enforces ownership.
func (h *JobHandler) ownedJob(w http.ResponseWriter, r *http.Request) (*db.Job, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		ErrBadRequest(w, "invalid job id")
		return nil, false
	}

	job, err := h.jobs.GetByID(r.Context(), id)
	if errors.Is(err, repositories.ErrNotFound) {
		ErrNotFound(w)
		return nil, false
	}
	if err != nil {
		h.logger.Error("get job", zap.Error(err))
		ErrInternal(w)
		return nil, false
	}

	if job.UserID != userFromCtx(r.Context()) {
		ErrNotFound(w)
		return nil, false
	}
	return job, true
}

func listOptionsFromQuery(r *http.Request) repositories.ListOptions {
	opts := repositories.ListOptions{Limit: 50}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 200 {
		opts.Limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		opts.Offset = v
	}
	return opts
}
