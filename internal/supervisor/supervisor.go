// Package supervisor owns job admission and execution. An admission tick
// moves jobs from the per-cluster redis queues into bounded run pools; each
// admitted job gets a worker goroutine that drives its maintainer until the
// job ends. Cancellation only reaches running jobs; queued jobs stay on
// the queue and run to completion once admitted.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hpcgate/hpcgate/internal/config"
	"github.com/hpcgate/hpcgate/internal/db"
	"github.com/hpcgate/hpcgate/internal/events"
	"github.com/hpcgate/hpcgate/internal/maintainer"
	"github.com/hpcgate/hpcgate/internal/metrics"
	"github.com/hpcgate/hpcgate/internal/notification"
	"github.com/hpcgate/hpcgate/internal/pool"
	"github.com/hpcgate/hpcgate/internal/queue"
	"github.com/hpcgate/hpcgate/internal/secrets"
	"github.com/hpcgate/hpcgate/internal/ssh"
)

// maxInitAttempts bounds workspace initialization retries before a job is
// failed outright.
const maxInitAttempts = 5

// Supervisor coordinates the admission scheduler and the job workers.
type Supervisor struct {
	cfg      *config.Config
	queue    *queue.Queue
	pool     *pool.Pool
	secrets  *secrets.Store
	emitter  *events.Emitter
	deps     maintainer.Deps
	metrics  *metrics.Metrics
	notifier *notification.Notifier
	logger   *zap.Logger

	scheduler gocron.Scheduler

	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup

	mu      sync.Mutex
	running map[string]map[uuid.UUID]*worker
}

type worker struct {
	job        *db.Job
	cancelFlag chan struct{}
	cancelOnce sync.Once
}

func (w *worker) requestCancel() {
	w.cancelOnce.Do(func() { close(w.cancelFlag) })
}

func (w *worker) cancelRequested() bool {
	select {
	case <-w.cancelFlag:
		return true
	default:
		return false
	}
}

// New builds a Supervisor. m may be nil to disable instrumentation.
func New(
	cfg *config.Config,
	q *queue.Queue,
	p *pool.Pool,
	store *secrets.Store,
	emitter *events.Emitter,
	deps maintainer.Deps,
	m *metrics.Metrics,
	notifier *notification.Notifier,
	logger *zap.Logger,
) (*Supervisor, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("supervisor: scheduler: %w", err)
	}

	baseCtx, cancelAll := context.WithCancel(context.Background())
	s := &Supervisor{
		cfg:       cfg,
		queue:     q,
		pool:      p,
		secrets:   store,
		emitter:   emitter,
		deps:      deps,
		metrics:   m,
		notifier:  notifier,
		logger:    logger.Named("supervisor"),
		scheduler: scheduler,
		baseCtx:   baseCtx,
		cancelAll: cancelAll,
		running:   make(map[string]map[uuid.UUID]*worker),
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(cfg.QueueConsumePeriod()),
		gocron.NewTask(s.tick),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		cancelAll()
		return nil, fmt.Errorf("supervisor: register admission tick: %w", err)
	}
	return s, nil
}

// Start begins the admission ticks.
func (s *Supervisor) Start() {
	s.scheduler.Start()
	s.logger.Info("admission scheduler started",
		zap.Duration("period", s.cfg.QueueConsumePeriod()),
		zap.Strings("clusters", s.cfg.ClusterNames()))
}

// PushJobToQueue stamps the job and places it on its cluster's queue.
func (s *Supervisor) PushJobToQueue(ctx context.Context, job *db.Job) error {
	if err := s.deps.Jobs.SetQueuedAt(ctx, job.ID, time.Now()); err != nil {
		return err
	}
	if err := s.queue.Push(ctx, job.Hpc, job.ID); err != nil {
		return err
	}
	s.emitter.Emit(ctx, job.ID, events.TypeJobQueued, "job queued for "+job.Hpc)
	if s.metrics != nil {
		s.metrics.JobsQueued.WithLabelValues(job.Hpc).Inc()
	}
	return nil
}

// CancelJob signals a running job's worker. Jobs still waiting on the queue
// are not affected and will run when admitted.
func (s *Supervisor) CancelJob(jobID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, workers := range s.running {
		if w, ok := workers[jobID]; ok {
			w.requestCancel()
			return true
		}
	}
	return false
}

// RunningCount reports the occupied run-pool slots of a cluster.
func (s *Supervisor) RunningCount(hpc string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running[hpc])
}

// tick is one admission pass: fill every cluster's free slots from its
// queue, oldest job first.
func (s *Supervisor) tick() {
	ctx := s.baseCtx
	for _, hpc := range s.cfg.ClusterNames() {
		cluster := s.cfg.Hpcs[hpc]
		for s.RunningCount(hpc) < cluster.JobPoolCapacity {
			job, err := s.queue.Pop(ctx, hpc)
			if err != nil {
				s.logger.Error("admission pop", zap.String("hpc", hpc), zap.Error(err))
				break
			}
			if job == nil {
				break
			}
			s.admit(job)
		}
	}
}

func (s *Supervisor) admit(job *db.Job) {
	w := &worker{job: job, cancelFlag: make(chan struct{})}

	s.mu.Lock()
	if s.running[job.Hpc] == nil {
		s.running[job.Hpc] = make(map[uuid.UUID]*worker)
	}
	s.running[job.Hpc][job.ID] = w
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.JobsAdmitted.WithLabelValues(job.Hpc).Inc()
		s.metrics.JobsRunning.WithLabelValues(job.Hpc).Inc()
	}
	s.logger.Info("job admitted", zap.String("job", job.ID.String()), zap.String("hpc", job.Hpc))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(w)
		s.runWorker(w)
	}()
}

func (s *Supervisor) release(w *worker) {
	s.mu.Lock()
	delete(s.running[w.job.Hpc], w.job.ID)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.JobsRunning.WithLabelValues(w.job.Hpc).Dec()
	}
}

// runWorker drives one job from admission to its end.
func (s *Supervisor) runWorker(w *worker) {
	ctx := s.baseCtx
	job := w.job
	log := s.logger.With(zap.String("job", job.ID.String()), zap.String("hpc", job.Hpc))

	login, err := s.resolveLogin(ctx, job)
	if err != nil {
		s.fail(ctx, job, "credential lookup failed: "+err.Error())
		return
	}

	sess, err := s.pool.Acquire(ctx, job.Hpc, job.ID, login)
	if err != nil {
		s.fail(ctx, job, "connection failed: "+err.Error())
		return
	}
	defer s.pool.Release(job.Hpc, job.ID)

	s.emitter.Emit(ctx, job.ID, events.TypeJobRegistered, "job registered on "+job.Hpc)

	variant, err := s.resolveVariant(job)
	if err != nil {
		s.fail(ctx, job, err.Error())
		return
	}
	m, err := maintainer.New(variant, s.deps, job)
	if err != nil {
		s.fail(ctx, job, err.Error())
		return
	}

	if !s.initialize(ctx, m, sess, job, log) {
		return
	}
	s.maintain(ctx, m, w, sess, job, log)
}

// initialize retries workspace setup until it sticks or the attempt budget
// runs out.
func (s *Supervisor) initialize(ctx context.Context, m maintainer.Maintainer, sess ssh.Session, job *db.Job, log *zap.Logger) bool {
	for attempt := 1; !m.IsInit(); attempt++ {
		err := m.Init(ctx, sess, job)
		if err == nil {
			continue
		}

		s.emitter.Emit(ctx, job.ID, events.TypeJobInitError, events.Truncate(err.Error()))
		if attempt >= maxInitAttempts || ctx.Err() != nil {
			s.fail(ctx, job, fmt.Sprintf("initialization failed after %d attempts", attempt))
			return false
		}

		s.emitter.Emit(ctx, job.ID, events.TypeJobRetry, fmt.Sprintf("retrying initialization (attempt %d)", attempt+1))
		if s.metrics != nil {
			s.metrics.InitRetries.WithLabelValues(job.Hpc).Inc()
		}
		log.Warn("init retry", zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.cfg.WorkerPollInterval()):
		}
	}
	return true
}

// maintain polls the job until it ends or is cancelled.
func (s *Supervisor) maintain(ctx context.Context, m maintainer.Maintainer, w *worker, sess ssh.Session, job *db.Job, log *zap.Logger) {
	ticker := time.NewTicker(s.cfg.WorkerPollInterval())
	defer ticker.Stop()

	for !m.IsEnd() {
		if w.cancelRequested() {
			if err := m.OnCancel(ctx, sess, job); err != nil {
				log.Error("cancel", zap.Error(err))
				s.fail(ctx, job, "cancellation failed: "+err.Error())
				return
			}
			if s.metrics != nil {
				s.metrics.JobsFailed.WithLabelValues(job.Hpc).Inc()
			}
			s.releaseCredential(ctx, job)
			return
		}

		if err := m.Maintain(ctx, sess, job); err != nil {
			if ctx.Err() != nil {
				log.Info("worker stopped during shutdown")
				return
			}
			log.Error("maintain", zap.Error(err))
			s.fail(ctx, job, "maintenance failed: "+err.Error())
			return
		}

		if m.IsEnd() {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}

	if s.metrics != nil {
		if job.IsFailed {
			s.metrics.JobsFailed.WithLabelValues(job.Hpc).Inc()
		} else {
			s.metrics.JobsCompleted.WithLabelValues(job.Hpc).Inc()
		}
	}
	if s.notifier != nil {
		if job.IsFailed {
			s.notifier.JobFailed(ctx, job.ID, job.Hpc, "scheduler reported failure")
		} else {
			s.notifier.JobEnded(ctx, job.ID, job.Hpc)
		}
	}
	s.releaseCredential(ctx, job)
	log.Info("job finished", zap.Bool("failed", job.IsFailed))
}

func (s *Supervisor) fail(ctx context.Context, job *db.Job, message string) {
	s.emitter.Emit(ctx, job.ID, events.TypeJobFailed, events.Truncate(message))
	if s.metrics != nil {
		s.metrics.JobsFailed.WithLabelValues(job.Hpc).Inc()
	}
	if s.notifier != nil {
		s.notifier.JobFailed(ctx, job.ID, job.Hpc, message)
	}
	s.releaseCredential(ctx, job)
}

// releaseCredential drops a terminal job's stored login. The credential's
// lifetime matches the job's; nothing else references it afterwards.
func (s *Supervisor) releaseCredential(ctx context.Context, job *db.Job) {
	if job.CredentialID == "" {
		return
	}
	if err := s.secrets.Delete(ctx, job.CredentialID); err != nil {
		s.logger.Warn("delete credential",
			zap.String("job", job.ID.String()),
			zap.Error(err))
	}
}

// resolveLogin fetches the job's stored credential for private-account
// clusters. Community clusters use the configured shared login and need
// none.
func (s *Supervisor) resolveLogin(ctx context.Context, job *db.Job) (*config.Login, error) {
	cluster, ok := s.cfg.Hpcs[job.Hpc]
	if !ok {
		return nil, fmt.Errorf("unknown cluster %q", job.Hpc)
	}
	if cluster.IsCommunityAccount {
		return nil, nil
	}
	if job.CredentialID == "" {
		return nil, errors.New("job has no credential")
	}

	cred, err := s.secrets.Get(ctx, job.CredentialID)
	if err != nil {
		return nil, err
	}
	return &config.Login{User: cred.User, Password: cred.Password}, nil
}

func (s *Supervisor) resolveVariant(job *db.Job) (string, error) {
	mc, ok := s.cfg.Maintainers[job.Maintainer]
	if !ok {
		return "", fmt.Errorf("unknown maintainer %q", job.Maintainer)
	}
	return mc.Maintainer, nil
}

// Destroy stops admission, signals every worker, and waits up to deadline
// for them to drain before tearing down the connection pool.
func (s *Supervisor) Destroy(deadline time.Duration) {
	if err := s.scheduler.Shutdown(); err != nil {
		s.logger.Warn("scheduler shutdown", zap.Error(err))
	}
	s.cancelAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(deadline):
		s.logger.Warn("workers did not drain before deadline", zap.Duration("deadline", deadline))
	}

	s.pool.Destroy()
	s.logger.Info("supervisor stopped")
}
