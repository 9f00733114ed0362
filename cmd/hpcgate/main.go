package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hpcgate/hpcgate/internal/api"
	"github.com/hpcgate/hpcgate/internal/config"
	"github.com/hpcgate/hpcgate/internal/credentials"
	"github.com/hpcgate/hpcgate/internal/db"
	"github.com/hpcgate/hpcgate/internal/events"
	"github.com/hpcgate/hpcgate/internal/globus"
	"github.com/hpcgate/hpcgate/internal/maintainer"
	"github.com/hpcgate/hpcgate/internal/metrics"
	"github.com/hpcgate/hpcgate/internal/notification"
	"github.com/hpcgate/hpcgate/internal/pool"
	"github.com/hpcgate/hpcgate/internal/queue"
	"github.com/hpcgate/hpcgate/internal/repositories"
	"github.com/hpcgate/hpcgate/internal/results"
	"github.com/hpcgate/hpcgate/internal/secrets"
	"github.com/hpcgate/hpcgate/internal/slurm"
	"github.com/hpcgate/hpcgate/internal/staging"
	"github.com/hpcgate/hpcgate/internal/supervisor"
	"github.com/hpcgate/hpcgate/internal/websocket"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// drainDeadline bounds how long shutdown waits for job workers.
const drainDeadline = 30 * time.Second

type flags struct {
	configPath string
	secretKey  string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:   "hpcgate",
		Short: "hpcgate - compute job supervisor for HPC clusters",
		Long: `hpcgate accepts compute jobs over a REST API, queues them per cluster,
stages their folders onto the cluster filesystem over SSH, and drives them
through Slurm until results are collected.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&f.configPath, "config", envOrDefault("HPCGATE_CONFIG", "./config.yml"), "Path to the YAML configuration file")
	root.PersistentFlags().StringVar(&f.secretKey, "secret-key", envOrDefault("HPCGATE_SECRET_KEY", ""), "Master secret for encrypting tokens at rest (required)")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", envOrDefault("HPCGATE_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hpcgate %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, f *flags) error {
	logger, err := buildLogger(f.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if f.secretKey == "" {
		return fmt.Errorf("secret key is required: set --secret-key or HPCGATE_SECRET_KEY")
	}
	key := sha256.Sum256([]byte(f.secretKey))
	if err := db.InitEncryption(key[:]); err != nil {
		return err
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}

	logger.Info("starting hpcgate",
		zap.String("version", version),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.Strings("clusters", cfg.ClusterNames()),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	database, err := db.New(db.Config{
		Driver: cfg.DB.Driver,
		DSN:    cfg.DB.DSN,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis unreachable at %s: %w", cfg.Redis.Addr(), err)
	}
	defer rdb.Close()

	jobs := repositories.NewJobRepository(database)
	folders := repositories.NewFolderRepository(database)
	caches := repositories.NewCacheRepository(database)
	eventsRepo := repositories.NewEventRepository(database)
	logsRepo := repositories.NewLogRepository(database)
	gits := repositories.NewGitRepository(database)
	access := repositories.NewAccessRepository(database)
	globusTokens := repositories.NewGlobusTokenRepository(database)

	hub := websocket.NewHub()
	go hub.Run(ctx)

	emitter := events.NewEmitter(eventsRepo, logsRepo, jobs, hub, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var transfer globus.Transferrer
	if cfg.GlobusClientID != "" {
		transfer = globus.NewClient(cfg.GlobusClientID, globusTokens, rdb, logger)
	}

	stagingEngine := staging.New(cfg.Hpcs, folders, caches, gits, transfer, cfg.LocalWorkDir, logger)
	sessionPool := pool.New(cfg.Hpcs, logger)
	slurmClient := slurm.NewClient(logger)
	resultStore := results.NewStore(rdb)
	secretStore := secrets.NewStore(rdb)
	jobQueue := queue.New(rdb, jobs, logger)

	deps := maintainer.Deps{
		Clusters:   cfg.Hpcs,
		Containers: cfg.Containers,
		Kernels:    cfg.Kernels,
		Jobs:       jobs,
		Staging:    stagingEngine,
		Slurm:      slurmClient,
		Emitter:    emitter,
		Results:    resultStore,
		Logger:     logger,
	}

	notifier := notification.New(cfg.Webhook, logger)

	sup, err := supervisor.New(cfg, jobQueue, sessionPool, secretStore, emitter, deps, m, notifier, logger)
	if err != nil {
		return err
	}
	sup.Start()

	guard := credentials.NewGuard(cfg.Hpcs, secretStore, nil, logger)

	router := api.NewRouter(api.RouterConfig{
		Cfg:        cfg,
		Supervisor: sup,
		Queue:      jobQueue,
		Guard:      guard,
		Results:    resultStore,
		Hub:        hub,
		DB:         database,
		Logger:     logger,
		Jobs:       jobs,
		Events:     eventsRepo,
		Logs:       logsRepo,
		Gits:       gits,
		Access:     access,
		Registry:   registry,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down hpcgate")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	sup.Destroy(drainDeadline)
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
