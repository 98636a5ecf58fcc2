package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Vincamine/PipelineRunner-sub000/internal/comm"
	"github.com/Vincamine/PipelineRunner-sub000/internal/comm/httpapi"
	"github.com/Vincamine/PipelineRunner-sub000/internal/comm/redisqueue"
	"github.com/Vincamine/PipelineRunner-sub000/internal/dispatch"
	"github.com/Vincamine/PipelineRunner-sub000/internal/platform/auditlog"
	"github.com/Vincamine/PipelineRunner-sub000/internal/platform/auth"
	"github.com/Vincamine/PipelineRunner-sub000/internal/platform/httpserver"
	"github.com/Vincamine/PipelineRunner-sub000/internal/platform/postgres"
	platformredis "github.com/Vincamine/PipelineRunner-sub000/internal/platform/redis"
	"github.com/Vincamine/PipelineRunner-sub000/internal/platform/requestid"
	"github.com/Vincamine/PipelineRunner-sub000/internal/repo"
	"github.com/Vincamine/PipelineRunner-sub000/internal/repo/memory"
	repopostgres "github.com/Vincamine/PipelineRunner-sub000/internal/repo/postgres"
	"github.com/Vincamine/PipelineRunner-sub000/internal/runtimeexec"
	"github.com/Vincamine/PipelineRunner-sub000/internal/worker"
)

const service = "dispatcher"

type queueBackend interface {
	comm.JobQueue
	comm.CancelBus
	Close()
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(2)
	}

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}

	var (
		defs   repo.DefinitionRepository
		execs  repo.ExecutionRepository
		db     *sql.DB
		checks []httpserver.ReadinessCheck
	)
	switch cfg.Store {
	case backendPostgres:
		dbCfg, err := postgres.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid database config", "error", err)
			os.Exit(2)
		}
		db, err = postgres.Open(ctx, dbCfg)
		if err != nil {
			logger.Error("database unavailable", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		if err := repopostgres.Migrate(ctx, db); err != nil {
			logger.Error("database migration failed", "error", err)
			os.Exit(1)
		}
		defs = repopostgres.NewDefinitionStore(db)
		execs = repopostgres.NewExecutionStore(db)
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "postgres",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return db.PingContext(checkCtx)
			},
		})
	default:
		store := memory.NewStore()
		defs, execs = store, store
		logger.Warn("using in-memory store; executions are lost on restart")
	}

	var queue queueBackend
	switch cfg.Queue {
	case backendRedis:
		redisCfg, err := platformredis.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid redis config", "error", err)
			os.Exit(2)
		}
		client, err := platformredis.Open(ctx, redisCfg)
		if err != nil {
			logger.Error("redis unavailable", "error", err)
			os.Exit(1)
		}
		defer func() { _ = client.Close() }()
		rq, err := redisqueue.New(logger, client, redisqueue.Options{KeyPrefix: redisCfg.KeyPrefix})
		if err != nil {
			logger.Error("redis queue init failed", "error", err)
			os.Exit(1)
		}
		queue = rq
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "redis",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return client.Ping(checkCtx).Err()
			},
		})
	default:
		queue = comm.NewMemoryQueue()
	}
	defer queue.Close()

	engine, err := dispatch.New(logger, defs, execs, queue, queue, dispatch.Config{DependencyTimeout: cfg.DependencyTimeout})
	if err != nil {
		logger.Error("dispatcher init failed", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	resumed, err := engine.Resume(ctx)
	if err != nil {
		logger.Error("resume unfinished runs failed", "error", err)
		os.Exit(1)
	}
	if resumed > 0 {
		logger.Info("resumed unfinished runs", "count", resumed)
	}

	var apiOpts httpapi.ServerOptions
	if db != nil {
		apiOpts.Audit = func(ctx context.Context, actor, action, pipelineExecutionID string, payload map[string]any) error {
			requestID, _ := requestid.FromContext(ctx)
			_, err := auditlog.Insert(ctx, db, auditlog.RunEvent(actor, action, pipelineExecutionID, requestID, payload))
			return err
		}
	}

	r := chi.NewRouter()
	r.Get("/healthz", httpserver.Healthz(service))
	r.Get("/readyz", httpserver.ReadyzWithChecks(service, checks...))
	r.Handle("/metrics", promhttp.Handler())
	httpapi.NewServer(logger, engine, apiOpts).Register(r)

	var handler http.Handler = r
	if authCfg.Enabled() {
		authn, err := auth.NewHeadersAuthenticator(authCfg)
		if err != nil {
			logger.Error("invalid auth config", "error", err)
			os.Exit(2)
		}
		mw := auth.Middleware{
			Logger:        logger,
			Authenticator: authn,
			Authorize:     auth.RoleAuthorizer(),
			SkipPrefixes:  []string{"/healthz", "/readyz", "/metrics"},
		}
		if db != nil {
			mw.Audit = func(ctx context.Context, event auth.DenyEvent) error {
				auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return auditlog.InsertAuthDeny(auditCtx, db, service, event)
			}
		}
		handler = mw.Wrap(r)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(gctx, logger, httpserver.Config{
			Service:         service,
			Addr:            cfg.Addr,
			ShutdownTimeout: cfg.ShutdownTimeout,
		}, httpserver.Wrap(logger, handler))
	})

	if cfg.LocalWorkers > 0 {
		executor, err := runtimeexec.New(runtimeexec.Options{Kind: cfg.Executor})
		if err != nil {
			logger.Error("invalid executor", "error", err)
			os.Exit(2)
		}
		runner, err := worker.NewRunner(logger, engine, executor, worker.RunnerOptions{})
		if err != nil {
			logger.Error("worker init failed", "error", err)
			os.Exit(1)
		}
		pool, err := worker.NewPool(logger, queue, queue, runner, worker.PoolConfig{
			Concurrency:   cfg.LocalWorkers,
			ShutdownGrace: cfg.ShutdownTimeout,
		})
		if err != nil {
			logger.Error("worker pool init failed", "error", err)
			os.Exit(1)
		}
		logger.Info("local workers enabled", "concurrency", cfg.LocalWorkers, "executor", executor.Kind())
		g.Go(func() error { return pool.Run(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("dispatcher failed", "error", err)
		os.Exit(1)
	}
}
