package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Vincamine/PipelineRunner-sub000/internal/artifacts"
	"github.com/Vincamine/PipelineRunner-sub000/internal/comm/httpapi"
	"github.com/Vincamine/PipelineRunner-sub000/internal/comm/redisqueue"
	"github.com/Vincamine/PipelineRunner-sub000/internal/platform/auth"
	"github.com/Vincamine/PipelineRunner-sub000/internal/platform/httpserver"
	platformstore "github.com/Vincamine/PipelineRunner-sub000/internal/platform/objectstore"
	platformredis "github.com/Vincamine/PipelineRunner-sub000/internal/platform/redis"
	"github.com/Vincamine/PipelineRunner-sub000/internal/runtimeexec"
	"github.com/Vincamine/PipelineRunner-sub000/internal/storage/objectstore"
	"github.com/Vincamine/PipelineRunner-sub000/internal/worker"
)

const service = "worker"

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
	var signer *auth.Signer
	if authCfg.Enabled() {
		signer = &auth.Signer{Secret: authCfg.Secret, Subject: cfg.WorkerID, Roles: []string{auth.RoleWorker}}
	}

	layer, err := httpapi.NewClient(logger, httpapi.ClientConfig{
		BaseURL: cfg.DispatcherURL,
		Timeout: cfg.RequestTimeout,
		Signer:  signer,
	})
	if err != nil {
		logger.Error("invalid dispatcher config", "error", err)
		os.Exit(2)
	}

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
	queue, err := redisqueue.New(logger, client, redisqueue.Options{KeyPrefix: redisCfg.KeyPrefix})
	if err != nil {
		logger.Error("redis queue init failed", "error", err)
		os.Exit(1)
	}
	defer queue.Close()

	executor, err := runtimeexec.New(runtimeexec.Options{
		Kind:      cfg.Executor,
		DockerBin: cfg.DockerBin,
		Pull:      cfg.PullImages,
	})
	if err != nil {
		logger.Error("invalid executor", "error", err)
		os.Exit(2)
	}

	collector, err := artifacts.NewCollector(logger, cfg.ArtifactRoot)
	if err != nil {
		logger.Error("invalid artifact config", "error", err)
		os.Exit(2)
	}
	checks := []httpserver.ReadinessCheck{{
		Name: "redis",
		Check: func(ctx context.Context) error {
			checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			return client.Ping(checkCtx).Err()
		},
	}}

	var uploader *artifacts.Uploader
	if cfg.UploadArtifacts {
		storeCfg, err := platformstore.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid object store config", "error", err)
			os.Exit(2)
		}
		minioClient, err := platformstore.NewMinIOClient(storeCfg)
		if err != nil {
			logger.Error("object store init failed", "error", err)
			os.Exit(1)
		}
		if err := platformstore.EnsureBucket(ctx, minioClient, storeCfg); err != nil {
			logger.Error("object store unavailable", "error", err)
			os.Exit(1)
		}
		store, err := objectstore.NewMinioStoreWithClient(minioClient)
		if err != nil {
			logger.Error("object store init failed", "error", err)
			os.Exit(1)
		}
		uploader, err = artifacts.NewUploader(store, storeCfg.BucketArtifacts)
		if err != nil {
			logger.Error("artifact uploader init failed", "error", err)
			os.Exit(1)
		}
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "minio",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return platformstore.CheckBucket(checkCtx, minioClient, storeCfg)
			},
		})
	}

	runner, err := worker.NewRunner(logger, layer, executor, worker.RunnerOptions{
		Collector: collector,
		Uploader:  uploader,
	})
	if err != nil {
		logger.Error("worker init failed", "error", err)
		os.Exit(1)
	}
	pool, err := worker.NewPool(logger, queue, queue, runner, worker.PoolConfig{
		Concurrency:   cfg.Concurrency,
		PollRate:      cfg.PollRate,
		ShutdownGrace: cfg.ShutdownGrace,
	})
	if err != nil {
		logger.Error("worker pool init failed", "error", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Get("/healthz", httpserver.Healthz(service))
	r.Get("/readyz", httpserver.ReadyzWithChecks(service, checks...))
	r.Handle("/metrics", promhttp.Handler())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(gctx, logger, httpserver.Config{
			Service:         service,
			Addr:            cfg.MetricsAddr,
			ShutdownTimeout: cfg.ShutdownTimeout,
		}, httpserver.Wrap(logger, r))
	})
	g.Go(func() error {
		logger.Info("worker started",
			"dispatcher", cfg.DispatcherURL,
			"concurrency", cfg.Concurrency,
			"executor", executor.Kind(),
		)
		return pool.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
}
