package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Vincamine/PipelineRunner-sub000/internal/artifacts"
	"github.com/Vincamine/PipelineRunner-sub000/internal/comm"
	"github.com/Vincamine/PipelineRunner-sub000/internal/comm/httpapi"
	"github.com/Vincamine/PipelineRunner-sub000/internal/dispatch"
	"github.com/Vincamine/PipelineRunner-sub000/internal/domain"
	"github.com/Vincamine/PipelineRunner-sub000/internal/platform/auth"
	"github.com/Vincamine/PipelineRunner-sub000/internal/platform/env"
	"github.com/Vincamine/PipelineRunner-sub000/internal/repo/memory"
	"github.com/Vincamine/PipelineRunner-sub000/internal/runtimeexec"
	"github.com/Vincamine/PipelineRunner-sub000/internal/worker"
)

// runLocal wires engine and worker pool over in-memory state. Interrupting
// the command cancels the run before the report is taken.
func runLocal(ctx context.Context, logger *slog.Logger, opts options, def domain.PipelineDefinition) (dispatch.StatusReport, error) {
	executor, err := runtimeexec.New(runtimeexec.Options{Kind: opts.Executor, Pull: true})
	if err != nil {
		return dispatch.StatusReport{}, err
	}

	store := memory.NewStore()
	queue := comm.NewMemoryQueue()
	defer queue.Close()

	engine, err := dispatch.New(logger, store, store, queue, queue, dispatch.Config{DependencyTimeout: opts.DependencyTimeout})
	if err != nil {
		return dispatch.StatusReport{}, err
	}
	defer engine.Close()

	var runnerOpts worker.RunnerOptions
	if opts.ArtifactRoot != "" {
		collector, err := artifacts.NewCollector(logger, opts.ArtifactRoot)
		if err != nil {
			return dispatch.StatusReport{}, err
		}
		runnerOpts.Collector = collector
	}
	runner, err := worker.NewRunner(logger, engine, executor, runnerOpts)
	if err != nil {
		return dispatch.StatusReport{}, err
	}
	pool, err := worker.NewPool(logger, queue, queue, runner, worker.PoolConfig{Concurrency: opts.Concurrency})
	if err != nil {
		return dispatch.StatusReport{}, err
	}

	poolCtx, stopPool := context.WithCancel(context.Background())
	poolDone := make(chan error, 1)
	go func() { poolDone <- pool.Run(poolCtx) }()
	defer func() {
		stopPool()
		<-poolDone
	}()

	pipeline, err := engine.Submit(ctx, dispatch.SubmitRequest{
		PipelineID: opts.PipelineID,
		Definition: def,
		CommitHash: opts.CommitHash,
		IsLocal:    true,
	})
	if err != nil && pipeline.ID == "" {
		return dispatch.StatusReport{}, err
	}

	report, err := follow(ctx, opts.PollInterval, func(ctx context.Context) (dispatch.StatusReport, error) {
		return engine.PipelineStatus(ctx, pipeline.ID)
	})
	if errors.Is(err, context.Canceled) {
		background := context.Background()
		if cerr := engine.Cancel(background, pipeline.ID); cerr != nil {
			return dispatch.StatusReport{}, fmt.Errorf("cancel run: %w", cerr)
		}
		return engine.PipelineStatus(background, pipeline.ID)
	}
	return report, err
}

func runRemote(ctx context.Context, logger *slog.Logger, opts options, def domain.PipelineDefinition) (dispatch.StatusReport, error) {
	client, err := newRemoteClient(logger, opts)
	if err != nil {
		return dispatch.StatusReport{}, err
	}
	pipeline, err := client.Submit(ctx, dispatch.SubmitRequest{
		PipelineID: opts.PipelineID,
		Definition: def,
		CommitHash: opts.CommitHash,
	})
	if err != nil {
		return dispatch.StatusReport{}, err
	}
	if opts.Detach {
		return client.PipelineStatus(ctx, pipeline.ID)
	}
	return follow(ctx, opts.PollInterval, func(ctx context.Context) (dispatch.StatusReport, error) {
		return client.PipelineStatus(ctx, pipeline.ID)
	})
}

// queryRemote returns the run history or a single run report.
func queryRemote(ctx context.Context, logger *slog.Logger, opts options) (any, error) {
	client, err := newRemoteClient(logger, opts)
	if err != nil {
		return nil, err
	}
	if opts.RunNumber > 0 {
		return client.RunStatus(ctx, opts.PipelineID, opts.RunNumber)
	}
	return client.ListRuns(ctx, opts.PipelineID)
}

func newRemoteClient(logger *slog.Logger, opts options) (*httpapi.Client, error) {
	cfg := httpapi.ClientConfig{BaseURL: opts.Remote}
	if secret := env.String("PIPELINE_AUTH_SECRET", ""); secret != "" {
		cfg.Signer = &auth.Signer{
			Secret:  secret,
			Subject: env.String("PIPELINE_AUTH_SUBJECT", "pipelinerun"),
			Roles:   []string{auth.RoleAdmin},
		}
	}
	return httpapi.NewClient(logger, cfg)
}
