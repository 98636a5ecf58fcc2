// Package dispatch drives pipeline executions: it persists the execution
// tree, releases stages in order, gates jobs on their dependencies and folds
// job results back into stage and pipeline statuses.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Vincamine/PipelineRunner-sub000/internal/comm"
	"github.com/Vincamine/PipelineRunner-sub000/internal/domain"
	"github.com/Vincamine/PipelineRunner-sub000/internal/execution/plan"
	"github.com/Vincamine/PipelineRunner-sub000/internal/execution/specvalidator"
	"github.com/Vincamine/PipelineRunner-sub000/internal/repo"
)

const DefaultDependencyTimeout = 30 * time.Minute

type Config struct {
	// DependencyTimeout bounds how long a job waits for its dependencies.
	// Zero waits forever.
	DependencyTimeout time.Duration
	Now               func() time.Time
	NewID             func() string
}

// Engine is the dispatcher. It also serves comm.Layer so workers can talk
// to it directly or through a transport.
type Engine struct {
	logger  *slog.Logger
	defs    repo.DefinitionRepository
	execs   repo.ExecutionRepository
	queue   comm.JobQueue
	cancels comm.CancelBus

	locks      *recordLocks
	waiter     *waiter
	now        func() time.Time
	newID      func() string
	depTimeout time.Duration

	baseCtx    context.Context
	stop       context.CancelFunc
	background sync.WaitGroup

	mu   sync.Mutex
	runs map[string]*run
}

var _ comm.Layer = (*Engine)(nil)

// run caches the static shape of one pipeline execution.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc

	pipelineExecutionID string
	stageIDs            []string
	queues              [][]string
	deps                map[string][]string
	names               map[string]string
}

// SubmitRequest starts a run. PipelineID selects a stored definition; when
// it is empty or unknown, Definition is validated and stored under it.
type SubmitRequest struct {
	PipelineID string
	Definition domain.PipelineDefinition
	CommitHash string
	IsLocal    bool
}

// New builds an engine. cancels may be nil when running jobs cannot be
// interrupted.
func New(logger *slog.Logger, defs repo.DefinitionRepository, execs repo.ExecutionRepository, queue comm.JobQueue, cancels comm.CancelBus, cfg Config) (*Engine, error) {
	if defs == nil || execs == nil {
		return nil, errors.New("dispatch: repositories are required")
	}
	if queue == nil {
		return nil, errors.New("dispatch: job queue is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	baseCtx, stop := context.WithCancel(context.Background())
	return &Engine{
		logger:     logger,
		defs:       defs,
		execs:      execs,
		queue:      queue,
		cancels:    cancels,
		locks:      newRecordLocks(),
		waiter:     newWaiter(),
		now:        now,
		newID:      newID,
		depTimeout: cfg.DependencyTimeout,
		baseCtx:    baseCtx,
		stop:       stop,
		runs:       map[string]*run{},
	}, nil
}

// Close stops every dependency waiter and waits for them to return.
func (e *Engine) Close() {
	e.stop()
	e.background.Wait()
}

// Submit validates or reuses a definition, persists a PENDING execution tree
// and releases the first stage. It returns the pipeline execution as created.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (domain.PipelineExecution, error) {
	def, err := e.resolveDefinition(ctx, req)
	if err != nil {
		return domain.PipelineExecution{}, err
	}

	runNumber, err := e.execs.NextRunNumber(ctx, def.ID)
	if err != nil {
		return domain.PipelineExecution{}, fmt.Errorf("reserve run number: %w", err)
	}
	commit := strings.TrimSpace(req.CommitHash)
	if commit == "" {
		commit = def.CommitHash
	}
	tree, err := plan.Build(def, plan.RunRequest{
		CommitHash: commit,
		IsLocal:    req.IsLocal,
		RunNumber:  runNumber,
	}, plan.Options{NewID: e.newID, Now: e.now})
	if err != nil {
		return domain.PipelineExecution{}, fmt.Errorf("build execution plan: %w", err)
	}
	if err := e.execs.CreateExecutionTree(ctx, tree.Pipeline, tree.Stages, tree.Jobs); err != nil {
		return domain.PipelineExecution{}, fmt.Errorf("persist execution tree: %w", err)
	}
	runsSubmitted.Inc()
	e.logger.Info("pipeline execution created",
		"pipeline_id", def.ID,
		"pipeline_execution_id", tree.Pipeline.ID,
		"run_number", runNumber,
	)

	if err := e.start(ctx, tree.Pipeline.ID); err != nil {
		e.logger.Error("pipeline start failed", "pipeline_execution_id", tree.Pipeline.ID, "error", err)
		e.failPipeline(context.WithoutCancel(ctx), tree.Pipeline.ID)
		return tree.Pipeline, err
	}
	return tree.Pipeline, nil
}

func (e *Engine) resolveDefinition(ctx context.Context, req SubmitRequest) (domain.PipelineDefinition, error) {
	id := strings.TrimSpace(req.PipelineID)
	if id != "" {
		exists, err := e.defs.PipelineDefinitionExists(ctx, id)
		if err != nil {
			return domain.PipelineDefinition{}, fmt.Errorf("lookup pipeline definition: %w", err)
		}
		if exists {
			return e.defs.GetPipelineDefinition(ctx, id)
		}
	}

	if err := specvalidator.ValidatePipeline(req.Definition); err != nil {
		return domain.PipelineDefinition{}, err
	}
	def := req.Definition
	def.ID = id
	def = plan.AssignIDs(def, e.newID)
	if err := e.defs.CreatePipelineDefinition(ctx, def); err != nil {
		return domain.PipelineDefinition{}, fmt.Errorf("store pipeline definition: %w", err)
	}
	return def, nil
}

func (e *Engine) start(ctx context.Context, pipelineExecutionID string) error {
	r, err := e.loadRun(ctx, pipelineExecutionID)
	if err != nil {
		return err
	}
	changed, err := e.transitionPipeline(ctx, pipelineExecutionID, domain.StatusRunning)
	if err != nil || !changed {
		return err
	}
	return e.startStage(ctx, r, 0)
}

// Cancel stops a run. Already finished runs are left untouched.
func (e *Engine) Cancel(ctx context.Context, pipelineExecutionID string) error {
	changed, err := e.transitionPipeline(ctx, pipelineExecutionID, domain.StatusCanceled)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	e.forget(pipelineExecutionID)
	runsFinished.WithLabelValues(string(domain.StatusCanceled)).Inc()

	stages, err := e.execs.ListStageExecutions(ctx, pipelineExecutionID)
	if err != nil {
		return fmt.Errorf("list stages: %w", err)
	}
	for _, stage := range stages {
		if err := e.cancelStage(ctx, stage.ID, "canceled by request"); err != nil {
			return err
		}
	}
	e.logger.Info("pipeline execution canceled", "pipeline_execution_id", pipelineExecutionID)
	return nil
}

// cancelStage cancels every unfinished job of a stage and then the stage.
// Running jobs are told to stop through the cancel bus.
func (e *Engine) cancelStage(ctx context.Context, stageExecutionID, reason string) error {
	jobs, err := e.execs.ListJobExecutionsByStage(ctx, stageExecutionID)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	for _, job := range jobs {
		if job.Status.IsTerminal() {
			continue
		}
		changed, err := e.transitionJob(ctx, job.ID, domain.StatusCanceled, reason)
		if errors.Is(err, domain.ErrTerminal) {
			continue
		}
		if err != nil {
			return err
		}
		if !changed {
			continue
		}
		jobResults.WithLabelValues(string(domain.StatusCanceled)).Inc()
		e.waiter.notify(job.ID)
		// A PENDING job may already sit in a worker between dequeue and its
		// RUNNING report, so every canceled job is broadcast.
		if e.cancels != nil {
			if err := e.cancels.PublishCancel(ctx, job.ID); err != nil {
				e.logger.Warn("cancel publish failed", "job_execution_id", job.ID, "error", err)
			}
		}
	}
	_, err = e.transitionStage(ctx, stageExecutionID, domain.StatusCanceled)
	return err
}

func (e *Engine) failPipeline(ctx context.Context, pipelineExecutionID string) {
	changed, err := e.transitionPipeline(ctx, pipelineExecutionID, domain.StatusFailed)
	if err != nil {
		e.logger.Error("mark pipeline failed", "pipeline_execution_id", pipelineExecutionID, "error", err)
		return
	}
	if changed {
		runsFinished.WithLabelValues(string(domain.StatusFailed)).Inc()
	}
	e.forget(pipelineExecutionID)
}

// loadRun returns the cached shape of a run, rebuilding it from storage when
// the engine has not seen the run yet.
func (e *Engine) loadRun(ctx context.Context, pipelineExecutionID string) (*run, error) {
	e.mu.Lock()
	if r, ok := e.runs[pipelineExecutionID]; ok {
		e.mu.Unlock()
		return r, nil
	}
	e.mu.Unlock()

	pipeline, err := e.execs.GetPipelineExecution(ctx, pipelineExecutionID)
	if err != nil {
		return nil, err
	}
	def, err := e.defs.GetPipelineDefinition(ctx, pipeline.PipelineID)
	if err != nil {
		return nil, fmt.Errorf("load pipeline definition: %w", err)
	}
	stages, err := e.execs.ListStageExecutions(ctx, pipelineExecutionID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}

	r := &run{
		pipelineExecutionID: pipelineExecutionID,
		stageIDs:            make([]string, 0, len(stages)),
		queues:              make([][]string, 0, len(stages)),
		deps:                map[string][]string{},
		names:               map[string]string{},
	}
	execByJobID := map[string]string{}
	var jobs []domain.JobExecution
	for _, stage := range stages {
		stageJobs, err := e.execs.ListJobExecutionsByStage(ctx, stage.ID)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		queue := make([]string, 0, len(stageJobs))
		for _, job := range stageJobs {
			queue = append(queue, job.ID)
			execByJobID[job.JobID] = job.ID
			if jd, ok := def.Job(job.JobID); ok {
				r.names[job.ID] = jd.Name
			}
		}
		r.stageIDs = append(r.stageIDs, stage.ID)
		r.queues = append(r.queues, queue)
		jobs = append(jobs, stageJobs...)
	}

	idsByName := def.JobIDsByName()
	for _, job := range jobs {
		jd, ok := def.Job(job.JobID)
		if !ok || len(jd.Dependencies) == 0 {
			continue
		}
		deps := make([]string, 0, len(jd.Dependencies))
		for _, name := range jd.Dependencies {
			if execID, ok := execByJobID[idsByName[name]]; ok {
				deps = append(deps, execID)
			}
		}
		r.deps[job.ID] = deps
	}

	r.ctx, r.cancel = context.WithCancel(e.baseCtx)
	if pipeline.Status.IsTerminal() {
		r.cancel()
		return r, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.runs[pipelineExecutionID]; ok {
		r.cancel()
		return existing, nil
	}
	e.runs[pipelineExecutionID] = r
	return r, nil
}

// forget drops the cached run and stops its dependency waiters.
func (e *Engine) forget(pipelineExecutionID string) {
	e.mu.Lock()
	r, ok := e.runs[pipelineExecutionID]
	delete(e.runs, pipelineExecutionID)
	e.mu.Unlock()
	if ok {
		r.cancel()
	}
}

func (e *Engine) transitionPipeline(ctx context.Context, id string, next domain.Status) (bool, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	exec, err := e.execs.GetPipelineExecution(ctx, id)
	if err != nil {
		return false, err
	}
	changed, err := exec.Apply(next, e.now())
	if errors.Is(err, domain.ErrTerminal) {
		return false, nil
	}
	if err != nil || !changed {
		return false, err
	}
	if err := e.execs.UpdatePipelineExecution(ctx, exec); err != nil {
		if errors.Is(err, domain.ErrTerminal) {
			return false, nil
		}
		return false, fmt.Errorf("update pipeline execution: %w", err)
	}
	return true, nil
}

func (e *Engine) transitionStage(ctx context.Context, id string, next domain.Status) (bool, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	exec, err := e.execs.GetStageExecution(ctx, id)
	if err != nil {
		return false, err
	}
	changed, err := exec.Apply(next, e.now())
	if errors.Is(err, domain.ErrTerminal) {
		return false, nil
	}
	if err != nil || !changed {
		return false, err
	}
	if err := e.execs.UpdateStageExecution(ctx, exec); err != nil {
		if errors.Is(err, domain.ErrTerminal) {
			return false, nil
		}
		return false, fmt.Errorf("update stage execution: %w", err)
	}
	return true, nil
}

// transitionJob applies next and, when logs is non-empty, replaces the job
// logs. Log-only updates are persisted even when the status is unchanged.
// Unlike the pipeline and stage variants it returns domain.ErrTerminal for a
// finished job, so a worker learns that it must not start it.
func (e *Engine) transitionJob(ctx context.Context, id string, next domain.Status, logs string) (bool, error) {
	unlock := e.locks.lock(id)
	defer unlock()

	exec, err := e.execs.GetJobExecution(ctx, id)
	if err != nil {
		return false, err
	}
	changed, err := exec.Apply(next, e.now())
	if err != nil {
		return false, err
	}
	if logs != "" && logs != exec.Logs {
		exec.Logs = logs
	} else if !changed {
		return false, nil
	}
	if err := e.execs.UpdateJobExecution(ctx, exec); err != nil {
		if errors.Is(err, domain.ErrTerminal) {
			return false, domain.ErrTerminal
		}
		return false, fmt.Errorf("update job execution: %w", err)
	}
	return changed, nil
}
