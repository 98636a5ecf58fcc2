package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Vincamine/PipelineRunner-sub000/internal/domain"
	"github.com/Vincamine/PipelineRunner-sub000/internal/execution/state"
)

// startStage marks a stage RUNNING and releases its jobs in queue order.
// Jobs whose dependencies are still running wait in the background.
func (e *Engine) startStage(ctx context.Context, r *run, index int) error {
	if index >= len(r.stageIDs) {
		return nil
	}
	stageID := r.stageIDs[index]
	changed, err := e.transitionStage(ctx, stageID, domain.StatusRunning)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	e.logger.Info("stage started",
		"pipeline_execution_id", r.pipelineExecutionID,
		"stage_execution_id", stageID,
		"stage_index", index,
	)

	for _, jobID := range r.queues[index] {
		if err := e.release(ctx, r, jobID); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) release(ctx context.Context, r *run, jobID string) error {
	deps := r.deps[jobID]
	if len(deps) == 0 {
		return e.enqueue(ctx, jobID)
	}

	readiness, blocker, err := e.readiness(ctx, deps)
	if err != nil {
		return err
	}
	switch readiness {
	case state.Ready:
		return e.enqueue(ctx, jobID)
	case state.Blocked:
		err := e.ReportJobStatus(ctx, jobID, domain.StatusCanceled, blockedMessage(r, blocker))
		if errors.Is(err, domain.ErrTerminal) {
			return nil
		}
		return err
	}

	e.background.Add(1)
	dependencyWaiters.Inc()
	go func() {
		defer e.background.Done()
		defer dependencyWaiters.Dec()
		e.awaitDependencies(r, jobID, deps)
	}()
	return nil
}

// awaitDependencies blocks until every dependency of jobID has finished, then
// enqueues it, cancels it when a dependency can never be satisfied, or fails
// it when the dependency timeout elapses first.
func (e *Engine) awaitDependencies(r *run, jobID string, deps []string) {
	ctx := r.ctx
	var timeout <-chan time.Time
	if e.depTimeout > 0 {
		timer := time.NewTimer(e.depTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		wake, unsubscribe := e.waiter.subscribe(deps)
		readiness, blocker, err := e.readiness(ctx, deps)
		if err != nil {
			unsubscribe()
			if ctx.Err() != nil {
				return
			}
			e.logger.Error("dependency check failed", "job_execution_id", jobID, "error", err)
			e.report(ctx, jobID, domain.StatusFailed, fmt.Sprintf("dependency check failed: %v", err))
			return
		}
		switch readiness {
		case state.Ready:
			unsubscribe()
			if err := e.enqueue(ctx, jobID); err != nil && ctx.Err() == nil {
				e.logger.Error("enqueue failed", "job_execution_id", jobID, "error", err)
			}
			return
		case state.Blocked:
			unsubscribe()
			e.report(ctx, jobID, domain.StatusCanceled, blockedMessage(r, blocker))
			return
		}

		select {
		case <-wake:
			unsubscribe()
		case <-timeout:
			unsubscribe()
			dependencyTimeouts.Inc()
			pending := e.pendingNames(ctx, r, deps)
			e.logger.Warn("dependency timeout", "job_execution_id", jobID, "waiting_for", pending)
			e.report(ctx, jobID, domain.StatusFailed,
				fmt.Sprintf("dependency timeout: waited %s for %s", e.depTimeout, strings.Join(pending, ", ")))
			return
		case <-ctx.Done():
			unsubscribe()
			return
		}
	}
}

// report is ReportJobStatus for background goroutines, where the only sink
// for an error is the log.
func (e *Engine) report(ctx context.Context, jobID string, status domain.Status, logs string) {
	err := e.ReportJobStatus(context.WithoutCancel(ctx), jobID, status, logs)
	if err != nil && !errors.Is(err, domain.ErrTerminal) {
		e.logger.Error("job status update failed", "job_execution_id", jobID, "status", status, "error", err)
	}
}

func (e *Engine) readiness(ctx context.Context, deps []string) (state.Readiness, *domain.JobExecution, error) {
	jobs := make([]domain.JobExecution, 0, len(deps))
	for _, id := range deps {
		job, err := e.execs.GetJobExecution(ctx, id)
		if err != nil {
			return state.Waiting, nil, fmt.Errorf("load dependency %s: %w", id, err)
		}
		jobs = append(jobs, job)
	}
	readiness, blocker := state.DeriveReadiness(jobs)
	return readiness, blocker, nil
}

func (e *Engine) pendingNames(ctx context.Context, r *run, deps []string) []string {
	var out []string
	for _, id := range deps {
		job, err := e.execs.GetJobExecution(ctx, id)
		if err == nil && job.Status.IsTerminal() {
			continue
		}
		out = append(out, r.name(id))
	}
	return out
}

func blockedMessage(r *run, dep *domain.JobExecution) string {
	return fmt.Sprintf("dependency %s finished %s", r.name(dep.ID), dep.Status)
}

func (r *run) name(jobExecutionID string) string {
	if name, ok := r.names[jobExecutionID]; ok && name != "" {
		return name
	}
	return jobExecutionID
}

// enqueue hands a PENDING job to the queue. Jobs that already moved on, for
// example because the run was canceled, are skipped.
func (e *Engine) enqueue(ctx context.Context, jobID string) error {
	job, err := e.execs.GetJobExecution(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != domain.StatusPending {
		return nil
	}
	if err := e.queue.Enqueue(ctx, jobID); err != nil {
		return fmt.Errorf("enqueue job %s: %w", jobID, err)
	}
	jobsDispatched.Inc()
	return nil
}

// ReportJobStatus records a job status change and, when the job finished,
// advances the rest of the run. Reports for a job that already finished
// change nothing and return domain.ErrTerminal.
func (e *Engine) ReportJobStatus(ctx context.Context, jobExecutionID string, status domain.Status, logs string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}
	changed, err := e.transitionJob(ctx, jobExecutionID, status, logs)
	if err != nil {
		return err
	}
	if !changed || !status.IsTerminal() {
		return nil
	}
	jobResults.WithLabelValues(string(status)).Inc()
	e.waiter.notify(jobExecutionID)
	return e.onJobFinished(context.WithoutCancel(ctx), jobExecutionID)
}

func (e *Engine) onJobFinished(ctx context.Context, jobExecutionID string) error {
	job, err := e.execs.GetJobExecution(ctx, jobExecutionID)
	if err != nil {
		return err
	}
	stage, err := e.execs.GetStageExecution(ctx, job.StageExecutionID)
	if err != nil {
		return err
	}
	return e.settleStage(ctx, stage)
}

// settleStage records the stage verdict once all of its jobs finished and
// moves the run on.
func (e *Engine) settleStage(ctx context.Context, stage domain.StageExecution) error {
	jobs, err := e.execs.ListJobExecutionsByStage(ctx, stage.ID)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	verdict := state.DeriveStageStatus(jobs)
	if !verdict.IsTerminal() {
		return nil
	}
	changed, err := e.transitionStage(ctx, stage.ID, verdict)
	if err != nil || !changed {
		return err
	}
	e.logger.Info("stage finished",
		"pipeline_execution_id", stage.PipelineExecutionID,
		"stage_execution_id", stage.ID,
		"status", verdict,
	)
	return e.onStageFinished(ctx, stage.PipelineExecutionID, stage.ID, verdict)
}

// onStageFinished releases the next stage after a success. Any other
// outcome cancels the stages that have not run yet.
func (e *Engine) onStageFinished(ctx context.Context, pipelineExecutionID, stageID string, verdict domain.Status) error {
	pipeline, err := e.execs.GetPipelineExecution(ctx, pipelineExecutionID)
	if err != nil {
		return err
	}
	if pipeline.Status.IsTerminal() {
		return nil
	}
	r, err := e.loadRun(ctx, pipelineExecutionID)
	if err != nil {
		return err
	}
	index := -1
	for i, id := range r.stageIDs {
		if id == stageID {
			index = i
			break
		}
	}
	if index < 0 {
		return fmt.Errorf("stage %s does not belong to pipeline execution %s", stageID, pipelineExecutionID)
	}

	if verdict == domain.StatusSuccess {
		if index+1 < len(r.stageIDs) {
			return e.startStage(ctx, r, index+1)
		}
		return e.finalize(ctx, pipelineExecutionID)
	}

	reason := fmt.Sprintf("canceled: an earlier stage finished %s", verdict)
	for _, laterID := range r.stageIDs[index+1:] {
		if err := e.cancelStage(ctx, laterID, reason); err != nil {
			return err
		}
	}
	return e.finalize(ctx, pipelineExecutionID)
}

// finalize derives the pipeline verdict once every stage finished.
func (e *Engine) finalize(ctx context.Context, pipelineExecutionID string) error {
	stages, err := e.execs.ListStageExecutions(ctx, pipelineExecutionID)
	if err != nil {
		return fmt.Errorf("list stages: %w", err)
	}
	views := make([]state.StageView, 0, len(stages))
	for _, stage := range stages {
		jobs, err := e.execs.ListJobExecutionsByStage(ctx, stage.ID)
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}
		views = append(views, state.StageView{Stage: stage, Jobs: jobs})
	}
	verdict := state.DerivePipelineStatus(views)
	if !verdict.IsTerminal() {
		return nil
	}
	changed, err := e.transitionPipeline(ctx, pipelineExecutionID, verdict)
	if err != nil {
		return err
	}
	if changed {
		runsFinished.WithLabelValues(string(verdict)).Inc()
		e.logger.Info("pipeline execution finished", "pipeline_execution_id", pipelineExecutionID, "status", verdict)
	}
	e.forget(pipelineExecutionID)
	return nil
}
