package dispatch

import (
	"context"
	"fmt"

	"github.com/Vincamine/PipelineRunner-sub000/internal/domain"
)

// Resume picks up runs left unfinished by a previous dispatcher process.
// Runs that never started are started. For running runs, every PENDING job
// of a running stage is released again, which restores its dependency
// waiter and timeout. A stage whose jobs all finished without a recorded
// verdict is settled.
//
// A released job may already sit in the queue from before the restart, so
// it can be delivered twice. Workers skip jobs that are no longer PENDING.
// It returns the number of runs it resumed.
func (e *Engine) Resume(ctx context.Context) (int, error) {
	pending, err := e.execs.ListPipelineExecutionsByStatus(ctx, domain.StatusPending, domain.StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("list unfinished runs: %w", err)
	}
	resumed := 0
	for _, pipeline := range pending {
		var runErr error
		if pipeline.Status == domain.StatusPending {
			runErr = e.start(ctx, pipeline.ID)
		} else {
			runErr = e.resumeRun(ctx, pipeline.ID)
		}
		if runErr != nil {
			e.logger.Error("resume failed", "pipeline_execution_id", pipeline.ID, "error", runErr)
			continue
		}
		resumed++
		e.logger.Info("pipeline execution resumed", "pipeline_execution_id", pipeline.ID, "status", pipeline.Status)
	}
	return resumed, nil
}

func (e *Engine) resumeRun(ctx context.Context, pipelineExecutionID string) error {
	r, err := e.loadRun(ctx, pipelineExecutionID)
	if err != nil {
		return err
	}
	stages, err := e.execs.ListStageExecutions(ctx, pipelineExecutionID)
	if err != nil {
		return fmt.Errorf("list stages: %w", err)
	}
	for i, stage := range stages {
		switch stage.Status {
		case domain.StatusSuccess:
			continue
		case domain.StatusPending:
			// The previous process stopped between two stages.
			return e.startStage(ctx, r, i)
		case domain.StatusRunning:
			return e.resumeStage(ctx, r, stage)
		default:
			return e.onStageFinished(ctx, pipelineExecutionID, stage.ID, stage.Status)
		}
	}
	return e.finalize(ctx, pipelineExecutionID)
}

func (e *Engine) resumeStage(ctx context.Context, r *run, stage domain.StageExecution) error {
	jobs, err := e.execs.ListJobExecutionsByStage(ctx, stage.ID)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	finished := true
	for _, job := range jobs {
		if !job.Status.IsTerminal() {
			finished = false
		}
		if job.Status != domain.StatusPending {
			continue
		}
		if err := e.release(ctx, r, job.ID); err != nil {
			return err
		}
	}
	if finished {
		return e.settleStage(ctx, stage)
	}
	return nil
}
