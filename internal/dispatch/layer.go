package dispatch

import (
	"context"
	"fmt"

	"github.com/Vincamine/PipelineRunner-sub000/internal/comm"
	"github.com/Vincamine/PipelineRunner-sub000/internal/domain"
	"github.com/Vincamine/PipelineRunner-sub000/internal/repo"
)

// GetJobDependencies returns the job execution ids jobExecutionID waits for.
func (e *Engine) GetJobDependencies(ctx context.Context, jobExecutionID string) ([]string, error) {
	job, err := e.execs.GetJobExecution(ctx, jobExecutionID)
	if err != nil {
		return nil, err
	}
	stage, err := e.execs.GetStageExecution(ctx, job.StageExecutionID)
	if err != nil {
		return nil, err
	}
	r, err := e.loadRun(ctx, stage.PipelineExecutionID)
	if err != nil {
		return nil, err
	}
	return append([]string{}, r.deps[jobExecutionID]...), nil
}

func (e *Engine) GetJobStatus(ctx context.Context, jobExecutionID string) (domain.Status, error) {
	job, err := e.execs.GetJobExecution(ctx, jobExecutionID)
	if err != nil {
		return "", err
	}
	return job.Status, nil
}

// EnqueueJob puts a known job execution on the queue as is, without
// dependency checks.
func (e *Engine) EnqueueJob(ctx context.Context, jobExecutionID string) error {
	exists, err := e.execs.JobExecutionExists(ctx, jobExecutionID)
	if err != nil {
		return err
	}
	if !exists {
		return repo.ErrNotFound
	}
	if err := e.queue.Enqueue(ctx, jobExecutionID); err != nil {
		return fmt.Errorf("enqueue job %s: %w", jobExecutionID, err)
	}
	jobsDispatched.Inc()
	return nil
}

func (e *Engine) ListJobExecutions(ctx context.Context, pipelineExecutionID string) ([]domain.JobExecution, error) {
	if _, err := e.execs.GetPipelineExecution(ctx, pipelineExecutionID); err != nil {
		return nil, err
	}
	return e.execs.ListJobExecutionsByPipeline(ctx, pipelineExecutionID)
}

// GetJobSnapshot joins a job execution with its definition.
func (e *Engine) GetJobSnapshot(ctx context.Context, jobExecutionID string) (comm.JobSnapshot, error) {
	job, err := e.execs.GetJobExecution(ctx, jobExecutionID)
	if err != nil {
		return comm.JobSnapshot{}, err
	}
	stage, err := e.execs.GetStageExecution(ctx, job.StageExecutionID)
	if err != nil {
		return comm.JobSnapshot{}, err
	}
	pipeline, err := e.execs.GetPipelineExecution(ctx, stage.PipelineExecutionID)
	if err != nil {
		return comm.JobSnapshot{}, err
	}
	def, err := e.defs.GetPipelineDefinition(ctx, pipeline.PipelineID)
	if err != nil {
		return comm.JobSnapshot{}, fmt.Errorf("load pipeline definition: %w", err)
	}
	jobDef, ok := def.Job(job.JobID)
	if !ok {
		return comm.JobSnapshot{}, fmt.Errorf("job definition %s: %w", job.JobID, repo.ErrNotFound)
	}
	return comm.JobSnapshot{
		PipelineExecutionID: pipeline.ID,
		Execution:           job,
		Definition:          jobDef,
	}, nil
}
