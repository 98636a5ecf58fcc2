package repo

import (
	"context"
	"errors"

	"github.com/Vincamine/PipelineRunner-sub000/internal/domain"
)

// ErrNotFound is returned when an id does not resolve to a stored record.
var ErrNotFound = errors.New("not found")

// DefinitionRepository stores immutable pipeline definitions.
type DefinitionRepository interface {
	CreatePipelineDefinition(ctx context.Context, def domain.PipelineDefinition) error
	GetPipelineDefinition(ctx context.Context, id string) (domain.PipelineDefinition, error)
	PipelineDefinitionExists(ctx context.Context, id string) (bool, error)
}

// ExecutionRepository stores pipeline, stage and job executions.
//
// Update methods persist status, timestamps and logs. They return
// domain.ErrTerminal when the stored record has already finished, so a
// terminal record is never overwritten even by a stale caller.
type ExecutionRepository interface {
	// CreateExecutionTree stores a whole run at once. Either every record is
	// stored or none is.
	CreateExecutionTree(ctx context.Context, pipeline domain.PipelineExecution, stages []domain.StageExecution, jobs []domain.JobExecution) error
	// NextRunNumber reserves the next run number of a pipeline definition.
	NextRunNumber(ctx context.Context, pipelineID string) (int, error)

	GetPipelineExecution(ctx context.Context, id string) (domain.PipelineExecution, error)
	UpdatePipelineExecution(ctx context.Context, exec domain.PipelineExecution) error
	// ListPipelineExecutions returns the runs of one pipeline definition
	// ordered by run number.
	ListPipelineExecutions(ctx context.Context, pipelineID string) ([]domain.PipelineExecution, error)
	GetPipelineExecutionByRunNumber(ctx context.Context, pipelineID string, runNumber int) (domain.PipelineExecution, error)
	// ListPipelineExecutionsByStatus returns runs across all pipelines whose
	// status is one of the given values, ordered by pipeline and run number.
	ListPipelineExecutionsByStatus(ctx context.Context, statuses ...domain.Status) ([]domain.PipelineExecution, error)

	GetStageExecution(ctx context.Context, id string) (domain.StageExecution, error)
	// ListStageExecutions returns stages ordered by execution order.
	ListStageExecutions(ctx context.Context, pipelineExecutionID string) ([]domain.StageExecution, error)
	UpdateStageExecution(ctx context.Context, exec domain.StageExecution) error

	GetJobExecution(ctx context.Context, id string) (domain.JobExecution, error)
	JobExecutionExists(ctx context.Context, id string) (bool, error)
	ListJobExecutionsByStage(ctx context.Context, stageExecutionID string) ([]domain.JobExecution, error)
	ListJobExecutionsByPipeline(ctx context.Context, pipelineExecutionID string) ([]domain.JobExecution, error)
	UpdateJobExecution(ctx context.Context, exec domain.JobExecution) error
}
