// Package comm defines how the dispatch engine and workers exchange job
// status, independent of transport.
package comm

import (
	"context"
	"errors"

	"github.com/Vincamine/PipelineRunner-sub000/internal/domain"
)

// ErrQueueClosed is returned by Dequeue after Close.
var ErrQueueClosed = errors.New("queue closed")

// Layer is the engine side of the engine/worker contract. Unknown ids yield
// repo.ErrNotFound.
type Layer interface {
	GetJobDependencies(ctx context.Context, jobExecutionID string) ([]string, error)
	GetJobStatus(ctx context.Context, jobExecutionID string) (domain.Status, error)
	ReportJobStatus(ctx context.Context, jobExecutionID string, status domain.Status, logs string) error
	EnqueueJob(ctx context.Context, jobExecutionID string) error
	ListJobExecutions(ctx context.Context, pipelineExecutionID string) ([]domain.JobExecution, error)
	GetJobSnapshot(ctx context.Context, jobExecutionID string) (JobSnapshot, error)
}

// JobSnapshot is everything a worker needs to run one job execution.
type JobSnapshot struct {
	PipelineExecutionID string               `json:"pipelineExecutionId"`
	Execution           domain.JobExecution  `json:"execution"`
	Definition          domain.JobDefinition `json:"definition"`
}

// JobQueue hands job execution ids to exactly one worker each.
type JobQueue interface {
	Enqueue(ctx context.Context, jobExecutionID string) error
	Dequeue(ctx context.Context) (string, error)
}

// CancelBus broadcasts cancellation to every worker; the one running the
// job interrupts it.
type CancelBus interface {
	PublishCancel(ctx context.Context, jobExecutionID string) error
	SubscribeCancels(ctx context.Context) (<-chan string, error)
}
