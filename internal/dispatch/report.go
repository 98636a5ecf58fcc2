package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Vincamine/PipelineRunner-sub000/internal/domain"
	"github.com/Vincamine/PipelineRunner-sub000/internal/repo"
)

const unknownName = "unknown"

type StatusReport struct {
	PipelineExecutionID string        `json:"pipelineExecutionId"`
	PipelineID          string        `json:"pipelineId"`
	PipelineName        string        `json:"pipelineName"`
	RunNumber           int           `json:"runNumber"`
	CommitHash          string        `json:"commitHash,omitempty"`
	Status              domain.Status `json:"status"`
	StartTime           *time.Time    `json:"startTime,omitempty"`
	CompletionTime      *time.Time    `json:"completionTime,omitempty"`
	Stages              []StageReport `json:"stages"`
}

type StageReport struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	ExecutionOrder int           `json:"executionOrder"`
	Status         domain.Status `json:"status"`
	StartTime      *time.Time    `json:"startTime,omitempty"`
	CompletionTime *time.Time    `json:"completionTime,omitempty"`
	Jobs           []JobReport   `json:"jobs"`
}

type JobReport struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Status         domain.Status `json:"status"`
	AllowFailure   bool          `json:"allowFailure"`
	StartTime      *time.Time    `json:"startTime,omitempty"`
	CompletionTime *time.Time    `json:"completionTime,omitempty"`
	Logs           string        `json:"logs,omitempty"`
}

// PipelineStatus renders the current state of a run. Names whose definition
// is gone render as "unknown".
func (e *Engine) PipelineStatus(ctx context.Context, pipelineExecutionID string) (StatusReport, error) {
	pipeline, err := e.execs.GetPipelineExecution(ctx, pipelineExecutionID)
	if err != nil {
		return StatusReport{}, err
	}
	def, err := e.defs.GetPipelineDefinition(ctx, pipeline.PipelineID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return StatusReport{}, fmt.Errorf("load pipeline definition: %w", err)
	}

	stageNames := map[string]string{}
	for _, stage := range def.Stages {
		stageNames[stage.ID] = stage.Name
	}

	report := StatusReport{
		PipelineExecutionID: pipeline.ID,
		PipelineID:          pipeline.PipelineID,
		PipelineName:        orUnknown(def.Name),
		RunNumber:           pipeline.RunNumber,
		CommitHash:          pipeline.CommitHash,
		Status:              pipeline.Status,
		StartTime:           pipeline.StartTime,
		CompletionTime:      pipeline.CompletionTime,
	}

	stages, err := e.execs.ListStageExecutions(ctx, pipelineExecutionID)
	if err != nil {
		return StatusReport{}, fmt.Errorf("list stages: %w", err)
	}
	for _, stage := range stages {
		jobs, err := e.execs.ListJobExecutionsByStage(ctx, stage.ID)
		if err != nil {
			return StatusReport{}, fmt.Errorf("list jobs: %w", err)
		}
		sr := StageReport{
			ID:             stage.ID,
			Name:           orUnknown(stageNames[stage.StageID]),
			ExecutionOrder: stage.ExecutionOrder,
			Status:         stage.Status,
			StartTime:      stage.StartTime,
			CompletionTime: stage.CompletionTime,
			Jobs:           make([]JobReport, 0, len(jobs)),
		}
		for _, job := range jobs {
			name := ""
			if jd, ok := def.Job(job.JobID); ok {
				name = jd.Name
			}
			sr.Jobs = append(sr.Jobs, JobReport{
				ID:             job.ID,
				Name:           orUnknown(name),
				Status:         job.Status,
				AllowFailure:   job.AllowFailure,
				StartTime:      job.StartTime,
				CompletionTime: job.CompletionTime,
				Logs:           job.Logs,
			})
		}
		report.Stages = append(report.Stages, sr)
	}
	return report, nil
}

func orUnknown(name string) string {
	if name == "" {
		return unknownName
	}
	return name
}

// RunSummary is one entry of a pipeline's run history.
type RunSummary struct {
	PipelineExecutionID string        `json:"pipelineExecutionId"`
	PipelineID          string        `json:"pipelineId"`
	RunNumber           int           `json:"runNumber"`
	CommitHash          string        `json:"commitHash,omitempty"`
	IsLocal             bool          `json:"isLocal,omitempty"`
	Status              domain.Status `json:"status"`
	StartTime           *time.Time    `json:"startTime,omitempty"`
	CompletionTime      *time.Time    `json:"completionTime,omitempty"`
}

// ListRuns returns the run history of a stored pipeline definition, oldest
// run first. An unknown pipeline id is repo.ErrNotFound.
func (e *Engine) ListRuns(ctx context.Context, pipelineID string) ([]RunSummary, error) {
	exists, err := e.defs.PipelineDefinitionExists(ctx, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("lookup pipeline definition: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("pipeline %s: %w", pipelineID, repo.ErrNotFound)
	}
	execs, err := e.execs.ListPipelineExecutions(ctx, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]RunSummary, 0, len(execs))
	for _, exec := range execs {
		out = append(out, RunSummary{
			PipelineExecutionID: exec.ID,
			PipelineID:          exec.PipelineID,
			RunNumber:           exec.RunNumber,
			CommitHash:          exec.CommitHash,
			IsLocal:             exec.IsLocal,
			Status:              exec.Status,
			StartTime:           exec.StartTime,
			CompletionTime:      exec.CompletionTime,
		})
	}
	return out, nil
}

// RunStatus renders run runNumber of a pipeline the way PipelineStatus does.
func (e *Engine) RunStatus(ctx context.Context, pipelineID string, runNumber int) (StatusReport, error) {
	exec, err := e.execs.GetPipelineExecutionByRunNumber(ctx, pipelineID, runNumber)
	if err != nil {
		return StatusReport{}, fmt.Errorf("pipeline %s run %d: %w", pipelineID, runNumber, err)
	}
	return e.PipelineStatus(ctx, exec.ID)
}
