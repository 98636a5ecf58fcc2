// Package memory keeps definitions and executions in process memory. It backs
// local runs and tests; every read returns a copy.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Vincamine/PipelineRunner-sub000/internal/domain"
	"github.com/Vincamine/PipelineRunner-sub000/internal/repo"
)

type Store struct {
	mu          sync.RWMutex
	definitions map[string]domain.PipelineDefinition
	runCounters map[string]int
	pipelines   map[string]domain.PipelineExecution
	stages      map[string]domain.StageExecution
	jobs        map[string]domain.JobExecution
	stageOrder  map[string][]string
	jobOrder    map[string][]string
}

var (
	_ repo.DefinitionRepository = (*Store)(nil)
	_ repo.ExecutionRepository  = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		definitions: map[string]domain.PipelineDefinition{},
		runCounters: map[string]int{},
		pipelines:   map[string]domain.PipelineExecution{},
		stages:      map[string]domain.StageExecution{},
		jobs:        map[string]domain.JobExecution{},
		stageOrder:  map[string][]string{},
		jobOrder:    map[string][]string{},
	}
}

func (s *Store) CreatePipelineDefinition(ctx context.Context, def domain.PipelineDefinition) error {
	id := strings.TrimSpace(def.ID)
	if id == "" {
		return fmt.Errorf("pipeline id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.definitions[id]; exists {
		return fmt.Errorf("pipeline definition %s already exists", id)
	}
	s.definitions[id] = cloneDefinition(def)
	return nil
}

func (s *Store) GetPipelineDefinition(ctx context.Context, id string) (domain.PipelineDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.definitions[strings.TrimSpace(id)]
	if !ok {
		return domain.PipelineDefinition{}, repo.ErrNotFound
	}
	return cloneDefinition(def), nil
}

func (s *Store) PipelineDefinitionExists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.definitions[strings.TrimSpace(id)]
	return ok, nil
}

func (s *Store) CreateExecutionTree(ctx context.Context, pipeline domain.PipelineExecution, stages []domain.StageExecution, jobs []domain.JobExecution) error {
	if strings.TrimSpace(pipeline.ID) == "" {
		return fmt.Errorf("pipeline execution id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pipelines[pipeline.ID]; exists {
		return fmt.Errorf("pipeline execution %s already exists", pipeline.ID)
	}
	stageIDs := make(map[string]struct{}, len(stages))
	for _, stage := range stages {
		if stage.PipelineExecutionID != pipeline.ID {
			return fmt.Errorf("stage execution %s belongs to another pipeline execution", stage.ID)
		}
		stageIDs[stage.ID] = struct{}{}
	}
	for _, job := range jobs {
		if _, ok := stageIDs[job.StageExecutionID]; !ok {
			return fmt.Errorf("job execution %s references unknown stage execution", job.ID)
		}
	}

	s.pipelines[pipeline.ID] = pipeline
	for _, stage := range stages {
		s.stages[stage.ID] = stage
		s.stageOrder[pipeline.ID] = append(s.stageOrder[pipeline.ID], stage.ID)
	}
	for _, job := range jobs {
		s.jobs[job.ID] = job
		s.jobOrder[job.StageExecutionID] = append(s.jobOrder[job.StageExecutionID], job.ID)
	}
	return nil
}

func (s *Store) NextRunNumber(ctx context.Context, pipelineID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runCounters[pipelineID]++
	return s.runCounters[pipelineID], nil
}

func (s *Store) GetPipelineExecution(ctx context.Context, id string) (domain.PipelineExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.pipelines[strings.TrimSpace(id)]
	if !ok {
		return domain.PipelineExecution{}, repo.ErrNotFound
	}
	return exec, nil
}

func (s *Store) UpdatePipelineExecution(ctx context.Context, exec domain.PipelineExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.pipelines[exec.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if current.Status.IsTerminal() {
		return domain.ErrTerminal
	}
	current.Lifecycle = exec.Lifecycle
	s.pipelines[exec.ID] = current
	return nil
}

func (s *Store) ListPipelineExecutions(ctx context.Context, pipelineID string) ([]domain.PipelineExecution, error) {
	pipelineID = strings.TrimSpace(pipelineID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PipelineExecution, 0)
	for _, exec := range s.pipelines {
		if exec.PipelineID == pipelineID {
			out = append(out, exec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunNumber < out[j].RunNumber })
	return out, nil
}

func (s *Store) GetPipelineExecutionByRunNumber(ctx context.Context, pipelineID string, runNumber int) (domain.PipelineExecution, error) {
	pipelineID = strings.TrimSpace(pipelineID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, exec := range s.pipelines {
		if exec.PipelineID == pipelineID && exec.RunNumber == runNumber {
			return exec, nil
		}
	}
	return domain.PipelineExecution{}, repo.ErrNotFound
}

func (s *Store) ListPipelineExecutionsByStatus(ctx context.Context, statuses ...domain.Status) ([]domain.PipelineExecution, error) {
	wanted := make(map[domain.Status]struct{}, len(statuses))
	for _, status := range statuses {
		wanted[status] = struct{}{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PipelineExecution, 0)
	for _, exec := range s.pipelines {
		if _, ok := wanted[exec.Status]; ok {
			out = append(out, exec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PipelineID != out[j].PipelineID {
			return out[i].PipelineID < out[j].PipelineID
		}
		return out[i].RunNumber < out[j].RunNumber
	})
	return out, nil
}

func (s *Store) GetStageExecution(ctx context.Context, id string) (domain.StageExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.stages[strings.TrimSpace(id)]
	if !ok {
		return domain.StageExecution{}, repo.ErrNotFound
	}
	return exec, nil
}

func (s *Store) ListStageExecutions(ctx context.Context, pipelineExecutionID string) ([]domain.StageExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.stageOrder[pipelineExecutionID]
	out := make([]domain.StageExecution, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.stages[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExecutionOrder < out[j].ExecutionOrder })
	return out, nil
}

func (s *Store) UpdateStageExecution(ctx context.Context, exec domain.StageExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.stages[exec.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if current.Status.IsTerminal() {
		return domain.ErrTerminal
	}
	current.Lifecycle = exec.Lifecycle
	s.stages[exec.ID] = current
	return nil
}

func (s *Store) GetJobExecution(ctx context.Context, id string) (domain.JobExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.jobs[strings.TrimSpace(id)]
	if !ok {
		return domain.JobExecution{}, repo.ErrNotFound
	}
	return exec, nil
}

func (s *Store) JobExecutionExists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.jobs[strings.TrimSpace(id)]
	return ok, nil
}

func (s *Store) ListJobExecutionsByStage(ctx context.Context, stageExecutionID string) ([]domain.JobExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.jobOrder[stageExecutionID]
	out := make([]domain.JobExecution, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.jobs[id])
	}
	return out, nil
}

func (s *Store) ListJobExecutionsByPipeline(ctx context.Context, pipelineExecutionID string) ([]domain.JobExecution, error) {
	stages, err := s.ListStageExecutions(ctx, pipelineExecutionID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.JobExecution, 0)
	for _, stage := range stages {
		jobs, err := s.ListJobExecutionsByStage(ctx, stage.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, jobs...)
	}
	return out, nil
}

func (s *Store) UpdateJobExecution(ctx context.Context, exec domain.JobExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.jobs[exec.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if current.Status.IsTerminal() {
		return domain.ErrTerminal
	}
	current.Lifecycle = exec.Lifecycle
	current.Logs = exec.Logs
	s.jobs[exec.ID] = current
	return nil
}

func cloneDefinition(def domain.PipelineDefinition) domain.PipelineDefinition {
	out := def
	out.Stages = make([]domain.StageDefinition, len(def.Stages))
	for i, stage := range def.Stages {
		jobs := make([]domain.JobDefinition, len(stage.Jobs))
		for j, job := range stage.Jobs {
			job.Script = append([]string(nil), job.Script...)
			job.Dependencies = append([]string(nil), job.Dependencies...)
			job.ArtifactPatterns = append([]string(nil), job.ArtifactPatterns...)
			jobs[j] = job
		}
		stage.Jobs = jobs
		out.Stages[i] = stage
	}
	return out
}
