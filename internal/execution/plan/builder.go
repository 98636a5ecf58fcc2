package plan

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Vincamine/PipelineRunner-sub000/internal/domain"
)

var (
	ErrEmptyPipeline = errors.New("pipeline has no stages")
	ErrEmptyStage    = errors.New("stage has no jobs")
)

// RunRequest carries the per-run inputs of an execution.
type RunRequest struct {
	CommitHash string
	IsLocal    bool
	RunNumber  int
}

// Options overrides id generation and the clock.
type Options struct {
	NewID func() string
	Now   func() time.Time
}

// Tree is the full execution skeleton of one run. Every record is PENDING.
type Tree struct {
	Pipeline domain.PipelineExecution
	Stages   []domain.StageExecution
	Jobs     []domain.JobExecution
	// StageQueues holds job execution ids per stage, index aligned with Stages.
	StageQueues [][]string
	// Dependencies maps a job execution id to the job execution ids it waits for.
	Dependencies map[string][]string
}

// Build creates the execution skeleton for a stored, validated definition.
func Build(def domain.PipelineDefinition, req RunRequest, opts Options) (Tree, error) {
	if strings.TrimSpace(def.ID) == "" {
		return Tree{}, fmt.Errorf("pipeline id is required")
	}
	if len(def.Stages) == 0 {
		return Tree{}, ErrEmptyPipeline
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	stages := append([]domain.StageDefinition{}, def.Stages...)
	sort.SliceStable(stages, func(i, j int) bool {
		return stages[i].ExecutionOrder < stages[j].ExecutionOrder
	})
	for _, stage := range stages {
		if len(stage.Jobs) == 0 {
			return Tree{}, fmt.Errorf("%w: %s", ErrEmptyStage, stage.Name)
		}
	}

	startedAt := now().UTC()
	tree := Tree{
		Pipeline: domain.PipelineExecution{
			ID:         newID(),
			PipelineID: def.ID,
			RunNumber:  req.RunNumber,
			CommitHash: strings.TrimSpace(req.CommitHash),
			IsLocal:    req.IsLocal,
			Lifecycle:  domain.Lifecycle{Status: domain.StatusPending, StartTime: &startedAt},
		},
		StageQueues:  make([][]string, 0, len(stages)),
		Dependencies: map[string][]string{},
	}

	execByJobName := make(map[string]string)
	for _, stage := range stages {
		ordered, err := orderJobs(stage.Jobs)
		if err != nil {
			return Tree{}, fmt.Errorf("stage %s: %w", stage.Name, err)
		}
		stageExec := domain.StageExecution{
			ID:                  newID(),
			PipelineExecutionID: tree.Pipeline.ID,
			StageID:             stage.ID,
			ExecutionOrder:      stage.ExecutionOrder,
			Lifecycle:           domain.Lifecycle{Status: domain.StatusPending},
		}
		tree.Stages = append(tree.Stages, stageExec)

		queue := make([]string, 0, len(ordered))
		for _, job := range ordered {
			jobExec := domain.JobExecution{
				ID:               newID(),
				StageExecutionID: stageExec.ID,
				JobID:            job.ID,
				AllowFailure:     job.AllowFailure,
				Lifecycle:        domain.Lifecycle{Status: domain.StatusPending},
			}
			execByJobName[job.Name] = jobExec.ID
			tree.Jobs = append(tree.Jobs, jobExec)
			queue = append(queue, jobExec.ID)
		}
		tree.StageQueues = append(tree.StageQueues, queue)
	}

	for _, stage := range stages {
		for _, job := range stage.Jobs {
			if len(job.Dependencies) == 0 {
				continue
			}
			execID := execByJobName[job.Name]
			deps := make([]string, 0, len(job.Dependencies))
			for _, name := range job.Dependencies {
				depID, ok := execByJobName[name]
				if !ok {
					return Tree{}, fmt.Errorf("job %s depends on unknown job %s", job.Name, name)
				}
				deps = append(deps, depID)
			}
			tree.Dependencies[execID] = deps
		}
	}
	return tree, nil
}

// orderJobs sorts a stage's jobs so dependencies come first. Ties keep
// declaration order. Dependencies on jobs of other stages are ignored here.
func orderJobs(jobs []domain.JobDefinition) ([]domain.JobDefinition, error) {
	position := make(map[string]int, len(jobs))
	for i, job := range jobs {
		position[job.Name] = i
	}

	inDegree := make([]int, len(jobs))
	adj := make(map[int][]int, len(jobs))
	for i, job := range jobs {
		for _, dep := range job.Dependencies {
			j, ok := position[dep]
			if !ok {
				continue
			}
			adj[j] = append(adj[j], i)
			inDegree[i]++
		}
	}

	ready := make([]int, 0, len(jobs))
	for i, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, i)
		}
	}

	ordered := make([]domain.JobDefinition, 0, len(jobs))
	for len(ready) > 0 {
		i := ready[0]
		ready = ready[1:]
		ordered = append(ordered, jobs[i])
		for _, next := range adj[i] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
				sort.Ints(ready)
			}
		}
	}

	if len(ordered) != len(jobs) {
		return nil, fmt.Errorf("dependency graph contains a cycle")
	}
	return ordered, nil
}
