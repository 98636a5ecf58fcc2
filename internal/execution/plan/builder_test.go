package plan

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Vincamine/PipelineRunner-sub000/internal/domain"
)

func TestBuild_ProducesPendingTree(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	def := AssignIDs(sampleDefinition(), sequentialIDs("def"))

	tree, err := Build(def, RunRequest{CommitHash: "abc123", RunNumber: 4}, Options{
		NewID: sequentialIDs("exec"),
		Now:   func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if tree.Pipeline.Status != domain.StatusPending {
		t.Fatalf("expected pending pipeline, got %s", tree.Pipeline.Status)
	}
	if tree.Pipeline.StartTime == nil || !tree.Pipeline.StartTime.Equal(now) {
		t.Fatalf("expected start time %v, got %v", now, tree.Pipeline.StartTime)
	}
	if tree.Pipeline.RunNumber != 4 || tree.Pipeline.PipelineID != def.ID {
		t.Fatalf("unexpected pipeline execution %+v", tree.Pipeline)
	}
	if len(tree.Stages) != 2 || len(tree.StageQueues) != 2 {
		t.Fatalf("expected 2 stages, got %d/%d", len(tree.Stages), len(tree.StageQueues))
	}
	for i, stage := range tree.Stages {
		if stage.ExecutionOrder != i {
			t.Fatalf("stage %d: expected order %d got %d", i, i, stage.ExecutionOrder)
		}
		if stage.Status != domain.StatusPending || stage.StartTime != nil {
			t.Fatalf("stage %d: expected untouched pending stage", i)
		}
	}
	if len(tree.Jobs) != 4 {
		t.Fatalf("expected 4 job executions, got %d", len(tree.Jobs))
	}

	byID := map[string]domain.JobExecution{}
	for _, job := range tree.Jobs {
		byID[job.ID] = job
	}
	testQueue := tree.StageQueues[1]
	if len(testQueue) != 3 {
		t.Fatalf("expected 3 jobs in test stage, got %d", len(testQueue))
	}
	last := byID[testQueue[2]]
	lastDef, _ := def.Job(last.JobID)
	if lastDef.Name != "report" {
		t.Fatalf("expected dependent job last in queue, got %s", lastDef.Name)
	}
	if !byID[testQueue[0]].AllowFailure && !byID[testQueue[1]].AllowFailure {
		t.Fatalf("expected allowFailure copied from definition")
	}
	if deps := tree.Dependencies[last.ID]; len(deps) != 2 {
		t.Fatalf("expected report to wait on 2 jobs, got %v", deps)
	}
	unit := byID[testQueue[0]]
	if deps := tree.Dependencies[unit.ID]; len(deps) != 1 || deps[0] != tree.StageQueues[0][0] {
		t.Fatalf("expected unit-test to wait on compile, got %v", deps)
	}
}

func TestBuild_Errors(t *testing.T) {
	def := AssignIDs(sampleDefinition(), nil)

	empty := def
	empty.Stages = nil
	if _, err := Build(empty, RunRequest{}, Options{}); !errors.Is(err, ErrEmptyPipeline) {
		t.Fatalf("expected ErrEmptyPipeline, got %v", err)
	}

	hollow := AssignIDs(sampleDefinition(), nil)
	hollow.Stages[1].Jobs = nil
	if _, err := Build(hollow, RunRequest{}, Options{}); !errors.Is(err, ErrEmptyStage) {
		t.Fatalf("expected ErrEmptyStage, got %v", err)
	}

	noID := sampleDefinition()
	if _, err := Build(noID, RunRequest{}, Options{}); err == nil {
		t.Fatalf("expected missing id error")
	}
}

func TestAssignIDs_LinksParents(t *testing.T) {
	def := AssignIDs(sampleDefinition(), sequentialIDs("id"))
	if def.ID == "" {
		t.Fatalf("expected pipeline id")
	}
	for _, stage := range def.Stages {
		if stage.PipelineID != def.ID {
			t.Fatalf("stage %s: expected pipeline id %s, got %s", stage.Name, def.ID, stage.PipelineID)
		}
		for _, job := range stage.Jobs {
			if job.ID == "" || job.StageID != stage.ID {
				t.Fatalf("job %s: expected stage id %s, got %s", job.Name, stage.ID, job.StageID)
			}
		}
	}
}

func sampleDefinition() domain.PipelineDefinition {
	return domain.PipelineDefinition{
		Name: "ci",
		Stages: []domain.StageDefinition{
			{
				Name:           "build",
				ExecutionOrder: 0,
				Jobs: []domain.JobDefinition{
					{Name: "compile", Image: "golang:1.22", Script: []string{"go build ./..."}},
				},
			},
			{
				Name:           "test",
				ExecutionOrder: 1,
				Jobs: []domain.JobDefinition{
					{Name: "report", Image: "alpine", Script: []string{"echo done"}, Dependencies: []string{"unit-test", "lint"}},
					{Name: "unit-test", Image: "golang:1.22", Script: []string{"go test ./..."}, Dependencies: []string{"compile"}},
					{Name: "lint", Image: "golang:1.22", Script: []string{"go vet ./..."}, AllowFailure: true},
				},
			},
		},
	}
}

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}
