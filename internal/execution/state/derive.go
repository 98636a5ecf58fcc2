package state

import (
	"github.com/Vincamine/PipelineRunner-sub000/internal/domain"
)

// StageView pairs a stage execution with its job executions for aggregation.
type StageView struct {
	Stage domain.StageExecution
	Jobs  []domain.JobExecution
}

// DeriveStageStatus aggregates job statuses into the stage verdict.
//
// RUNNING is returned while any job is non-terminal. Once every job is
// terminal: any failure without allowFailure gives FAILED, otherwise any
// cancellation gives CANCELED, otherwise SUCCESS. A stage without jobs is
// SUCCESS.
func DeriveStageStatus(jobs []domain.JobExecution) domain.Status {
	blocking := false
	canceled := false
	for _, job := range jobs {
		if !job.Status.IsTerminal() {
			return domain.StatusRunning
		}
		switch {
		case job.BlockingFailure():
			blocking = true
		case job.Status == domain.StatusCanceled:
			canceled = true
		}
	}
	if blocking {
		return domain.StatusFailed
	}
	if canceled {
		return domain.StatusCanceled
	}
	return domain.StatusSuccess
}

// DerivePipelineStatus aggregates stage statuses into the pipeline verdict.
// It returns RUNNING until every stage is terminal.
func DerivePipelineStatus(stages []StageView) domain.Status {
	failed := false
	canceled := false
	for _, view := range stages {
		status := view.Stage.Status
		if !status.IsTerminal() {
			return domain.StatusRunning
		}
		switch status {
		case domain.StatusFailed:
			if !StageAllowsFailure(view.Jobs) {
				failed = true
			}
		case domain.StatusCanceled:
			canceled = true
		}
	}
	if failed {
		return domain.StatusFailed
	}
	if canceled {
		return domain.StatusCanceled
	}
	return domain.StatusSuccess
}

// StageAllowsFailure reports whether every job of a stage tolerates failure.
// A stage without jobs counts as tolerant.
func StageAllowsFailure(jobs []domain.JobExecution) bool {
	for _, job := range jobs {
		if !job.AllowFailure {
			return false
		}
	}
	return true
}

// Readiness is the dependency verdict for a waiting job.
type Readiness int

const (
	// Waiting means at least one dependency has not finished.
	Waiting Readiness = iota
	// Ready means every dependency finished in SUCCESS or tolerated FAILED.
	Ready
	// Blocked means a dependency finished in a state that can never satisfy it.
	Blocked
)

// DependencySatisfied reports whether a finished dependency lets its dependents run.
func DependencySatisfied(dep domain.JobExecution) bool {
	return dep.Status == domain.StatusSuccess || dep.ToleratedFailure()
}

// DeriveReadiness folds dependency statuses into a single verdict. The
// returned job is the first blocking dependency, if any.
func DeriveReadiness(deps []domain.JobExecution) (Readiness, *domain.JobExecution) {
	waiting := false
	for i := range deps {
		dep := deps[i]
		if !dep.Status.IsTerminal() {
			waiting = true
			continue
		}
		if !DependencySatisfied(dep) {
			return Blocked, &deps[i]
		}
	}
	if waiting {
		return Waiting, nil
	}
	return Ready, nil
}
