package state

import (
	"testing"

	"github.com/Vincamine/PipelineRunner-sub000/internal/domain"
)

func TestDeriveStageStatus(t *testing.T) {
	tests := []struct {
		name string
		jobs []domain.JobExecution
		want domain.Status
	}{
		{
			name: "no jobs",
			want: domain.StatusSuccess,
		},
		{
			name: "still running",
			jobs: []domain.JobExecution{jobRecord(domain.StatusSuccess, false), jobRecord(domain.StatusRunning, false)},
			want: domain.StatusRunning,
		},
		{
			name: "pending job",
			jobs: []domain.JobExecution{jobRecord(domain.StatusPending, false)},
			want: domain.StatusRunning,
		},
		{
			name: "all succeeded",
			jobs: []domain.JobExecution{jobRecord(domain.StatusSuccess, false), jobRecord(domain.StatusSuccess, true)},
			want: domain.StatusSuccess,
		},
		{
			name: "tolerated failure",
			jobs: []domain.JobExecution{jobRecord(domain.StatusSuccess, false), jobRecord(domain.StatusFailed, true)},
			want: domain.StatusSuccess,
		},
		{
			name: "blocking failure",
			jobs: []domain.JobExecution{jobRecord(domain.StatusSuccess, false), jobRecord(domain.StatusFailed, false)},
			want: domain.StatusFailed,
		},
		{
			name: "canceled without failure",
			jobs: []domain.JobExecution{jobRecord(domain.StatusSuccess, false), jobRecord(domain.StatusCanceled, false)},
			want: domain.StatusCanceled,
		},
		{
			name: "failure wins over cancel",
			jobs: []domain.JobExecution{jobRecord(domain.StatusCanceled, false), jobRecord(domain.StatusFailed, false)},
			want: domain.StatusFailed,
		},
	}
	for _, tt := range tests {
		if got := DeriveStageStatus(tt.jobs); got != tt.want {
			t.Fatalf("%s: expected %s got %s", tt.name, tt.want, got)
		}
	}
}

func TestDerivePipelineStatus(t *testing.T) {
	tests := []struct {
		name   string
		stages []StageView
		want   domain.Status
	}{
		{
			name:   "all stages succeeded",
			stages: []StageView{stageView(domain.StatusSuccess), stageView(domain.StatusSuccess)},
			want:   domain.StatusSuccess,
		},
		{
			name:   "stage still pending",
			stages: []StageView{stageView(domain.StatusFailed, jobRecord(domain.StatusFailed, false)), stageView(domain.StatusPending)},
			want:   domain.StatusRunning,
		},
		{
			name:   "failed stage",
			stages: []StageView{stageView(domain.StatusSuccess), stageView(domain.StatusFailed, jobRecord(domain.StatusFailed, false))},
			want:   domain.StatusFailed,
		},
		{
			name: "failed stage fully allowed to fail",
			stages: []StageView{
				stageView(domain.StatusSuccess),
				stageView(domain.StatusFailed, jobRecord(domain.StatusFailed, true), jobRecord(domain.StatusSuccess, true)),
			},
			want: domain.StatusSuccess,
		},
		{
			name:   "canceled stage",
			stages: []StageView{stageView(domain.StatusSuccess), stageView(domain.StatusCanceled, jobRecord(domain.StatusCanceled, false))},
			want:   domain.StatusCanceled,
		},
		{
			name: "failed beats canceled",
			stages: []StageView{
				stageView(domain.StatusFailed, jobRecord(domain.StatusFailed, false)),
				stageView(domain.StatusCanceled, jobRecord(domain.StatusCanceled, false)),
			},
			want: domain.StatusFailed,
		},
	}
	for _, tt := range tests {
		if got := DerivePipelineStatus(tt.stages); got != tt.want {
			t.Fatalf("%s: expected %s got %s", tt.name, tt.want, got)
		}
	}
}

func TestDeriveReadiness(t *testing.T) {
	tests := []struct {
		name string
		deps []domain.JobExecution
		want Readiness
	}{
		{name: "no dependencies", want: Ready},
		{name: "dependency succeeded", deps: []domain.JobExecution{jobRecord(domain.StatusSuccess, false)}, want: Ready},
		{name: "tolerated failure", deps: []domain.JobExecution{jobRecord(domain.StatusFailed, true)}, want: Ready},
		{name: "dependency running", deps: []domain.JobExecution{jobRecord(domain.StatusSuccess, false), jobRecord(domain.StatusRunning, false)}, want: Waiting},
		{name: "blocking failure", deps: []domain.JobExecution{jobRecord(domain.StatusRunning, false), jobRecord(domain.StatusFailed, false)}, want: Blocked},
		{name: "canceled dependency", deps: []domain.JobExecution{jobRecord(domain.StatusCanceled, true)}, want: Blocked},
	}
	for _, tt := range tests {
		got, blocker := DeriveReadiness(tt.deps)
		if got != tt.want {
			t.Fatalf("%s: expected %d got %d", tt.name, tt.want, got)
		}
		if (got == Blocked) != (blocker != nil) {
			t.Fatalf("%s: blocker mismatch", tt.name)
		}
	}
}

func jobRecord(status domain.Status, allowFailure bool) domain.JobExecution {
	return domain.JobExecution{
		ID:           "job-" + string(status),
		AllowFailure: allowFailure,
		Lifecycle:    domain.Lifecycle{Status: status},
	}
}

func stageView(status domain.Status, jobs ...domain.JobExecution) StageView {
	return StageView{
		Stage: domain.StageExecution{ID: "stage", Lifecycle: domain.Lifecycle{Status: status}},
		Jobs:  jobs,
	}
}
