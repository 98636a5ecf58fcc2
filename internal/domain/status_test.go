package domain

import (
	"errors"
	"testing"
	"time"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{in: "pending", want: StatusPending},
		{in: " QUEUED ", want: StatusPending},
		{in: "Running", want: StatusRunning},
		{in: "success", want: StatusSuccess},
		{in: "FAILED", want: StatusFailed},
		{in: "cancelled", want: StatusCanceled},
		{in: "unknown", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseStatus(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%q: expected err=%v, got %v", tt.in, tt.wantErr, err)
		}
		if got != tt.want {
			t.Fatalf("%q: expected %s got %s", tt.in, tt.want, got)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusPending, StatusCanceled, true},
		{StatusRunning, StatusSuccess, true},
		{StatusRunning, StatusPending, false},
		{StatusSuccess, StatusFailed, false},
		{StatusCanceled, StatusCanceled, false},
		{StatusFailed, StatusRunning, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Fatalf("%s -> %s: expected %v got %v", tt.from, tt.to, tt.want, got)
		}
	}
}

func TestLifecycleApply_StampsTimes(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var lc Lifecycle

	changed, err := lc.Apply(StatusRunning, start)
	if err != nil || !changed {
		t.Fatalf("running: changed=%v err=%v", changed, err)
	}
	if lc.StartTime == nil || !lc.StartTime.Equal(start) {
		t.Fatalf("expected start time %v, got %v", start, lc.StartTime)
	}

	later := start.Add(time.Minute)
	if _, err := lc.Apply(StatusRunning, later); err != nil {
		t.Fatalf("repeat running: %v", err)
	}
	if !lc.StartTime.Equal(start) {
		t.Fatalf("start time must not move, got %v", lc.StartTime)
	}

	done := start.Add(2 * time.Minute)
	if _, err := lc.Apply(StatusFailed, done); err != nil {
		t.Fatalf("failed: %v", err)
	}
	if lc.CompletionTime == nil || !lc.CompletionTime.Equal(done) {
		t.Fatalf("expected completion time %v, got %v", done, lc.CompletionTime)
	}
}

func TestLifecycleApply_TerminalIsFinal(t *testing.T) {
	for _, terminal := range []Status{StatusSuccess, StatusFailed, StatusCanceled} {
		now := time.Now()
		lc := Lifecycle{Status: StatusPending}
		if _, err := lc.Apply(terminal, now); err != nil {
			t.Fatalf("%s: %v", terminal, err)
		}
		completed := *lc.CompletionTime

		for _, next := range []Status{StatusPending, StatusRunning, StatusSuccess, StatusFailed, StatusCanceled} {
			changed, err := lc.Apply(next, now.Add(time.Hour))
			if !errors.Is(err, ErrTerminal) {
				t.Fatalf("%s -> %s: expected ErrTerminal, got %v", terminal, next, err)
			}
			if changed {
				t.Fatalf("%s -> %s: expected no change", terminal, next)
			}
			if lc.Status != terminal {
				t.Fatalf("%s -> %s: status moved to %s", terminal, next, lc.Status)
			}
			if !lc.CompletionTime.Equal(completed) {
				t.Fatalf("%s -> %s: completion time moved", terminal, next)
			}
		}
	}
}

func TestLifecycleApply_RejectsBackwards(t *testing.T) {
	lc := Lifecycle{Status: StatusRunning}
	if _, err := lc.Apply(StatusPending, time.Now()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := lc.Apply(Status("bogus"), time.Now()); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestNewPipelineDefinition(t *testing.T) {
	job, err := NewJobDefinition("compile", "golang:1.22", []string{"go build ./..."})
	if err != nil {
		t.Fatalf("job: %v", err)
	}
	stage, err := NewStageDefinition("build", 0, job)
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := NewPipelineDefinition("ci", stage); err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if _, err := NewJobDefinition("lint", " ", nil); err == nil {
		t.Fatalf("expected image error")
	}
	if _, err := NewStageDefinition("", 0); err == nil {
		t.Fatalf("expected stage name error")
	}
	if _, err := NewStageDefinition("late", -1); err == nil {
		t.Fatalf("expected order error")
	}
}
