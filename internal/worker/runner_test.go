package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Vincamine/PipelineRunner-sub000/internal/artifacts"
	"github.com/Vincamine/PipelineRunner-sub000/internal/comm"
	"github.com/Vincamine/PipelineRunner-sub000/internal/domain"
	"github.com/Vincamine/PipelineRunner-sub000/internal/repo"
	"github.com/Vincamine/PipelineRunner-sub000/internal/runtimeexec"
	"github.com/Vincamine/PipelineRunner-sub000/internal/storage/objectstore"
)

type report struct {
	status domain.Status
	logs   string
}

type fakeLayer struct {
	mu      sync.Mutex
	jobs    map[string]comm.JobSnapshot
	reports map[string][]report
	failOn  domain.Status
}

func newFakeLayer(snaps ...comm.JobSnapshot) *fakeLayer {
	l := &fakeLayer{jobs: map[string]comm.JobSnapshot{}, reports: map[string][]report{}}
	for _, s := range snaps {
		l.jobs[s.Execution.ID] = s
	}
	return l
}

func (l *fakeLayer) GetJobDependencies(ctx context.Context, id string) ([]string, error) {
	return nil, nil
}

func (l *fakeLayer) GetJobStatus(ctx context.Context, id string) (domain.Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap, ok := l.jobs[id]
	if !ok {
		return "", repo.ErrNotFound
	}
	return snap.Execution.Status, nil
}

func (l *fakeLayer) ReportJobStatus(ctx context.Context, id string, status domain.Status, logs string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if status == l.failOn {
		return errors.New("database unavailable")
	}
	snap := l.jobs[id]
	snap.Execution.Status = status
	l.jobs[id] = snap
	l.reports[id] = append(l.reports[id], report{status: status, logs: logs})
	return nil
}

func (l *fakeLayer) EnqueueJob(ctx context.Context, id string) error { return nil }

func (l *fakeLayer) ListJobExecutions(ctx context.Context, id string) ([]domain.JobExecution, error) {
	return nil, nil
}

func (l *fakeLayer) GetJobSnapshot(ctx context.Context, id string) (comm.JobSnapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap, ok := l.jobs[id]
	if !ok {
		return comm.JobSnapshot{}, repo.ErrNotFound
	}
	return snap, nil
}

func (l *fakeLayer) history(id string) []report {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]report{}, l.reports[id]...)
}

type fakeExecutor struct {
	result runtimeexec.Result
	err    error
	block  bool
	calls  atomic.Int32
}

func (e *fakeExecutor) Kind() string { return "fake" }

func (e *fakeExecutor) Run(ctx context.Context, spec runtimeexec.JobSpec) (runtimeexec.Result, error) {
	e.calls.Add(1)
	if e.block {
		<-ctx.Done()
		return runtimeexec.Result{ExitCode: -1, Output: "interrupted"}, ctx.Err()
	}
	return e.result, e.err
}

func snapshot(id string, allowFailure bool) comm.JobSnapshot {
	return comm.JobSnapshot{
		PipelineExecutionID: "p1",
		Execution:           domain.JobExecution{ID: id, AllowFailure: allowFailure, Lifecycle: domain.Lifecycle{Status: domain.StatusPending}},
		Definition:          domain.JobDefinition{Name: "unit-test", Image: "alpine", Script: []string{"go test"}, AllowFailure: allowFailure},
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunner_Outcomes(t *testing.T) {
	envErr := &runtimeexec.EnvironmentError{Op: "docker pull alpine", Err: errors.New("manifest unknown")}
	cases := []struct {
		name         string
		allowFailure bool
		result       runtimeexec.Result
		err          error
		want         domain.Status
		wantLog      string
	}{
		{name: "zero exit", result: runtimeexec.Result{Output: "ok\n"}, want: domain.StatusSuccess, wantLog: "ok"},
		{name: "non-zero exit", result: runtimeexec.Result{ExitCode: 2, Output: "boom"}, want: domain.StatusFailed, wantLog: "exit code 2"},
		{name: "allow failure", allowFailure: true, result: runtimeexec.Result{ExitCode: 1}, want: domain.StatusSuccess, wantLog: allowFailureNote},
		{name: "environment error", err: envErr, want: domain.StatusFailed, wantLog: "manifest unknown"},
		{name: "environment error tolerated", allowFailure: true, err: envErr, want: domain.StatusSuccess, wantLog: "manifest unknown"},
	}
	for _, tc := range cases {
		layer := newFakeLayer(snapshot("j1", tc.allowFailure))
		runner, err := NewRunner(discard(), layer, &fakeExecutor{result: tc.result, err: tc.err}, RunnerOptions{})
		if err != nil {
			t.Fatalf("%s: new runner: %v", tc.name, err)
		}
		if err := runner.Run(context.Background(), "j1"); err != nil {
			t.Fatalf("%s: run: %v", tc.name, err)
		}
		got := layer.history("j1")
		if len(got) != 2 || got[0].status != domain.StatusRunning {
			t.Fatalf("%s: expected RUNNING then final report, got %+v", tc.name, got)
		}
		if got[1].status != tc.want {
			t.Fatalf("%s: expected %s got %s", tc.name, tc.want, got[1].status)
		}
		if !strings.Contains(got[1].logs, tc.wantLog) {
			t.Fatalf("%s: expected logs to contain %q got %q", tc.name, tc.wantLog, got[1].logs)
		}
	}
}

func TestRunner_SkipsJobsNoLongerPending(t *testing.T) {
	for _, status := range []domain.Status{domain.StatusCanceled, domain.StatusSuccess, domain.StatusRunning} {
		t.Run(string(status), func(t *testing.T) {
			snap := snapshot("j1", false)
			snap.Execution.Status = status
			layer := newFakeLayer(snap)
			exec := &fakeExecutor{}
			runner, _ := NewRunner(discard(), layer, exec, RunnerOptions{})
			if err := runner.Run(context.Background(), "j1"); err != nil {
				t.Fatalf("run: %v", err)
			}
			if exec.calls.Load() != 0 || len(layer.history("j1")) != 0 {
				t.Fatalf("%s job must not run or report", status)
			}
		})
	}
}

func TestRunner_UnknownJob(t *testing.T) {
	runner, _ := NewRunner(discard(), newFakeLayer(), &fakeExecutor{}, RunnerOptions{})
	if err := runner.Run(context.Background(), "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRunner_ReportErrorPropagates(t *testing.T) {
	layer := newFakeLayer(snapshot("j1", false))
	layer.failOn = domain.StatusSuccess
	runner, _ := NewRunner(discard(), layer, &fakeExecutor{}, RunnerOptions{})
	if err := runner.Run(context.Background(), "j1"); err == nil || !strings.Contains(err.Error(), "database unavailable") {
		t.Fatalf("expected persistence error, got %v", err)
	}
}

func TestRunner_CollectsArtifacts(t *testing.T) {
	work := t.TempDir()
	if err := os.WriteFile(filepath.Join(work, "report.xml"), []byte("<ok/>"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	snap := snapshot("j1", false)
	snap.Definition.WorkingDir = work
	snap.Definition.ArtifactPatterns = []string{"*.xml", "missing/*"}
	layer := newFakeLayer(snap)

	collector, err := artifacts.NewCollector(discard(), t.TempDir())
	if err != nil {
		t.Fatalf("collector: %v", err)
	}
	store := objectstore.NewMemoryStore()
	uploader, err := artifacts.NewUploader(store, "artifacts")
	if err != nil {
		t.Fatalf("uploader: %v", err)
	}
	// a failing job still ships its artifacts
	exec := &fakeExecutor{result: runtimeexec.Result{ExitCode: 1}}
	runner, _ := NewRunner(discard(), layer, exec, RunnerOptions{Collector: collector, Uploader: uploader})
	if err := runner.Run(context.Background(), "j1"); err != nil {
		t.Fatalf("run: %v", err)
	}
	final := layer.history("j1")[1]
	if final.status != domain.StatusFailed {
		t.Fatalf("expected FAILED got %s", final.status)
	}
	if !strings.Contains(final.logs, artifacts.BundleKey("j1")) {
		t.Fatalf("expected upload note in logs, got %q", final.logs)
	}
	if _, err := store.Stat(context.Background(), "artifacts", artifacts.BundleKey("j1")); err != nil {
		t.Fatalf("expected bundle in store: %v", err)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	ctx, release, ok := reg.Register(context.Background(), "j1")
	if !ok {
		t.Fatalf("expected first register to succeed")
	}
	if _, _, ok := reg.Register(context.Background(), "j1"); ok {
		t.Fatalf("expected duplicate register to fail")
	}
	if !reg.Cancel("j1") {
		t.Fatalf("expected cancel to find j1")
	}
	if !errors.Is(context.Cause(ctx), ErrCanceledByRequest) {
		t.Fatalf("expected ErrCanceledByRequest cause, got %v", context.Cause(ctx))
	}
	release()
	if len(reg.Active()) != 0 || reg.Cancel("j1") {
		t.Fatalf("expected j1 to be released")
	}
}
