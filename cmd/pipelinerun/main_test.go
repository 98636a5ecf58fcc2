//go:build unix

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Vincamine/PipelineRunner-sub000/internal/comm"
	"github.com/Vincamine/PipelineRunner-sub000/internal/comm/httpapi"
	"github.com/Vincamine/PipelineRunner-sub000/internal/dispatch"
	"github.com/Vincamine/PipelineRunner-sub000/internal/domain"
	"github.com/Vincamine/PipelineRunner-sub000/internal/repo/memory"
)

func writePipeline(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write pipeline: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (int, dispatch.StatusReport, string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	var stdout, stderr bytes.Buffer
	code := run(ctx, args, &stdout, &stderr)
	var report dispatch.StatusReport
	if stdout.Len() > 0 {
		if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
			t.Fatalf("decode report: %v\n%s", err, stdout.String())
		}
	}
	return code, report, stderr.String()
}

func TestRun_LocalSuccess(t *testing.T) {
	path := writePipeline(t, "green.yaml", `
stages:
  - name: build
    jobs:
      - name: compile
        image: alpine:3
        script: echo compiled
  - name: test
    jobs:
      - name: unit
        image: alpine:3
        script: [echo one, echo two]
        dependencies: [compile]
`)
	code, report, stderr := runCLI(t, "--executor", "shell", "--poll-interval", "20ms", path)
	if code != exitOK {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr)
	}
	if report.Status != domain.StatusSuccess || report.PipelineName != "green" {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(report.Stages) != 2 || !strings.Contains(report.Stages[1].Jobs[0].Logs, "two") {
		t.Fatalf("unexpected stages: %+v", report.Stages)
	}
}

func TestRun_LocalFailure(t *testing.T) {
	path := writePipeline(t, "red.yaml", `
stages:
  - name: build
    jobs:
      - name: compile
        image: alpine:3
        script: exit 3
  - name: deploy
    jobs:
      - name: ship
        image: alpine:3
        script: echo never
`)
	code, report, _ := runCLI(t, "--executor", "shell", "--poll-interval", "20ms", path)
	if code != exitFailed {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if report.Status != domain.StatusFailed {
		t.Fatalf("expected FAILED, got %s", report.Status)
	}
	if got := report.Stages[1].Status; got != domain.StatusCanceled {
		t.Fatalf("expected later stage CANCELED, got %s", got)
	}
}

func TestRun_InvalidDefinition(t *testing.T) {
	path := writePipeline(t, "bad.yaml", "stages: []\n")
	code, _, stderr := runCLI(t, "--executor", "shell", path)
	if code != exitInvalid {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if !strings.Contains(stderr, "stages") {
		t.Fatalf("expected validation message, got %q", stderr)
	}
}

func TestParseArgs(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want string
	}{
		{name: "no file", args: nil, want: "pipeline file is required"},
		{name: "detach without remote", args: []string{"--detach", "p.yaml"}, want: "--detach requires --remote"},
		{name: "extra args", args: []string{"a.yaml", "b.yaml"}, want: "unexpected argument"},
		{name: "bad concurrency", args: []string{"-c", "0", "p.yaml"}, want: "concurrency"},
		{name: "pipeline id without remote", args: []string{"--pipeline-id", "web"}, want: "pipeline file is required"},
		{name: "history without remote", args: []string{"--list-runs", "--pipeline-id", "web"}, want: "require --remote"},
		{name: "history without pipeline id", args: []string{"--run", "2", "--remote", "http://x"}, want: "require --remote"},
		{name: "negative run", args: []string{"--run", "-1", "p.yaml"}, want: "run number"},
		{name: "both history modes", args: []string{"--list-runs", "--run", "1"}, want: "exclusive"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseArgs(tc.args)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}

	opts, err := parseArgs([]string{"-f", "p.yaml", "--remote", "http://x"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.File != "p.yaml" || opts.Remote != "http://x" {
		t.Fatalf("unexpected options: %+v", opts)
	}

	opts, err = parseArgs([]string{"--remote", "http://x", "--pipeline-id", "web"})
	if err != nil {
		t.Fatalf("parse stored pipeline: %v", err)
	}
	if opts.File != "" || opts.PipelineID != "web" || opts.query() {
		t.Fatalf("unexpected options: %+v", opts)
	}
}

func TestRun_RemoteHistory(t *testing.T) {
	t.Setenv("PIPELINE_AUTH_SECRET", "")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	queue := comm.NewMemoryQueue()
	engine, err := dispatch.New(logger, store, store, queue, queue, dispatch.Config{})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	srv := httptest.NewServer(httpapi.NewServer(logger, engine, httpapi.ServerOptions{}).Handler())
	t.Cleanup(func() {
		srv.Close()
		engine.Close()
		queue.Close()
	})

	path := writePipeline(t, "web.yaml", `
stages:
  - name: build
    jobs:
      - name: compile
        image: alpine:3
        script: echo compiled
`)
	code, first, stderr := runCLI(t, "--remote", srv.URL, "--detach", "--pipeline-id", "web", "--commit", "c1", path)
	if code != exitOK || first.RunNumber != 1 || first.PipelineID != "web" {
		t.Fatalf("first submit: exit %d report %+v: %s", code, first, stderr)
	}
	// The stored definition is reused without a file.
	code, second, stderr := runCLI(t, "--remote", srv.URL, "--detach", "--pipeline-id", "web", "--commit", "c2")
	if code != exitOK || second.RunNumber != 2 || second.PipelineName != "web" {
		t.Fatalf("second submit: exit %d report %+v: %s", code, second, stderr)
	}

	var stdout, errOut bytes.Buffer
	if code := run(context.Background(), []string{"--remote", srv.URL, "--pipeline-id", "web", "--list-runs"}, &stdout, &errOut); code != exitOK {
		t.Fatalf("list runs: exit %d: %s", code, errOut.String())
	}
	var runs []dispatch.RunSummary
	if err := json.Unmarshal(stdout.Bytes(), &runs); err != nil {
		t.Fatalf("decode runs: %v\n%s", err, stdout.String())
	}
	if len(runs) != 2 || runs[0].CommitHash != "c1" || runs[1].PipelineExecutionID != second.PipelineExecutionID {
		t.Fatalf("unexpected runs %+v", runs)
	}

	code, report, stderr := runCLI(t, "--remote", srv.URL, "--pipeline-id", "web", "--run", "1")
	if code != exitOK || report.PipelineExecutionID != first.PipelineExecutionID {
		t.Fatalf("run 1: exit %d report %+v: %s", code, report, stderr)
	}
	if code, _, _ := runCLI(t, "--remote", srv.URL, "--pipeline-id", "web", "--run", "5"); code != exitFailed {
		t.Fatalf("expected exit 1 for a missing run, got %d", code)
	}
}
