//go:build unix

package runtimeexec

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestShellExecutor_Run(t *testing.T) {
	wd := t.TempDir()
	exec := NewShellExecutor()
	cases := []struct {
		name     string
		script   []string
		wantCode int
		wantOut  string
	}{
		{name: "success", script: []string{"echo hello"}, wantCode: 0, wantOut: "hello"},
		{name: "failure stops chain", script: []string{"echo one", "exit 3", "echo never"}, wantCode: 3, wantOut: "one"},
		{name: "env", script: []string{"echo $GREETING"}, wantCode: 0, wantOut: "hi"},
	}
	for _, tc := range cases {
		res, err := exec.Run(context.Background(), JobSpec{
			Script:     tc.script,
			WorkingDir: wd,
			Env:        map[string]string{"GREETING": "hi"},
		})
		if err != nil {
			t.Fatalf("%s: run: %v", tc.name, err)
		}
		if res.ExitCode != tc.wantCode {
			t.Fatalf("%s: expected exit %d got %d", tc.name, tc.wantCode, res.ExitCode)
		}
		if !strings.Contains(res.Output, tc.wantOut) {
			t.Fatalf("%s: expected output to contain %q got %q", tc.name, tc.wantOut, res.Output)
		}
		if strings.Contains(res.Output, "never") {
			t.Fatalf("%s: script continued after failure", tc.name)
		}
	}
}

func TestShellExecutor_WorkingDir(t *testing.T) {
	wd := t.TempDir()
	_, err := NewShellExecutor().Run(context.Background(), JobSpec{Script: []string{"echo data > out.txt"}, WorkingDir: wd})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(wd, "out.txt")); err != nil {
		t.Fatalf("expected file in working dir: %v", err)
	}
}

func TestShellExecutor_Cancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := NewShellExecutor().Run(ctx, JobSpec{Script: []string{"sleep 30"}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Fatalf("cancel did not stop the script")
	}
}

func TestShellExecutor_MissingWorkingDir(t *testing.T) {
	_, err := NewShellExecutor().Run(context.Background(), JobSpec{
		Script:     []string{"true"},
		WorkingDir: filepath.Join(t.TempDir(), "missing"),
	})
	if !IsEnvironmentError(err) {
		t.Fatalf("expected environment error, got %v", err)
	}
}

func TestNew_Kinds(t *testing.T) {
	exec, err := New(Options{Kind: "Shell"})
	if err != nil {
		t.Fatalf("shell: %v", err)
	}
	if exec.Kind() != KindShell {
		t.Fatalf("expected shell, got %s", exec.Kind())
	}
	if _, err := New(Options{Kind: "podman"}); err == nil {
		t.Fatalf("expected error for unknown executor")
	}
	if _, err := New(Options{Kind: KindDocker, DockerBin: "definitely-not-docker-bin"}); err == nil {
		t.Fatalf("expected error for missing docker binary")
	}
}
