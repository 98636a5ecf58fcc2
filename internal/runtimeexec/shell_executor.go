//go:build unix

package runtimeexec

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// ShellExecutor runs the script on the host with sh -c. The image is
// ignored; it exists for local runs and tests where docker is unavailable.
type ShellExecutor struct {
	Shell string
}

func NewShellExecutor() *ShellExecutor {
	return &ShellExecutor{Shell: "sh"}
}

func newShellExecutor() (Executor, error) {
	return NewShellExecutor(), nil
}

func (e *ShellExecutor) Kind() string {
	return "shell"
}

func (e *ShellExecutor) Run(ctx context.Context, spec JobSpec) (Result, error) {
	script := joinScript(spec.Script)
	if script == "" {
		return Result{}, ErrScriptRequired
	}
	shell := strings.TrimSpace(e.Shell)
	if shell == "" {
		shell = "sh"
	}

	output := &outputBuffer{}
	cmd := exec.CommandContext(ctx, shell, "-c", script)
	cmd.Dir = strings.TrimSpace(spec.WorkingDir)
	cmd.Stdout = output
	cmd.Stderr = output
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), envPairs(spec.Env)...)
	}
	// Own process group so cancellation reaches the script's children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	if ctx.Err() != nil {
		return Result{ExitCode: -1, Output: output.String()}, ctx.Err()
	}
	if err == nil {
		return Result{ExitCode: 0, Output: output.String()}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Result{ExitCode: exitErr.ExitCode(), Output: output.String()}, nil
	}
	return Result{ExitCode: -1, Output: output.String()}, &EnvironmentError{Op: "start " + shell, Err: err}
}
