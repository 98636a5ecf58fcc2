package runtimeexec

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	containerWorkdir = "/workspace"
	// dockerRunFailure is the exit code docker run uses when the daemon
	// could not start the container at all.
	dockerRunFailure = 125
)

// DockerExecutor runs each job in a fresh container through the docker CLI.
// The working directory is mounted at /workspace.
type DockerExecutor struct {
	dockerBin string
	pull      bool
}

func NewDockerExecutor(dockerBin string, pull bool) (*DockerExecutor, error) {
	dockerBin = strings.TrimSpace(dockerBin)
	if dockerBin == "" {
		dockerBin = "docker"
	}
	if _, err := exec.LookPath(dockerBin); err != nil {
		return nil, fmt.Errorf("docker binary not found: %w", err)
	}
	return &DockerExecutor{dockerBin: dockerBin, pull: pull}, nil
}

func (e *DockerExecutor) Kind() string {
	return "docker"
}

func (e *DockerExecutor) Run(ctx context.Context, spec JobSpec) (Result, error) {
	args, err := dockerRunArgs(spec)
	if err != nil {
		return Result{}, err
	}

	if e.pull {
		cmd := exec.CommandContext(ctx, e.dockerBin, "pull", strings.TrimSpace(spec.Image))
		if out, err := cmd.CombinedOutput(); err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			return Result{Output: string(out)}, &EnvironmentError{
				Op:  "docker pull " + spec.Image,
				Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out))),
			}
		}
	}

	output := &outputBuffer{}
	cmd := exec.CommandContext(ctx, e.dockerBin, args...)
	cmd.Stdout = output
	cmd.Stderr = output
	// Killing the CLI leaves the container running; remove it by name.
	cmd.Cancel = func() error {
		e.remove(spec.Name)
		return cmd.Process.Kill()
	}
	cmd.WaitDelay = 10 * time.Second

	err = cmd.Run()
	if ctx.Err() != nil {
		return Result{ExitCode: -1, Output: output.String()}, ctx.Err()
	}
	if err == nil {
		return Result{ExitCode: 0, Output: output.String()}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code == dockerRunFailure {
			return Result{ExitCode: code, Output: output.String()}, &EnvironmentError{
				Op:  "docker run",
				Err: fmt.Errorf("container failed to start: %s", strings.TrimSpace(output.String())),
			}
		}
		return Result{ExitCode: code, Output: output.String()}, nil
	}
	return Result{ExitCode: -1, Output: output.String()}, &EnvironmentError{Op: "docker run", Err: err}
}

func (e *DockerExecutor) remove(name string) {
	if strings.TrimSpace(name) == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, e.dockerBin, "rm", "-f", name).Run()
}

func dockerRunArgs(spec JobSpec) ([]string, error) {
	image := strings.TrimSpace(spec.Image)
	if image == "" {
		return nil, ErrImageRequired
	}
	script := joinScript(spec.Script)
	if script == "" {
		return nil, ErrScriptRequired
	}

	args := []string{"run", "--rm"}
	if name := strings.TrimSpace(spec.Name); name != "" {
		args = append(args, "--name", name)
	}
	if wd := strings.TrimSpace(spec.WorkingDir); wd != "" {
		abs, err := filepath.Abs(wd)
		if err != nil {
			return nil, fmt.Errorf("resolve working dir: %w", err)
		}
		args = append(args, "-v", abs+":"+containerWorkdir)
	}
	args = append(args, "-w", containerWorkdir)
	for _, pair := range envPairs(spec.Env) {
		args = append(args, "-e", pair)
	}
	args = append(args, image, "sh", "-c", script)
	return args, nil
}
