// Package runtimeexec runs a job script inside an isolated environment and
// reports its exit code and combined output.
package runtimeexec

import (
	"context"
	"errors"
	"fmt"
)

// Executor runs one job to completion. A non-zero exit code is a normal
// Result; errors are reserved for failures of the environment itself and
// for cancellation.
type Executor interface {
	Kind() string
	Run(ctx context.Context, spec JobSpec) (Result, error)
}

type JobSpec struct {
	// Name identifies the run, e.g. the job execution id. Docker uses it as
	// the container name.
	Name       string
	Image      string
	Script     []string
	WorkingDir string
	Env        map[string]string
}

type Result struct {
	ExitCode int
	Output   string
}

var (
	ErrImageRequired  = errors.New("image is required")
	ErrScriptRequired = errors.New("script is required")
)

// EnvironmentError reports that the job never got to run its script, for
// example because the image could not be pulled.
type EnvironmentError struct {
	Op  string
	Err error
}

func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *EnvironmentError) Unwrap() error {
	return e.Err
}

// IsEnvironmentError reports whether err came from the execution environment.
func IsEnvironmentError(err error) bool {
	var target *EnvironmentError
	return errors.As(err, &target)
}
