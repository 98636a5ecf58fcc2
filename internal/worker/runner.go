// Package worker runs job executions handed out by the dispatcher and
// reports their outcome back through the communication layer.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Vincamine/PipelineRunner-sub000/internal/artifacts"
	"github.com/Vincamine/PipelineRunner-sub000/internal/comm"
	"github.com/Vincamine/PipelineRunner-sub000/internal/domain"
	"github.com/Vincamine/PipelineRunner-sub000/internal/runtimeexec"
)

const allowFailureNote = "job failed but allowFailure=true; marking SUCCESS"

type Runner struct {
	logger    *slog.Logger
	layer     comm.Layer
	executor  runtimeexec.Executor
	registry  *Registry
	collector *artifacts.Collector
	uploader  *artifacts.Uploader
}

// RunnerOptions holds the optional collaborators of a Runner.
type RunnerOptions struct {
	Registry  *Registry
	Collector *artifacts.Collector
	Uploader  *artifacts.Uploader
}

func NewRunner(logger *slog.Logger, layer comm.Layer, executor runtimeexec.Executor, opts RunnerOptions) (*Runner, error) {
	if layer == nil {
		return nil, errors.New("communication layer is required")
	}
	if executor == nil {
		return nil, errors.New("executor is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	return &Runner{
		logger:    logger,
		layer:     layer,
		executor:  executor,
		registry:  registry,
		collector: opts.Collector,
		uploader:  opts.Uploader,
	}, nil
}

func (r *Runner) Registry() *Registry {
	return r.registry
}

// Run executes one job execution and reports its final status exactly once.
// Jobs that are no longer PENDING, or already running here, are skipped.
func (r *Runner) Run(ctx context.Context, jobExecutionID string) error {
	snap, err := r.layer.GetJobSnapshot(ctx, jobExecutionID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobExecutionID, err)
	}
	if snap.Execution.Status.IsTerminal() {
		r.logger.Info("job already finished, skipping", "job_execution_id", jobExecutionID, "status", snap.Execution.Status)
		return nil
	}
	if snap.Execution.Status == domain.StatusRunning {
		// A redelivered job another worker already claimed.
		r.logger.Info("job already claimed, skipping", "job_execution_id", jobExecutionID)
		return nil
	}

	jobCtx, release, ok := r.registry.Register(ctx, jobExecutionID)
	if !ok {
		r.logger.Warn("job already running on this worker", "job_execution_id", jobExecutionID)
		return nil
	}
	defer release()

	if err := r.layer.ReportJobStatus(ctx, jobExecutionID, domain.StatusRunning, ""); err != nil {
		if errors.Is(err, domain.ErrTerminal) {
			// Canceled between dequeue and start.
			r.logger.Info("job finished before start, skipping", "job_execution_id", jobExecutionID)
			return nil
		}
		return fmt.Errorf("mark job %s running: %w", jobExecutionID, err)
	}
	activeJobs.Inc()
	defer activeJobs.Dec()

	def := snap.Definition
	logger := r.logger.With("job_execution_id", jobExecutionID, "job", def.Name)
	logger.Info("job started", "image", def.Image)
	start := time.Now()

	res, runErr := r.executor.Run(jobCtx, runtimeexec.JobSpec{
		Name:       "job-" + jobExecutionID,
		Image:      def.Image,
		Script:     def.Script,
		WorkingDir: def.WorkingDir,
		Env: map[string]string{
			"PIPELINE_EXECUTION_ID":     snap.PipelineExecutionID,
			"PIPELINE_JOB_EXECUTION_ID": jobExecutionID,
			"PIPELINE_JOB_NAME":         def.Name,
		},
	})
	status, logs := outcome(def, res, runErr, context.Cause(jobCtx))
	if runErr != nil && status != domain.StatusCanceled {
		logger.Warn("job environment error", "error", runErr)
	}

	if note := r.collectArtifacts(context.WithoutCancel(ctx), logger, jobExecutionID, def); note != "" {
		logs = appendLine(logs, note)
	}

	jobDuration.WithLabelValues(string(status)).Observe(time.Since(start).Seconds())
	logger.Info("job finished", "status", status, "exit_code", res.ExitCode, "duration_ms", time.Since(start).Milliseconds())

	if err := r.layer.ReportJobStatus(context.WithoutCancel(ctx), jobExecutionID, status, logs); err != nil {
		if errors.Is(err, domain.ErrTerminal) {
			logger.Info("job already finished on the dispatcher, result dropped", "status", status)
			return nil
		}
		return fmt.Errorf("report job %s %s: %w", jobExecutionID, status, err)
	}
	return nil
}

// outcome maps an execution result to the reported status and logs.
func outcome(def domain.JobDefinition, res runtimeexec.Result, runErr, cause error) (domain.Status, string) {
	logs := res.Output
	if cause != nil {
		return domain.StatusCanceled, appendLine(logs, "job canceled: "+cause.Error())
	}

	status := domain.StatusSuccess
	switch {
	case runErr != nil:
		status = domain.StatusFailed
		logs = appendLine(logs, "execution error: "+runErr.Error())
	case res.ExitCode != 0:
		status = domain.StatusFailed
		logs = appendLine(logs, fmt.Sprintf("exit code %d", res.ExitCode))
	}
	if status == domain.StatusFailed && def.AllowFailure {
		status = domain.StatusSuccess
		logs = appendLine(logs, allowFailureNote)
	}
	return status, logs
}

// collectArtifacts returns a log line describing what was shipped, if
// anything. Failures here never change the job status.
func (r *Runner) collectArtifacts(ctx context.Context, logger *slog.Logger, jobExecutionID string, def domain.JobDefinition) string {
	if r.collector == nil || len(def.ArtifactPatterns) == 0 {
		return ""
	}
	col := r.collector.Collect(jobExecutionID, def.WorkingDir, def.ArtifactPatterns)
	if len(col.Files) == 0 {
		return ""
	}
	if r.uploader == nil {
		return fmt.Sprintf("artifacts: %d file(s) collected in %s", len(col.Files), col.Dir)
	}
	key, err := r.uploader.Upload(ctx, jobExecutionID, col)
	if err != nil {
		artifactFailures.Inc()
		logger.Warn("artifact upload failed", "error", err)
		return fmt.Sprintf("artifacts: %d file(s) collected in %s, upload failed", len(col.Files), col.Dir)
	}
	return fmt.Sprintf("artifacts: %d file(s) uploaded to %s", len(col.Files), key)
}

func appendLine(logs, line string) string {
	if logs == "" {
		return line
	}
	if !strings.HasSuffix(logs, "\n") {
		logs += "\n"
	}
	return logs + line
}
