// Command pipelinerun executes a pipeline file. Without --remote it runs the
// whole engine in process with in-memory state; with --remote it submits to
// a dispatcher and follows the run. The final status report is printed as
// JSON and the exit code reflects the verdict.
//
// With --remote and --pipeline-id it can also submit a stored definition
// without a file, print the run history (--list-runs) or print one earlier
// run (--run N).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/Vincamine/PipelineRunner-sub000/internal/dispatch"
	"github.com/Vincamine/PipelineRunner-sub000/internal/domain"
	"github.com/Vincamine/PipelineRunner-sub000/internal/execution/specvalidator"
	"github.com/Vincamine/PipelineRunner-sub000/internal/pipelinefile"
	"github.com/Vincamine/PipelineRunner-sub000/internal/runtimeexec"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitInvalid = 2
)

type options struct {
	File              string
	Remote            string
	PipelineID        string
	ListRuns          bool
	RunNumber         int
	Detach            bool
	CommitHash        string
	Executor          string
	Concurrency       int
	DependencyTimeout time.Duration
	ArtifactRoot      string
	PollInterval      time.Duration
	Verbose           bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, "pipelinerun:", err)
		return exitInvalid
	}

	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	if opts.query() {
		out, err := queryRemote(ctx, logger, opts)
		if err != nil {
			fmt.Fprintln(stderr, "pipelinerun:", err)
			return exitFailed
		}
		if err := writeJSON(stdout, out); err != nil {
			fmt.Fprintln(stderr, "pipelinerun:", err)
			return exitFailed
		}
		return exitOK
	}

	var def domain.PipelineDefinition
	if opts.File != "" {
		def, err = pipelinefile.Load(opts.File)
		if err != nil {
			fmt.Fprintln(stderr, "pipelinerun:", err)
			return exitInvalid
		}
	}

	var report dispatch.StatusReport
	if opts.Remote != "" {
		report, err = runRemote(ctx, logger, opts, def)
	} else {
		report, err = runLocal(ctx, logger, opts, def)
	}
	if err != nil {
		fmt.Fprintln(stderr, "pipelinerun:", err)
		if specvalidator.IsValidationError(err) {
			return exitInvalid
		}
		return exitFailed
	}

	if err := writeJSON(stdout, report); err != nil {
		fmt.Fprintln(stderr, "pipelinerun:", err)
		return exitFailed
	}
	if report.Status == domain.StatusSuccess || (opts.Detach && !report.Status.IsTerminal()) {
		return exitOK
	}
	return exitFailed
}

func parseArgs(args []string) (options, error) {
	opts := options{
		Executor:          runtimeexec.KindDocker,
		Concurrency:       2,
		DependencyTimeout: dispatch.DefaultDependencyTimeout,
		PollInterval:      500 * time.Millisecond,
	}
	flags := pflag.NewFlagSet("pipelinerun", pflag.ContinueOnError)
	flags.StringVarP(&opts.File, "file", "f", "", "pipeline definition (.yaml, .yml, .json, .jsonc)")
	flags.StringVar(&opts.Remote, "remote", "", "dispatcher base URL; runs locally when empty")
	flags.StringVar(&opts.PipelineID, "pipeline-id", "", "stored pipeline id; reused when it exists, otherwise the file is stored under it")
	flags.BoolVar(&opts.ListRuns, "list-runs", false, "with --remote and --pipeline-id, print the run history")
	flags.IntVar(&opts.RunNumber, "run", 0, "with --remote and --pipeline-id, print run N")
	flags.BoolVar(&opts.Detach, "detach", false, "with --remote, print the new run and exit without waiting")
	flags.StringVar(&opts.CommitHash, "commit", "", "commit hash recorded on the run")
	flags.StringVar(&opts.Executor, "executor", opts.Executor, "local executor: docker or shell")
	flags.IntVarP(&opts.Concurrency, "concurrency", "c", opts.Concurrency, "local jobs to run at once")
	flags.DurationVar(&opts.DependencyTimeout, "dependency-timeout", opts.DependencyTimeout, "how long a job waits for its dependencies (0 waits forever)")
	flags.StringVar(&opts.ArtifactRoot, "artifact-root", "", "copy local job artifacts here")
	flags.DurationVar(&opts.PollInterval, "poll-interval", opts.PollInterval, "status poll interval")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "log engine and worker activity to stderr")
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}

	rest := flags.Args()
	if opts.File == "" && len(rest) > 0 {
		opts.File, rest = rest[0], rest[1:]
	}
	if len(rest) > 0 {
		return options{}, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	if opts.RunNumber < 0 {
		return options{}, errors.New("run number must be positive")
	}
	if opts.ListRuns && opts.RunNumber > 0 {
		return options{}, errors.New("--list-runs and --run are exclusive")
	}
	if opts.query() {
		if opts.Remote == "" || opts.PipelineID == "" {
			return options{}, errors.New("--list-runs and --run require --remote and --pipeline-id")
		}
		return opts, nil
	}
	if opts.File == "" && (opts.Remote == "" || opts.PipelineID == "") {
		return options{}, errors.New("a pipeline file is required")
	}
	if opts.Concurrency < 1 {
		return options{}, errors.New("concurrency must be >= 1")
	}
	if opts.PollInterval <= 0 {
		return options{}, errors.New("poll interval must be positive")
	}
	if opts.Detach && opts.Remote == "" {
		return options{}, errors.New("--detach requires --remote")
	}
	return opts, nil
}

// query reports whether the invocation only reads run history.
func (o options) query() bool {
	return o.ListRuns || o.RunNumber > 0
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// follow polls status until the run finishes or ctx ends.
func follow(ctx context.Context, interval time.Duration, status func(context.Context) (dispatch.StatusReport, error)) (dispatch.StatusReport, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		report, err := status(ctx)
		if err != nil {
			return dispatch.StatusReport{}, err
		}
		if report.Status.IsTerminal() {
			return report, nil
		}
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		case <-ticker.C:
		}
	}
}
