package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/Vincamine/PipelineRunner-sub000/internal/platform/env"
	"github.com/Vincamine/PipelineRunner-sub000/internal/runtimeexec"
)

type config struct {
	DispatcherURL   string
	WorkerID        string
	RequestTimeout  time.Duration
	MetricsAddr     string
	Concurrency     int
	PollRate        float64
	ShutdownGrace   time.Duration
	ShutdownTimeout time.Duration
	Executor        string
	DockerBin       string
	PullImages      bool
	ArtifactRoot    string
	UploadArtifacts bool
}

func loadConfig(args []string) (config, error) {
	requestTimeout, err := env.Duration("PIPELINE_DISPATCHER_TIMEOUT", 10*time.Second)
	if err != nil {
		return config{}, err
	}
	concurrency, err := env.Int("PIPELINE_WORKER_CONCURRENCY", 2)
	if err != nil {
		return config{}, err
	}
	pollRate, err := env.Float("PIPELINE_WORKER_POLL_RATE", 0)
	if err != nil {
		return config{}, err
	}
	grace, err := env.Duration("PIPELINE_WORKER_SHUTDOWN_GRACE", 30*time.Second)
	if err != nil {
		return config{}, err
	}
	shutdownTimeout, err := env.Duration("PIPELINE_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return config{}, err
	}
	pull, err := env.Bool("PIPELINE_DOCKER_PULL", true)
	if err != nil {
		return config{}, err
	}
	upload, err := env.Bool("PIPELINE_ARTIFACT_UPLOAD", false)
	if err != nil {
		return config{}, err
	}
	cfg := config{
		DispatcherURL:   env.String("PIPELINE_DISPATCHER_URL", "http://localhost:8080"),
		WorkerID:        env.String("PIPELINE_WORKER_ID", defaultWorkerID()),
		RequestTimeout:  requestTimeout,
		MetricsAddr:     env.String("PIPELINE_WORKER_METRICS_ADDR", ":9090"),
		Concurrency:     concurrency,
		PollRate:        pollRate,
		ShutdownGrace:   grace,
		ShutdownTimeout: shutdownTimeout,
		Executor:        env.String("PIPELINE_EXECUTOR", runtimeexec.KindDocker),
		DockerBin:       env.String("PIPELINE_DOCKER_BIN", "docker"),
		PullImages:      pull,
		ArtifactRoot:    env.String("PIPELINE_ARTIFACT_ROOT", filepath.Join(os.TempDir(), "pipeline-artifacts")),
		UploadArtifacts: upload,
	}

	flags := pflag.NewFlagSet("worker", pflag.ContinueOnError)
	flags.StringVar(&cfg.DispatcherURL, "dispatcher", cfg.DispatcherURL, "dispatcher base URL")
	flags.StringVar(&cfg.WorkerID, "id", cfg.WorkerID, "identity presented to the dispatcher")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address for /healthz, /readyz and /metrics")
	flags.IntVarP(&cfg.Concurrency, "concurrency", "c", cfg.Concurrency, "jobs to run at once")
	flags.Float64Var(&cfg.PollRate, "poll-rate", cfg.PollRate, "max dequeue attempts per second (0 is unlimited)")
	flags.StringVar(&cfg.Executor, "executor", cfg.Executor, "docker or shell")
	flags.BoolVar(&cfg.PullImages, "pull", cfg.PullImages, "pull images before each job")
	flags.StringVar(&cfg.ArtifactRoot, "artifact-root", cfg.ArtifactRoot, "directory collected artifacts are copied to")
	flags.BoolVar(&cfg.UploadArtifacts, "upload-artifacts", cfg.UploadArtifacts, "upload artifact bundles to object storage")
	if err := flags.Parse(args); err != nil {
		return config{}, err
	}
	if rest := flags.Args(); len(rest) > 0 {
		return config{}, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return cfg, cfg.validate()
}

func (c config) validate() error {
	if strings.TrimSpace(c.DispatcherURL) == "" {
		return errors.New("dispatcher url is required")
	}
	if c.Concurrency < 1 {
		return errors.New("concurrency must be >= 1")
	}
	if c.PollRate < 0 {
		return errors.New("poll rate must be >= 0")
	}
	if c.ShutdownGrace < 0 {
		return errors.New("shutdown grace must be >= 0")
	}
	if strings.TrimSpace(c.ArtifactRoot) == "" {
		return errors.New("artifact root is required")
	}
	return nil
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		return "worker"
	}
	return "worker-" + host
}
