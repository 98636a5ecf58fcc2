package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/Vincamine/PipelineRunner-sub000/internal/dispatch"
	"github.com/Vincamine/PipelineRunner-sub000/internal/platform/env"
	"github.com/Vincamine/PipelineRunner-sub000/internal/runtimeexec"
)

const (
	backendMemory   = "memory"
	backendPostgres = "postgres"
	backendRedis    = "redis"
)

type config struct {
	Addr              string
	ShutdownTimeout   time.Duration
	Store             string
	Queue             string
	DependencyTimeout time.Duration
	// LocalWorkers runs a worker pool inside the dispatcher process.
	LocalWorkers int
	Executor     string
}

// loadConfig reads PIPELINE_* variables first; flags override them.
func loadConfig(args []string) (config, error) {
	shutdownTimeout, err := env.Duration("PIPELINE_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return config{}, err
	}
	depTimeout, err := env.Duration("PIPELINE_DEPENDENCY_TIMEOUT", dispatch.DefaultDependencyTimeout)
	if err != nil {
		return config{}, err
	}
	localWorkers, err := env.Int("PIPELINE_LOCAL_WORKERS", 0)
	if err != nil {
		return config{}, err
	}
	cfg := config{
		Addr:              env.String("PIPELINE_DISPATCHER_ADDR", ":8080"),
		ShutdownTimeout:   shutdownTimeout,
		Store:             env.String("PIPELINE_STORE", backendPostgres),
		Queue:             env.String("PIPELINE_QUEUE", backendRedis),
		DependencyTimeout: depTimeout,
		LocalWorkers:      localWorkers,
		Executor:          env.String("PIPELINE_EXECUTOR", runtimeexec.KindDocker),
	}

	flags := pflag.NewFlagSet("dispatcher", pflag.ContinueOnError)
	flags.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	flags.StringVar(&cfg.Store, "store", cfg.Store, "execution store: postgres or memory")
	flags.StringVar(&cfg.Queue, "queue", cfg.Queue, "job queue: redis or memory")
	flags.DurationVar(&cfg.DependencyTimeout, "dependency-timeout", cfg.DependencyTimeout, "how long a job waits for its dependencies (0 waits forever)")
	flags.IntVar(&cfg.LocalWorkers, "local-workers", cfg.LocalWorkers, "jobs to run concurrently inside the dispatcher")
	flags.StringVar(&cfg.Executor, "executor", cfg.Executor, "executor for local workers: docker or shell")
	if err := flags.Parse(args); err != nil {
		return config{}, err
	}
	if rest := flags.Args(); len(rest) > 0 {
		return config{}, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	cfg.Queue = strings.ToLower(strings.TrimSpace(cfg.Queue))
	return cfg, cfg.validate()
}

func (c config) validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("addr is required")
	}
	if c.Store != backendPostgres && c.Store != backendMemory {
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.Queue != backendRedis && c.Queue != backendMemory {
		return fmt.Errorf("unknown queue %q", c.Queue)
	}
	if c.DependencyTimeout < 0 {
		return errors.New("dependency timeout must be >= 0")
	}
	if c.LocalWorkers < 0 {
		return errors.New("local workers must be >= 0")
	}
	if c.Queue == backendMemory && c.LocalWorkers == 0 {
		return errors.New("the memory queue is only reachable by local workers; set --local-workers")
	}
	return nil
}
