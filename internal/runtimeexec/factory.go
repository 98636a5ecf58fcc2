package runtimeexec

import (
	"fmt"
	"strings"
)

const (
	KindDocker = "docker"
	KindShell  = "shell"
)

type Options struct {
	Kind      string
	DockerBin string
	// Pull refreshes the image before every docker run.
	Pull bool
}

// New builds the executor named by opts.Kind; docker is the default.
func New(opts Options) (Executor, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Kind)) {
	case "", KindDocker:
		return NewDockerExecutor(opts.DockerBin, opts.Pull)
	case KindShell:
		return newShellExecutor()
	default:
		return nil, fmt.Errorf("unknown executor %q (want %s or %s)", opts.Kind, KindDocker, KindShell)
	}
}
