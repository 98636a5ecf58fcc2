package main

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.Store != backendPostgres || cfg.Queue != backendRedis {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.DependencyTimeout != 30*time.Minute {
		t.Fatalf("expected 30m dependency timeout, got %s", cfg.DependencyTimeout)
	}
}

func TestLoadConfig_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("PIPELINE_STORE", "postgres")
	t.Setenv("PIPELINE_DEPENDENCY_TIMEOUT", "5m")
	cfg, err := loadConfig([]string{"--store", "MEMORY", "--queue", "memory", "--local-workers", "2", "--dependency-timeout", "0s"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store != backendMemory || cfg.Queue != backendMemory || cfg.LocalWorkers != 2 {
		t.Fatalf("flags not applied: %+v", cfg)
	}
	if cfg.DependencyTimeout != 0 {
		t.Fatalf("expected dependency timeout 0, got %s", cfg.DependencyTimeout)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		args []string
		want string
	}{
		{name: "bad store", args: []string{"--store", "sqlite"}, want: "unknown store"},
		{name: "bad queue", args: []string{"--queue", "kafka"}, want: "unknown queue"},
		{name: "memory queue without workers", args: []string{"--queue", "memory"}, want: "local-workers"},
		{name: "bad env duration", env: map[string]string{"PIPELINE_DEPENDENCY_TIMEOUT": "soon"}, want: "PIPELINE_DEPENDENCY_TIMEOUT"},
		{name: "stray argument", args: []string{"extra"}, want: "unexpected argument"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := loadConfig(tc.args)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
