// Package auth signs and verifies requests between pipeline services. A
// shared secret HMACs the method, path, request id and caller identity, so
// workers and submitters can reach the dispatcher without a session.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Vincamine/PipelineRunner-sub000/internal/platform/env"
)

type Mode string

const (
	ModeHMAC     Mode = "hmac"
	ModeDisabled Mode = "disabled"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Config struct {
	Mode    Mode
	Secret  string
	MaxSkew time.Duration
}

func ConfigFromEnv() (Config, error) {
	modeRaw := strings.ToLower(strings.TrimSpace(env.String("PIPELINE_AUTH_MODE", string(ModeDisabled))))
	var mode Mode
	switch modeRaw {
	case string(ModeHMAC):
		mode = ModeHMAC
	case string(ModeDisabled):
		mode = ModeDisabled
	default:
		return Config{}, fmt.Errorf("PIPELINE_AUTH_MODE must be one of: hmac, disabled (got %q)", modeRaw)
	}
	maxSkew, err := env.Duration("PIPELINE_AUTH_MAX_SKEW", 5*time.Minute)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Mode:    mode,
		Secret:  env.String("PIPELINE_AUTH_SECRET", ""),
		MaxSkew: maxSkew,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeHMAC:
		if strings.TrimSpace(c.Secret) == "" {
			return errors.New("PIPELINE_AUTH_SECRET is required when PIPELINE_AUTH_MODE=hmac")
		}
		if c.MaxSkew < 0 {
			return errors.New("PIPELINE_AUTH_MAX_SKEW must be >= 0")
		}
	case ModeDisabled:
	default:
		return fmt.Errorf("unsupported auth mode: %q", c.Mode)
	}
	return nil
}

func (c Config) Enabled() bool {
	return c.Mode == ModeHMAC
}

func parseCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		item := strings.ToLower(strings.TrimSpace(part))
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
