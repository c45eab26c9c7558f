// Package bootstrap wires the configured adapters into a lifecycle rule.
package bootstrap

import (
	"fmt"

	"github.com/melih/lighthouse-systest/internal/adapters/builder"
	"github.com/melih/lighthouse-systest/internal/adapters/docker"
	"github.com/melih/lighthouse-systest/internal/adapters/testcontainers"
	"github.com/melih/lighthouse-systest/internal/config"
	"github.com/melih/lighthouse-systest/internal/core/ports"
	"github.com/melih/lighthouse-systest/internal/lifecycle"
	"github.com/melih/lighthouse-systest/internal/logger"
)

// NewRuntime returns the container runtime selected by cfg.Runtime and a
// function releasing it.
func NewRuntime(cfg *config.Config) (ports.ContainerRuntime, func(), error) {
	switch cfg.Runtime {
	case config.RuntimeTestcontainers:
		return testcontainers.NewAdapter(), func() {}, nil
	case config.RuntimeDocker, "":
		a, err := docker.NewAdapter()
		if err != nil {
			return nil, nil, err
		}
		return a, func() {
			if err := a.Close(); err != nil {
				logger.Debug().Err(err).Msg("failed to close docker client")
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown runtime %q", cfg.Runtime)
	}
}

// NewRule validates cfg first, then builds the runtime (and the image
// builder when needed) and the rule. The returned release function must be
// called after Rule.After.
func NewRule(cfg *config.Config) (*lifecycle.Rule, func(), error) {
	// Config errors must surface before any docker client is created.
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	rt, release, err := NewRuntime(cfg)
	if err != nil {
		return nil, nil, err
	}

	var opts []lifecycle.Option
	if cfg.Image.Build.Enabled() {
		b, err := builder.NewBuilderAdapter()
		if err != nil {
			release()
			return nil, nil, err
		}
		opts = append(opts, lifecycle.WithBuilder(b))
	}

	rule, err := lifecycle.NewRule(cfg, rt, opts...)
	if err != nil {
		release()
		return nil, nil, err
	}
	return rule, release, nil
}
