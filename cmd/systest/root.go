package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/melih/lighthouse-systest/internal/bootstrap"
	"github.com/melih/lighthouse-systest/internal/config"
	"github.com/melih/lighthouse-systest/internal/core/domain"
	"github.com/melih/lighthouse-systest/internal/lifecycle"
	"github.com/melih/lighthouse-systest/internal/logger"
	"github.com/melih/lighthouse-systest/internal/probe"
)

type rootOptions struct {
	configFile string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "systest",
		Short:         "Run the application in a container and probe it",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "YAML config file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(newRunCmd(opts), newConfigCmd(opts))
	return root
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: o.configFile, EnvFile: o.envFile})
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.LogLevel)
	return cfg, nil
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the application container, probe GET /api/hi, stop it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rule, release, err := bootstrap.NewRule(cfg)
			if err != nil {
				return err
			}
			defer release()

			return lifecycle.Run(ctx, rule, func(ctx context.Context, ep domain.Endpoint) error {
				err := probe.Hello(ctx, ep.BaseURL, probe.WithTimeout(cfg.ProbeTimeout))
				var aerr *probe.AssertionError
				switch {
				case errors.As(err, &aerr):
					return fmt.Errorf("probe failed: %w", err)
				case err != nil:
					return fmt.Errorf("probe error: %w", err)
				}
				logger.Info().Str("url", ep.URL(probe.HelloPath)).Msg("probe passed")
				return nil
			})
		},
	}
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "# invalid: %v\n", err)
			}
			return nil
		},
	}
}
