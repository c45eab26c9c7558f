package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/melih/lighthouse-systest/internal/adapters/http"
	"github.com/melih/lighthouse-systest/internal/logger"
)

func main() {
	var (
		addr     string
		version  string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:          "hello",
		Short:        "Sample application under test: GET /api/hi answers Hello",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger.Init(logLevel)

			app := http.NewApp(http.NewHelloHandler(version))

			logger.Info().Str("addr", addr).Str("version", version).Msg("server starting")
			return app.Listen(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&version, "version", "dev", "version reported by /health")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")

	if err := cmd.Execute(); err != nil {
		logger.Error().Err(err).Msg("server failed")
		os.Exit(1)
	}
}
