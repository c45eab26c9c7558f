package main

import (
	"context"
	"os"

	"github.com/melih/lighthouse-systest/internal/logger"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		logger.Error().Err(err).Msg("systest failed")
		os.Exit(1)
	}
}
