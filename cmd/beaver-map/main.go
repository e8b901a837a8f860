package main

// ============================================================================
// beaver-map entry point
// Builds the command tree, logs a fatal error and exits non-zero.
// ============================================================================

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/ChuLiYu/beaver-map/internal/cli"
	"github.com/ChuLiYu/beaver-map/internal/logger"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", r)
			os.Exit(1)
		}
	}()

	if err := cli.BuildCLI().Execute(); err != nil {
		log, lerr := logger.New(logger.Config{Level: "error", Format: "console"})
		if lerr != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		log.Error("beaver-map failed", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}
