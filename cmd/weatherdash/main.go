package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"weatherdash/internal/di"

	"go.uber.org/zap"
)

func main() {
	mode := flag.String("mode", di.ModeServer, "run mode: server, worker or seed-admin")
	flag.Parse()

	ctx := context.Background()

	app, err := di.BuildApp(ctx, *mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "weatherdash: %v\n", err)
		os.Exit(1)
	}
	log := app.Logger()

	runErr := app.Run(ctx)
	if err := app.Close(); err != nil {
		log.Warn("closing resources", zap.Error(err))
	}
	if runErr != nil {
		log.Error("application run failed", zap.Error(runErr))
		_ = log.Sync()
		os.Exit(1)
	}

	log.Info("application stopped gracefully")
	_ = log.Sync()
}
