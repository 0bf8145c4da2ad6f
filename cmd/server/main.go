// Flowfile server - visual ETL execution core.
package main

import (
	"log"

	"github.com/smilemakc/mbflow/internal/config"
	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
	"github.com/smilemakc/mbflow/pkg/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	appLogger := logger.New(cfg.Logging)
	logger.SetDefault(appLogger)

	srv, err := server.New(server.WithConfig(cfg), server.WithLogger(appLogger))
	if err != nil {
		appLogger.Error("failed to build server", "error", err)
		log.Fatalf("failed to build server: %v", err)
	}

	if err := srv.Run(); err != nil {
		appLogger.Error("server exited with error", "error", err)
		log.Fatalf("server error: %v", err)
	}
}
