package main

import (
	"context"
	"log"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/Logan27/1000-messenger-sub005/internal/config"
	"github.com/Logan27/1000-messenger-sub005/internal/logging"
	"github.com/Logan27/1000-messenger-sub005/internal/server"
	"github.com/Logan27/1000-messenger-sub005/internal/store"
)

func main() {
	cfg := config.Load()
	logger := logging.Init(cfg.NodeEnv)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if cfg.RunMigrations {
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := server.NewApplication(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	if err := app.Run(); err != nil {
		slog.Error("application stopped with error", "error", err)
	}
}
