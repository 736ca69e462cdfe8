package main

import (
	"log"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"apicourse/internal/health"
	"apicourse/internal/util"
	"apicourse/services/blog/internal/app"
	"apicourse/services/blog/internal/config"
	"apicourse/services/blog/internal/server"
	"apicourse/services/blog/internal/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	appCore := app.New(store.NewMemoryStore())
	if strings.EqualFold(cfg.Environment, "development") {
		appCore.Seed()
		slog.Info("seeded sample blog data", "env", cfg.Environment)
	}

	checker := health.NewChecker()
	checker.Register(health.Check{
		Name: "disk",
		Run:  health.DiskUsage(cfg.DiskPath, cfg.DiskMaxPercent),
	})
	checker.Register(health.Check{
		Name: "memory",
		Run:  health.MemoryUsage(cfg.MemoryMaxPercent),
	})

	httpServer := server.New(server.Config{
		App:     appCore,
		Checker: checker,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("blog server listening", "addr", addr, "env", cfg.Environment)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
