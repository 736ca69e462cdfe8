package main

import (
	"log"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"apicourse/internal/health"
	"apicourse/internal/util"
	"apicourse/services/tasks/internal/app"
	"apicourse/services/tasks/internal/config"
	"apicourse/services/tasks/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	appCore := app.New()
	if strings.EqualFold(cfg.Environment, "development") {
		appCore.Seed()
		slog.Info("seeded sample tasks", "env", cfg.Environment)
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
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		checker.Register(health.Check{Name: "redis", Run: health.Redis(client)})
	}
	if cfg.ExternalCheckURL != "" {
		checker.Register(health.Check{
			Name: "external",
			Run:  health.ExternalHTTP(&http.Client{Timeout: 3 * time.Second}, cfg.ExternalCheckURL),
		})
	}

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

	slog.Info("tasks server listening", "addr", addr, "env", cfg.Environment)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
