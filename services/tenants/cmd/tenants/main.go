package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"apicourse/internal/health"
	"apicourse/internal/util"
	"apicourse/services/tenants/internal/app"
	"apicourse/services/tenants/internal/config"
	"apicourse/services/tenants/internal/server"
	"apicourse/services/tenants/internal/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	checker := health.NewChecker()

	var st store.Store
	if cfg.DatabaseURL != "" {
		gormStore, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		checker.Register(health.Check{Name: "database", Critical: true, Run: health.Database(gormStore.DB())})
		st = gormStore
	} else {
		slog.Warn("no databaseUrl configured, using in-memory store")
		st = store.NewMemoryStore()
	}

	proxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("invalid trustedProxies: %v", err)
	}

	httpServer := server.New(server.Config{
		App:            app.New(st),
		Checker:        checker,
		TrustedProxies: proxies,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("tenants server listening", "addr", addr, "env", cfg.Environment)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
