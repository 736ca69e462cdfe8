package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"apicourse/internal/health"
	"apicourse/internal/util"
	"apicourse/pkg/storage"
	"apicourse/services/catalog/internal/app"
	"apicourse/services/catalog/internal/config"
	"apicourse/services/catalog/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to connect object storage: %v", err)
	}

	appCore := app.New()
	documents := app.NewDocuments(appCore, objects, nil)

	checker := health.NewChecker()
	checker.Register(health.Check{
		Name:     "object-storage",
		Critical: true,
		Run: health.ExternalHTTP(&http.Client{Timeout: 3 * time.Second},
			httpScheme(cfg.MinioUseSSL)+"://"+cfg.MinioEndpoint+"/minio/health/live"),
	})

	httpServer := server.New(server.Config{
		App:       appCore,
		Documents: documents,
		Checker:   checker,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("catalog server listening", "addr", addr, "env", cfg.Environment)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func httpScheme(ssl bool) string {
	if ssl {
		return "https"
	}
	return "http"
}
