package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"apicourse/internal/util"
	"apicourse/services/frontend/internal/authclient"
	"apicourse/services/frontend/internal/blogclient"
	"apicourse/services/frontend/internal/config"
	"apicourse/services/frontend/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	httpServer := server.New(server.Config{
		Auth: authclient.NewClient(cfg.AuthBaseURL),
		Blog: blogclient.NewClient(cfg.BlogBaseURL),
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("frontend server listening", "addr", addr, "env", cfg.Environment,
		"auth", cfg.AuthBaseURL, "blog", cfg.BlogBaseURL)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
