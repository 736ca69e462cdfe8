package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"apicourse/internal/health"
	"apicourse/internal/ratelimit"
	"apicourse/internal/util"
	"apicourse/pkg/session"
	"apicourse/services/auth/internal/app"
	"apicourse/services/auth/internal/config"
	"apicourse/services/auth/internal/server"
	"apicourse/services/auth/internal/store"
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

	var (
		revoker  session.Revoker
		refresh  session.RefreshStore
		limiter  app.Limiter
		failures app.FailureCounter
	)
	if cfg.RedisAddr != "" {
		revoker = session.NewRedisRevoker(cfg.RedisAddr, cfg.RedisPassword)
		refresh = session.NewRedisRefreshStore(cfg.RedisAddr, cfg.RedisPassword)
		rl, err := ratelimit.NewRedisFixedWindowLimiter(
			cfg.RedisAddr, cfg.RedisPassword, "", cfg.LoginRateLimit, cfg.LoginRateWindow)
		if err != nil {
			log.Fatalf("failed to build rate limiter: %v", err)
		}
		limiter = rl
		failures = app.NewRedisFailureCounter(
			redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}),
			15*time.Minute,
		)
		checker.Register(health.Check{
			Name: "redis",
			Run:  health.Redis(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})),
		})
	} else {
		slog.Warn("no redisAddr configured, using in-process session state")
		revoker = session.NewMemoryRevoker()
		refresh = session.NewMemoryRefreshStore()
		failures = app.NewMemoryFailureCounter(15 * time.Minute)
	}

	tokens, err := session.NewTokenStore(cfg.JWTSecret, cfg.AccessTokenTTL, revoker, session.Options{})
	if err != nil {
		log.Fatalf("failed to build token store: %v", err)
	}

	proxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("invalid trustedProxies: %v", err)
	}

	appCore := app.New(app.Config{
		Store:      st,
		Tokens:     tokens,
		Refresh:    refresh,
		RefreshTTL: cfg.RefreshTokenTTL,
		Limiter:    limiter,
		Failures:   failures,
	})

	httpServer := server.New(server.Config{
		App:            appCore,
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

	slog.Info("auth server listening", "addr", addr, "env", cfg.Environment)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
