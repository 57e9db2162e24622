package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"shelfshare/internal/ratelimit"
	"shelfshare/internal/usertoken"
	"shelfshare/internal/util"
	"shelfshare/pkg/store"
	"shelfshare/services/auth/internal/app"
	"shelfshare/services/auth/internal/config"
	"shelfshare/services/auth/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	tokenTTL, err := config.ParseDuration(cfg.TokenTTL, 24*time.Hour)
	if err != nil {
		log.Fatalf("failed to parse tokenTTL: %v", err)
	}
	rateWindow, err := config.ParseDuration(cfg.RateWindow, time.Minute)
	if err != nil {
		log.Fatalf("failed to parse rateWindow: %v", err)
	}

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	tokens, err := usertoken.New(usertoken.Config{Secret: cfg.JWTSecret, TTL: tokenTTL})
	if err != nil {
		log.Fatalf("failed to init token service: %v", err)
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.RedisAddr != "" {
		limit := cfg.RateLimit
		if limit <= 0 {
			limit = 20
		}
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "", limit, rateWindow)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
	}

	httpServer := server.New(server.Config{
		App:        app.New(st, tokens),
		Limiter:    limiter,
		TrustProxy: cfg.TrustProxyHeader,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("auth server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("auth server exited", "error", err)
		os.Exit(1)
	}
}
