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
	"shelfshare/pkg/notify"
	"shelfshare/pkg/store"
	"shelfshare/services/catalog/internal/app"
	"shelfshare/services/catalog/internal/config"
	"shelfshare/services/catalog/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	requestMaxAge, err := config.ParseDuration(cfg.RequestMaxAge, 24*time.Hour)
	if err != nil {
		log.Fatalf("failed to parse requestMaxAge: %v", err)
	}
	sweepInterval, err := config.ParseDuration(cfg.SweepInterval, time.Hour)
	if err != nil {
		log.Fatalf("failed to parse sweepInterval: %v", err)
	}
	rateWindow, err := config.ParseDuration(cfg.RateWindow, time.Minute)
	if err != nil {
		log.Fatalf("failed to parse rateWindow: %v", err)
	}

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	var publisher notify.Publisher = notify.NopPublisher{}
	if cfg.AMQPURL != "" {
		amqpPublisher, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.EventExchange)
		if err != nil {
			log.Fatalf("failed to init event publisher: %v", err)
		}
		publisher = amqpPublisher
	}
	defer publisher.Close()

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.RedisAddr != "" {
		limit := cfg.RateLimit
		if limit <= 0 {
			limit = 60
		}
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "", limit, rateWindow)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
	}

	tokens, err := usertoken.New(usertoken.Config{Secret: cfg.JWTSecret})
	if err != nil {
		log.Fatalf("failed to init token service: %v", err)
	}

	appCore, err := app.New(st, publisher, logger)
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer := server.New(server.Config{
		App:           appCore,
		TokenVerifier: tokens,
		Limiter:       limiter,
		TrustProxy:    cfg.TrustProxyHeader,
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
		logger.Info("catalog server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := appCore.ExpireStaleRequests(ctx, requestMaxAge); err != nil {
					logger.Error("stale request sweep failed", "error", err)
				}
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("catalog server exited", "error", err)
		os.Exit(1)
	}
}
