package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"signflow/agreement"
	"signflow/auth"
	"signflow/blob"
	"signflow/bus"
	"signflow/config"
	"signflow/db"
	"signflow/httpapi"
	"signflow/ledger"
	"signflow/lifecycle"
	"signflow/mailer"
	"signflow/render"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Fatal("bootstrap database pool", zap.Error(err))
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()

	loc, err := time.LoadLocation(cfg.Render.Timezone)
	if err != nil {
		logger.Fatal("load render timezone", zap.String("tz", cfg.Render.Timezone), zap.Error(err))
	}

	smtp, err := mailer.NewSMTP(mailer.SMTPOptions{
		Host:          cfg.SMTP.Host,
		Port:          cfg.SMTP.Port,
		Username:      cfg.SMTP.Username,
		Password:      cfg.SMTP.Password,
		From:          cfg.SMTP.From,
		Attempts:      cfg.SMTP.Attempts,
		RatePerSecond: cfg.SMTP.RatePerSecond,
	})
	if err != nil {
		logger.Fatal("bootstrap mailer", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	metrics := lifecycle.NewMetrics(reg)

	store := agreement.NewPGStore(pool)
	blobs := blob.NewPGStore(pool, cfg.App.FileBaseURL)
	failures := ledger.New(ledger.NewPGWriter(pool), logger)
	renderer := render.NewRenderer(http.DefaultClient, cfg.Render.MaxFields, loc)

	engine := lifecycle.NewEngine(store, smtp, renderer, blobs, failures, lifecycle.Config{
		BaseOrigin:  cfg.App.BaseOrigin,
		NotifyEmail: cfg.App.NotifyEmail,
		Location:    loc,
	}, logger, metrics)

	relay := bus.NewRelay(pool, rdb, cfg.Redis.Stream, cfg.Outbox.Batch, cfg.Outbox.Interval, logger)
	listener := bus.NewListener(rdb, cfg.Redis.Stream, cfg.Redis.Group, cfg.Redis.Consumer, engine, logger)

	authSvc := auth.NewService(auth.NewRepository(pool), cfg.Auth.JWTSecret)

	api := httpapi.NewServer(store, engine, blobs, logger, httpapi.Options{
		JWTSecret:       cfg.Auth.JWTSecret,
		GenerateTimeout: cfg.Render.GenerateTimeout,
		Metrics:         promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Auth:            authSvc,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.Router(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error { return listener.Run(gctx) })
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("service stopped", zap.Error(err))
	}
	logger.Info("service stopped")
}
