// Command authcore-server runs the authentication API: PostgreSQL for
// accounts and tokens, Redis for throttling and WebAuthn challenges, SMTP for
// security alerts.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	authcore "github.com/Bidiche49/art-des-jardins-sub001"
	"github.com/Bidiche49/art-des-jardins-sub001/cache"
	"github.com/Bidiche49/art-des-jardins-sub001/config"
	"github.com/Bidiche49/art-des-jardins-sub001/geoip"
	"github.com/Bidiche49/art-des-jardins-sub001/mail"
	"github.com/Bidiche49/art-des-jardins-sub001/metrics/export/prometheus"
	"github.com/Bidiche49/art-des-jardins-sub001/store/postgres"
	"github.com/Bidiche49/art-des-jardins-sub001/transport/httpapi"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	configFile := flag.String("config", os.Getenv("AUTHCORE_CONFIG"), "optional YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Server, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}

	builder := authcore.New().
		WithConfig(cfg.Engine()).
		WithStore(postgres.New(pool)).
		WithRedis(rdb).
		WithGeoResolver(geoip.New(cfg.GeoIPConfig(), cache.NewRedis(rdb, "authcore:geoip"), logger)).
		WithAuditSink(authcore.NewSlogSink(logger.With("component", "audit"))).
		WithLogger(logger)
	if smtpCfg, ok := cfg.Mail(); ok {
		sender, err := mail.NewSMTPSender(smtpCfg)
		if err != nil {
			return err
		}
		builder = builder.WithMailer(sender)
	} else {
		logger.Warn("smtp not configured; security alerts are disabled")
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	engine.StartTokenJanitor(ctx, cfg.Auth.JanitorInterval)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	api := httpapi.NewHandler(engine, httpapi.Options{
		FrontendURL: cfg.Devices.FrontendURL,
		Metrics:     prometheus.New(engine).Handler(),
		Logger:      logger,
		Ready: func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := pool.Ping(pingCtx); err != nil {
				return err
			}
			return rdb.Ping(pingCtx).Err()
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTP.Addr, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
