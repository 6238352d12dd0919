package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/presencelabs/meetledger/internal/bootstrap"
	"github.com/presencelabs/meetledger/internal/config"
	"github.com/presencelabs/meetledger/internal/infra/cache"
	"github.com/presencelabs/meetledger/internal/infra/db"
	mq "github.com/presencelabs/meetledger/internal/infra/queue"
	"github.com/presencelabs/meetledger/internal/modules/handler"
	"github.com/presencelabs/meetledger/internal/modules/service"
	"github.com/presencelabs/meetledger/internal/router"
	"github.com/presencelabs/meetledger/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func main() {
	inj := bootstrap.BuildContainer()

	cfg := do.MustInvoke[*config.Config](inj)
	log := do.MustInvoke[*zap.Logger](inj)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := telemetry.SetupTracing(cfg); err != nil {
		log.Fatal("setup tracing", zap.Error(err))
	}
	if _, err := telemetry.SetupMetrics(cfg); err != nil {
		log.Fatal("setup metrics", zap.Error(err))
	}
	if err := telemetry.InitEngineMetrics(); err != nil {
		log.Fatal("init engine metrics", zap.Error(err))
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.OtlpEndpoint != "" {
		if err := db.RegisterOpenTelemetryPlugin(do.MustInvoke[*gorm.DB](inj)); err != nil {
			log.Warn("gorm otel plugin", zap.Error(err))
		}
		if err := cache.RegisterOpenTelemetryPlugin(do.MustInvoke[*redis.Client](inj)); err != nil {
			log.Warn("redis otel plugin", zap.Error(err))
		}
	}

	gw := do.MustInvoke[service.ReconciliationGateway](inj)

	// The active-session map died with the previous process; the stored open
	// sessions are the only truth left and must be closed before new
	// observations arrive.
	if err := gw.RecoverOnStartup(ctx); err != nil {
		log.Fatal("startup recovery", zap.Error(err))
	}

	r := router.NewRouter(router.RouterDeps{
		Config:             cfg,
		Log:                log,
		ObservationHandler: do.MustInvoke[*handler.ObservationHandler](inj),
		MeetingHandler:     do.MustInvoke[*handler.MeetingHandler](inj),
	})

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		consumer := do.MustInvoke[*mq.Consumer](inj)
		log.Info("observation consumer started", zap.String("queue", cfg.RabbitMQ.ObservationQueue))
		err := consumer.Handle(ctx, gw.HandleObservationMessage)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.Tracker.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				n, err := gw.Sweep(ctx)
				if err != nil {
					log.Error("zombie sweep", zap.Error(err))
					continue
				}
				if n > 0 {
					log.Info("zombie sweep closed sessions", zap.Int("count", n))
				}
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
		if err := telemetry.ShutdownTracing(shutdownCtx); err != nil {
			log.Warn("tracing shutdown", zap.Error(err))
		}
		if err := telemetry.ShutdownMetrics(shutdownCtx); err != nil {
			log.Warn("metrics shutdown", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}
