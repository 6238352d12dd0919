package bootstrap

import (
	"crypto/tls"
	"strings"

	"github.com/presencelabs/meetledger/internal/config"
	"github.com/presencelabs/meetledger/internal/infra/cache"
	"github.com/presencelabs/meetledger/internal/infra/db"
	"github.com/presencelabs/meetledger/internal/infra/logger"
	mq "github.com/presencelabs/meetledger/internal/infra/queue"
	"github.com/presencelabs/meetledger/internal/modules/handler"
	"github.com/presencelabs/meetledger/internal/modules/model"
	"github.com/presencelabs/meetledger/internal/modules/repo"
	"github.com/presencelabs/meetledger/internal/modules/service"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func BuildContainer() *do.Injector {
	inj := do.New()

	// config
	do.Provide(inj, func(i *do.Injector) (*config.Config, error) {
		return config.Load()
	})

	// logger
	do.Provide(inj, func(i *do.Injector) (*zap.Logger, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return logger.New(cfg.Log.Level)
	})

	// DB
	do.Provide(inj, func(i *do.Injector) (*gorm.DB, error) {
		cfg := do.MustInvoke[*config.Config](i)
		d, err := db.New(cfg)
		if err != nil {
			return nil, err
		}
		if cfg.Database.AutoMigrate {
			if err := d.AutoMigrate(
				&model.Meeting{},
				&model.Session{},
			); err != nil {
				return nil, err
			}
		}
		return d, nil
	})

	// Redis
	do.Provide(inj, func(i *do.Injector) (*redis.Client, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return cache.New(cfg)
	})

	// RabbitMQ DialFunc for connection and reconnection
	do.Provide(inj, func(i *do.Injector) (mq.DialFunc, error) {
		cfg := do.MustInvoke[*config.Config](i)

		dialFn := func() (*amqp.Connection, error) {
			useTLS := cfg.RabbitMQ.EnableTLS || strings.HasPrefix(cfg.RabbitMQ.URL, "amqps://")

			if useTLS {
				tlsConfig := &tls.Config{
					MinVersion: tls.VersionTLS12,
				}
				url := cfg.RabbitMQ.URL
				if strings.HasPrefix(url, "amqp://") {
					url = strings.Replace(url, "amqp://", "amqps://", 1)
				}
				return amqp.DialTLS(url, tlsConfig)
			}

			return amqp.Dial(cfg.RabbitMQ.URL)
		}

		return dialFn, nil
	})

	// RabbitMQ Connection
	do.Provide(inj, func(i *do.Injector) (*amqp.Connection, error) {
		dialFn := do.MustInvoke[mq.DialFunc](i)
		return dialFn()
	})

	// RabbitMQ Publisher (badge updates)
	do.Provide(inj, func(i *do.Injector) (*mq.Publisher, error) {
		cfg := do.MustInvoke[*config.Config](i)
		conn := do.MustInvoke[*amqp.Connection](i)
		log := do.MustInvoke[*zap.Logger](i)
		return mq.NewPublisher(conn, log, cfg)
	})

	// RabbitMQ Consumer (sensor observations)
	do.Provide(inj, func(i *do.Injector) (*mq.Consumer, error) {
		cfg := do.MustInvoke[*config.Config](i)
		conn := do.MustInvoke[*amqp.Connection](i)
		log := do.MustInvoke[*zap.Logger](i)
		return mq.NewConsumer(conn, cfg.RabbitMQ.ObservationQueue, cfg.RabbitMQ.Prefetch, log, cfg)
	})

	// Repo
	do.Provide(inj, func(i *do.Injector) (repo.SessionRepo, error) {
		return repo.NewSessionRepo(do.MustInvoke[*gorm.DB](i)), nil
	})
	do.Provide(inj, func(i *do.Injector) (repo.MeetingRepo, error) {
		return repo.NewMeetingRepo(do.MustInvoke[*gorm.DB](i)), nil
	})

	// Service
	do.Provide(inj, func(i *do.Injector) (service.MeetingAggregator, error) {
		return service.NewMeetingAggregator(
			do.MustInvoke[repo.SessionRepo](i),
			do.MustInvoke[repo.MeetingRepo](i),
			do.MustInvoke[*zap.Logger](i),
		), nil
	})
	do.Provide(inj, func(i *do.Injector) (service.SessionTracker, error) {
		return service.NewSessionTracker(
			do.MustInvoke[repo.SessionRepo](i),
			do.MustInvoke[service.MeetingAggregator](i),
			do.MustInvoke[*zap.Logger](i),
		), nil
	})
	do.Provide(inj, func(i *do.Injector) (service.ReconciliationGateway, error) {
		return service.NewReconciliationGateway(
			do.MustInvoke[service.SessionTracker](i),
			do.MustInvoke[repo.SessionRepo](i),
			do.MustInvoke[repo.MeetingRepo](i),
			do.MustInvoke[*redis.Client](i),
			do.MustInvoke[*mq.Publisher](i),
			do.MustInvoke[*config.Config](i),
			do.MustInvoke[*zap.Logger](i),
		), nil
	})

	// Handler
	do.Provide(inj, func(i *do.Injector) (*handler.ObservationHandler, error) {
		return handler.NewObservationHandler(
			do.MustInvoke[service.ReconciliationGateway](i),
		), nil
	})
	do.Provide(inj, func(i *do.Injector) (*handler.MeetingHandler, error) {
		return handler.NewMeetingHandler(
			do.MustInvoke[service.ReconciliationGateway](i),
		), nil
	})

	return inj
}
