package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/hml-forecast-producer/internal/adapter/feed"
	kafkaadapter "github.com/couchcryptid/hml-forecast-producer/internal/adapter/kafka"
	"github.com/couchcryptid/hml-forecast-producer/internal/adapter/memory"
	"github.com/couchcryptid/hml-forecast-producer/internal/adapter/rabbitmq"
	redisadapter "github.com/couchcryptid/hml-forecast-producer/internal/adapter/redis"
	"github.com/couchcryptid/hml-forecast-producer/internal/config"
	"github.com/couchcryptid/hml-forecast-producer/internal/domain"
	"github.com/couchcryptid/hml-forecast-producer/internal/observability"
	"github.com/couchcryptid/hml-forecast-producer/internal/pipeline"
)

// publisher is a pipeline.Publisher that owns a broker connection.
type publisher interface {
	pipeline.Publisher
	Close() error
}

// app holds the wired pipeline and the resources to release on exit.
type app struct {
	pipeline *pipeline.Pipeline
	closers  []namedCloser
	logger   *slog.Logger
}

type namedCloser struct {
	name  string
	close func() error
}

// newApp connects to the store and broker and builds the pipeline. Failing to
// reach either is fatal before any product is considered.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*app, error) {
	a := &app{logger: logger}

	store, err := a.newStore(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	pub, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, namedCloser{cfg.BrokerType + " publisher", pub.Close})

	fetcher := feed.NewBreakerFetcher(feed.NewClient(cfg, logger), feed.DefaultBreakerSettings(), metrics, logger)
	a.pipeline = pipeline.New(fetcher, store, pub, logger, metrics, cfg.DeliveryTTL)
	return a, nil
}

func (a *app) newStore(ctx context.Context, cfg *config.Config) (pipeline.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		a.logger.Warn("using in-process idempotency store; deliveries are not remembered across restarts",
			"capacity", cfg.MemoryStoreCapacity)
		return memory.NewStore(cfg.MemoryStoreCapacity, cfg.ReservationTTL, nil), nil
	default:
		client, err := redisadapter.NewClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		a.closers = append(a.closers, namedCloser{"redis client", client.Close})
		a.logger.Info("connected to redis", "addr", cfg.RedisAddr())
		return redisadapter.NewStore(client, cfg.StoreKeyPrefix, cfg.ReservationTTL), nil
	}
}

func newPublisher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (publisher, error) {
	switch cfg.BrokerType {
	case config.BrokerKafka:
		w := kafkaadapter.NewWriter(cfg, logger)
		checkCtx, cancel := context.WithTimeout(ctx, cfg.PublishTimeout)
		defer cancel()
		if err := w.Check(checkCtx); err != nil {
			_ = w.Close()
			return nil, err
		}
		return w, nil
	default:
		url, err := resolveRabbitMQURL(ctx, cfg)
		if err != nil {
			return nil, err
		}
		p, err := rabbitmq.Dial(rabbitmq.Options{
			URL:            url,
			Queue:          cfg.QueueName,
			Heartbeat:      cfg.RabbitMQHeartbeat,
			ConnectTimeout: cfg.PublishTimeout,
			PublishTimeout: cfg.PublishTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

func resolveRabbitMQURL(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.RabbitMQSecretARN == "" {
		return rabbitmq.ResolveURL(ctx, cfg, nil)
	}
	sm, err := rabbitmq.NewSecretsManager(cfg.AWSRegion)
	if err != nil {
		return "", err
	}
	return rabbitmq.ResolveURL(ctx, cfg, sm)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Error("close error", "resource", c.name, "error", err)
		}
	}
	a.closers = nil
}
