//go:build integration

package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/couchcryptid/hml-forecast-producer/internal/config"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	tcrabbitmq "github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	redismodule "github.com/testcontainers/testcontainers-go/modules/redis"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startRedis(ctx context.Context, t *testing.T) *redis.Client {
	t.Helper()
	container, err := redismodule.Run(ctx, "redis:7.4-alpine")
	require.NoError(t, err, "start redis container")
	testcontainers.CleanupContainer(t, container)

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opt, err := redis.ParseURL(uri)
	require.NoError(t, err)

	client := redis.NewClient(opt)
	t.Cleanup(func() { _ = client.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(pingCtx).Err())
	return client
}

func startRabbitMQ(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tcrabbitmq.Run(ctx, "rabbitmq:3.13-alpine")
	require.NoError(t, err, "start rabbitmq container")
	testcontainers.CleanupContainer(t, container)

	url, err := container.AmqpURL(ctx)
	require.NoError(t, err)
	return url
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.6.1", tckafka.WithClusterID("hml-test"))
	require.NoError(t, err, "start kafka container")
	testcontainers.CleanupContainer(t, container)

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

// createTopic creates a single-partition topic through the cluster controller.
func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// startFeed serves a catalog document at /products.
func startFeed(t *testing.T, catalog string) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /products", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("type") != "HML" {
			http.Error(w, "unexpected product type", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/ld+json")
		_, _ = io.WriteString(w, catalog)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL + "/products"
}

func testConfig(feedURL string) *config.Config {
	return &config.Config{
		FeedURL:            feedURL,
		FeedProductType:    "HML",
		FeedUserAgent:      "(hml-forecast-producer-integration, test@example.com)",
		FeedConnectTimeout: 5 * time.Second,
		FeedReadTimeout:    30 * time.Second,
		FeedWriteTimeout:   5 * time.Second,
		FeedPoolTimeout:    5 * time.Second,
		QueueName:          "flood-forecasts",
		PublishTimeout:     10 * time.Second,
		RabbitMQHeartbeat:  30 * time.Second,
		StoreKeyPrefix:     "",
		DeliveryTTL:        604800 * time.Second,
		ReservationTTL:     5 * time.Minute,
	}
}

// catalog holds three HML listings in non-chronological feed order.
const catalog = `{
  "@context": {"@version": "1.1", "@vocab": "https://api.weather.gov/ontology#"},
  "@graph": [
    {"@id": "https://api.weather.gov/products/T3", "id": "T3", "wmoCollectiveId": "SRUS54", "issuingOffice": "KFWR",
     "issuanceTime": "2024-05-02T03:00:00+00:00", "productCode": "HML", "productName": "Hydrometeorological Markup Language"},
    {"@id": "https://api.weather.gov/products/T1", "id": "T1", "wmoCollectiveId": "SRUS53", "issuingOffice": "KDVN",
     "issuanceTime": "2024-05-02T01:00:00+00:00", "productCode": "HML", "productName": "Hydrometeorological Markup Language"},
    {"@id": "https://api.weather.gov/products/T2", "id": "T2", "wmoCollectiveId": "SRUS51", "issuingOffice": "KALR",
     "issuanceTime": "2024-05-02T02:00:00+00:00", "productCode": "HML", "productName": "Hydrometeorological Markup Language"}
  ]
}`
