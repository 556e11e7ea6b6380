package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/quake-monitor/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/quake-monitor/internal/adapter/kafka"
	"github.com/couchcryptid/quake-monitor/internal/adapter/memory"
	mqttadapter "github.com/couchcryptid/quake-monitor/internal/adapter/mqtt"
	"github.com/couchcryptid/quake-monitor/internal/adapter/postgres"
	redisadapter "github.com/couchcryptid/quake-monitor/internal/adapter/redis"
	"github.com/couchcryptid/quake-monitor/internal/config"
	"github.com/couchcryptid/quake-monitor/internal/domain"
	"github.com/couchcryptid/quake-monitor/internal/ingest"
	"github.com/couchcryptid/quake-monitor/internal/observability"
	"github.com/couchcryptid/quake-monitor/internal/query"
	"github.com/jonboulle/clockwork"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, clock, logger, metrics)
	if err != nil {
		logger.Error("failed to open event store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}

	var (
		source    ingest.Source
		sinks     []ingest.Sink
		relay     httpadapter.CommandRelay
		publisher *mqttadapter.Publisher
		writer    *kafkaadapter.Writer
	)

	switch cfg.Transport {
	case config.TransportKafka:
		source = kafkaadapter.NewReader(readerConfig(cfg), logger)
		logger.Info("control relay disabled for kafka transport")
	default:
		source = mqttadapter.NewSource(mqttadapter.SourceConfig{
			Broker:         cfg.MQTTBroker,
			ClientID:       cfg.MQTTClientID + "-ingest",
			Topic:          cfg.MQTTSensorTopic,
			QoS:            cfg.MQTTQoS,
			ConnectTimeout: cfg.MQTTConnectTimeout,
			QueueSize:      cfg.QueueSize,
		}, logger, metrics)
		publisher = mqttadapter.NewPublisher(mqttadapter.PublisherConfig{
			Broker:         cfg.MQTTBroker,
			ClientID:       cfg.MQTTClientID + "-control",
			ControlTopic:   cfg.MQTTControlTopic,
			ConnectTimeout: cfg.MQTTConnectTimeout,
		}, logger)
		publisher.Start()
		relay = publisher
	}

	if cfg.KafkaSinkTopic != "" {
		writer = kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaSinkTopic, logger)
		sinks = append(sinks, writer)
		logger.Info("kafka event sink enabled", "topic", cfg.KafkaSinkTopic)
	}

	classifier := domain.NewClassifier(cfg.Thresholds)

	worker := ingest.New(source, store, classifier, ingest.Config{
		Concurrency:     cfg.IngestConcurrency,
		AppendRetries:   cfg.AppendRetries,
		AppendBackoff:   cfg.AppendBackoff,
		WriteTimeout:    cfg.WriteTimeout,
		DefaultLocation: cfg.DefaultLocation,
	}, logger, metrics, sinks...)

	queries := query.NewService(store, classifier, domain.NewAftershockEstimator(cfg.Aftershock), query.Config{
		Timeout:          cfg.QueryTimeout,
		DefaultSensorID:  cfg.DefaultSensorID,
		LatestPeakWindow: cfg.LatestPeakWindow,
		SummaryWindow:    cfg.SummaryWindow,
		SeriesLength:     cfg.SeriesLength,
		AftershockWindow: cfg.AftershockWindow,
	}, clock, metrics)

	api := httpadapter.NewAPI(queries, relay, cfg.DisplayTimezone, logger, metrics)
	srv := httpadapter.NewServer(cfg.HTTPAddr, api, httpadapter.AllReady(queries, worker), logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	// Start ingestion.
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := worker.Run(ctx); err != nil {
			logger.Error("ingest worker error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Warn("ingest worker did not stop before shutdown timeout")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if publisher != nil {
		publisher.Close()
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if err := store.Close(); err != nil {
		logger.Error("event store close error", "error", err)
	}

	logger.Info("shutdown complete")
}

func readerConfig(cfg *config.Config) kafkaadapter.ReaderConfig {
	return kafkaadapter.ReaderConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.KafkaSourceTopic,
		GroupID:     cfg.KafkaGroupID,
		QueueSize:   cfg.QueueSize,
		DialTimeout: cfg.KafkaDialTimeout,
	}
}

// openStore builds the configured event store, wrapped in the Redis
// latest-event cache when REDIS_ADDR is set.
func openStore(ctx context.Context, cfg *config.Config, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) (redisadapter.EventStore, error) {
	var store redisadapter.EventStore
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pg, err := postgres.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		store = pg
	default:
		store = memory.NewStore(clock)
	}
	logger.Info("event store ready", "driver", cfg.StoreDriver)

	if cfg.RedisAddr != "" {
		store = redisadapter.NewCachedStore(store, redisadapter.NewClient(cfg.RedisAddr), cfg.RedisTTL, logger, metrics)
		logger.Info("redis latest-event cache enabled", "addr", cfg.RedisAddr, "ttl", cfg.RedisTTL)
	}
	return store, nil
}
