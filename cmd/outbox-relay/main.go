package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/dealflow/dealflow/pkg/config"
	"github.com/dealflow/dealflow/pkg/logging"
	"github.com/dealflow/dealflow/pkg/outbox"
	"github.com/dealflow/dealflow/pkg/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if len(cfg.Kafka.Brokers) == 0 {
		logger.Fatal("kafka.brokers is required")
	}

	db, err := postgres.NewStore(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	transport := &kafka.Transport{ClientID: cfg.Kafka.ClientID}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        cfg.Kafka.EventTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Transport:    transport,
	}
	defer writer.Close()

	dlqWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        cfg.Kafka.DLQTopic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Transport:    transport,
	}
	defer dlqWriter.Close()

	repo := postgres.NewOutboxRepository(db.DB())
	relay := outbox.NewRelay(repo, writer, dlqWriter, logger, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("outbox relay stopped with error", zap.Error(err))
	}
}
