package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/dealflow/dealflow/pkg/metrics"
	"github.com/dealflow/dealflow/pkg/model"
)

type Repository interface {
	ListPending(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkPublished(ctx context.Context, eventID uuid.UUID, publishedAt time.Time) error
	MarkFailed(ctx context.Context, eventID uuid.UUID) error
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Relay struct {
	repo         Repository
	writer       MessageWriter
	dlqWriter    MessageWriter
	logger       *zap.Logger
	pollInterval time.Duration
	batchSize    int
	now          func() time.Time
}

type Message struct {
	EventID     string      `json:"event_id"`
	EventType   string      `json:"event_type"`
	TenantID    string      `json:"tenant_id"`
	AggregateID string      `json:"aggregate_id"`
	Payload     model.JSONB `json:"payload"`
	CreatedAt   time.Time   `json:"created_at"`
}

type DLQMessage struct {
	Event    Message   `json:"event"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

func NewRelay(repo Repository, writer, dlqWriter MessageWriter, logger *zap.Logger, pollInterval time.Duration, batchSize int) *Relay {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		repo:         repo,
		writer:       writer,
		dlqWriter:    dlqWriter,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		now:          time.Now,
	}
}

func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("outbox relay starting",
		zap.Duration("poll_interval", r.pollInterval),
		zap.Int("batch_size", r.batchSize),
	)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	r.ProcessPending(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay shutting down")
			return ctx.Err()
		case <-ticker.C:
			r.ProcessPending(ctx)
		}
	}
}

// ProcessPending relays one batch and returns how many events were handed to
// the broker or the dead letter topic.
func (r *Relay) ProcessPending(ctx context.Context) int {
	events, err := r.repo.ListPending(ctx, r.batchSize)
	if err != nil {
		r.logger.Warn("failed to list pending outbox events", zap.Error(err))
		return 0
	}

	handled := 0
	for _, event := range events {
		if err := r.publishEvent(ctx, event); err != nil {
			r.logger.Warn("failed to publish outbox event",
				zap.Error(err),
				zap.String("event_id", event.EventID.String()),
				zap.String("event_type", event.EventType),
			)
			metrics.OutboxEventsRelayedTotal.WithLabelValues("error").Inc()
			continue
		}
		handled++
	}
	return handled
}

func (r *Relay) publishEvent(ctx context.Context, event model.OutboxEvent) error {
	message := Message{
		EventID:     event.EventID.String(),
		EventType:   event.EventType,
		TenantID:    event.TenantID.String(),
		AggregateID: event.AggregateID.String(),
		Payload:     event.Payload,
		CreatedAt:   event.CreatedAt,
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}

	// Keyed by aggregate so that events for one deal stay ordered per partition.
	kafkaMessage := kafka.Message{
		Key:   []byte(message.AggregateID),
		Value: payload,
		Time:  r.now(),
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.EventType)},
			{Key: "tenant-id", Value: []byte(message.TenantID)},
		},
	}

	if err := r.writer.WriteMessages(ctx, kafkaMessage); err != nil {
		r.logger.Warn("failed to publish to kafka, sending to DLQ", zap.Error(err), zap.String("event_id", message.EventID))
		return r.publishDLQ(ctx, message, err, event.EventID)
	}

	if err := r.repo.MarkPublished(ctx, event.EventID, r.now()); err != nil {
		return err
	}
	metrics.OutboxEventsRelayedTotal.WithLabelValues("published").Inc()
	return nil
}

func (r *Relay) publishDLQ(ctx context.Context, message Message, publishErr error, eventID uuid.UUID) error {
	if r.dlqWriter == nil {
		return publishErr
	}

	payload, err := json.Marshal(DLQMessage{
		Event:    message,
		Error:    publishErr.Error(),
		FailedAt: r.now(),
	})
	if err != nil {
		return err
	}

	if err := r.dlqWriter.WriteMessages(ctx, kafka.Message{
		Key:   []byte(message.AggregateID),
		Value: payload,
		Time:  r.now(),
	}); err != nil {
		return err
	}

	if err := r.repo.MarkFailed(ctx, eventID); err != nil {
		return err
	}
	metrics.OutboxEventsRelayedTotal.WithLabelValues("dead_lettered").Inc()
	return nil
}
