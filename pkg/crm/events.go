package crm

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dealflow/dealflow/pkg/eventbus"
	"github.com/dealflow/dealflow/pkg/logging"
	"github.com/dealflow/dealflow/pkg/metrics"
)

// Publisher pushes committed changes to live subscribers. *eventbus.Bus
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, channel string, event eventbus.Event) error
}

// notifier publishes after commit. The outbox row is the durable record, so
// a failed publish is logged and counted but never returned.
type notifier struct {
	publisher Publisher
	logger    *zap.Logger
}

func (n notifier) publish(ctx context.Context, channel, eventType string, tenantID uuid.UUID, payload interface{}) {
	if n.publisher == nil {
		return
	}
	logger := logging.FromContext(ctx, n.logger)

	event, err := eventbus.NewEvent(eventType, tenantID.String(), payload)
	if err == nil {
		err = n.publisher.Publish(ctx, channel, event)
	}
	if err != nil {
		metrics.EventPublishFailuresTotal.WithLabelValues(eventType).Inc()
		logger.Warn("failed to publish event", zap.String("event_type", eventType), zap.Error(err))
	}
}
