package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dealflow/dealflow/pkg/model"
)

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// ListPending returns the oldest unpublished events first.
func (r *OutboxRepository) ListPending(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []model.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, eventID uuid.UUID, publishedAt time.Time) error {
	return r.setStatus(ctx, eventID, map[string]interface{}{
		"status":       model.OutboxStatusPublished,
		"published_at": publishedAt,
	})
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, eventID uuid.UUID) error {
	return r.setStatus(ctx, eventID, map[string]interface{}{
		"status": model.OutboxStatusFailed,
	})
}

func (r *OutboxRepository) setStatus(ctx context.Context, eventID uuid.UUID, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxEvent{}).
		Where("event_id = ?", eventID).
		Updates(updates).Error
}
