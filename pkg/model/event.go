package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	OutboxStatusPending   = "pending"
	OutboxStatusPublished = "published"
	OutboxStatusFailed    = "failed"
)

const (
	EventPipelineCreated  = "pipeline.created"
	EventPipelineUpdated  = "pipeline.updated"
	EventPipelineDeleted  = "pipeline.deleted"
	EventDealCreated      = "deal.created"
	EventDealUpdated      = "deal.updated"
	EventDealStageChanged = "deal.stage_changed"
	EventDealDeleted      = "deal.deleted"
)

// OutboxEvent is written in the same transaction as the change it describes
// and later relayed to the message broker.
type OutboxEvent struct {
	EventID     uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID    uuid.UUID `gorm:"type:uuid;not null;index"`
	EventType   string    `gorm:"not null"`
	AggregateID uuid.UUID `gorm:"type:uuid;not null"`
	Payload     JSONB     `gorm:"type:jsonb;not null"`
	Status      string    `gorm:"not null;default:'pending';index"`
	CreatedAt   time.Time `gorm:"autoCreateTime;not null"`
	PublishedAt *time.Time
}

func (OutboxEvent) TableName() string {
	return "outbox_events"
}

func NewOutboxEvent(tenantID uuid.UUID, eventType string, aggregateID uuid.UUID, payload JSONB) *OutboxEvent {
	return &OutboxEvent{
		EventID:     uuid.New(),
		TenantID:    tenantID,
		EventType:   eventType,
		AggregateID: aggregateID,
		Payload:     payload,
		Status:      OutboxStatusPending,
	}
}

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to scan JSONB: %v", value)
	}
	return json.Unmarshal(bytes, j)
}

func (j JSONB) GormDataType() string {
	return "jsonb"
}
