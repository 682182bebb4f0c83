package model

import (
	"time"

	"github.com/google/uuid"
)

type Pipeline struct {
	ID              uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID        uuid.UUID `gorm:"type:uuid;not null;index"`
	OrganizationID  uuid.UUID `gorm:"type:uuid;not null;index"`
	Name            string    `gorm:"not null"`
	Description     string
	// No gorm default here: an explicit false must reach the INSERT.
	IsActive        bool            `gorm:"not null"`
	Stages          []PipelineStage `gorm:"foreignKey:PipelineID;constraint:OnDelete:CASCADE"`
	CreatedByUserID *uuid.UUID      `gorm:"type:uuid"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PipelineStage belongs to exactly one pipeline. Index is 1-based and is
// rewritten from slice position every time the owning pipeline is saved.
type PipelineStage struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID       uuid.UUID `gorm:"type:uuid;not null;index"`
	OrganizationID uuid.UUID `gorm:"type:uuid;not null"`
	PipelineID     uuid.UUID `gorm:"type:uuid;not null;index"`
	Name           string    `gorm:"not null"`
	Description    string
	Index          int `gorm:"not null;default:1"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
