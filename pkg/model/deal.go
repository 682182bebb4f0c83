package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	MinDealProbability = 0
	MaxDealProbability = 5
)

type Deal struct {
	ID              uuid.UUID            `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID        uuid.UUID            `gorm:"type:uuid;not null;index"`
	OrganizationID  uuid.UUID            `gorm:"type:uuid;not null;index"`
	Title           string               `gorm:"not null"`
	Probability     *int                 `gorm:"type:smallint"`
	CreatedByUserID uuid.UUID            `gorm:"type:uuid;not null;index"`
	CreatedBy       *User                `gorm:"foreignKey:CreatedByUserID"`
	StageID         uuid.UUID            `gorm:"type:uuid;not null;index"`
	Stage           *PipelineStage       `gorm:"foreignKey:StageID;constraint:OnDelete:RESTRICT"`
	ClientID        *uuid.UUID           `gorm:"type:uuid;uniqueIndex"`
	Client          *OrganizationContact `gorm:"foreignKey:ClientID"`
	Properties      JSONB                `gorm:"type:jsonb;not null"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
