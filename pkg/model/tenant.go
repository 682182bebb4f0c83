package model

import (
	"time"

	"github.com/google/uuid"
)

type Tenant struct {
	ID            uuid.UUID      `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Name          string         `gorm:"uniqueIndex;not null"`
	Organizations []Organization `gorm:"foreignKey:TenantID"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Organization struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID  uuid.UUID `gorm:"type:uuid;not null;index"`
	Tenant    *Tenant   `gorm:"foreignKey:TenantID"`
	Name      string    `gorm:"not null"`
	IsActive  bool      `gorm:"default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID  uuid.UUID `gorm:"type:uuid;not null;index"`
	FirstName string
	LastName  string
	Email     string `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

// OrganizationContact is a client, customer or lead of an organization.
type OrganizationContact struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID       uuid.UUID `gorm:"type:uuid;not null;index"`
	OrganizationID uuid.UUID `gorm:"type:uuid;not null;index"`
	Name           string    `gorm:"not null"`
	PrimaryEmail   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
