package store

import "github.com/google/uuid"

// PipelineQuery is the storage-level shape of a pipeline search. Nil fields
// add no predicate.
type PipelineQuery struct {
	OrganizationID  *uuid.UUID
	Name            *string
	NameLike        *string
	DescriptionLike *string
	// IsActive is compared as given; callers normalize "active"/"inactive".
	IsActive      any
	StageNameLike *string
}

type DealFilter struct {
	OrganizationID  *uuid.UUID
	PipelineID      *uuid.UUID
	StageID         *uuid.UUID
	ClientID        *uuid.UUID
	CreatedByUserID *uuid.UUID
	TitleLike       *string
}

type StageStatistic struct {
	StageID            uuid.UUID
	StageName          string
	StageIndex         int
	DealCount          int64
	AverageProbability *float64
}
