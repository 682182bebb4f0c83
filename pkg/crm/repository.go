package crm

import (
	"context"

	"github.com/google/uuid"

	"github.com/dealflow/dealflow/pkg/model"
	"github.com/dealflow/dealflow/pkg/store"
)

type PipelineRepository interface {
	Find(ctx context.Context, tenantID uuid.UUID, query store.PipelineQuery, relations []string, page store.Page) ([]model.Pipeline, int64, error)
	FindByID(ctx context.Context, tenantID, id uuid.UUID, relations []string) (*model.Pipeline, error)
	Create(ctx context.Context, pipeline *model.Pipeline, event *model.OutboxEvent) error
	Update(ctx context.Context, pipeline *model.Pipeline, event *model.OutboxEvent) error
	Delete(ctx context.Context, tenantID, id uuid.UUID, event *model.OutboxEvent) error
}

type StageFinder interface {
	FindStage(ctx context.Context, tenantID, stageID uuid.UUID) (*model.PipelineStage, error)
}

type DealRepository interface {
	Find(ctx context.Context, tenantID uuid.UUID, filter store.DealFilter, relations []string, page store.Page) ([]model.Deal, int64, error)
	Count(ctx context.Context, tenantID uuid.UUID, filter store.DealFilter) (int64, error)
	FindByID(ctx context.Context, tenantID, id uuid.UUID, relations []string) (*model.Deal, error)
	FindByPipeline(ctx context.Context, tenantID, pipelineID uuid.UUID) ([]model.Deal, error)
	Statistics(ctx context.Context, tenantID uuid.UUID, filter store.DealFilter) ([]store.StageStatistic, error)
	Create(ctx context.Context, deal *model.Deal, event *model.OutboxEvent) error
	Update(ctx context.Context, tenantID, id uuid.UUID, updates map[string]interface{}, event *model.OutboxEvent) error
	Delete(ctx context.Context, tenantID, id uuid.UUID, event *model.OutboxEvent) error
}

type UserRepository interface {
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]model.User, error)
}

// DealPage is a window of deals plus the total matching the query.
type DealPage struct {
	Items []model.Deal `json:"items"`
	Total int64        `json:"total"`
}

type PipelinePage struct {
	Items []model.Pipeline `json:"items"`
	Total int64            `json:"total"`
}
