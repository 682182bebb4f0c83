package postgres

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dealflow/dealflow/pkg/model"
	"github.com/dealflow/dealflow/pkg/store"
)

var dealRelations = map[string]string{
	"stage":     "Stage",
	"client":    "Client",
	"createdBy": "CreatedBy",
}

type DealRepository struct {
	*TenantRepository[model.Deal]
	db *gorm.DB
}

func NewDealRepository(db *gorm.DB) *DealRepository {
	return &DealRepository{
		TenantRepository: NewTenantRepository[model.Deal](db, dealRelations),
		db:               db,
	}
}

func (r *DealRepository) Find(ctx context.Context, tenantID uuid.UUID, filter store.DealFilter, relations []string, page store.Page) ([]model.Deal, int64, error) {
	return r.findAll(ctx, tenantID, findOptions{
		relations: relations,
		scopes:    []func(*gorm.DB) *gorm.DB{dealScope(filter)},
		order:     []string{"deals.created_at DESC", "deals.id"},
		page:      page,
	})
}

func (r *DealRepository) Count(ctx context.Context, tenantID uuid.UUID, filter store.DealFilter) (int64, error) {
	var total int64
	err := r.scoped(ctx, tenantID).Scopes(dealScope(filter)).Count(&total).Error
	return total, err
}

func dealScope(f store.DealFilter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if f.OrganizationID != nil {
			db = db.Where("deals.organization_id = ?", *f.OrganizationID)
		}
		if f.StageID != nil {
			db = db.Where("deals.stage_id = ?", *f.StageID)
		}
		if f.ClientID != nil {
			db = db.Where("deals.client_id = ?", *f.ClientID)
		}
		if f.CreatedByUserID != nil {
			db = db.Where("deals.created_by_user_id = ?", *f.CreatedByUserID)
		}
		if f.TitleLike != nil {
			db = db.Where("deals.title ILIKE ?"+likeEscape, likeContains(*f.TitleLike))
		}
		if f.PipelineID != nil {
			db = db.Where("deals.stage_id IN (SELECT id FROM pipeline_stages WHERE pipeline_id = ?)", *f.PipelineID)
		}
		return db
	}
}

// FindByPipeline returns the tenant's deals sitting in any stage of the
// pipeline, ordered by the stage index. Creators are not joined.
func (r *DealRepository) FindByPipeline(ctx context.Context, tenantID, pipelineID uuid.UUID) ([]model.Deal, error) {
	deals := make([]model.Deal, 0)
	err := r.db.WithContext(ctx).
		Select("deals.*").
		Joins("JOIN pipeline_stages ON pipeline_stages.id = deals.stage_id").
		Where("pipeline_stages.pipeline_id = ? AND deals.tenant_id = ?", pipelineID, tenantID).
		Order("pipeline_stages.index ASC").
		Order("deals.created_at ASC").
		Order("deals.id ASC").
		Find(&deals).Error
	return deals, err
}

// Statistics aggregates deal counts and average probability per stage.
func (r *DealRepository) Statistics(ctx context.Context, tenantID uuid.UUID, filter store.DealFilter) ([]store.StageStatistic, error) {
	rows := make([]store.StageStatistic, 0)
	err := r.db.WithContext(ctx).
		Model(&model.Deal{}).
		Select(`deals.stage_id AS stage_id,
			pipeline_stages.name AS stage_name,
			pipeline_stages.index AS stage_index,
			COUNT(*) AS deal_count,
			AVG(deals.probability) AS average_probability`).
		Joins("JOIN pipeline_stages ON pipeline_stages.id = deals.stage_id").
		Where("deals.tenant_id = ?", tenantID).
		Scopes(dealScope(filter)).
		Group("deals.stage_id, pipeline_stages.name, pipeline_stages.index").
		Order("pipeline_stages.index ASC").
		Scan(&rows).Error
	return rows, err
}

func (r *DealRepository) Create(ctx context.Context, deal *model.Deal, event *model.OutboxEvent) error {
	return r.CreateWithEvent(ctx, deal, event)
}

func (r *DealRepository) Update(ctx context.Context, tenantID, id uuid.UUID, updates map[string]interface{}, event *model.OutboxEvent) error {
	return r.UpdateWithEvent(ctx, tenantID, id, updates, event)
}

func (r *DealRepository) Delete(ctx context.Context, tenantID, id uuid.UUID, event *model.OutboxEvent) error {
	return r.DeleteWithEvent(ctx, tenantID, id, event)
}

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByIDs loads users in one round trip.
func (r *UserRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]model.User, error) {
	users := make([]model.User, 0, len(ids))
	if len(ids) == 0 {
		return users, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error
	return users, err
}
