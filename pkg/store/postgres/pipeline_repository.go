package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dealflow/dealflow/pkg/model"
	"github.com/dealflow/dealflow/pkg/store"
)

var pipelineRelations = map[string]string{
	"stages": "Stages",
}

type PipelineRepository struct {
	*TenantRepository[model.Pipeline]
	db *gorm.DB
}

func NewPipelineRepository(db *gorm.DB) *PipelineRepository {
	return &PipelineRepository{
		TenantRepository: NewTenantRepository[model.Pipeline](db, pipelineRelations),
		db:               db,
	}
}

func (r *PipelineRepository) Find(ctx context.Context, tenantID uuid.UUID, query store.PipelineQuery, relations []string, page store.Page) ([]model.Pipeline, int64, error) {
	return r.findAll(ctx, tenantID, findOptions{
		relations: relations,
		scopes:    []func(*gorm.DB) *gorm.DB{pipelineScope(query)},
		order:     []string{"pipelines.created_at DESC", "pipelines.id"},
		page:      page,
	})
}

func pipelineScope(q store.PipelineQuery) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if q.OrganizationID != nil {
			db = db.Where("pipelines.organization_id = ?", *q.OrganizationID)
		}
		if q.Name != nil {
			db = db.Where("pipelines.name = ?", *q.Name)
		}
		if q.NameLike != nil {
			db = db.Where("pipelines.name LIKE ?"+likeEscape, likeContains(*q.NameLike))
		}
		if q.DescriptionLike != nil {
			db = db.Where("pipelines.description LIKE ?"+likeEscape, likeContains(*q.DescriptionLike))
		}
		if q.IsActive != nil {
			db = db.Where("pipelines.is_active = ?", q.IsActive)
		}
		if q.StageNameLike != nil {
			db = db.Where(
				"EXISTS (SELECT 1 FROM pipeline_stages ps WHERE ps.pipeline_id = pipelines.id AND ps.name LIKE ?"+likeEscape+")",
				likeContains(*q.StageNameLike),
			)
		}
		return db
	}
}

func (r *PipelineRepository) Create(ctx context.Context, pipeline *model.Pipeline, event *model.OutboxEvent) error {
	return r.CreateWithEvent(ctx, pipeline, event)
}

// Update writes the pipeline columns and replaces its stage list: stages
// missing from pipeline.Stages are deleted, the rest are upserted.
func (r *PipelineRepository) Update(ctx context.Context, pipeline *model.Pipeline, event *model.OutboxEvent) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.Pipeline{}).
			Where(tenantColumn(pipeline.TenantID)).
			Where(idColumn(pipeline.ID)).
			Updates(map[string]interface{}{
				"name":        pipeline.Name,
				"description": pipeline.Description,
				"is_active":   pipeline.IsActive,
				"updated_at":  time.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		keep := make([]uuid.UUID, 0, len(pipeline.Stages))
		for _, stage := range pipeline.Stages {
			keep = append(keep, stage.ID)
		}

		remove := tx.Where("pipeline_id = ?", pipeline.ID)
		if len(keep) > 0 {
			remove = remove.Where("id NOT IN ?", keep)
		}
		if err := remove.Delete(&model.PipelineStage{}).Error; err != nil {
			return err
		}

		if len(pipeline.Stages) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"name", "description", "index", "updated_at"}),
			}).Create(&pipeline.Stages).Error
			if err != nil {
				return err
			}
		}

		return writeEvent(tx, event)
	})
	return translateError(err)
}

func (r *PipelineRepository) Delete(ctx context.Context, tenantID, id uuid.UUID, event *model.OutboxEvent) error {
	return r.DeleteWithEvent(ctx, tenantID, id, event)
}

// FindStage loads a stage of the tenant.
func (r *PipelineRepository) FindStage(ctx context.Context, tenantID, stageID uuid.UUID) (*model.PipelineStage, error) {
	var stage model.PipelineStage
	err := r.db.WithContext(ctx).
		Where(tenantColumn(tenantID)).
		Where(idColumn(stageID)).
		First(&stage).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &stage, nil
}
