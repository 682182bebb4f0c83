package crm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dealflow/dealflow/pkg/eventbus"
	"github.com/dealflow/dealflow/pkg/logging"
	"github.com/dealflow/dealflow/pkg/metrics"
	"github.com/dealflow/dealflow/pkg/model"
	"github.com/dealflow/dealflow/pkg/store"
	"github.com/dealflow/dealflow/pkg/tenancy"
)

const RelationStages = "stages"

type StageInput struct {
	ID          *uuid.UUID `json:"id"`
	Name        string     `json:"name" validate:"required,max=255"`
	Description string     `json:"description" validate:"max=2000"`
}

type CreatePipelineInput struct {
	OrganizationID *uuid.UUID   `json:"organizationId"`
	Name           string       `json:"name" validate:"required,max=255"`
	Description    string       `json:"description" validate:"max=2000"`
	IsActive       *bool        `json:"isActive"`
	Stages         []StageInput `json:"stages" validate:"dive"`
}

// UpdatePipelineInput is a partial update. Nil fields are left as they are;
// a non-nil Stages replaces the whole stage list.
type UpdatePipelineInput struct {
	Name        *string       `json:"name" validate:"omitempty,min=1,max=255"`
	Description *string       `json:"description" validate:"omitempty,max=2000"`
	IsActive    *bool         `json:"isActive"`
	Stages      *[]StageInput `json:"stages" validate:"omitempty,dive"`
}

// FindPipelinesOptions mirrors the data parameter of the list endpoint.
type FindPipelinesOptions struct {
	Relations []string       `json:"relations"`
	FindInput map[string]any `json:"findInput"`
}

type PipelineService struct {
	pipelines PipelineRepository
	deals     DealRepository
	users     UserRepository
	notifier  notifier
	logger    *zap.Logger
}

func NewPipelineService(pipelines PipelineRepository, deals DealRepository, users UserRepository, publisher Publisher, logger *zap.Logger) *PipelineService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PipelineService{
		pipelines: pipelines,
		deals:     deals,
		users:     users,
		notifier:  notifier{publisher: publisher, logger: logger},
		logger:    logger,
	}
}

func (s *PipelineService) FindAll(ctx context.Context, rc tenancy.RequestContext, opts FindPipelinesOptions) (PipelinePage, error) {
	query := translateFindInput(opts.FindInput)
	return s.find(ctx, rc, query, opts.Relations, store.Page{})
}

// Paginate searches pipelines with the substring filter of
// TranslatePipelineFilter. Stages are always loaded.
func (s *PipelineService) Paginate(ctx context.Context, rc tenancy.RequestContext, where map[string]any, page store.Page) (PipelinePage, error) {
	query := TranslatePipelineFilter(where)
	return s.find(ctx, rc, query, []string{RelationStages}, page)
}

func (s *PipelineService) find(ctx context.Context, rc tenancy.RequestContext, query store.PipelineQuery, relations []string, page store.Page) (PipelinePage, error) {
	if query.IsActive != nil {
		if _, ok := query.IsActive.(bool); !ok {
			return PipelinePage{}, invalid(FilterIsActive, "must be a boolean, \"active\" or \"inactive\"")
		}
	}
	if rc.HasOrganization() {
		orgID := rc.OrganizationID
		query.OrganizationID = &orgID
	}

	items, total, err := s.pipelines.Find(ctx, rc.TenantID, query, relations, page)
	if err != nil {
		return PipelinePage{}, err
	}

	loaded := make([]*model.Pipeline, len(items))
	for i := range items {
		loaded[i] = &items[i]
	}
	s.sortLoaded(logging.FromContext(ctx, s.logger), loaded...)

	return PipelinePage{Items: items, Total: total}, nil
}

func (s *PipelineService) FindByID(ctx context.Context, rc tenancy.RequestContext, id uuid.UUID, relations []string) (*model.Pipeline, error) {
	pipeline, err := s.pipelines.FindByID(ctx, rc.TenantID, id, relations)
	if err != nil {
		return nil, err
	}
	s.sortLoaded(logging.FromContext(ctx, s.logger), pipeline)
	return pipeline, nil
}

func (s *PipelineService) Create(ctx context.Context, rc tenancy.RequestContext, input CreatePipelineInput) (*model.Pipeline, error) {
	logger := logging.FromContext(ctx, s.logger)

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, invalid("name", "is required")
	}
	orgID := rc.OrganizationID
	if orgID == uuid.Nil && input.OrganizationID != nil {
		orgID = *input.OrganizationID
	}
	if orgID == uuid.Nil {
		return nil, invalid("organizationId", "is required")
	}

	isActive := true
	if input.IsActive != nil {
		isActive = *input.IsActive
	}
	creator := rc.UserID

	pipeline := &model.Pipeline{
		ID:              uuid.New(),
		TenantID:        rc.TenantID,
		OrganizationID:  orgID,
		Name:            name,
		Description:     input.Description,
		IsActive:        isActive,
		CreatedByUserID: &creator,
		Stages:          make([]model.PipelineStage, 0, len(input.Stages)),
	}
	for _, in := range input.Stages {
		if strings.TrimSpace(in.Name) == "" {
			return nil, invalid("stages.name", "is required")
		}
		pipeline.Stages = append(pipeline.Stages, model.PipelineStage{
			ID:             uuid.New(),
			TenantID:       rc.TenantID,
			OrganizationID: orgID,
			Name:           in.Name,
			Description:    in.Description,
		})
	}
	s.reindex(logger, pipeline)

	event := model.NewOutboxEvent(rc.TenantID, model.EventPipelineCreated, pipeline.ID, pipelinePayload(pipeline))
	if err := s.pipelines.Create(ctx, pipeline, event); err != nil {
		return nil, err
	}

	metrics.PipelineWritesTotal.WithLabelValues(rc.TenantID.String(), "create").Inc()
	logger.Info("pipeline created", zap.String("pipeline_id", pipeline.ID.String()), zap.Int("stages", len(pipeline.Stages)))
	s.notifier.publish(ctx, eventbus.ChannelPipeline, model.EventPipelineCreated, rc.TenantID, pipelineEvent(pipeline))

	return pipeline, nil
}

// Update applies a partial update and re-indexes the stage list. Stage ids in
// the input must belong to this pipeline; stages without an id are created.
func (s *PipelineService) Update(ctx context.Context, rc tenancy.RequestContext, id uuid.UUID, input UpdatePipelineInput) (*model.Pipeline, error) {
	logger := logging.FromContext(ctx, s.logger)

	pipeline, err := s.pipelines.FindByID(ctx, rc.TenantID, id, []string{RelationStages})
	if err != nil {
		return nil, err
	}
	s.sortLoaded(logger, pipeline)

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, invalid("name", "must not be empty")
		}
		pipeline.Name = name
	}
	if input.Description != nil {
		pipeline.Description = *input.Description
	}
	if input.IsActive != nil {
		pipeline.IsActive = *input.IsActive
	}
	if input.Stages != nil {
		stages, err := mergeStages(pipeline, *input.Stages)
		if err != nil {
			return nil, err
		}
		pipeline.Stages = stages
	}
	s.reindex(logger, pipeline)
	pipeline.UpdatedAt = time.Now().UTC()

	event := model.NewOutboxEvent(rc.TenantID, model.EventPipelineUpdated, pipeline.ID, pipelinePayload(pipeline))
	if err := s.pipelines.Update(ctx, pipeline, event); err != nil {
		return nil, err
	}

	metrics.PipelineWritesTotal.WithLabelValues(rc.TenantID.String(), "update").Inc()
	s.notifier.publish(ctx, eventbus.ChannelPipeline, model.EventPipelineUpdated, rc.TenantID, pipelineEvent(pipeline))

	return pipeline, nil
}

func mergeStages(pipeline *model.Pipeline, inputs []StageInput) ([]model.PipelineStage, error) {
	existing := make(map[uuid.UUID]model.PipelineStage, len(pipeline.Stages))
	for _, stage := range pipeline.Stages {
		existing[stage.ID] = stage
	}

	stages := make([]model.PipelineStage, 0, len(inputs))
	seen := make(map[uuid.UUID]struct{}, len(inputs))
	for _, in := range inputs {
		if strings.TrimSpace(in.Name) == "" {
			return nil, invalid("stages.name", "is required")
		}
		if in.ID == nil {
			stages = append(stages, model.PipelineStage{
				ID:             uuid.New(),
				TenantID:       pipeline.TenantID,
				OrganizationID: pipeline.OrganizationID,
				Name:           in.Name,
				Description:    in.Description,
			})
			continue
		}

		stage, ok := existing[*in.ID]
		if !ok {
			return nil, invalid("stages.id", "stage "+in.ID.String()+" does not belong to this pipeline")
		}
		if _, dup := seen[*in.ID]; dup {
			return nil, invalid("stages.id", "stage "+in.ID.String()+" is listed twice")
		}
		seen[*in.ID] = struct{}{}
		stage.Name = in.Name
		stage.Description = in.Description
		stages = append(stages, stage)
	}
	return stages, nil
}

func (s *PipelineService) Delete(ctx context.Context, rc tenancy.RequestContext, id uuid.UUID) error {
	event := model.NewOutboxEvent(rc.TenantID, model.EventPipelineDeleted, id, model.JSONB{"pipelineId": id.String()})
	if err := s.pipelines.Delete(ctx, rc.TenantID, id, event); err != nil {
		return err
	}

	metrics.PipelineWritesTotal.WithLabelValues(rc.TenantID.String(), "delete").Inc()
	s.notifier.publish(ctx, eventbus.ChannelPipeline, model.EventPipelineDeleted, rc.TenantID, eventbus.PipelineEvent{PipelineID: id.String()})
	return nil
}

// FindDeals returns the caller's deals in any stage of the pipeline, ordered
// by stage index, with CreatedBy filled in. An unknown pipeline yields an
// empty page.
func (s *PipelineService) FindDeals(ctx context.Context, rc tenancy.RequestContext, pipelineID uuid.UUID) (DealPage, error) {
	start := time.Now()
	defer func() {
		metrics.FindDealsDuration.WithLabelValues(rc.TenantID.String()).Observe(time.Since(start).Seconds())
	}()

	deals, err := s.deals.FindByPipeline(ctx, rc.TenantID, pipelineID)
	if err != nil {
		return DealPage{}, err
	}
	if err := attachCreators(ctx, s.users, deals); err != nil {
		return DealPage{}, err
	}
	if deals == nil {
		deals = []model.Deal{}
	}
	return DealPage{Items: deals, Total: int64(len(deals))}, nil
}

// attachCreators resolves all distinct creators with a single lookup.
func attachCreators(ctx context.Context, users UserRepository, deals []model.Deal) error {
	if len(deals) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(deals))
	seen := make(map[uuid.UUID]struct{}, len(deals))
	for _, deal := range deals {
		if _, ok := seen[deal.CreatedByUserID]; ok {
			continue
		}
		seen[deal.CreatedByUserID] = struct{}{}
		ids = append(ids, deal.CreatedByUserID)
	}

	found, err := users.FindByIDs(ctx, ids)
	if err != nil {
		return err
	}
	byID := make(map[uuid.UUID]model.User, len(found))
	for _, u := range found {
		byID[u.ID] = u
	}

	for i := range deals {
		if u, ok := byID[deals[i].CreatedByUserID]; ok {
			user := u
			deals[i].CreatedBy = &user
		}
	}
	return nil
}

func pipelinePayload(p *model.Pipeline) model.JSONB {
	return model.JSONB{
		"pipelineId": p.ID.String(),
		"name":       p.Name,
		"isActive":   p.IsActive,
		"stageCount": len(p.Stages),
	}
}

func pipelineEvent(p *model.Pipeline) eventbus.PipelineEvent {
	return eventbus.PipelineEvent{PipelineID: p.ID.String(), Name: p.Name, StageCount: len(p.Stages)}
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
