package crm

import (
	"context"
	"encoding/json"
	"fmt"
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

type CreateDealInput struct {
	OrganizationID *uuid.UUID `json:"organizationId"`
	Title          string     `json:"title" validate:"required,max=255"`
	Probability    *int       `json:"probability" validate:"omitempty,min=0,max=5"`
	StageID        uuid.UUID  `json:"stageId" validate:"required"`
	ClientID       *uuid.UUID `json:"clientId"`
}

// UpdateDealInput is a partial update. An explicit "clientId": null
// detaches the client.
type UpdateDealInput struct {
	Title       *string    `json:"title" validate:"omitempty,min=1,max=255"`
	Probability *int       `json:"probability" validate:"omitempty,min=0,max=5"`
	StageID     *uuid.UUID `json:"stageId"`
	ClientID    OptionalID `json:"clientId"`
}

// OptionalID tells an absent JSON field apart from an explicit null.
type OptionalID struct {
	Set bool
	ID  *uuid.UUID
}

// SetID returns an OptionalID holding id.
func SetID(id uuid.UUID) OptionalID {
	return OptionalID{Set: true, ID: &id}
}

func (o *OptionalID) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.ID = nil
		return nil
	}
	var id uuid.UUID
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	o.ID = &id
	return nil
}

type DealPropertyInput struct {
	Name  string `json:"name" validate:"required,max=255"`
	Value string `json:"value" validate:"max=2000"`
}

type DealQuery struct {
	Filter    store.DealFilter
	Relations []string
	Page      store.Page
}

type StageStatistics struct {
	StageID            uuid.UUID `json:"stageId"`
	StageName          string    `json:"stageName"`
	StageIndex         int       `json:"stageIndex"`
	DealCount          int64     `json:"dealCount"`
	AverageProbability *float64  `json:"averageProbability"`
}

type DealService struct {
	deals    DealRepository
	stages   StageFinder
	notifier notifier
	logger   *zap.Logger
}

func NewDealService(deals DealRepository, stages StageFinder, publisher Publisher, logger *zap.Logger) *DealService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DealService{
		deals:    deals,
		stages:   stages,
		notifier: notifier{publisher: publisher, logger: logger},
		logger:   logger,
	}
}

func (s *DealService) FindAll(ctx context.Context, rc tenancy.RequestContext, q DealQuery) (DealPage, error) {
	filter := s.scopeFilter(rc, q.Filter)
	items, total, err := s.deals.Find(ctx, rc.TenantID, filter, q.Relations, q.Page)
	if err != nil {
		return DealPage{}, err
	}
	return DealPage{Items: items, Total: total}, nil
}

// FindMine lists the deals created by the caller.
func (s *DealService) FindMine(ctx context.Context, rc tenancy.RequestContext, q DealQuery) (DealPage, error) {
	userID := rc.UserID
	q.Filter.CreatedByUserID = &userID
	return s.FindAll(ctx, rc, q)
}

func (s *DealService) Count(ctx context.Context, rc tenancy.RequestContext, filter store.DealFilter) (int64, error) {
	return s.deals.Count(ctx, rc.TenantID, s.scopeFilter(rc, filter))
}

func (s *DealService) FindByID(ctx context.Context, rc tenancy.RequestContext, id uuid.UUID, relations []string) (*model.Deal, error) {
	return s.deals.FindByID(ctx, rc.TenantID, id, relations)
}

// Statistics groups the tenant's deals by stage, optionally restricted to
// one pipeline.
func (s *DealService) Statistics(ctx context.Context, rc tenancy.RequestContext, pipelineID *uuid.UUID) ([]StageStatistics, error) {
	filter := s.scopeFilter(rc, store.DealFilter{PipelineID: pipelineID})
	rows, err := s.deals.Statistics(ctx, rc.TenantID, filter)
	if err != nil {
		return nil, err
	}

	stats := make([]StageStatistics, 0, len(rows))
	for _, row := range rows {
		stats = append(stats, StageStatistics{
			StageID:            row.StageID,
			StageName:          row.StageName,
			StageIndex:         row.StageIndex,
			DealCount:          row.DealCount,
			AverageProbability: row.AverageProbability,
		})
	}
	return stats, nil
}

func (s *DealService) Create(ctx context.Context, rc tenancy.RequestContext, input CreateDealInput) (*model.Deal, error) {
	logger := logging.FromContext(ctx, s.logger)

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, invalid("title", "is required")
	}
	if err := validateProbability(input.Probability); err != nil {
		return nil, err
	}

	stage, err := s.resolveStage(ctx, rc, input.StageID)
	if err != nil {
		return nil, err
	}

	orgID := rc.OrganizationID
	if orgID == uuid.Nil && input.OrganizationID != nil {
		orgID = *input.OrganizationID
	}
	if orgID == uuid.Nil {
		orgID = stage.OrganizationID
	}

	deal := &model.Deal{
		ID:              uuid.New(),
		TenantID:        rc.TenantID,
		OrganizationID:  orgID,
		Title:           title,
		Probability:     input.Probability,
		CreatedByUserID: rc.UserID,
		StageID:         stage.ID,
		ClientID:        input.ClientID,
		Properties:      model.JSONB{},
	}

	event := model.NewOutboxEvent(rc.TenantID, model.EventDealCreated, deal.ID, dealPayload(deal, nil))
	if err := s.deals.Create(ctx, deal, event); err != nil {
		return nil, err
	}

	metrics.DealsCreatedTotal.WithLabelValues(rc.TenantID.String()).Inc()
	logger.Info("deal created", zap.String("deal_id", deal.ID.String()), zap.String("stage_id", deal.StageID.String()))
	s.notifier.publish(ctx, eventbus.ChannelDeal, model.EventDealCreated, rc.TenantID, dealEvent(deal, nil))

	return deal, nil
}

// Update applies a partial update. A stage change is reported as a stage
// transition.
func (s *DealService) Update(ctx context.Context, rc tenancy.RequestContext, id uuid.UUID, input UpdateDealInput) (*model.Deal, error) {
	if err := validateProbability(input.Probability); err != nil {
		return nil, err
	}

	deal, err := s.deals.FindByID(ctx, rc.TenantID, id, nil)
	if err != nil {
		return nil, err
	}
	previousStage := deal.StageID

	updates := map[string]interface{}{"updated_at": time.Now().UTC()}
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return nil, invalid("title", "must not be empty")
		}
		deal.Title = title
		updates["title"] = title
	}
	if input.Probability != nil {
		deal.Probability = input.Probability
		updates["probability"] = *input.Probability
	}
	if input.ClientID.Set {
		deal.ClientID = input.ClientID.ID
		if input.ClientID.ID == nil {
			updates["client_id"] = nil
		} else {
			updates["client_id"] = *input.ClientID.ID
		}
	}
	if input.StageID != nil && *input.StageID != deal.StageID {
		stage, err := s.resolveStage(ctx, rc, *input.StageID)
		if err != nil {
			return nil, err
		}
		deal.StageID = stage.ID
		updates["stage_id"] = stage.ID
	}

	return s.save(ctx, rc, deal, updates, previousStage)
}

// UpdateStage moves a deal to another stage. Any stage of the tenant is a
// valid target, including stages of other pipelines.
func (s *DealService) UpdateStage(ctx context.Context, rc tenancy.RequestContext, id, stageID uuid.UUID) (*model.Deal, error) {
	deal, err := s.deals.FindByID(ctx, rc.TenantID, id, nil)
	if err != nil {
		return nil, err
	}
	stage, err := s.resolveStage(ctx, rc, stageID)
	if err != nil {
		return nil, err
	}

	previousStage := deal.StageID
	deal.StageID = stage.ID
	updates := map[string]interface{}{
		"stage_id":   stage.ID,
		"updated_at": time.Now().UTC(),
	}
	return s.save(ctx, rc, deal, updates, previousStage)
}

// AddProperty sets a custom property the deal does not carry yet.
func (s *DealService) AddProperty(ctx context.Context, rc tenancy.RequestContext, id uuid.UUID, input DealPropertyInput) (*model.Deal, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, invalid("name", "is required")
	}
	return s.changeProperties(ctx, rc, id, func(props model.JSONB) error {
		if _, ok := props[name]; ok {
			return fmt.Errorf("%w: property %q already exists", ErrConflict, name)
		}
		props[name] = input.Value
		return nil
	})
}

func (s *DealService) UpdateProperty(ctx context.Context, rc tenancy.RequestContext, id uuid.UUID, name, value string) (*model.Deal, error) {
	return s.changeProperties(ctx, rc, id, func(props model.JSONB) error {
		if _, ok := props[name]; !ok {
			return fmt.Errorf("%w: property %q", ErrNotFound, name)
		}
		props[name] = value
		return nil
	})
}

func (s *DealService) RemoveProperty(ctx context.Context, rc tenancy.RequestContext, id uuid.UUID, name string) error {
	_, err := s.changeProperties(ctx, rc, id, func(props model.JSONB) error {
		if _, ok := props[name]; !ok {
			return fmt.Errorf("%w: property %q", ErrNotFound, name)
		}
		delete(props, name)
		return nil
	})
	return err
}

// changeProperties applies change to a copy of the deal's properties and
// writes the whole set back.
func (s *DealService) changeProperties(ctx context.Context, rc tenancy.RequestContext, id uuid.UUID, change func(model.JSONB) error) (*model.Deal, error) {
	deal, err := s.deals.FindByID(ctx, rc.TenantID, id, nil)
	if err != nil {
		return nil, err
	}

	props := make(model.JSONB, len(deal.Properties)+1)
	for k, v := range deal.Properties {
		props[k] = v
	}
	if err := change(props); err != nil {
		return nil, err
	}
	deal.Properties = props

	updates := map[string]interface{}{
		"properties": props,
		"updated_at": time.Now().UTC(),
	}
	return s.save(ctx, rc, deal, updates, deal.StageID)
}

func (s *DealService) save(ctx context.Context, rc tenancy.RequestContext, deal *model.Deal, updates map[string]interface{}, previousStage uuid.UUID) (*model.Deal, error) {
	eventType := model.EventDealUpdated
	var previous *uuid.UUID
	if deal.StageID != previousStage {
		eventType = model.EventDealStageChanged
		previous = &previousStage
	}

	event := model.NewOutboxEvent(rc.TenantID, eventType, deal.ID, dealPayload(deal, previous))
	if err := s.deals.Update(ctx, rc.TenantID, deal.ID, updates, event); err != nil {
		return nil, err
	}
	if ts, ok := updates["updated_at"].(time.Time); ok {
		deal.UpdatedAt = ts
	}

	if previous != nil {
		metrics.DealStageTransitionsTotal.WithLabelValues(rc.TenantID.String()).Inc()
		logging.FromContext(ctx, s.logger).Info("deal moved",
			zap.String("deal_id", deal.ID.String()),
			zap.String("from_stage_id", previousStage.String()),
			zap.String("to_stage_id", deal.StageID.String()),
		)
	}
	s.notifier.publish(ctx, eventbus.ChannelDeal, eventType, rc.TenantID, dealEvent(deal, previous))
	return deal, nil
}

func (s *DealService) Delete(ctx context.Context, rc tenancy.RequestContext, id uuid.UUID) error {
	event := model.NewOutboxEvent(rc.TenantID, model.EventDealDeleted, id, model.JSONB{"dealId": id.String()})
	if err := s.deals.Delete(ctx, rc.TenantID, id, event); err != nil {
		return err
	}
	s.notifier.publish(ctx, eventbus.ChannelDeal, model.EventDealDeleted, rc.TenantID, eventbus.DealEvent{DealID: id.String()})
	return nil
}

// resolveStage checks that the stage exists for the caller's tenant.
func (s *DealService) resolveStage(ctx context.Context, rc tenancy.RequestContext, stageID uuid.UUID) (*model.PipelineStage, error) {
	if stageID == uuid.Nil {
		return nil, invalid("stageId", "is required")
	}
	stage, err := s.stages.FindStage(ctx, rc.TenantID, stageID)
	if isNotFound(err) {
		return nil, invalid("stageId", "stage "+stageID.String()+" not found")
	}
	if err != nil {
		return nil, err
	}
	return stage, nil
}

func (s *DealService) scopeFilter(rc tenancy.RequestContext, filter store.DealFilter) store.DealFilter {
	if rc.HasOrganization() && filter.OrganizationID == nil {
		orgID := rc.OrganizationID
		filter.OrganizationID = &orgID
	}
	return filter
}

func validateProbability(p *int) error {
	if p == nil {
		return nil
	}
	if *p < model.MinDealProbability || *p > model.MaxDealProbability {
		return invalid("probability", "must be between 0 and 5")
	}
	return nil
}

func dealPayload(d *model.Deal, previousStage *uuid.UUID) model.JSONB {
	payload := model.JSONB{
		"dealId":          d.ID.String(),
		"title":           d.Title,
		"stageId":         d.StageID.String(),
		"createdByUserId": d.CreatedByUserID.String(),
	}
	if d.Probability != nil {
		payload["probability"] = *d.Probability
	}
	if d.ClientID != nil {
		payload["clientId"] = d.ClientID.String()
	}
	if len(d.Properties) > 0 {
		payload["properties"] = map[string]interface{}(d.Properties)
	}
	if previousStage != nil {
		payload["previousStageId"] = previousStage.String()
	}
	return payload
}

func dealEvent(d *model.Deal, previousStage *uuid.UUID) eventbus.DealEvent {
	event := eventbus.DealEvent{DealID: d.ID.String(), StageID: d.StageID.String(), Title: d.Title}
	if previousStage != nil {
		event.PreviousStage = previousStage.String()
	}
	return event
}
