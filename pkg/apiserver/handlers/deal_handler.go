package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dealflow/dealflow/pkg/crm"
	"github.com/dealflow/dealflow/pkg/model"
	"github.com/dealflow/dealflow/pkg/store"
	"github.com/dealflow/dealflow/pkg/tenancy"
)

type DealService interface {
	FindAll(ctx context.Context, rc tenancy.RequestContext, q crm.DealQuery) (crm.DealPage, error)
	FindMine(ctx context.Context, rc tenancy.RequestContext, q crm.DealQuery) (crm.DealPage, error)
	Count(ctx context.Context, rc tenancy.RequestContext, filter store.DealFilter) (int64, error)
	FindByID(ctx context.Context, rc tenancy.RequestContext, id uuid.UUID, relations []string) (*model.Deal, error)
	Statistics(ctx context.Context, rc tenancy.RequestContext, pipelineID *uuid.UUID) ([]crm.StageStatistics, error)
	Create(ctx context.Context, rc tenancy.RequestContext, input crm.CreateDealInput) (*model.Deal, error)
	Update(ctx context.Context, rc tenancy.RequestContext, id uuid.UUID, input crm.UpdateDealInput) (*model.Deal, error)
	UpdateStage(ctx context.Context, rc tenancy.RequestContext, id, stageID uuid.UUID) (*model.Deal, error)
	Delete(ctx context.Context, rc tenancy.RequestContext, id uuid.UUID) error
	AddProperty(ctx context.Context, rc tenancy.RequestContext, id uuid.UUID, input crm.DealPropertyInput) (*model.Deal, error)
	UpdateProperty(ctx context.Context, rc tenancy.RequestContext, id uuid.UUID, name, value string) (*model.Deal, error)
	RemoveProperty(ctx context.Context, rc tenancy.RequestContext, id uuid.UUID, name string) error
}

type DealHandler struct {
	service DealService
	logger  *zap.Logger
}

func NewDealHandler(service DealService, logger *zap.Logger) *DealHandler {
	return &DealHandler{service: service, logger: logger}
}

type moveDealRequest struct {
	StageID uuid.UUID `json:"stageId" validate:"required"`
}

type propertyValueRequest struct {
	Value string `json:"value" validate:"max=2000"`
}

// parseDealFilter reads the list filters. ok is false when a response has
// already been written.
func parseDealFilter(c *gin.Context) (store.DealFilter, bool) {
	var filter store.DealFilter
	var ok bool
	if filter.StageID, ok = parseOptionalID(c, "stageId"); !ok {
		return filter, false
	}
	if filter.PipelineID, ok = parseOptionalID(c, "pipelineId"); !ok {
		return filter, false
	}
	if filter.ClientID, ok = parseOptionalID(c, "clientId"); !ok {
		return filter, false
	}
	if filter.CreatedByUserID, ok = parseOptionalID(c, "createdByUserId"); !ok {
		return filter, false
	}
	if search := strings.TrimSpace(c.Query("search")); search != "" {
		filter.TitleLike = &search
	}
	return filter, true
}

func (h *DealHandler) List(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	filter, ok := parseDealFilter(c)
	if !ok {
		return
	}

	page, err := h.service.FindAll(c.Request.Context(), rc, crm.DealQuery{
		Filter:    filter,
		Relations: parseRelations(c),
		Page:      parsePage(c, 0),
	})
	if err != nil {
		respondError(c, h.logger, err, "failed to list deals")
		return
	}
	c.JSON(http.StatusOK, mapDealPage(page))
}

func (h *DealHandler) ListMine(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}

	page, err := h.service.FindMine(c.Request.Context(), rc, crm.DealQuery{
		Relations: parseRelations(c),
		Page:      parsePage(c, 0),
	})
	if err != nil {
		respondError(c, h.logger, err, "failed to list deals")
		return
	}
	c.JSON(http.StatusOK, mapDealPage(page))
}

func (h *DealHandler) Count(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	filter, ok := parseDealFilter(c)
	if !ok {
		return
	}

	total, err := h.service.Count(c.Request.Context(), rc, filter)
	if err != nil {
		respondError(c, h.logger, err, "failed to count deals")
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total})
}

func (h *DealHandler) Statistics(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	pipelineID, ok := parseOptionalID(c, "pipelineId")
	if !ok {
		return
	}

	stats, err := h.service.Statistics(c.Request.Context(), rc, pipelineID)
	if err != nil {
		respondError(c, h.logger, err, "failed to compute deal statistics")
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": stats})
}

func (h *DealHandler) Get(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	deal, err := h.service.FindByID(c.Request.Context(), rc, id, parseRelations(c))
	if err != nil {
		respondError(c, h.logger, err, "failed to get deal")
		return
	}
	c.JSON(http.StatusOK, mapDeal(deal))
}

func (h *DealHandler) Create(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	var input crm.CreateDealInput
	if !bindJSON(c, &input) {
		return
	}

	deal, err := h.service.Create(c.Request.Context(), rc, input)
	if err != nil {
		respondError(c, h.logger, err, "failed to create deal")
		return
	}
	c.JSON(http.StatusCreated, mapDeal(deal))
}

func (h *DealHandler) Update(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var input crm.UpdateDealInput
	if !bindJSON(c, &input) {
		return
	}

	deal, err := h.service.Update(c.Request.Context(), rc, id, input)
	if err != nil {
		respondError(c, h.logger, err, "failed to update deal")
		return
	}
	c.JSON(http.StatusOK, mapDeal(deal))
}

func (h *DealHandler) Move(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req moveDealRequest
	if !bindJSON(c, &req) {
		return
	}

	deal, err := h.service.UpdateStage(c.Request.Context(), rc, id, req.StageID)
	if err != nil {
		respondError(c, h.logger, err, "failed to move deal")
		return
	}
	c.JSON(http.StatusOK, mapDeal(deal))
}

func (h *DealHandler) Delete(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), rc, id); err != nil {
		respondError(c, h.logger, err, "failed to delete deal")
		return
	}
	c.Status(http.StatusNoContent)
}

// AddProperty serves POST /deal/:id/properties.
func (h *DealHandler) AddProperty(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var input crm.DealPropertyInput
	if !bindJSON(c, &input) {
		return
	}

	deal, err := h.service.AddProperty(c.Request.Context(), rc, id, input)
	if err != nil {
		respondError(c, h.logger, err, "failed to add deal property")
		return
	}
	c.JSON(http.StatusCreated, mapDeal(deal))
}

func (h *DealHandler) UpdateProperty(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req propertyValueRequest
	if !bindJSON(c, &req) {
		return
	}

	deal, err := h.service.UpdateProperty(c.Request.Context(), rc, id, c.Param("name"), req.Value)
	if err != nil {
		respondError(c, h.logger, err, "failed to update deal property")
		return
	}
	c.JSON(http.StatusOK, mapDeal(deal))
}

func (h *DealHandler) RemoveProperty(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.service.RemoveProperty(c.Request.Context(), rc, id, c.Param("name")); err != nil {
		respondError(c, h.logger, err, "failed to remove deal property")
		return
	}
	c.Status(http.StatusNoContent)
}
