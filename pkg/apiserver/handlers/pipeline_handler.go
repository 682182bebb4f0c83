package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dealflow/dealflow/pkg/crm"
	"github.com/dealflow/dealflow/pkg/model"
	"github.com/dealflow/dealflow/pkg/store"
	"github.com/dealflow/dealflow/pkg/tenancy"
)

const defaultPageSize = 10

type PipelineService interface {
	FindAll(ctx context.Context, rc tenancy.RequestContext, opts crm.FindPipelinesOptions) (crm.PipelinePage, error)
	Paginate(ctx context.Context, rc tenancy.RequestContext, where map[string]any, page store.Page) (crm.PipelinePage, error)
	FindByID(ctx context.Context, rc tenancy.RequestContext, id uuid.UUID, relations []string) (*model.Pipeline, error)
	Create(ctx context.Context, rc tenancy.RequestContext, input crm.CreatePipelineInput) (*model.Pipeline, error)
	Update(ctx context.Context, rc tenancy.RequestContext, id uuid.UUID, input crm.UpdatePipelineInput) (*model.Pipeline, error)
	Delete(ctx context.Context, rc tenancy.RequestContext, id uuid.UUID) error
	FindDeals(ctx context.Context, rc tenancy.RequestContext, pipelineID uuid.UUID) (crm.DealPage, error)
}

type PipelineHandler struct {
	service PipelineService
	logger  *zap.Logger
}

func NewPipelineHandler(service PipelineService, logger *zap.Logger) *PipelineHandler {
	return &PipelineHandler{service: service, logger: logger}
}

// List serves GET /pipeline?data={"relations":[...],"findInput":{...}}.
func (h *PipelineHandler) List(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}

	var opts crm.FindPipelinesOptions
	if data := c.Query("data"); data != "" {
		if err := json.Unmarshal([]byte(data), &opts); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid data", "details": err.Error()})
			return
		}
	}

	page, err := h.service.FindAll(c.Request.Context(), rc, opts)
	if err != nil {
		respondError(c, h.logger, err, "failed to list pipelines")
		return
	}
	c.JSON(http.StatusOK, mapPipelinePage(page))
}

// Pagination serves GET /pipeline/pagination?where[name]=..&take=&skip=.
func (h *PipelineHandler) Pagination(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}

	where := make(map[string]any)
	for key, value := range c.QueryMap("where") {
		where[key] = value
	}
	// Query strings carry no types; booleans are decoded here so that the
	// filter sees the same values a JSON body would produce.
	if raw, ok := where[crm.FilterIsActive].(string); ok {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			where[crm.FilterIsActive] = parsed
		}
	}

	page, err := h.service.Paginate(c.Request.Context(), rc, where, parsePage(c, defaultPageSize))
	if err != nil {
		respondError(c, h.logger, err, "failed to paginate pipelines")
		return
	}
	c.JSON(http.StatusOK, mapPipelinePage(page))
}

func (h *PipelineHandler) Get(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	relations := parseRelations(c)
	if len(relations) == 0 {
		relations = []string{crm.RelationStages}
	}

	pipeline, err := h.service.FindByID(c.Request.Context(), rc, id, relations)
	if err != nil {
		respondError(c, h.logger, err, "failed to get pipeline")
		return
	}
	c.JSON(http.StatusOK, mapPipeline(pipeline))
}

func (h *PipelineHandler) FindDeals(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	page, err := h.service.FindDeals(c.Request.Context(), rc, id)
	if err != nil {
		respondError(c, h.logger, err, "failed to load pipeline deals")
		return
	}
	c.JSON(http.StatusOK, mapDealPage(page))
}

func (h *PipelineHandler) Create(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	var input crm.CreatePipelineInput
	if !bindJSON(c, &input) {
		return
	}

	pipeline, err := h.service.Create(c.Request.Context(), rc, input)
	if err != nil {
		respondError(c, h.logger, err, "failed to create pipeline")
		return
	}
	c.JSON(http.StatusCreated, mapPipeline(pipeline))
}

func (h *PipelineHandler) Update(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var input crm.UpdatePipelineInput
	if !bindJSON(c, &input) {
		return
	}

	pipeline, err := h.service.Update(c.Request.Context(), rc, id, input)
	if err != nil {
		respondError(c, h.logger, err, "failed to update pipeline")
		return
	}
	c.JSON(http.StatusOK, mapPipeline(pipeline))
}

func (h *PipelineHandler) Delete(c *gin.Context) {
	rc, ok := requestContext(c)
	if !ok {
		return
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), rc, id); err != nil {
		respondError(c, h.logger, err, "failed to delete pipeline")
		return
	}
	c.Status(http.StatusNoContent)
}
