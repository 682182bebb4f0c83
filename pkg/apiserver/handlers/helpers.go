package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dealflow/dealflow/pkg/crm"
	"github.com/dealflow/dealflow/pkg/logging"
	"github.com/dealflow/dealflow/pkg/store"
	"github.com/dealflow/dealflow/pkg/tenancy"
)

const timeRFC3339Nano = time.RFC3339Nano

func parseLimit(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func parseOffset(value string) int {
	if value == "" {
		return 0
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}

func parsePage(c *gin.Context, fallbackTake int) store.Page {
	return store.Page{
		Limit:  parseLimit(c.Query("take"), fallbackTake),
		Offset: parseOffset(c.Query("skip")),
	}
}

// parseRelations accepts both repeated and comma separated relations
// parameters.
func parseRelations(c *gin.Context) []string {
	var relations []string
	for _, value := range c.QueryArray("relations") {
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				relations = append(relations, name)
			}
		}
	}
	return relations
}

func formatTime(value time.Time) string {
	return value.UTC().Format(timeRFC3339Nano)
}

func requestContext(c *gin.Context) (tenancy.RequestContext, bool) {
	rc, err := tenancy.FromContext(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
		return tenancy.RequestContext{}, false
	}
	return rc, true
}

func parseIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

// parseOptionalID reads a uuid query parameter. ok is false when the value is
// present but malformed; the response has then been written.
func parseOptionalID(c *gin.Context, name string) (*uuid.UUID, bool) {
	value := strings.TrimSpace(c.Query(name))
	if value == "" {
		return nil, true
	}
	id, err := uuid.Parse(value)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return nil, false
	}
	return &id, true
}

// respondError maps service errors onto HTTP statuses. Unexpected errors are
// logged and reported as 500 with msg.
func respondError(c *gin.Context, logger *zap.Logger, err error, msg string) {
	var verr *crm.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": verr.Error()})
	case errors.Is(err, store.ErrUnknownRelation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "details": err.Error()})
	default:
		logging.FromContext(c.Request.Context(), logger).Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
