package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dealflow/dealflow/pkg/authz"
	"github.com/dealflow/dealflow/pkg/logging"
	"github.com/dealflow/dealflow/pkg/tenancy"
)

// RequirePermission rejects callers whose roles and direct grants do not
// include permission. It must run after Auth.
func RequirePermission(enforcer *authz.Enforcer, permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		rc, err := tenancy.FromContext(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		allowed, err := enforcer.Allowed(rc.Roles, rc.Permissions, permission)
		if err != nil {
			logging.FromContext(c.Request.Context(), nil).Error("permission check failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "permission": permission})
			return
		}
		c.Next()
	}
}
