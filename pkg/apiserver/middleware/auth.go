package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dealflow/dealflow/pkg/auth"
	"github.com/dealflow/dealflow/pkg/logging"
	"github.com/dealflow/dealflow/pkg/tenancy"
)

// Auth validates the bearer token and stores the caller's tenancy scope in
// the request context. The tenant is taken from the token only.
func Auth(tokens *auth.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authorization := c.GetHeader("Authorization")
		if authorization == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}
		parts := strings.SplitN(authorization, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization"})
			return
		}
		token := strings.TrimSpace(parts[1])
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, err := tokens.ValidateAccessToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		rc, err := claims.RequestContext()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		ctx := tenancy.WithRequestContext(c.Request.Context(), rc)
		logger := logging.FromContext(ctx, nil).With(
			zap.String("tenant_id", rc.TenantID.String()),
			zap.String("user_id", rc.UserID.String()),
		)
		c.Request = c.Request.WithContext(logging.WithContext(ctx, logger))
		c.Next()
	}
}
