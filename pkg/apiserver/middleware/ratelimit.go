package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/dealflow/dealflow/pkg/config"
)

const rateLimitPrefix = "dealflow:ratelimit"

// NewRateLimitStore picks the limiter backend. A redis store is only used
// when a client is available; otherwise requests are counted in memory.
func NewRateLimitStore(cfg config.RateLimitConfig, client redis.UniversalClient, logger *zap.Logger) limiter.Store {
	options := limiter.StoreOptions{Prefix: rateLimitPrefix}
	if cfg.Storage == "redis" && client != nil {
		store, err := sredis.NewStoreWithOptions(client, options)
		if err == nil {
			return store
		}
		logger.Warn("failed to create redis rate limit store, falling back to memory", zap.Error(err))
	}
	return memory.NewStoreWithOptions(options)
}

// RateLimit limits requests per client IP. rate uses the limiter format,
// e.g. "100-S".
func RateLimit(rate string, store limiter.Store) (gin.HandlerFunc, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, err
	}

	return mgin.NewMiddleware(
		limiter.New(store, parsed),
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		}),
	), nil
}
