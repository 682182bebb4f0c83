package apiserver

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dealflow/dealflow/pkg/apiserver/handlers"
	"github.com/dealflow/dealflow/pkg/apiserver/middleware"
	"github.com/dealflow/dealflow/pkg/auth"
	"github.com/dealflow/dealflow/pkg/authz"
	"github.com/dealflow/dealflow/pkg/config"
	"github.com/dealflow/dealflow/pkg/crm"
	"github.com/dealflow/dealflow/pkg/eventbus"
	"github.com/dealflow/dealflow/pkg/store/postgres"
	redisclient "github.com/dealflow/dealflow/pkg/store/redis"
)

type Server struct {
	router    *gin.Engine
	cfg       *config.Config
	logger    *zap.Logger
	redis     *redisclient.Client
	tokens    *auth.TokenManager
	enforcer  *authz.Enforcer
	pipelines handlers.PipelineService
	deals     handlers.DealService
}

// NewServer wires repositories, services and routes. redis may be nil, in
// which case events are only written to the outbox and rate limits are kept
// in memory.
func NewServer(db *postgres.Store, redis *redisclient.Client, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	enforcer, err := authz.NewEnforcer(cfg.Authz.Policies)
	if err != nil {
		return nil, err
	}

	var publisher crm.Publisher
	if client := redis.Client(); client != nil {
		publisher = eventbus.NewBus(client)
	}

	pipelineRepo := postgres.NewPipelineRepository(db.DB())
	dealRepo := postgres.NewDealRepository(db.DB())
	userRepo := postgres.NewUserRepository(db.DB())

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		redis:     redis,
		tokens:    auth.NewTokenManager([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL, cfg.Auth.Issuer),
		enforcer:  enforcer,
		pipelines: crm.NewPipelineService(pipelineRepo, dealRepo, userRepo, publisher, logger),
		deals:     crm.NewDealService(dealRepo, pipelineRepo, publisher, logger),
	}
	if err := s.setupRouter(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) setupRouter() error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS())

	if s.cfg.Server.RateLimit.Enabled {
		store := middleware.NewRateLimitStore(s.cfg.Server.RateLimit, s.redis.Client(), s.logger)
		limit, err := middleware.RateLimit(s.cfg.Server.RateLimit.Rate, store)
		if err != nil {
			return fmt.Errorf("invalid rate limit %q: %w", s.cfg.Server.RateLimit.Rate, err)
		}
		r.Use(limit)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	view := middleware.RequirePermission(s.enforcer, authz.PermissionViewSalesPipelines)
	edit := middleware.RequirePermission(s.enforcer, authz.PermissionEditSalesPipelines)

	api := r.Group("/api")
	{
		api.Use(middleware.Auth(s.tokens))

		pipelineHandler := handlers.NewPipelineHandler(s.pipelines, s.logger)
		api.GET("/pipeline", view, pipelineHandler.List)
		api.GET("/pipeline/pagination", view, pipelineHandler.Pagination)
		api.GET("/pipeline/:id", view, pipelineHandler.Get)
		api.GET("/pipeline/:id/deals", view, pipelineHandler.FindDeals)
		api.POST("/pipeline", edit, pipelineHandler.Create)
		api.PUT("/pipeline/:id", edit, pipelineHandler.Update)
		api.DELETE("/pipeline/:id", edit, pipelineHandler.Delete)

		dealHandler := handlers.NewDealHandler(s.deals, s.logger)
		api.GET("/deal", view, dealHandler.List)
		api.GET("/deal/count", view, dealHandler.Count)
		api.GET("/deal/me", view, dealHandler.ListMine)
		api.GET("/deal/statistics", view, dealHandler.Statistics)
		api.GET("/deal/:id", view, dealHandler.Get)
		api.POST("/deal", edit, dealHandler.Create)
		api.PUT("/deal/:id", edit, dealHandler.Update)
		api.PUT("/deal/:id/stage", edit, dealHandler.Move)
		api.DELETE("/deal/:id", edit, dealHandler.Delete)
		api.POST("/deal/:id/properties", edit, dealHandler.AddProperty)
		api.PUT("/deal/:id/properties/:name", edit, dealHandler.UpdateProperty)
		api.DELETE("/deal/:id/properties/:name", edit, dealHandler.RemoveProperty)
	}

	s.router = r
	return nil
}

func (s *Server) Router() *gin.Engine {
	return s.router
}
