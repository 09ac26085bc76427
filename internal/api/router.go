package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/splitlease/proposal-sync/internal/api/middleware"
	"github.com/splitlease/proposal-sync/internal/auth"
	"github.com/splitlease/proposal-sync/internal/config"
	"github.com/splitlease/proposal-sync/internal/outbox"
	"github.com/splitlease/proposal-sync/internal/usecase/negotiation"
)

type Router struct {
	engine    *gin.Engine
	server    *http.Server
	cfg       *config.Config
	proposals *negotiation.UseCase
	queue     *outbox.Store
	authMW    *auth.Middleware
	logger    *zap.Logger

	streamPoll      time.Duration
	streamHeartbeat time.Duration
}

func NewRouter(
	cfg *config.Config,
	proposals *negotiation.UseCase,
	queue *outbox.Store,
	authMW *auth.Middleware,
	logger *zap.Logger,
) *Router {
	// Disable GIN default logger
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Metrics())
	r.Use(middleware.Logger(logger))

	api := &Router{
		engine:          r,
		cfg:             cfg,
		proposals:       proposals,
		queue:           queue,
		authMW:          authMW,
		logger:          logger.Named("api"),
		streamPoll:      2 * time.Second,
		streamHeartbeat: 20 * time.Second,
	}

	api.RegisterRoutes()
	return api
}

func (r *Router) RegisterRoutes() {
	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	proposals := r.engine.Group("/proposals")
	proposals.Use(r.authMW.Handler())
	{
		proposals.POST("", r.CreateProposal)
		proposals.GET("", r.ListProposals)
		proposals.GET("/:id", r.GetProposal)
		proposals.GET("/:id/stream", r.StreamProposal)
		proposals.POST("/:id/actions/:action", r.TransitionProposal)

		proposals.POST("/:id/meeting", r.RequestMeeting)
		proposals.POST("/:id/meeting/respond", r.RespondMeeting)
		proposals.POST("/:id/meeting/cancel", r.CancelMeeting)
	}

	r.engine.GET("/me", r.authMW.Handler(), r.GetMe)

	// Admin Routes (Protected by ADMIN_API_TOKEN)
	admin := r.engine.Group("/admin")
	admin.Use(r.adminAuth())
	{
		admin.GET("/sync/failed", r.ListFailedSync)
		admin.GET("/sync/stats", r.SyncStats)
		admin.GET("/sync/groups/:correlation_id", r.GetSyncGroup)
		admin.GET("/sync/proposals/:id", r.ListProposalSync)
		admin.POST("/sync/items/:item_id/requeue", r.RequeueSyncItem)
		admin.POST("/sync/items/:item_id/resolve", r.ResolveSyncItem)
	}
}

// Handler exposes the engine for tests and embedding.
func (r *Router) Handler() http.Handler {
	return r.engine
}

func (r *Router) Run() error {
	r.server = &http.Server{
		Addr:        ":" + r.cfg.Port,
		Handler:     r.engine,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: proposal streams stay open.
		IdleTimeout: 60 * time.Second,
	}

	return r.server.ListenAndServe()
}

func (r *Router) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := strings.TrimSpace(r.cfg.AdminAPIToken)
		if expected == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin_token_not_configured"})
			return
		}

		provided := strings.TrimSpace(c.GetHeader("X-Admin-Token"))
		if provided == "" {
			authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
			if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				provided = strings.TrimSpace(authHeader[7:])
			}
		}

		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// Shutdown gracefully shuts down the HTTP server
func (r *Router) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	return r.server.Shutdown(ctx)
}
