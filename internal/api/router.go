package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	datasetapi "github.com/doppelganger/personaprep/internal/api/dataset"
	"github.com/doppelganger/personaprep/internal/cache"
	"github.com/doppelganger/personaprep/internal/dataset"
)

// Router sets up API routes
type Router struct {
	handler *JSONRPCHandler
	data    *dataset.Dataset
	cache   *cache.Cache
	logger  *zap.Logger
}

// NewRouter creates a new API router. redisCache may be nil.
func NewRouter(data *dataset.Dataset, redisCache *cache.Cache, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := &Router{
		handler: NewJSONRPCHandler(logger),
		data:    data,
		cache:   redisCache,
		logger:  logger.With(zap.String("component", "api-router")),
	}

	// Register all API methods
	router.registerMethods()

	return router
}

// Handler returns the JSON-RPC handler
func (r *Router) Handler() *JSONRPCHandler {
	return r.handler
}

// SetupRoutes sets up all API routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	// Health check endpoints
	engine.GET("/health", r.healthHandler)
	engine.GET("/.well-known/healthcheck.json", r.healthHandler)

	// Prometheus scrape endpoint
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// JSON-RPC endpoint
	engine.POST("/", r.handler.Handle)
}

// registerMethods registers all API methods
func (r *Router) registerMethods() {
	reader := datasetapi.NewReaderAPI(r.data)

	r.handler.RegisterMethod("dataset.get_user_posts", reader.GetUserPosts)
	r.handler.RegisterMethod("dataset.get_user_conversations", reader.GetUserConversations)
	r.handler.RegisterMethod("dataset.get_thread", reader.GetThread)
	r.handler.RegisterMethod("dataset.get_reply_contexts", reader.GetReplyContexts)
	r.handler.RegisterMethod("dataset.get_stats", reader.GetStats)
	r.handler.RegisterMethod("dataset.list_users", reader.ListUsers)
}

// healthHandler handles health check requests
func (r *Router) healthHandler(c *gin.Context) {
	status := gin.H{
		"status":  "OK",
		"service": "personaprep-api",
		"dataset": r.data.Dir(),
		"users":   len(r.data.Users()),
		"threads": r.data.ThreadCount(),
	}

	if r.cache != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := r.cache.Health(ctx); err != nil {
			r.logger.Warn("Redis health check failed", zap.Error(err))
			status["status"] = "DEGRADED"
			status["redis"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
		status["redis"] = "OK"
	}

	c.JSON(http.StatusOK, status)
}
