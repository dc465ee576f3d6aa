// Package http assembles the gin engine and HTTP server.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/replyflow/replyflow/internal/config"
	"github.com/replyflow/replyflow/internal/infrastructure/monitoring"
	"github.com/replyflow/replyflow/internal/interfaces/http/handlers"
	"github.com/replyflow/replyflow/internal/interfaces/http/middleware"
	"github.com/replyflow/replyflow/pkg/logger"
)

// Router owns the gin engine and the HTTP server lifecycle.
type Router struct {
	engine           *gin.Engine
	config           *config.Config
	logger           logger.Logger
	healthHandler    *handlers.HealthHandler
	admissionHandler *handlers.AdmissionHandler
	queueHandler     *handlers.QueueHandler
	server           *http.Server
}

// NewRouter creates the router with all handlers wired but no routes yet.
func NewRouter(
	cfg *config.Config,
	log logger.Logger,
	metrics *monitoring.Metrics,
	healthHandler *handlers.HealthHandler,
	admissionHandler *handlers.AdmissionHandler,
	queueHandler *handlers.QueueHandler,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(middleware.Recovery(log))
	engine.Use(middleware.RequestID())
	engine.Use(middleware.AccessLog(log))
	engine.Use(middleware.Metrics(metrics))

	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	return &Router{
		engine:           engine,
		config:           cfg,
		logger:           log.WithComponent("http_server"),
		healthHandler:    healthHandler,
		admissionHandler: admissionHandler,
		queueHandler:     queueHandler,
	}
}

// SetupRoutes registers every endpoint.
func (r *Router) SetupRoutes() {
	r.engine.GET("/healthz", r.healthHandler.Liveness)
	r.engine.GET("/readyz", r.healthHandler.Readiness)
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if r.config.Server.Environment != "production" {
		pprof.Register(r.engine)
	}

	v1 := r.engine.Group("/api/v1")
	{
		ratelimit := v1.Group("/ratelimit")
		{
			ratelimit.POST("/check", r.admissionHandler.Check)
			ratelimit.GET("/accounts/:account_id", r.admissionHandler.Status)
			ratelimit.DELETE("/accounts/:account_id", r.admissionHandler.Reset)
			ratelimit.GET("/top", r.admissionHandler.TopUsers)
			ratelimit.GET("/window", r.admissionHandler.QuotaWindow)
		}
		queue := v1.Group("/queue")
		{
			queue.POST("/items", r.queueHandler.Enqueue)
			queue.GET("/items/:id", r.queueHandler.Get)
			queue.GET("/stats", r.queueHandler.Stats)
			queue.POST("/process", r.queueHandler.Process)
			queue.POST("/cleanup", r.queueHandler.Cleanup)
		}
	}

	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":             "not_found",
			"error_description": "the requested resource was not found",
		})
	})
}

// Start runs the HTTP server until it is shut down. It blocks.
func (r *Router) Start() error {
	r.SetupRoutes()

	addr := r.config.Server.Address()
	r.server = &http.Server{
		Addr:           addr,
		Handler:        r.engine,
		ReadTimeout:    time.Duration(r.config.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(r.config.Server.WriteTimeout) * time.Second,
		IdleTimeout:    time.Duration(r.config.Server.IdleTimeout) * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	r.logger.Info(context.Background(), "starting HTTP server", logger.String("address", addr))

	if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down.
func (r *Router) Stop(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	r.logger.Info(ctx, "stopping HTTP server")
	return r.server.Shutdown(ctx)
}

// Engine exposes the underlying gin engine, mainly for tests.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}
