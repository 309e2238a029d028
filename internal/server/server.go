// Package server exposes the cached inventory, metrics and layouts over a
// JSON HTTP API. Handlers only ever read from the cache (layout writes
// excepted); they never trigger an upstream fetch.
package server

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ninebot-ops/vmboard/internal/environment"
	"github.com/ninebot-ops/vmboard/internal/metrics"
	"github.com/ninebot-ops/vmboard/internal/store"
)

// Server holds the router and the read-side dependencies.
type Server struct {
	router     *gin.Engine
	classifier *environment.Classifier
	store      *store.Store
	prom       *metrics.Client
	logger     *zap.Logger
}

// New builds the router with all API routes registered.
func New(classifier *environment.Classifier, st *store.Store, prom *metrics.Client, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())

	s := &Server{
		router:     router,
		classifier: classifier,
		store:      st,
		prom:       prom,
		logger:     logger,
	}

	api := router.Group("/api")
	{
		api.GET("/environments", s.listEnvironments)
		api.GET("/prometheus/status", s.prometheusStatus)

		api.GET("/:env/vms", s.getVMs)
		api.GET("/:env/metrics", s.getMetrics)
		api.GET("/:env/layout", s.getLayout)
		api.POST("/:env/layout", s.saveLayout)
		api.DELETE("/:env/layout", s.deleteLayout)
	}

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}
