package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ninebot-ops/vmboard/internal/inventory"
	"github.com/ninebot-ops/vmboard/internal/store"
)

// env resolves the path segment to a member of the closed set. Unknown tags
// silently coerce to the default environment, never a 4xx.
func (s *Server) env(c *gin.Context) string {
	return s.classifier.Normalize(c.Param("env"))
}

// getVMs serves the cached snapshot for one environment.
func (s *Server) getVMs(c *gin.Context) {
	env := s.env(c)

	snap, err := s.store.Snapshot(c.Request.Context(), env)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{
			"services":    []inventory.Service{},
			"environment": env,
			"error":       "No data available yet",
		})
		return
	}
	if err != nil {
		s.logger.Error("Failed to read snapshot", zap.String("environment", env), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read snapshot"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"services":    snap.Services,
		"environment": env,
	})
}

// getMetrics serves the cached metrics set, {} when never populated.
func (s *Server) getMetrics(c *gin.Context) {
	env := s.env(c)

	set, err := s.store.Metrics(c.Request.Context(), env)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	if err != nil {
		s.logger.Error("Failed to read metrics", zap.String("environment", env), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read metrics"})
		return
	}

	c.JSON(http.StatusOK, set)
}

// getLayout serves the stored layout document verbatim, {} when absent.
func (s *Server) getLayout(c *gin.Context) {
	env := s.env(c)

	doc, err := s.store.Layout(c.Request.Context(), env)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	if err != nil {
		s.logger.Error("Failed to read layout", zap.String("environment", env), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read layout"})
		return
	}

	c.Data(http.StatusOK, "application/json", doc)
}

// saveLayout stores the request body verbatim as the environment's layout.
// A malformed body is the one request error surfaced to callers.
func (s *Server) saveLayout(c *gin.Context) {
	env := s.env(c)

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	if !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	if err := s.store.SaveLayout(c.Request.Context(), env, body); err != nil {
		s.logger.Error("Failed to save layout", zap.String("environment", env), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save layout"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "environment": env})
}

// deleteLayout removes the layout; succeeds even when none exists.
func (s *Server) deleteLayout(c *gin.Context) {
	env := s.env(c)

	if err := s.store.DeleteLayout(c.Request.Context(), env); err != nil {
		s.logger.Error("Failed to delete layout", zap.String("environment", env), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete layout"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "environment": env})
}

// prometheusStatus reports the metrics collaborator's reachability.
func (s *Server) prometheusStatus(c *gin.Context) {
	var url *string
	if u := s.prom.URL(); u != "" {
		url = &u
	}
	c.JSON(http.StatusOK, gin.H{
		"available": s.prom.Available(c.Request.Context()),
		"url":       url,
	})
}

// listEnvironments reports the closed set and the default.
func (s *Server) listEnvironments(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"environments": s.classifier.Environments(),
		"default":      s.classifier.Default(),
	})
}
