// Package api exposes the decision engine over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/drug-interaction-engine/internal/domain"
	"github.com/drug-interaction-engine/internal/knowledge"
	"github.com/drug-interaction-engine/internal/override"
	"github.com/drug-interaction-engine/internal/registry"
	"github.com/drug-interaction-engine/internal/report"
	"github.com/drug-interaction-engine/internal/service"
)

// Server represents the HTTP server
type Server struct {
	log       *logrus.Logger
	config    *domain.Config
	router    *gin.Engine
	server    *http.Server
	checker   *service.Checker
	batches   *service.BatchRunner
	overrides *override.Manager
	reports   *report.Generator
	explainer *service.Explainer
	features  *service.FeatureRegistry
	norm      *service.Normalizer
	kb        *knowledge.Store
	models    *registry.Registry
}

// Deps bundles the server's collaborators.
type Deps struct {
	Checker   *service.Checker
	Batches   *service.BatchRunner
	Overrides *override.Manager
	Reports   *report.Generator
	Explainer *service.Explainer
	Features  *service.FeatureRegistry
	Norm      *service.Normalizer
	Knowledge *knowledge.Store
	Models    *registry.Registry
}

// NewServer creates a new HTTP server instance
func NewServer(logger *logrus.Logger, cfg *domain.Config, deps Deps) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestIDMiddleware())
	router.Use(rateLimitMiddleware(cfg.Server.RateLimit, cfg.Server.RateBurst))

	server := &Server{
		log:       logger,
		config:    cfg,
		router:    router,
		checker:   deps.Checker,
		batches:   deps.Batches,
		overrides: deps.Overrides,
		reports:   deps.Reports,
		explainer: deps.Explainer,
		features:  deps.Features,
		norm:      deps.Norm,
		kb:        deps.Knowledge,
		models:    deps.Models,
	}

	server.setupRoutes()

	return server
}

// Start starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.config.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/check", s.handleCheck)
		v1.POST("/explain", s.handleExplain)
		v1.POST("/overrides", s.handleSubmitOverride)
		v1.POST("/overrides/:id/signoff", s.handleCompleteSignoff)
		v1.POST("/overrides/:id/revoke", s.handleRevokeOverride)
		v1.POST("/batches", s.handleSubmitBatch)
		v1.GET("/batches/:id", s.handleGetBatch)
		v1.POST("/reports", s.handleGenerateReport)
	}
}

// handleHealth reports service health including knowledge and model state.
func (s *Server) handleHealth(c *gin.Context) {
	kbVersion := ""
	if snap, err := s.kb.Current(); err == nil {
		kbVersion = snap.Version
	}
	c.JSON(http.StatusOK, gin.H{
		"status":            "healthy",
		"timestamp":         time.Now().UTC(),
		"knowledge_version": kbVersion,
	})
}

// handleCheck runs one interaction check.
func (s *Server) handleCheck(c *gin.Context) {
	var req domain.CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(c, "invalid_request", err.Error()))
		return
	}

	resp, err := s.checker.Check(c.Request.Context(), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type explainRequest struct {
	Interaction  domain.DrugInteraction `json:"interaction"`
	PatientFacts domain.PatientFacts    `json:"patient_facts"`
	Drugs        []domain.Drug          `json:"drugs"`
}

// handleExplain builds the explanation payload for a flagged interaction.
func (s *Server) handleExplain(c *gin.Context) {
	var req explainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(c, "invalid_request", err.Error()))
		return
	}

	var model *domain.MLModel
	if req.Interaction.Source.IncludesML() && req.Interaction.ModelVersion != "" {
		m, err := s.models.Lookup(s.config.Engine.ModelType, req.Interaction.ModelVersion)
		if err != nil {
			s.writeError(c, err)
			return
		}
		model = m
	}

	var drugs []domain.NormalizedDrug
	if snap, err := s.kb.Current(); err == nil {
		drugs = s.norm.NormalizeAll(snap, req.Drugs)
	}

	explanation, err := s.explainer.Explain(&req.Interaction, &req.PatientFacts, drugs, model, s.features.Names())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, explanation)
}

type overrideRequest struct {
	Submission  domain.OverrideSubmission `json:"submission"`
	Interaction domain.DrugInteraction    `json:"interaction"`
}

// handleSubmitOverride runs the override workflow for one interaction.
func (s *Server) handleSubmitOverride(c *gin.Context) {
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(c, "invalid_request", err.Error()))
		return
	}

	result, err := s.overrides.Submit(c.Request.Context(), &req.Submission, &req.Interaction)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

type signoffRequest struct {
	UserID string `json:"user_id"`
}

// handleCompleteSignoff completes a pending severe override.
func (s *Server) handleCompleteSignoff(c *gin.Context) {
	var req signoffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(c, "invalid_request", err.Error()))
		return
	}

	result, err := s.overrides.CompleteSignoff(c.Request.Context(), c.Param("id"), req.UserID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type revokeRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

// handleRevokeOverride supersedes a recorded override.
func (s *Server) handleRevokeOverride(c *gin.Context) {
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(c, "invalid_request", err.Error()))
		return
	}

	rec, err := s.overrides.Revoke(c.Request.Context(), c.Param("id"), req.UserID, req.Reason)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type batchRequest struct {
	PatientIDs []string            `json:"patient_ids"`
	Options    domain.CheckOptions `json:"options"`
	Context    domain.CheckContext `json:"context"`
}

// handleSubmitBatch submits an asynchronous batch check.
func (s *Server) handleSubmitBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(c, "invalid_request", err.Error()))
		return
	}

	batchID, err := s.batches.Submit(c.Request.Context(), req.PatientIDs, req.Options, req.Context)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"batch_id": batchID, "status": domain.BatchPending})
}

// handleGetBatch polls batch progress.
func (s *Server) handleGetBatch(c *gin.Context) {
	result, err := s.batches.Get(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleGenerateReport builds a compliance report from audit history.
func (s *Server) handleGenerateReport(c *gin.Context) {
	var req domain.ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(c, "invalid_request", err.Error()))
		return
	}

	result, err := s.reports.Generate(c.Request.Context(), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// writeError maps domain errors to HTTP status codes.
func (s *Server) writeError(c *gin.Context, err error) {
	var validationErr *domain.ValidationError
	var overrideErr *domain.InvalidOverrideError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, errorBody(c, "validation_failed", err.Error()))
	case errors.As(err, &overrideErr):
		c.JSON(http.StatusUnprocessableEntity, errorBody(c, "invalid_override", err.Error()))
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody(c, "not_found", err.Error()))
	case errors.Is(err, domain.ErrNoCoverage):
		c.JSON(http.StatusServiceUnavailable, errorBody(c, "no_coverage", err.Error()))
	default:
		s.log.WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, errorBody(c, "internal_error", "internal error"))
	}
}

func errorBody(c *gin.Context, code, message string) gin.H {
	return gin.H{
		"error":      code,
		"message":    message,
		"request_id": c.GetString("request_id"),
	}
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, X-API-Key")
		c.Header("Access-Control-Expose-Headers", "Content-Length")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestIDMiddleware adds a unique request ID to each request
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

// rateLimitMiddleware applies a global request rate limit.
func rateLimitMiddleware(limit float64, burst int) gin.HandlerFunc {
	if limit <= 0 {
		limit = 50
	}
	if burst <= 0 {
		burst = 100
	}
	limiter := rate.NewLimiter(rate.Limit(limit), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate_limited",
			})
			return
		}
		c.Next()
	}
}
