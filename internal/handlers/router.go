// Package handlers exposes the platform over HTTP: risk profile
// operations, streaming introspection, feature reads, agent scans, health
// and metrics.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dev.helix.sentinel/internal/errs"
	"dev.helix.sentinel/internal/notifications"
	"dev.helix.sentinel/internal/observability"
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeError translates the error taxonomy onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	var coded *errs.Error
	if errors.As(err, &coded) {
		c.JSON(errs.HTTPStatus(coded.Code), ErrorResponse{Error: coded.Message, Code: string(coded.Code)})
		return
	}
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
}

// Server groups the handler set and builds the router.
type Server struct {
	risk      *RiskHandler
	streaming *StreamingHandler
	agents    *AgentHandler
	hub       *notifications.Hub
	metrics   *observability.Collector
	logger    *zap.Logger
	startedAt time.Time
}

// NewServer wires the HTTP surface.
func NewServer(
	risk *RiskHandler,
	streaming *StreamingHandler,
	agents *AgentHandler,
	hub *notifications.Hub,
	metrics *observability.Collector,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		risk:      risk,
		streaming: streaming,
		agents:    agents,
		hub:       hub,
		metrics:   metrics,
		logger:    logger,
		startedAt: time.Now().UTC(),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestMetrics())

	r.GET("/healthz", s.healthz)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	if s.hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			s.hub.ServeWS(c.Writer, c.Request)
		})
	}

	risk := r.Group("/risk-profile")
	{
		risk.POST("/event", s.risk.EmitEvent)
		risk.GET("/:sellerId", s.risk.GetProfile)
		risk.GET("/:sellerId/history", s.risk.GetHistory)
		risk.GET("/:sellerId/patterns", s.risk.GetPatterns)
		risk.PATCH("/:sellerId/override", s.risk.Override)
	}

	streaming := r.Group("/streaming")
	{
		streaming.GET("/topics", s.streaming.ListTopics)
		streaming.POST("/topics/:topic/produce", s.streaming.Produce)
		streaming.GET("/consumer-groups", s.streaming.ListGroups)
		streaming.GET("/consumer-groups/:groupId/lag", s.streaming.GroupLag)
		streaming.GET("/feature-store/:entity", s.streaming.FeatureSnapshot)
		streaming.GET("/feature-store/:entity/:group", s.streaming.Features)
		streaming.GET("/stats", s.streaming.Stats)
	}

	agents := r.Group("/agents")
	{
		agents.GET("", s.agents.List)
		agents.POST("/cross-domain/scan", s.agents.ScanCrossDomain)
		agents.POST("/policy-evolution/scan", s.agents.ScanPolicyEvolution)
		agents.GET("/:agent/detections", s.agents.Detections)
		agents.POST("/workflows/:workflow/execute", s.agents.ExecuteWorkflow)
		agents.GET("/executions/:executionId", s.agents.GetExecution)
		agents.POST("/executions/:executionId/resolve", s.agents.ResolveEscalation)
	}

	return r
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.metrics == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		s.metrics.RequestCount.WithLabelValues(c.Request.Method, endpoint, status).Inc()
		s.metrics.RequestDuration.WithLabelValues(c.Request.Method, endpoint, status).
			Observe(time.Since(start).Seconds())
	}
}
