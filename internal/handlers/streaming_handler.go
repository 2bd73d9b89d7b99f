package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dev.helix.sentinel/internal/errs"
	"dev.helix.sentinel/internal/features"
	"dev.helix.sentinel/internal/streaming"
)

// StreamingHandler exposes engine and feature-store introspection.
type StreamingHandler struct {
	engine *streaming.Engine
	feats  *features.Store
	logger *zap.Logger
}

// NewStreamingHandler creates the handler.
func NewStreamingHandler(engine *streaming.Engine, feats *features.Store, logger *zap.Logger) *StreamingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamingHandler{engine: engine, feats: feats, logger: logger}
}

// ListTopics returns every topic with partition counts and sizes.
func (h *StreamingHandler) ListTopics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"topics": h.engine.Topics()})
}

// ProduceRequest is the body of POST /streaming/topics/:topic/produce.
type ProduceRequest struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value" binding:"required"`
}

// Produce appends a message to a topic.
func (h *StreamingHandler) Produce(c *gin.Context) {
	var req ProduceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	result, err := h.engine.Produce(c.Param("topic"), req.Key, req.Value)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// ListGroups returns every consumer group with members and offsets.
func (h *StreamingHandler) ListGroups(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"consumer_groups": h.engine.Groups()})
}

// GroupLag returns per-partition lag for one group.
func (h *StreamingHandler) GroupLag(c *gin.Context) {
	lag, err := h.engine.Lag(c.Param("groupId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"group_id": c.Param("groupId"),
		"lag":      lag,
	})
}

// FeatureSnapshot returns every fresh feature group for an entity.
func (h *StreamingHandler) FeatureSnapshot(c *gin.Context) {
	entityID := c.Param("entity")
	snapshot := h.feats.Snapshot(entityID)
	if len(snapshot) == 0 {
		writeError(c, errs.NotFound("features for entity", entityID))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entity_id": entityID,
		"groups":    snapshot,
	})
}

// Features returns one feature group for an entity.
func (h *StreamingHandler) Features(c *gin.Context) {
	entityID := c.Param("entity")
	group := features.Group(c.Param("group"))
	if _, ok := features.TTLFor(group); !ok {
		writeError(c, errs.InvalidArgument("unknown feature group: "+string(group)))
		return
	}

	payload, ok := h.feats.GetFeatures(c.Request.Context(), entityID, group)
	if !ok {
		writeError(c, errs.NotFound("fresh features", entityID+":"+string(group)))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entity_id": entityID,
		"group":     group,
		"features":  payload,
	})
}

// Stats returns engine and feature-store counters.
func (h *StreamingHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"streaming":     h.engine.Stats(),
		"feature_store": h.feats.Stats(),
	})
}
