package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dev.helix.sentinel/internal/risk"
)

// RiskHandler exposes the risk profile engine.
type RiskHandler struct {
	engine *risk.Engine
	logger *zap.Logger
}

// NewRiskHandler creates the handler.
func NewRiskHandler(engine *risk.Engine, logger *zap.Logger) *RiskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RiskHandler{engine: engine, logger: logger}
}

// EmitEventRequest is the body of POST /risk-profile/event.
type EmitEventRequest struct {
	SellerID  string                 `json:"seller_id" binding:"required"`
	Domain    string                 `json:"domain" binding:"required"`
	EventType string                 `json:"event_type" binding:"required"`
	RiskScore float64                `json:"risk_score"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// EmitEventResponse returns the persisted event and the recomputed profile.
type EmitEventResponse struct {
	Event   *risk.Event   `json:"event"`
	Profile *risk.Profile `json:"profile"`
}

// EmitEvent records a risk event and returns the updated profile.
func (h *RiskHandler) EmitEvent(c *gin.Context) {
	var req EmitEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	event, profile, err := h.engine.Emit(c.Request.Context(),
		req.SellerID, risk.Domain(req.Domain), req.EventType, req.RiskScore, req.Metadata)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, EmitEventResponse{Event: event, Profile: profile})
}

// GetProfile returns a seller's current risk profile.
func (h *RiskHandler) GetProfile(c *gin.Context) {
	profile, err := h.engine.GetProfile(c.Request.Context(), c.Param("sellerId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// HistoryResponse wraps the point-in-time trajectory.
type HistoryResponse struct {
	SellerID string              `json:"seller_id"`
	Points   []risk.HistoryPoint `json:"points"`
}

// GetHistory returns the seller's causally faithful score trajectory.
func (h *RiskHandler) GetHistory(c *gin.Context) {
	sellerID := c.Param("sellerId")
	points, err := h.engine.GetHistory(c.Request.Context(), sellerID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, HistoryResponse{SellerID: sellerID, Points: points})
}

// GetPatterns matches the builtin behavior sequences against the seller.
func (h *RiskHandler) GetPatterns(c *gin.Context) {
	matches, err := h.engine.DetectPatterns(c.Request.Context(), c.Param("sellerId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"seller_id": c.Param("sellerId"),
		"matches":   matches,
	})
}

// OverrideRequest is the body of PATCH /risk-profile/:sellerId/override.
// A null tier clears the override.
type OverrideRequest struct {
	Tier   *string `json:"tier"`
	Reason string  `json:"reason"`
	SetBy  string  `json:"set_by"`
}

// Override pins or clears a manual tier override.
func (h *RiskHandler) Override(c *gin.Context) {
	var req OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	sellerID := c.Param("sellerId")
	var profile *risk.Profile
	var err error
	if req.Tier == nil {
		profile, err = h.engine.ClearOverride(c.Request.Context(), sellerID)
	} else {
		profile, err = h.engine.SetOverride(c.Request.Context(), sellerID, risk.Tier(*req.Tier), req.Reason, req.SetBy)
	}
	if err != nil {
		writeError(c, err)
		return
	}

	h.logger.Info("Manual override applied",
		zap.String("seller_id", sellerID),
		zap.Time("at", time.Now().UTC()))
	c.JSON(http.StatusOK, profile)
}
