package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dev.helix.sentinel/internal/agent"
	"dev.helix.sentinel/internal/agents"
	"dev.helix.sentinel/internal/errs"
	"dev.helix.sentinel/internal/orchestrator"
)

// AgentHandler exposes on-demand scans, detections and workflows.
type AgentHandler struct {
	crossDomain     *agents.CrossDomainAgent
	policyEvolution *agents.PolicyEvolutionAgent
	orch            *orchestrator.Orchestrator
	workflows       map[string]orchestrator.Workflow
	logger          *zap.Logger
}

// NewAgentHandler creates the handler. Workflows are registered by name.
func NewAgentHandler(
	crossDomain *agents.CrossDomainAgent,
	policyEvolution *agents.PolicyEvolutionAgent,
	orch *orchestrator.Orchestrator,
	workflows map[string]orchestrator.Workflow,
	logger *zap.Logger,
) *AgentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workflows == nil {
		workflows = map[string]orchestrator.Workflow{}
	}
	return &AgentHandler{
		crossDomain:     crossDomain,
		policyEvolution: policyEvolution,
		orch:            orch,
		workflows:       workflows,
		logger:          logger,
	}
}

// AgentSummary is one registry row.
type AgentSummary struct {
	Name         string   `json:"name"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities"`
}

// List returns every registered agent.
func (h *AgentHandler) List(c *gin.Context) {
	registered := h.orch.Agents()
	out := make([]AgentSummary, 0, len(registered))
	for _, a := range registered {
		out = append(out, AgentSummary{
			Name:         a.Name(),
			Role:         a.Role(),
			Capabilities: a.Capabilities(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"agents": out})
}

// ScanRequest triggers an on-demand reasoning cycle.
type ScanRequest struct {
	SellerID string                 `json:"seller_id"`
	Input    map[string]interface{} `json:"input"`
}

func (r *ScanRequest) toInput() map[string]interface{} {
	input := map[string]interface{}{}
	for k, v := range r.Input {
		input[k] = v
	}
	if r.SellerID != "" {
		input["seller_id"] = r.SellerID
	}
	return input
}

// ScanCrossDomain runs the cross-domain correlator once, synchronously.
func (h *AgentHandler) ScanCrossDomain(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	report, err := h.crossDomain.Reason(c.Request.Context(), req.toInput())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ScanPolicyEvolution runs the policy miner once, synchronously.
func (h *AgentHandler) ScanPolicyEvolution(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	report, err := h.policyEvolution.Reason(c.Request.Context(), req.toInput())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Detections returns the retained detection ring for an agent.
func (h *AgentHandler) Detections(c *gin.Context) {
	name := c.Param("agent")
	var detections []agent.Detection
	switch name {
	case agents.CrossDomainAgentName:
		detections = h.crossDomain.Scheduler.Detections()
	case agents.PolicyEvolutionAgentName:
		detections = h.policyEvolution.Scheduler.Detections()
	default:
		writeError(c, errs.NotFound("agent", name))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"agent":      name,
		"detections": detections,
	})
}

// ExecuteWorkflowRequest carries the workflow input.
type ExecuteWorkflowRequest struct {
	Input map[string]interface{} `json:"input"`
}

// ExecuteWorkflow runs a registered workflow by name.
func (h *AgentHandler) ExecuteWorkflow(c *gin.Context) {
	workflow, ok := h.workflows[c.Param("workflow")]
	if !ok {
		writeError(c, errs.NotFound("workflow", c.Param("workflow")))
		return
	}

	var req ExecuteWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	execution, err := h.orch.ExecuteWorkflow(c.Request.Context(), workflow, req.Input)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, execution)
}

// GetExecution returns a workflow execution by id.
func (h *AgentHandler) GetExecution(c *gin.Context) {
	execution, err := h.orch.GetExecution(c.Param("executionId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, execution)
}

// ResolveEscalationRequest carries the human decision.
type ResolveEscalationRequest struct {
	Decision string `json:"decision" binding:"required"`
}

// ResolveEscalation resumes a suspended execution.
func (h *AgentHandler) ResolveEscalation(c *gin.Context) {
	var req ResolveEscalationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	execution, err := h.orch.ResolveEscalation(c.Request.Context(), c.Param("executionId"), req.Decision)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, execution)
}
