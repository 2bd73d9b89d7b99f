// Package agents holds the autonomous investigators built on the shared
// agent runtime: the cross-domain correlator and the policy-evolution
// miner.
package agents

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dev.helix.sentinel/internal/agent"
	"dev.helix.sentinel/internal/events"
	"dev.helix.sentinel/internal/features"
	"dev.helix.sentinel/internal/graph"
	"dev.helix.sentinel/internal/knowledge"
	"dev.helix.sentinel/internal/risk"
)

// CrossDomainAgentName identifies the correlator on the messenger and bus.
const CrossDomainAgentName = "cross-domain-agent"

// CrossDomainAgent correlates a seller's risk activity across marketplace
// domains: profile state, graph neighborhood and behavior sequences.
type CrossDomainAgent struct {
	*agent.BaseAgent
	Scheduler *agent.Scheduler

	riskEngine *risk.Engine
	graph      *graph.Graph
	featStore  *features.Store
	logger     *zap.Logger
}

// NewCrossDomainAgent wires the correlator and its scheduler.
func NewCrossDomainAgent(
	riskEngine *risk.Engine,
	g *graph.Graph,
	featStore *features.Store,
	kb *knowledge.Base,
	messenger *agent.Messenger,
	bus *events.Bus,
	completion agent.CompletionService,
	ml agent.MLService,
	logger *zap.Logger,
) *CrossDomainAgent {
	if logger == nil {
		logger = zap.NewNop()
	}

	base := agent.NewBaseAgent(agent.Config{
		Name:         CrossDomainAgentName,
		Role:         "investigator",
		Capabilities: []string{"cross-domain-correlation", "fraud-ring-analysis"},
		Investigator: true,
	}, messenger, completion, ml, logger)

	a := &CrossDomainAgent{
		BaseAgent:  base,
		riskEngine: riskEngine,
		graph:      g,
		featStore:  featStore,
		logger:     logger,
	}
	a.registerTools()
	base.SetHooks(agent.Hooks{Think: a.think, Observe: a.observe})

	a.Scheduler = agent.NewScheduler(base, agent.SchedulerConfig{
		ScanInterval:          30 * time.Second,
		AccelerationThreshold: 10,
		SubscribedEvents: []events.EventType{
			events.EventRiskEvent,
			events.EventRiskTierChanged,
		},
	}, bus, kb, logger)
	return a
}

// Start runs the autonomous loop.
func (a *CrossDomainAgent) Start(ctx context.Context) {
	a.Scheduler.Start(ctx)
}

func (a *CrossDomainAgent) registerTools() {
	a.Tools().Register(agent.Tool{
		Name:        "risk-profile-lookup",
		Description: "Fetch the seller's current risk profile",
		Handler: func(ctx context.Context, params map[string]interface{}) agent.ToolResult {
			sellerID, _ := params["seller_id"].(string)
			if sellerID == "" {
				return agent.ToolResult{Success: false, Error: "seller_id required"}
			}
			profile, err := a.riskEngine.GetProfile(ctx, sellerID)
			if err != nil {
				return agent.ToolResult{Success: false, Error: err.Error()}
			}
			var factors []string
			if profile.Tier == risk.TierHigh || profile.Tier == risk.TierCritical {
				factors = append(factors, "HIGH_RISK_PROFILE")
			}
			return agent.ToolResult{Success: true, Data: map[string]interface{}{
				"composite_score": profile.CompositeScore,
				"tier":            string(profile.Tier),
				"domain_scores":   profile.DomainScores,
				"risk_factors":    factors,
			}}
		},
	})

	a.Tools().Register(agent.Tool{
		Name:        "graph-neighborhood",
		Description: "Investigate the seller's graph neighborhood for risky connections",
		Handler: func(ctx context.Context, params map[string]interface{}) agent.ToolResult {
			sellerID, _ := params["seller_id"].(string)
			if sellerID == "" {
				return agent.ToolResult{Success: false, Error: "seller_id required"}
			}
			evidence, err := a.graph.Investigate(sellerID, 2, 0.7)
			if err != nil {
				return agent.ToolResult{Success: false, Error: err.Error()}
			}
			var factors []string
			flagged := 0
			for _, item := range evidence {
				if len(item.RiskSignals) > 0 {
					flagged++
				}
			}
			if flagged > 0 {
				factors = append(factors, "FRAUD_NETWORK_CONNECTION")
			}
			if len(evidence) >= 3 {
				factors = append(factors, "SHARED_IDENTITY_ATTRIBUTES")
			}
			return agent.ToolResult{Success: true, Data: map[string]interface{}{
				"connected_entities": len(evidence),
				"flagged_entities":   flagged,
				"evidence":           evidence,
				"risk_factors":       factors,
			}}
		},
	})

	a.Tools().Register(agent.Tool{
		Name:        "velocity-features",
		Description: "Read the seller's transaction velocity features",
		Handler: func(ctx context.Context, params map[string]interface{}) agent.ToolResult {
			sellerID, _ := params["seller_id"].(string)
			if sellerID == "" {
				return agent.ToolResult{Success: false, Error: "seller_id required"}
			}
			payload, ok := a.featStore.GetFeatures(ctx, sellerID, features.GroupTransactionVelocity)
			if !ok {
				return agent.ToolResult{Success: false, Error: "no fresh velocity features for seller " + sellerID}
			}
			var factors []string
			if hourly, ok := payload["transactions_1h"].(float64); ok && hourly >= 20 {
				factors = append(factors, "VELOCITY_ANOMALY")
			}
			return agent.ToolResult{Success: true, Data: map[string]interface{}{
				"features":     payload,
				"risk_factors": factors,
			}}
		},
	})

	a.Tools().Register(agent.Tool{
		Name:        "pattern-detection",
		Description: "Match behavior sequence patterns over the seller's event history",
		Handler: func(ctx context.Context, params map[string]interface{}) agent.ToolResult {
			sellerID, _ := params["seller_id"].(string)
			if sellerID == "" {
				return agent.ToolResult{Success: false, Error: "seller_id required"}
			}
			matches, err := a.riskEngine.DetectPatterns(ctx, sellerID)
			if err != nil {
				return agent.ToolResult{Success: false, Error: err.Error()}
			}
			var factors []string
			for _, match := range matches {
				if match.Complete && match.Pattern == "BUST_OUT" {
					factors = append(factors, "BUST_OUT_PATTERN")
				}
			}
			return agent.ToolResult{Success: true, Data: map[string]interface{}{
				"matches":      matches,
				"risk_factors": factors,
			}}
		},
	})
}

func (a *CrossDomainAgent) think(_ context.Context, input map[string]interface{}) (string, []string) {
	sellerID, _ := input["seller_id"].(string)
	strategy := []string{"risk-profile-lookup", "graph-neighborhood", "velocity-features", "pattern-detection"}
	if sellerID == "" {
		// Without a single seller in focus there is nothing to correlate.
		return "no single seller in scan batch; skipping correlation", nil
	}
	return fmt.Sprintf("correlating cross-domain activity for seller %s", sellerID), strategy
}

func (a *CrossDomainAgent) observe(input map[string]interface{}, evidence []agent.ActionResult) []agent.Detection {
	sellerID, _ := input["seller_id"].(string)
	var detections []agent.Detection
	for _, item := range evidence {
		if !item.Result.Success || item.Result.Data == nil {
			continue
		}
		factors, _ := item.Result.Data["risk_factors"].([]string)
		for _, factor := range factors {
			severity := "MEDIUM"
			if factor == "BUST_OUT_PATTERN" || factor == "FRAUD_NETWORK_CONNECTION" {
				severity = "CRITICAL"
			}
			detections = append(detections, agent.Detection{
				Type:     factor,
				SellerID: sellerID,
				Severity: severity,
				Score:    agent.FactorScore(factor),
				Summary:  fmt.Sprintf("%s via %s", factor, item.Action.Tool),
				Details:  item.Result.Data,
			})
		}
	}
	return detections
}
