package agents

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dev.helix.sentinel/internal/agent"
	"dev.helix.sentinel/internal/events"
	"dev.helix.sentinel/internal/knowledge"
)

// PolicyEvolutionAgentName identifies the rule miner on the messenger and
// bus.
const PolicyEvolutionAgentName = "policy-evolution-agent"

// minOutcomeSample is how many decisions an outcome bucket needs before a
// rule proposal is made from it.
const minOutcomeSample = 5

// PolicyEvolutionAgent mines past decisions and their outcomes from the
// knowledge base and proposes adjustments to decisioning rules: thresholds
// that over-block, factors that under-trigger.
type PolicyEvolutionAgent struct {
	*agent.BaseAgent
	Scheduler *agent.Scheduler

	kb     *knowledge.Base
	logger *zap.Logger
}

// NewPolicyEvolutionAgent wires the rule miner and its scheduler.
func NewPolicyEvolutionAgent(
	kb *knowledge.Base,
	messenger *agent.Messenger,
	bus *events.Bus,
	completion agent.CompletionService,
	ml agent.MLService,
	logger *zap.Logger,
) *PolicyEvolutionAgent {
	if logger == nil {
		logger = zap.NewNop()
	}

	base := agent.NewBaseAgent(agent.Config{
		Name:         PolicyEvolutionAgentName,
		Role:         "analyst",
		Capabilities: []string{"policy-mining", "rule-proposal"},
	}, messenger, completion, ml, logger)

	a := &PolicyEvolutionAgent{
		BaseAgent: base,
		kb:        kb,
		logger:    logger,
	}
	a.registerTools()
	base.SetHooks(agent.Hooks{Think: a.think, Observe: a.observe})

	a.Scheduler = agent.NewScheduler(base, agent.SchedulerConfig{
		ScanInterval:          5 * time.Minute,
		AccelerationThreshold: 50,
		SubscribedEvents: []events.EventType{
			events.EventTransactionDecided,
			events.EventAgentAction,
		},
	}, bus, kb, logger)
	return a
}

// Start runs the autonomous loop.
func (a *PolicyEvolutionAgent) Start(ctx context.Context) {
	a.Scheduler.Start(ctx)
}

func (a *PolicyEvolutionAgent) registerTools() {
	a.Tools().Register(agent.Tool{
		Name:        "decision-outcome-mining",
		Description: "Aggregate decision outcomes recorded in the knowledge base",
		Handler: func(_ context.Context, _ map[string]interface{}) agent.ToolResult {
			results := a.kb.Search("", knowledge.SearchOptions{
				Namespace: knowledge.NamespaceDecisions,
				Limit:     200,
			})
			byOutcome := map[string]int{}
			byCategory := map[string]int{}
			for _, r := range results {
				if r.Entry.Outcome != "" {
					byOutcome[r.Entry.Outcome]++
				}
				if r.Entry.Category != "" {
					byCategory[r.Entry.Category]++
				}
			}
			return agent.ToolResult{Success: true, Data: map[string]interface{}{
				"decisions":   len(results),
				"by_outcome":  byOutcome,
				"by_category": byCategory,
			}}
		},
	})

	a.Tools().Register(agent.Tool{
		Name:        "rule-knowledge-search",
		Description: "Retrieve the active rule notes from the knowledge base",
		Handler: func(_ context.Context, params map[string]interface{}) agent.ToolResult {
			query, _ := params["query"].(string)
			results := a.kb.Search(query, knowledge.SearchOptions{
				Namespace: knowledge.NamespaceRules,
				Limit:     20,
			})
			rules := make([]string, 0, len(results))
			for _, r := range results {
				rules = append(rules, r.Entry.Text)
			}
			return agent.ToolResult{Success: true, Data: map[string]interface{}{
				"rules": rules,
			}}
		},
	})
}

func (a *PolicyEvolutionAgent) think(_ context.Context, _ map[string]interface{}) (string, []string) {
	return "mining recorded decisions for rule drift",
		[]string{"decision-outcome-mining", "rule-knowledge-search"}
}

// observe turns outcome skew into rule proposals. A dominant BLOCK share
// suggests thresholds are too tight; a dominant APPROVE share with recorded
// detections suggests factors are under-weighted.
func (a *PolicyEvolutionAgent) observe(_ map[string]interface{}, evidence []agent.ActionResult) []agent.Detection {
	var detections []agent.Detection
	for _, item := range evidence {
		if item.Action.Tool != "decision-outcome-mining" || !item.Result.Success {
			continue
		}
		byOutcome, _ := item.Result.Data["by_outcome"].(map[string]int)
		total := 0
		for _, n := range byOutcome {
			total += n
		}
		if total < minOutcomeSample {
			continue
		}
		if blocked := byOutcome["BLOCK"]; float64(blocked)/float64(total) > 0.5 {
			detections = append(detections, agent.Detection{
				Type:     "RULE_PROPOSAL",
				Severity: "LOW",
				Score:    0,
				Summary: fmt.Sprintf(
					"BLOCK issued in %d of %d recent decisions; propose raising the review threshold before block",
					blocked, total),
				Details: map[string]interface{}{"by_outcome": byOutcome, "proposal": "raise_block_threshold"},
			})
		}
		if approved := byOutcome["APPROVE"]; float64(approved)/float64(total) > 0.9 {
			detections = append(detections, agent.Detection{
				Type:     "RULE_PROPOSAL",
				Severity: "LOW",
				Score:    0,
				Summary: fmt.Sprintf(
					"APPROVE issued in %d of %d recent decisions; propose reviewing factor weights for missed signals",
					approved, total),
				Details: map[string]interface{}{"by_outcome": byOutcome, "proposal": "review_factor_weights"},
			})
		}
	}
	return detections
}
