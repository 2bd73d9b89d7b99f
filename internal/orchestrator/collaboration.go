package orchestrator

import (
	"context"
	"sync"

	"dev.helix.sentinel/internal/agent"
	"dev.helix.sentinel/internal/errs"
)

// Strategy selects how a group of agents works one input.
type Strategy string

const (
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
	StrategyConsensus  Strategy = "consensus"
)

// CollaborationResult is the combined outcome of a multi-agent run.
type CollaborationResult struct {
	Strategy Strategy                 `json:"strategy"`
	Reports  map[string]*agent.Report `json:"reports"`
	// Decision is set for consensus runs: the majority recommendation.
	Decision string            `json:"decision,omitempty"`
	Votes    map[string]int    `json:"votes,omitempty"`
	Errors   map[string]string `json:"errors,omitempty"`
}

// Collaborate runs the named agents over the input with the given strategy.
func (o *Orchestrator) Collaborate(ctx context.Context, strategy Strategy, agentNames []string, input map[string]interface{}) (*CollaborationResult, error) {
	if len(agentNames) == 0 {
		return nil, errs.InvalidArgument("collaboration requires at least one agent")
	}
	switch strategy {
	case StrategySequential:
		return o.collaborateSequential(ctx, agentNames, input)
	case StrategyParallel:
		return o.collaborateParallel(ctx, agentNames, input)
	case StrategyConsensus:
		result, err := o.collaborateParallel(ctx, agentNames, input)
		if err != nil {
			return nil, err
		}
		result.Strategy = StrategyConsensus
		result.Decision, result.Votes = majorityDecision(result.Reports)
		return result, nil
	}
	return nil, errs.InvalidArgument("unknown collaboration strategy: " + string(strategy))
}

// collaborateSequential threads each agent's recommendation into the next
// agent's input.
func (o *Orchestrator) collaborateSequential(ctx context.Context, agentNames []string, input map[string]interface{}) (*CollaborationResult, error) {
	result := &CollaborationResult{
		Strategy: StrategySequential,
		Reports:  make(map[string]*agent.Report),
		Errors:   make(map[string]string),
	}

	current := make(map[string]interface{}, len(input))
	for k, v := range input {
		current[k] = v
	}
	for _, name := range agentNames {
		report, err := o.reasonWith(ctx, name, current)
		if err != nil {
			result.Errors[name] = err.Error()
			continue
		}
		result.Reports[name] = report
		current["previous_agent"] = name
		current["previous_recommendation"] = string(report.Recommendation)
		current["previous_risk_score"] = report.RiskScore
	}
	return result, nil
}

// collaborateParallel fans the input out to every agent and collects.
func (o *Orchestrator) collaborateParallel(ctx context.Context, agentNames []string, input map[string]interface{}) (*CollaborationResult, error) {
	result := &CollaborationResult{
		Strategy: StrategyParallel,
		Reports:  make(map[string]*agent.Report),
		Errors:   make(map[string]string),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, name := range agentNames {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			report, err := o.reasonWith(ctx, name, input)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[name] = err.Error()
				return
			}
			result.Reports[name] = report
		}(name)
	}
	wg.Wait()
	return result, nil
}

// majorityDecision tallies recommendations by string equality and returns
// the winner. Ties resolve to the lexicographically smaller decision so the
// outcome is deterministic.
func majorityDecision(reports map[string]*agent.Report) (string, map[string]int) {
	votes := make(map[string]int)
	for _, report := range reports {
		votes[string(report.Recommendation)]++
	}
	decision := ""
	best := 0
	for candidate, count := range votes {
		if count > best || (count == best && (decision == "" || candidate < decision)) {
			decision = candidate
			best = count
		}
	}
	return decision, votes
}
