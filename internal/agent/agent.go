package agent

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// riskFactorScores is the fixed contribution of each recognised factor to
// the composite score.
var riskFactorScores = map[string]float64{
	"BLOCKLIST_MATCH":            45,
	"BUST_OUT_PATTERN":           45,
	"FRAUD_NETWORK_CONNECTION":   40,
	"IMPOSSIBLE_TRAVEL":          35,
	"HIGH_RISK_PROFILE":          30,
	"SHARED_IDENTITY_ATTRIBUTES": 30,
	"DEVICE_SPOOFING":            30,
	"VELOCITY_ANOMALY":           25,
	"CHARGEBACK_SPIKE":           25,
	"NEW_ACCOUNT_HIGH_VALUE":     20,
	"RAPID_PROFILE_CHANGES":      20,
	"GEO_MISMATCH":               15,
}

// criticalFactors force a BLOCK regardless of the composite score.
var criticalFactors = map[string]bool{
	"BLOCKLIST_MATCH":          true,
	"FRAUD_NETWORK_CONNECTION": true,
	"BUST_OUT_PATTERN":         true,
}

// Recommendation is the action an agent proposes after a cycle.
type Recommendation string

const (
	RecommendBlock   Recommendation = "BLOCK"
	RecommendReview  Recommendation = "REVIEW"
	RecommendMonitor Recommendation = "MONITOR"
	RecommendApprove Recommendation = "APPROVE"
)

// RecommendationFor applies the fixed thresholds: >85 or any critical
// factor blocks, >60 reviews, >30 monitors, everything else is approved.
func RecommendationFor(score float64, factors []string) Recommendation {
	for _, f := range factors {
		if criticalFactors[f] {
			return RecommendBlock
		}
	}
	switch {
	case score > 85:
		return RecommendBlock
	case score > 60:
		return RecommendReview
	case score > 30:
		return RecommendMonitor
	default:
		return RecommendApprove
	}
}

// FactorScore returns the table value for a factor, zero when unknown.
func FactorScore(factor string) float64 {
	return riskFactorScores[factor]
}

// Action is one planned tool call.
type Action struct {
	Tool   string                 `json:"tool"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// ActionResult pairs a planned action with its outcome.
type ActionResult struct {
	Action Action     `json:"action"`
	Result ToolResult `json:"result"`
}

// Detection is one finding an agent surfaces out of a cycle.
type Detection struct {
	ID         string                 `json:"id"`
	Agent      string                 `json:"agent"`
	Type       string                 `json:"type"`
	SellerID   string                 `json:"seller_id,omitempty"`
	Severity   string                 `json:"severity"`
	Score      float64                `json:"score"`
	Summary    string                 `json:"summary"`
	Details    map[string]interface{} `json:"details,omitempty"`
	DetectedAt time.Time              `json:"detected_at"`
}

// Report is the structured outcome of one reasoning cycle.
type Report struct {
	Agent          string          `json:"agent"`
	Subject        string          `json:"subject"`
	Understanding  string          `json:"understanding"`
	RiskScore      float64         `json:"risk_score"`
	Factors        []string        `json:"factors,omitempty"`
	Recommendation Recommendation  `json:"recommendation"`
	Confidence     float64         `json:"confidence"`
	Detections     []Detection     `json:"detections,omitempty"`
	Evidence       []ActionResult  `json:"evidence,omitempty"`
	Chain          *ChainOfThought `json:"chain,omitempty"`
	GeneratedAt    time.Time       `json:"generated_at"`
}

// Config describes one agent instance.
type Config struct {
	Name         string
	Role         string
	Capabilities []string
	// Investigator agents always query the ML service and look up similar
	// cases during planning.
	Investigator   bool
	MemoryCapacity int
}

// Hooks are the domain-specific halves of the reasoning cycle. Each is
// optional; the base behavior covers the rest.
type Hooks struct {
	// Think returns a free-text understanding of the input and the tool
	// names to run, in order.
	Think func(ctx context.Context, input map[string]interface{}) (string, []string)
	// Observe turns collected evidence into detections.
	Observe func(input map[string]interface{}, evidence []ActionResult) []Detection
}

// BaseAgent owns the shared machinery of every specialised agent.
type BaseAgent struct {
	config      Config
	tools       *ToolRegistry
	memory      *Memory
	calibrator  *ConfidenceCalibrator
	corrections *SelfCorrectionLog
	messenger   *Messenger
	completion  CompletionService
	ml          MLService
	hooks       Hooks
	logger      *zap.Logger
}

// NewBaseAgent wires an agent from its dependencies. Nil completion and ML
// services degrade to stubs; a nil messenger disables collaboration.
func NewBaseAgent(config Config, messenger *Messenger, completion CompletionService, ml MLService, logger *zap.Logger) *BaseAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if completion == nil {
		completion = StubCompletion{}
	}
	if ml == nil {
		ml = StubML{}
	}
	calibrator := NewConfidenceCalibrator()
	a := &BaseAgent{
		config:      config,
		tools:       NewToolRegistry(),
		memory:      NewMemory(config.MemoryCapacity),
		calibrator:  calibrator,
		corrections: NewSelfCorrectionLog(calibrator),
		messenger:   messenger,
		completion:  completion,
		ml:          ml,
		logger:      logger.With(zap.String("agent", config.Name)),
	}
	if messenger != nil {
		messenger.Register(config.Name)
	}
	a.registerBuiltinTools()
	return a
}

// Name returns the agent's unique name.
func (a *BaseAgent) Name() string { return a.config.Name }

// Role returns the agent's role label.
func (a *BaseAgent) Role() string { return a.config.Role }

// Capabilities returns the capabilities this agent advertises for help
// routing.
func (a *BaseAgent) Capabilities() []string { return a.config.Capabilities }

// Tools exposes the registry so constructors can add domain tools.
func (a *BaseAgent) Tools() *ToolRegistry { return a.tools }

// Memory exposes the agent's memory.
func (a *BaseAgent) Memory() *Memory { return a.memory }

// Messenger returns the collaboration bus, nil when standalone.
func (a *BaseAgent) Messenger() *Messenger { return a.messenger }

// SetHooks installs the domain-specific think/observe behavior.
func (a *BaseAgent) SetHooks(hooks Hooks) { a.hooks = hooks }

// registerBuiltinTools adds the ML and recall tools every agent carries.
func (a *BaseAgent) registerBuiltinTools() {
	a.tools.Register(Tool{
		Name:        "ml-risk-query",
		Description: "Score the current feature set with the ML service",
		Handler: func(ctx context.Context, params map[string]interface{}) ToolResult {
			score, err := a.ml.Score(ctx, params)
			if err != nil {
				return ToolResult{Success: false, Error: err.Error()}
			}
			return ToolResult{Success: true, Data: map[string]interface{}{"ml_score": score}}
		},
	})
	a.tools.Register(Tool{
		Name:        "similar-case-lookup",
		Description: "Recall similar past cases from episodic memory and the ML service",
		Handler: func(ctx context.Context, params map[string]interface{}) ToolResult {
			signature := Signature(params)
			episodes := a.memory.RecallSimilar(signature)
			cases, err := a.ml.SimilarCases(ctx, signature, 5)
			if err != nil {
				return ToolResult{Success: false, Error: err.Error()}
			}
			return ToolResult{Success: true, Data: map[string]interface{}{
				"signature":     signature,
				"episodes":      len(episodes),
				"similar_cases": cases,
			}}
		},
	})
}

// Reason runs one full think-plan-act-observe-reflect cycle over the input.
func (a *BaseAgent) Reason(ctx context.Context, input map[string]interface{}) (*Report, error) {
	subject, _ := input["seller_id"].(string)
	if subject == "" {
		subject = "scan"
	}
	chain := NewChainOfThought(a.config.Name, subject)
	chain.AddObservation(fmt.Sprintf("reasoning over input with %d keys", len(input)), input)
	a.memory.Observe(subject, input)

	// Think.
	understanding, strategy := a.think(ctx, input, chain)

	// Plan.
	actions := a.plan(strategy, input, chain)

	// Act.
	evidence := a.act(ctx, actions, chain)

	// Observe.
	report := a.observe(input, evidence, chain)
	report.Understanding = understanding
	report.Subject = subject

	// Reflect.
	a.reflect(report, input, chain)
	return report, nil
}

func (a *BaseAgent) think(ctx context.Context, input map[string]interface{}, chain *ChainOfThought) (string, []string) {
	var understanding string
	var strategy []string
	if a.hooks.Think != nil {
		understanding, strategy = a.hooks.Think(ctx, input)
	}
	if understanding == "" {
		note, err := a.completion.Complete(ctx, fmt.Sprintf("assess seller activity: %v", input))
		if err != nil {
			a.logger.Warn("Completion service unavailable", zap.Error(err))
			note = "completion unavailable; heuristic assessment"
		}
		understanding = note
	}
	chain.AddAnalysis(understanding, 0.8)
	return understanding, strategy
}

func (a *BaseAgent) plan(strategy []string, input map[string]interface{}, chain *ChainOfThought) []Action {
	actions := make([]Action, 0, len(strategy)+2)
	for _, tool := range strategy {
		actions = append(actions, Action{Tool: tool, Params: input})
	}
	if a.config.Investigator {
		actions = append(actions,
			Action{Tool: "ml-risk-query", Params: input},
			Action{Tool: "similar-case-lookup", Params: input},
		)
	}
	chain.AddInference(fmt.Sprintf("planned %d actions", len(actions)), 0.9)
	return actions
}

func (a *BaseAgent) act(ctx context.Context, actions []Action, chain *ChainOfThought) []ActionResult {
	evidence := make([]ActionResult, 0, len(actions))
	for _, action := range actions {
		result := a.tools.Execute(ctx, action.Tool, action.Params)
		evidence = append(evidence, ActionResult{Action: action, Result: result})
		weight := 0.5
		if !result.Success {
			weight = 0.1
		}
		chain.AddEvidence(fmt.Sprintf("tool %s success=%v", action.Tool, result.Success), weight, "", "")
	}
	return evidence
}

func (a *BaseAgent) observe(input map[string]interface{}, evidence []ActionResult, chain *ChainOfThought) *Report {
	factors := collectFactors(evidence)
	score := 0.0
	for _, factor := range factors {
		score += riskFactorScores[factor]
	}
	score = math.Min(100, score)

	recommendation := RecommendationFor(score, factors)
	confidence := a.calibrator.Calibrate(baseConfidence(evidence))

	var detections []Detection
	if a.hooks.Observe != nil {
		detections = a.hooks.Observe(input, evidence)
		for i := range detections {
			if detections[i].ID == "" {
				detections[i].ID = uuid.NewString()
			}
			if detections[i].Agent == "" {
				detections[i].Agent = a.config.Name
			}
			if detections[i].DetectedAt.IsZero() {
				detections[i].DetectedAt = time.Now().UTC()
			}
		}
	}

	chain.AddConclusion(
		fmt.Sprintf("score %.1f, recommendation %s", score, recommendation),
		confidence,
		map[string]interface{}{"factors": factors},
	)

	return &Report{
		Agent:          a.config.Name,
		RiskScore:      score,
		Factors:        factors,
		Recommendation: recommendation,
		Confidence:     confidence,
		Detections:     detections,
		Evidence:       evidence,
		Chain:          chain,
		GeneratedAt:    time.Now().UTC(),
	}
}

func (a *BaseAgent) reflect(report *Report, input map[string]interface{}, chain *ChainOfThought) {
	chain.AddReflection(fmt.Sprintf("cycle complete with %d detections", len(report.Detections)))

	a.memory.Remember(Episode{
		Signature:  Signature(input),
		Outcome:    string(report.Recommendation),
		Confidence: report.Confidence,
		Details:    map[string]interface{}{"risk_score": report.RiskScore},
	})
	a.corrections.LogPrediction(Prediction{
		ID:         chain.ID,
		Subject:    report.Subject,
		Predicted:  string(report.Recommendation),
		Confidence: report.Confidence,
	})
}

// ReviewOutcome feeds a later ground-truth decision back into calibration.
func (a *BaseAgent) ReviewOutcome(cycleID, actual string) {
	a.corrections.ReviewOutcome(cycleID, actual)
}

// collectFactors gathers the risk_factors string lists from successful tool
// results, deduplicated and sorted.
func collectFactors(evidence []ActionResult) []string {
	seen := map[string]bool{}
	for _, item := range evidence {
		if !item.Result.Success || item.Result.Data == nil {
			continue
		}
		switch factors := item.Result.Data["risk_factors"].(type) {
		case []string:
			for _, f := range factors {
				seen[f] = true
			}
		case []interface{}:
			for _, v := range factors {
				if f, ok := v.(string); ok {
					seen[f] = true
				}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// baseConfidence starts from the fraction of successful tool calls.
func baseConfidence(evidence []ActionResult) float64 {
	if len(evidence) == 0 {
		return 0.5
	}
	succeeded := 0
	for _, item := range evidence {
		if item.Result.Success {
			succeeded++
		}
	}
	return 0.4 + 0.6*float64(succeeded)/float64(len(evidence))
}
