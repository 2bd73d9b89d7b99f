package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecommendationThresholds(t *testing.T) {
	assert.Equal(t, RecommendApprove, RecommendationFor(0, nil))
	assert.Equal(t, RecommendApprove, RecommendationFor(30, nil))
	assert.Equal(t, RecommendMonitor, RecommendationFor(30.1, nil))
	assert.Equal(t, RecommendMonitor, RecommendationFor(60, nil))
	assert.Equal(t, RecommendReview, RecommendationFor(60.1, nil))
	assert.Equal(t, RecommendReview, RecommendationFor(85, nil))
	assert.Equal(t, RecommendBlock, RecommendationFor(85.1, nil))
}

func TestCriticalFactorForcesBlock(t *testing.T) {
	assert.Equal(t, RecommendBlock, RecommendationFor(10, []string{"GEO_MISMATCH", "BLOCKLIST_MATCH"}))
	assert.Equal(t, RecommendApprove, RecommendationFor(10, []string{"GEO_MISMATCH"}))
}

func TestFactorScore(t *testing.T) {
	assert.Equal(t, 45.0, FactorScore("BUST_OUT_PATTERN"))
	assert.Zero(t, FactorScore("MADE_UP"))
}

func TestReasonCycleProducesReport(t *testing.T) {
	agent := NewBaseAgent(Config{Name: "tester", Role: "test"}, nil, nil, nil, nil)
	agent.Tools().Register(Tool{
		Name: "flag-check",
		Handler: func(_ context.Context, _ map[string]interface{}) ToolResult {
			return ToolResult{Success: true, Data: map[string]interface{}{
				"risk_factors": []string{"VELOCITY_ANOMALY", "CHARGEBACK_SPIKE"},
			}}
		},
	})
	agent.SetHooks(Hooks{
		Think: func(_ context.Context, _ map[string]interface{}) (string, []string) {
			return "velocity looks abnormal", []string{"flag-check"}
		},
		Observe: func(_ map[string]interface{}, evidence []ActionResult) []Detection {
			if len(evidence) == 0 {
				return nil
			}
			return []Detection{{Type: "VELOCITY_SPIKE", SellerID: "S-1", Severity: "MEDIUM", Score: 50}}
		},
	})

	report, err := agent.Reason(context.Background(), map[string]interface{}{"seller_id": "S-1"})
	require.NoError(t, err)

	assert.Equal(t, "tester", report.Agent)
	assert.Equal(t, "S-1", report.Subject)
	assert.Equal(t, "velocity looks abnormal", report.Understanding)
	assert.Equal(t, []string{"CHARGEBACK_SPIKE", "VELOCITY_ANOMALY"}, report.Factors)
	assert.InDelta(t, 50, report.RiskScore, 1e-9)
	assert.Equal(t, RecommendMonitor, report.Recommendation)
	assert.InDelta(t, 1.0, report.Confidence, 1e-9)

	require.Len(t, report.Detections, 1)
	detection := report.Detections[0]
	assert.NotEmpty(t, detection.ID)
	assert.Equal(t, "tester", detection.Agent)
	assert.False(t, detection.DetectedAt.IsZero())

	require.NotNil(t, report.Chain)
	conclusion, ok := report.Chain.Conclusion()
	require.True(t, ok)
	assert.Contains(t, conclusion.Content, "MONITOR")

	// The cycle lands in episodic memory for later recall.
	episodes := agent.Memory().RecallSimilar(Signature(map[string]interface{}{"seller_id": "S-1"}))
	require.Len(t, episodes, 1)
	assert.Equal(t, "MONITOR", episodes[0].Outcome)
}

func TestReasonWithoutHooksUsesDefaults(t *testing.T) {
	agent := NewBaseAgent(Config{Name: "plain"}, nil, nil, nil, nil)

	report, err := agent.Reason(context.Background(), map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, "scan", report.Subject)
	assert.Contains(t, report.Understanding, "heuristic fallback")
	assert.Equal(t, RecommendApprove, report.Recommendation)
	assert.Empty(t, report.Evidence)
	// No evidence means the neutral base confidence.
	assert.InDelta(t, 0.5, report.Confidence, 1e-9)
}

func TestInvestigatorAlwaysQueriesML(t *testing.T) {
	agent := NewBaseAgent(Config{Name: "sleuth", Investigator: true}, nil, nil, nil, nil)

	report, err := agent.Reason(context.Background(), map[string]interface{}{"seller_id": "S-1"})
	require.NoError(t, err)
	require.Len(t, report.Evidence, 2)

	tools := []string{report.Evidence[0].Action.Tool, report.Evidence[1].Action.Tool}
	assert.Equal(t, []string{"ml-risk-query", "similar-case-lookup"}, tools)
	assert.True(t, report.Evidence[0].Result.Success)
	assert.Equal(t, 0.5, report.Evidence[0].Result.Data["ml_score"])
}

func TestCollectFactors(t *testing.T) {
	evidence := []ActionResult{
		{Result: ToolResult{Success: true, Data: map[string]interface{}{
			"risk_factors": []string{"B", "A"},
		}}},
		{Result: ToolResult{Success: true, Data: map[string]interface{}{
			"risk_factors": []interface{}{"A", "C", 7},
		}}},
		{Result: ToolResult{Success: false, Data: map[string]interface{}{
			"risk_factors": []string{"IGNORED"},
		}}},
	}
	assert.Equal(t, []string{"A", "B", "C"}, collectFactors(evidence))
}

func TestBaseConfidence(t *testing.T) {
	assert.Equal(t, 0.5, baseConfidence(nil))
	mixed := []ActionResult{
		{Result: ToolResult{Success: true}},
		{Result: ToolResult{Success: false}},
	}
	assert.InDelta(t, 0.7, baseConfidence(mixed), 1e-9)
}
