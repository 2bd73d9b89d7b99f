package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainRecordsSteps(t *testing.T) {
	chain := NewChainOfThought("tester", "S-1")
	chain.AddObservation("saw input", nil)
	chain.AddAnalysis("looks odd", 0.7)
	chain.AddConclusion("verdict", 0.9, nil)

	require.Len(t, chain.Steps, 3)
	assert.Equal(t, StepObservation, chain.Steps[0].Type)
	assert.NotEmpty(t, chain.Steps[0].ID)
	assert.False(t, chain.Steps[0].Timestamp.IsZero())

	conclusion, ok := chain.Conclusion()
	require.True(t, ok)
	assert.Equal(t, "verdict", conclusion.Content)
}

func TestChainClampsConfidence(t *testing.T) {
	chain := NewChainOfThought("tester", "S-1")
	step := chain.AddHypothesis("overconfident", 1.7)
	assert.Equal(t, 1.0, step.Confidence)
	step = chain.AddAnalysis("negative", -0.4)
	assert.Equal(t, 0.0, step.Confidence)
}

func TestValidateHypothesisShiftsByNetBalance(t *testing.T) {
	chain := NewChainOfThought("tester", "S-1")
	hypothesis := chain.AddHypothesis("seller is busting out", 0.5)
	chain.AddEvidence("payout rush observed", 0.6, hypothesis.ID, "")
	chain.AddEvidence("tenure is long", 0.2, "", hypothesis.ID)

	// shift = 0.3 * (0.6 - 0.2) / 0.8 = 0.15
	updated := chain.ValidateHypothesis(hypothesis.ID)
	assert.InDelta(t, 0.65, updated, 1e-9)

	last := chain.Steps[len(chain.Steps)-1]
	assert.Equal(t, StepValidation, last.Type)
	assert.Equal(t, hypothesis.ID, last.Supports)
	assert.InDelta(t, 0.15, last.Data["shift"].(float64), 1e-9)
}

func TestValidateHypothesisCapsShift(t *testing.T) {
	chain := NewChainOfThought("tester", "S-1")
	hypothesis := chain.AddHypothesis("all support", 0.5)
	chain.AddEvidence("a", 0.9, hypothesis.ID, "")
	chain.AddEvidence("b", 0.9, hypothesis.ID, "")

	// Unanimous support still moves at most 0.3.
	assert.InDelta(t, 0.8, chain.ValidateHypothesis(hypothesis.ID), 1e-9)
}

func TestValidateHypothesisNoEvidence(t *testing.T) {
	chain := NewChainOfThought("tester", "S-1")
	hypothesis := chain.AddHypothesis("unexamined", 0.4)
	assert.InDelta(t, 0.4, chain.ValidateHypothesis(hypothesis.ID), 1e-9)
}

func TestValidateHypothesisUnknownID(t *testing.T) {
	chain := NewChainOfThought("tester", "S-1")
	chain.AddEvidence("orphan", 0.5, "nope", "")
	assert.Zero(t, chain.ValidateHypothesis("nope"))
}
