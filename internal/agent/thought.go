package agent

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// StepType labels one step of a reasoning chain.
type StepType string

const (
	StepObservation StepType = "OBSERVATION"
	StepHypothesis  StepType = "HYPOTHESIS"
	StepEvidence    StepType = "EVIDENCE"
	StepAnalysis    StepType = "ANALYSIS"
	StepInference   StepType = "INFERENCE"
	StepConclusion  StepType = "CONCLUSION"
	StepReflection  StepType = "REFLECTION"
	StepValidation  StepType = "VALIDATION"
)

// maxValidationShift bounds how far one validation pass can move a
// hypothesis confidence.
const maxValidationShift = 0.3

// ThoughtStep is a single entry in a chain of thought.
type ThoughtStep struct {
	ID         string    `json:"id"`
	Type       StepType  `json:"type"`
	Content    string    `json:"content"`
	Confidence float64   `json:"confidence"`
	// Supports and Contradicts reference hypothesis step ids.
	Supports    string                 `json:"supports,omitempty"`
	Contradicts string                 `json:"contradicts,omitempty"`
	Weight      float64                `json:"weight,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// ChainOfThought is an append-only reasoning trace owned by exactly one
// reasoning cycle; it is not safe for concurrent use and never needs to be.
type ChainOfThought struct {
	ID        string        `json:"id"`
	AgentName string        `json:"agent_name"`
	Subject   string        `json:"subject"`
	Steps     []ThoughtStep `json:"steps"`
	StartedAt time.Time     `json:"started_at"`
}

// NewChainOfThought starts a trace for one reasoning cycle.
func NewChainOfThought(agentName, subject string) *ChainOfThought {
	return &ChainOfThought{
		ID:        uuid.NewString(),
		AgentName: agentName,
		Subject:   subject,
		StartedAt: time.Now().UTC(),
	}
}

func (c *ChainOfThought) add(step ThoughtStep) *ThoughtStep {
	step.ID = uuid.NewString()
	step.Timestamp = time.Now().UTC()
	c.Steps = append(c.Steps, step)
	return &c.Steps[len(c.Steps)-1]
}

// AddObservation records raw input the agent noticed.
func (c *ChainOfThought) AddObservation(content string, data map[string]interface{}) *ThoughtStep {
	return c.add(ThoughtStep{Type: StepObservation, Content: content, Confidence: 1, Data: data})
}

// AddHypothesis records a candidate explanation with an initial confidence.
func (c *ChainOfThought) AddHypothesis(content string, confidence float64) *ThoughtStep {
	return c.add(ThoughtStep{Type: StepHypothesis, Content: content, Confidence: clamp01(confidence)})
}

// AddEvidence records a weighted finding for or against a hypothesis.
func (c *ChainOfThought) AddEvidence(content string, weight float64, supportsID, contradictsID string) *ThoughtStep {
	return c.add(ThoughtStep{
		Type:        StepEvidence,
		Content:     content,
		Confidence:  1,
		Weight:      clamp01(weight),
		Supports:    supportsID,
		Contradicts: contradictsID,
	})
}

// AddAnalysis records an interpretation of collected evidence.
func (c *ChainOfThought) AddAnalysis(content string, confidence float64) *ThoughtStep {
	return c.add(ThoughtStep{Type: StepAnalysis, Content: content, Confidence: clamp01(confidence)})
}

// AddInference records a derived intermediate claim.
func (c *ChainOfThought) AddInference(content string, confidence float64) *ThoughtStep {
	return c.add(ThoughtStep{Type: StepInference, Content: content, Confidence: clamp01(confidence)})
}

// AddConclusion records the final judgment of the cycle.
func (c *ChainOfThought) AddConclusion(content string, confidence float64, data map[string]interface{}) *ThoughtStep {
	return c.add(ThoughtStep{Type: StepConclusion, Content: content, Confidence: clamp01(confidence), Data: data})
}

// AddReflection records a post-hoc note about the cycle itself.
func (c *ChainOfThought) AddReflection(content string) *ThoughtStep {
	return c.add(ThoughtStep{Type: StepReflection, Content: content, Confidence: 1})
}

// ValidateHypothesis aggregates the weights of evidence supporting and
// contradicting a hypothesis and shifts its confidence by the net balance,
// capped at ±0.3. Returns the updated confidence.
func (c *ChainOfThought) ValidateHypothesis(hypothesisID string) float64 {
	var hypothesis *ThoughtStep
	for i := range c.Steps {
		if c.Steps[i].ID == hypothesisID && c.Steps[i].Type == StepHypothesis {
			hypothesis = &c.Steps[i]
			break
		}
	}
	if hypothesis == nil {
		return 0
	}

	var supporting, contradicting float64
	for _, step := range c.Steps {
		if step.Type != StepEvidence {
			continue
		}
		if step.Supports == hypothesisID {
			supporting += step.Weight
		}
		if step.Contradicts == hypothesisID {
			contradicting += step.Weight
		}
	}

	total := supporting + contradicting
	shift := 0.0
	if total > 0 {
		shift = maxValidationShift * (supporting - contradicting) / total
	}
	updated := clamp01(hypothesis.Confidence + shift)
	hypothesis.Confidence = updated

	c.add(ThoughtStep{
		Type:       StepValidation,
		Content:    "validated hypothesis " + hypothesisID,
		Confidence: updated,
		Supports:   hypothesisID,
		Data: map[string]interface{}{
			"supporting_weight":    supporting,
			"contradicting_weight": contradicting,
			"shift":                shift,
		},
	})
	return updated
}

// Conclusion returns the last conclusion step, if any.
func (c *ChainOfThought) Conclusion() (*ThoughtStep, bool) {
	for i := len(c.Steps) - 1; i >= 0; i-- {
		if c.Steps[i].Type == StepConclusion {
			return &c.Steps[i], true
		}
	}
	return nil, false
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
