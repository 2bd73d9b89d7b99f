package agent

import (
	"context"
	"fmt"
)

// CompletionService produces free-form strategy text. The production
// implementation fronts an LLM; the stub keeps agents running when no model
// is configured.
type CompletionService interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// MLService scores feature vectors and retrieves similar past cases.
type MLService interface {
	Score(ctx context.Context, features map[string]interface{}) (float64, error)
	SimilarCases(ctx context.Context, signature string, limit int) ([]map[string]interface{}, error)
}

// StubCompletion is the degraded completion service: it echoes a canned
// note so reasoning proceeds on heuristics alone.
type StubCompletion struct{}

func (StubCompletion) Complete(_ context.Context, prompt string) (string, error) {
	return fmt.Sprintf("heuristic fallback (no completion model configured): %.80s", prompt), nil
}

// StubML is the degraded ML service: neutral scores, no recall.
type StubML struct{}

func (StubML) Score(_ context.Context, _ map[string]interface{}) (float64, error) {
	return 0.5, nil
}

func (StubML) SimilarCases(_ context.Context, _ string, _ int) ([]map[string]interface{}, error) {
	return nil, nil
}
