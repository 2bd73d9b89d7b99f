package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dev.helix.sentinel/internal/agent"
	"dev.helix.sentinel/internal/errs"
)

// Step is one stage of a workflow.
type Step struct {
	Name  string
	Agent string
	// InputMapper shapes the step input from the workflow input and
	// previous results; nil passes the workflow input through.
	InputMapper func(input map[string]interface{}, previous []StepResult) map[string]interface{}
	// OutputMapper post-processes the report; nil keeps the default shape.
	// An output carrying needs_human_review=true suspends the execution.
	OutputMapper    func(report *agent.Report) map[string]interface{}
	ContinueOnError bool
}

// Workflow is an ordered list of steps.
type Workflow struct {
	Name  string
	Steps []Step
}

// ExecutionStatus tracks a workflow run.
type ExecutionStatus string

const (
	ExecutionRunning       ExecutionStatus = "RUNNING"
	ExecutionAwaitingHuman ExecutionStatus = "AWAITING_HUMAN"
	ExecutionCompleted     ExecutionStatus = "COMPLETED"
	ExecutionFailed        ExecutionStatus = "FAILED"
)

// StepResult is the recorded outcome of one step.
type StepResult struct {
	Step   string                 `json:"step"`
	Agent  string                 `json:"agent"`
	Output map[string]interface{} `json:"output,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// Execution is one run of a workflow. The mutex guards every mutable field;
// readers go through snapshot so handlers never serialize a running
// execution directly.
type Execution struct {
	ID            string                 `json:"id"`
	Workflow      string                 `json:"workflow"`
	Status        ExecutionStatus        `json:"status"`
	Input         map[string]interface{} `json:"input,omitempty"`
	Results       []StepResult           `json:"results"`
	HumanDecision string                 `json:"human_decision,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	CompletedAt   time.Time              `json:"completed_at,omitempty"`

	workflow Workflow
	nextStep int
	mu       sync.Mutex
}

// snapshot returns a deep copy of the execution's visible state.
func (e *Execution) snapshot() *Execution {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := &Execution{
		ID:            e.ID,
		Workflow:      e.Workflow,
		Status:        e.Status,
		Results:       append([]StepResult(nil), e.Results...),
		HumanDecision: e.HumanDecision,
		CreatedAt:     e.CreatedAt,
		CompletedAt:   e.CompletedAt,
	}
	if e.Input != nil {
		out.Input = make(map[string]interface{}, len(e.Input))
		for k, v := range e.Input {
			out.Input[k] = v
		}
	}
	return out
}

// ExecuteWorkflow runs steps sequentially, threading the workflow input and
// accumulated results into each. A step signalling needs_human_review
// suspends the execution until ResolveEscalation.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, workflow Workflow, input map[string]interface{}) (*Execution, error) {
	if len(workflow.Steps) == 0 {
		return nil, errs.InvalidArgument("workflow has no steps")
	}

	execution := &Execution{
		ID:        uuid.NewString(),
		Workflow:  workflow.Name,
		Status:    ExecutionRunning,
		Input:     input,
		CreatedAt: time.Now().UTC(),
		workflow:  workflow,
	}
	o.mu.Lock()
	o.executions[execution.ID] = execution
	o.mu.Unlock()

	o.runSteps(ctx, execution)
	return execution.snapshot(), nil
}

// GetExecution returns a deep copy of a workflow execution by id.
func (o *Orchestrator) GetExecution(id string) (*Execution, error) {
	execution, err := o.execution(id)
	if err != nil {
		return nil, err
	}
	return execution.snapshot(), nil
}

func (o *Orchestrator) execution(id string) (*Execution, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	execution, ok := o.executions[id]
	if !ok {
		return nil, errs.NotFound("workflow execution", id)
	}
	return execution, nil
}

// ResolveEscalation resumes a suspended execution with the human decision
// injected into the remaining steps' input. The status check and the flip
// back to RUNNING are atomic, so only one resolver resumes the steps.
func (o *Orchestrator) ResolveEscalation(ctx context.Context, executionID, decision string) (*Execution, error) {
	execution, err := o.execution(executionID)
	if err != nil {
		return nil, err
	}

	execution.mu.Lock()
	if execution.Status != ExecutionAwaitingHuman {
		status := execution.Status
		execution.mu.Unlock()
		return nil, errs.Conflict(fmt.Sprintf("execution %s is %s, not awaiting human review", executionID, status))
	}
	execution.HumanDecision = decision
	execution.Status = ExecutionRunning
	execution.mu.Unlock()

	o.runSteps(ctx, execution)
	return execution.snapshot(), nil
}

// runSteps advances the execution. At most one runSteps is active per
// execution: the initial run owns it, and resumes are gated by the
// check-and-set in ResolveEscalation. The lock is released around agent
// calls so snapshot readers never wait on reasoning.
func (o *Orchestrator) runSteps(ctx context.Context, execution *Execution) {
	for {
		execution.mu.Lock()
		if execution.nextStep >= len(execution.workflow.Steps) {
			execution.Status = ExecutionCompleted
			execution.CompletedAt = time.Now().UTC()
			execution.mu.Unlock()
			return
		}
		step := execution.workflow.Steps[execution.nextStep]
		execution.nextStep++

		stepInput := execution.Input
		if step.InputMapper != nil {
			stepInput = step.InputMapper(execution.Input, execution.Results)
		}
		if stepInput == nil {
			stepInput = map[string]interface{}{}
		}
		if execution.HumanDecision != "" {
			stepInput["human_decision"] = execution.HumanDecision
		}
		execution.mu.Unlock()

		report, err := o.reasonWith(ctx, step.Agent, stepInput)
		if err != nil {
			execution.mu.Lock()
			execution.Results = append(execution.Results, StepResult{
				Step:  step.Name,
				Agent: step.Agent,
				Error: err.Error(),
			})
			if step.ContinueOnError {
				execution.mu.Unlock()
				continue
			}
			execution.Status = ExecutionFailed
			execution.CompletedAt = time.Now().UTC()
			execution.mu.Unlock()
			o.logger.Warn("Workflow failed",
				zap.String("execution", execution.ID),
				zap.String("step", step.Name),
				zap.Error(err))
			return
		}

		output := defaultStepOutput(report)
		if step.OutputMapper != nil {
			output = step.OutputMapper(report)
		}
		needsReview, _ := output["needs_human_review"].(bool)

		execution.mu.Lock()
		execution.Results = append(execution.Results, StepResult{
			Step:   step.Name,
			Agent:  step.Agent,
			Output: output,
		})
		if needsReview {
			execution.Status = ExecutionAwaitingHuman
		}
		execution.mu.Unlock()

		if needsReview {
			o.logger.Info("Workflow awaiting human review",
				zap.String("execution", execution.ID),
				zap.String("step", step.Name))
			return
		}
	}
}

func defaultStepOutput(report *agent.Report) map[string]interface{} {
	return map[string]interface{}{
		"recommendation":     string(report.Recommendation),
		"risk_score":         report.RiskScore,
		"confidence":         report.Confidence,
		"factors":            report.Factors,
		"detections":         len(report.Detections),
		"needs_human_review": report.Recommendation == agent.RecommendReview,
	}
}
