// Package orchestrator coordinates agents: a registry keyed by id, role and
// name, sequential workflows with human escalation, collaboration
// strategies and help-request routing.
package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"dev.helix.sentinel/internal/agent"
	"dev.helix.sentinel/internal/errs"
)

// Agent is what the orchestrator needs from a registered agent.
type Agent interface {
	Name() string
	Role() string
	Capabilities() []string
	Reason(ctx context.Context, input map[string]interface{}) (*agent.Report, error)
}

// AgentStatus tracks availability for help routing.
type AgentStatus string

const (
	StatusIdle AgentStatus = "IDLE"
	StatusBusy AgentStatus = "BUSY"
)

// helpRouteInterval is the help-request drain cadence.
const helpRouteInterval = 100 * time.Millisecond

type registration struct {
	agent  Agent
	status AgentStatus
}

// Orchestrator owns the agent registry and runs workflows and
// collaborations over it.
type Orchestrator struct {
	messenger *agent.Messenger
	logger    *zap.Logger

	mu         sync.RWMutex
	agents     map[string]*registration
	executions map[string]*Execution
}

// New creates an orchestrator. The messenger may be nil when help routing
// is not needed.
func New(messenger *agent.Messenger, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		messenger:  messenger,
		logger:     logger,
		agents:     make(map[string]*registration),
		executions: make(map[string]*Execution),
	}
}

// Register adds an agent to the registry.
func (o *Orchestrator) Register(a Agent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.agents[a.Name()] = &registration{agent: a, status: StatusIdle}
	o.logger.Info("Agent registered",
		zap.String("agent", a.Name()),
		zap.String("role", a.Role()))
}

// Get returns an agent by exact name.
func (o *Orchestrator) Get(name string) (Agent, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	reg, ok := o.agents[name]
	if !ok {
		return nil, false
	}
	return reg.agent, true
}

// ByRole returns every agent with the given role, sorted by name.
func (o *Orchestrator) ByRole(role string) []Agent {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []Agent
	for _, reg := range o.agents {
		if reg.agent.Role() == role {
			out = append(out, reg.agent)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Agents returns every registered agent, sorted by name.
func (o *Orchestrator) Agents() []Agent {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Agent, 0, len(o.agents))
	for _, reg := range o.agents {
		out = append(out, reg.agent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (o *Orchestrator) setStatus(name string, status AgentStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if reg, ok := o.agents[name]; ok {
		reg.status = status
	}
}

// reasonWith runs an agent's cycle with status bookkeeping.
func (o *Orchestrator) reasonWith(ctx context.Context, name string, input map[string]interface{}) (*agent.Report, error) {
	reg, ok := func() (*registration, bool) {
		o.mu.RLock()
		defer o.mu.RUnlock()
		r, ok := o.agents[name]
		return r, ok
	}()
	if !ok {
		return nil, errs.NotFound("agent", name)
	}

	o.setStatus(name, StatusBusy)
	defer o.setStatus(name, StatusIdle)
	return reg.agent.Reason(ctx, input)
}

// StartHelpRouter drains pending help requests every 100 ms and routes each
// to an agent advertising the requested capability, preferring idle agents.
// A request no agent can serve fails after the default help timeout.
func (o *Orchestrator) StartHelpRouter(ctx context.Context) {
	if o.messenger == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(helpRouteInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.routeHelpRequests(ctx)
			}
		}
	}()
}

func (o *Orchestrator) routeHelpRequests(ctx context.Context) {
	for _, request := range o.messenger.DrainHelpRequests() {
		target := o.selectHelper(request.Capability, request.From)
		if target == "" {
			if time.Since(request.RequestedAt) > agent.DefaultHelpTimeout {
				o.messenger.FailHelp(request.CorrelationID, "no agent advertises capability "+request.Capability)
			} else {
				o.messenger.RequeueHelp(request)
			}
			continue
		}

		_ = o.messenger.Send(&agent.Message{
			Type:          agent.MessageHelpRequest,
			From:          request.From,
			To:            target,
			Subject:       request.Capability,
			CorrelationID: request.CorrelationID,
			Capability:    request.Capability,
			Payload:       request.Payload,
		})

		go func(request *agent.HelpRequest, target string) {
			report, err := o.reasonWith(ctx, target, request.Payload)
			if err != nil {
				o.messenger.RespondHelp(request.CorrelationID, target, map[string]interface{}{"error": err.Error()}, false)
				return
			}
			o.messenger.RespondHelp(request.CorrelationID, target, map[string]interface{}{
				"recommendation": string(report.Recommendation),
				"risk_score":     report.RiskScore,
				"factors":        report.Factors,
			}, true)
		}(request, target)
	}
}

// selectHelper picks an agent advertising the capability, preferring IDLE,
// else any. The requester never serves its own request.
func (o *Orchestrator) selectHelper(capability, requester string) string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var fallback string
	names := make([]string, 0, len(o.agents))
	for name := range o.agents {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if name == requester {
			continue
		}
		reg := o.agents[name]
		if !hasCapability(reg.agent, capability) {
			continue
		}
		if reg.status == StatusIdle {
			return name
		}
		if fallback == "" {
			fallback = name
		}
	}
	return fallback
}

func hasCapability(a Agent, capability string) bool {
	for _, c := range a.Capabilities() {
		if c == capability {
			return true
		}
	}
	return false
}
