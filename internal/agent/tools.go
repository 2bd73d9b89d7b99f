// Package agent provides the shared runtime every investigation agent is
// built on: a tool registry, working and episodic memory, a chain-of-thought
// builder, confidence calibration, inter-agent messaging and the
// think-plan-act-observe-reflect reasoning cycle.
package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ToolResult is the uniform outcome of a tool call. Handlers never surface
// panics or errors to the reasoning loop; failures become
// {Success: false, Error: ...}.
type ToolResult struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// ToolHandler executes one tool call.
type ToolHandler func(ctx context.Context, params map[string]interface{}) ToolResult

// Tool is a named capability an agent can invoke during its act phase.
type Tool struct {
	Name        string
	Description string
	Handler     ToolHandler
}

// ToolRegistry maps tool names to handlers.
type ToolRegistry struct {
	tools map[string]Tool
	mu    sync.RWMutex
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns registered tool names, sorted.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs a tool, converting unknown tools, nil handlers and panics
// into failed results.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params map[string]interface{}) (result ToolResult) {
	tool, ok := r.Get(name)
	if !ok || tool.Handler == nil {
		return ToolResult{Success: false, Error: fmt.Sprintf("unknown tool: %s", name)}
	}

	defer func() {
		if r := recover(); r != nil {
			result = ToolResult{Success: false, Error: fmt.Sprintf("tool %s panicked: %v", name, r)}
		}
	}()
	return tool.Handler(ctx, params)
}
