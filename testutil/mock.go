// Package testutil provides test helpers for salvage (e.g. MockTool, ScriptedModel).
package testutil

import (
	"context"
	"sync"

	"github.com/skosovsky/salvage"
)

// MockTool is a configurable Tool implementation for tests.
type MockTool struct {
	NameVal   string
	DescVal   string
	ParamsVal map[string]any
	ExecuteFn func(ctx context.Context, args []byte) ([]byte, error)
}

// Name returns the tool name.
func (m *MockTool) Name() string {
	if m.NameVal != "" {
		return m.NameVal
	}
	return "mock"
}

// Description returns the tool description.
func (m *MockTool) Description() string {
	return m.DescVal
}

// Parameters returns the parameters schema (or empty map).
func (m *MockTool) Parameters() map[string]any {
	if m.ParamsVal != nil {
		return m.ParamsVal
	}
	return map[string]any{}
}

// Execute runs ExecuteFn if set, otherwise returns nil.
func (m *MockTool) Execute(ctx context.Context, args []byte) ([]byte, error) {
	if m.ExecuteFn != nil {
		return m.ExecuteFn(ctx, args)
	}
	return nil, nil
}

// Ensure MockTool implements Tool.
var _ salvage.Tool = (*MockTool)(nil)

// ScriptedModel is a ModelCaller that pops one scripted response (or error)
// per Call and records every request it sees, in order.
type ScriptedModel struct {
	mu        sync.Mutex
	Responses []*salvage.ModelResponse
	Errs      []error
	Calls     []*salvage.ModelRequest
}

// Call records req and returns the next scripted response. When a non-nil
// error is scripted at the same position, it wins. When the script is
// exhausted, an empty response is returned.
func (s *ScriptedModel) Call(ctx context.Context, req *salvage.ModelRequest) (*salvage.ModelResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.Calls)
	s.Calls = append(s.Calls, req)
	if i < len(s.Errs) && s.Errs[i] != nil {
		return nil, s.Errs[i]
	}
	if i < len(s.Responses) {
		return s.Responses[i], nil
	}
	return &salvage.ModelResponse{}, nil
}

// CallCount returns how many times Call has been invoked.
func (s *ScriptedModel) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

var _ salvage.ModelCaller = (*ScriptedModel)(nil)
