package salvage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestToolCallRequest_Result(t *testing.T) {
	call := ToolCallRequest{ID: "call_1", ToolName: "weather", Args: []byte(`{"location":"Moscow"}`)}
	assert.Equal(t, "call_1", call.ID)
	assert.Equal(t, "weather", call.ToolName)
	assert.JSONEq(t, `{"location":"Moscow"}`, string(call.Args))

	res := ToolCallResult{ID: call.ID, ToolName: call.ToolName, Result: []byte(`{"temp":22.5}`), Success: true}
	assert.Equal(t, "call_1", res.ID)
	assert.True(t, res.Success)
	assert.Empty(t, res.Error)
}

func TestUsage_Add(t *testing.T) {
	u := Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	u.Add(Usage{PromptTokens: 20, CompletionTokens: 7, TotalTokens: 27})
	assert.Equal(t, Usage{PromptTokens: 30, CompletionTokens: 12, TotalTokens: 42}, u)
}

// Ensure Tool interface is satisfied by a minimal impl (used in tests later).
type minTool struct {
	name, desc string
	params     map[string]any
	execute    func(context.Context, []byte) ([]byte, error)
}

func (m minTool) Name() string               { return m.name }
func (m minTool) Description() string        { return m.desc }
func (m minTool) Parameters() map[string]any { return m.params }
func (m minTool) Execute(ctx context.Context, args []byte) ([]byte, error) {
	if m.execute != nil {
		return m.execute(ctx, args)
	}
	return []byte(`{}`), nil
}

var _ Tool = minTool{}

// scriptedCaller pops one response (or error) per call and records requests.
type scriptedCaller struct {
	responses []*ModelResponse
	errs      []error
	calls     []*ModelRequest
}

func (s *scriptedCaller) Call(ctx context.Context, req *ModelRequest) (*ModelResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	i := len(s.calls)
	s.calls = append(s.calls, req)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return &ModelResponse{}, nil
}

var _ ModelCaller = (*scriptedCaller)(nil)
