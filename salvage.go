package salvage

import (
	"context"
	"encoding/json"
	"time"
)

// Tool is the contract for an LLM-callable instrument.
// It is provider-agnostic (no knowledge of OpenAI, Anthropic, etc.).
type Tool interface {
	Name() string
	Description() string
	// Parameters returns a valid JSON Schema as map (compatible with LLM tool definitions).
	Parameters() map[string]any
	// Execute runs the tool with a JSON argument payload and returns the raw result.
	Execute(ctx context.Context, argsJSON []byte) ([]byte, error)
}

// ToolMetadata is implemented by tools created with NewTool and provides optional per-tool settings.
// Registry uses Timeout() to override default execution timeout when set. Other methods expose
// tags, version, and dangerous flag for orchestration or discovery.
type ToolMetadata interface {
	Timeout() time.Duration
	Tags() []string
	Version() string
	IsDangerous() bool
}

// ToolSpec is the declaration of a tool as shown to the model.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCallRequest is a single execution request (as produced by the model).
type ToolCallRequest struct {
	ID       string          `json:"id"`
	ToolName string          `json:"tool_name"`
	Args     json.RawMessage `json:"args"`
}

// ToolCallResult is the outcome of one tool call after argument normalization,
// execution, and result validation.
type ToolCallResult struct {
	ID             string          `json:"id"`
	ToolName       string          `json:"tool_name"`
	NormalizedArgs json.RawMessage `json:"normalized_args,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Success        bool            `json:"success"`
	Error          string          `json:"error,omitempty"`
}

// Usage is token accounting reported by the model runtime. ReliableCall merges
// the usage of a forced synthesis call into the primary call's usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage record into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// ModelRequest is the input to the model-call boundary. Transport, message
// translation, and provider configuration live behind the ModelCaller.
type ModelRequest struct {
	Prompt         string
	Tools          []ToolSpec
	ResponseSchema *Schema
}

// ModelResponse is the output of one model call. ToolResults is populated when
// the runtime already executed the requested tools in conversation history;
// otherwise the reliability loop executes ToolCalls against a Registry.
type ModelResponse struct {
	Text        string
	ToolCalls   []ToolCallRequest
	ToolResults []ToolCallResult
	Usage       Usage
}

// ModelCaller is the asynchronous model-call primitive. Implementations may
// return transport-level errors; context cancellation must be propagated.
type ModelCaller interface {
	Call(ctx context.Context, req *ModelRequest) (*ModelResponse, error)
}
