package salvage

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weatherParams() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"location": map[string]any{"type": "string"},
		},
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	reg.Register(minTool{name: "b", desc: "second"})
	reg.Register(minTool{name: "a", desc: "first", params: weatherParams()})

	_, ok := reg.GetTool("a")
	assert.True(t, ok)
	_, ok = reg.GetTool("missing")
	assert.False(t, ok)

	all := reg.GetAllTools()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Name())
	assert.Equal(t, "b", all[1].Name())

	specs := reg.Specs()
	require.Len(t, specs, 2)
	assert.Equal(t, "first", specs[0].Description)
	assert.Equal(t, weatherParams(), specs[0].Parameters)
}

func TestRegistry_ExecuteNormalizesAliases(t *testing.T) {
	var got json.RawMessage
	reg := NewRegistry()
	reg.Register(minTool{
		name:   "weather",
		params: weatherParams(),
		execute: func(_ context.Context, args []byte) ([]byte, error) {
			got = args
			return []byte(`{"temp":22}`), nil
		},
	})
	res := reg.Execute(context.Background(), ToolCallRequest{ID: "1", ToolName: "weather", Args: []byte(`{"city":"Moscow"}`)})
	require.True(t, res.Success, res.Error)
	assert.JSONEq(t, `{"location":"Moscow"}`, string(got))
	assert.JSONEq(t, `{"location":"Moscow"}`, string(res.NormalizedArgs))
	assert.JSONEq(t, `{"temp":22}`, string(res.Result))
}

func TestRegistry_ExecuteUnknownTool(t *testing.T) {
	reg := NewRegistry()
	res := reg.Execute(context.Background(), ToolCallRequest{ID: "1", ToolName: "nope", Args: []byte(`{}`)})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "tool not found")
}

func TestRegistry_EmptyResultRetriedOnce(t *testing.T) {
	var calls atomic.Int32
	reg := NewRegistry()
	reg.Register(minTool{
		name: "flaky",
		execute: func(_ context.Context, _ []byte) ([]byte, error) {
			if calls.Add(1) == 1 {
				return []byte("  "), nil
			}
			return []byte(`{"ok":true}`), nil
		},
	})
	res := reg.Execute(context.Background(), ToolCallRequest{ID: "1", ToolName: "flaky", Args: []byte(`{}`)})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRegistry_EmptyResultTwiceFails(t *testing.T) {
	var calls atomic.Int32
	reg := NewRegistry()
	reg.Register(minTool{
		name: "empty",
		execute: func(_ context.Context, _ []byte) ([]byte, error) {
			calls.Add(1)
			return []byte("null"), nil
		},
	})
	res := reg.Execute(context.Background(), ToolCallRequest{ID: "1", ToolName: "empty", Args: []byte(`{}`)})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "empty result")
	assert.Equal(t, int32(2), calls.Load())
}

func TestRegistry_Timeout(t *testing.T) {
	reg := NewRegistry(WithDefaultTimeout(20 * time.Millisecond))
	reg.Register(minTool{
		name: "slow",
		execute: func(ctx context.Context, _ []byte) ([]byte, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
				return []byte(`{}`), nil
			}
		},
	})
	res := reg.Execute(context.Background(), ToolCallRequest{ID: "1", ToolName: "slow", Args: []byte(`{}`)})
	assert.False(t, res.Success)
	assert.Equal(t, ErrTimeout.Error(), res.Error)
}

func TestRegistry_PerToolTimeoutOverridesDefault(t *testing.T) {
	tool, err := NewTool("patient", "waits a bit",
		func(ctx context.Context, _ struct{}) (string, error) {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(30 * time.Millisecond):
				return "done", nil
			}
		},
		WithTimeout(time.Second))
	require.NoError(t, err)

	reg := NewRegistry(WithDefaultTimeout(5 * time.Millisecond))
	reg.Register(tool)
	res := reg.Execute(context.Background(), ToolCallRequest{ID: "1", ToolName: "patient", Args: []byte(`{}`)})
	assert.True(t, res.Success, res.Error)
}

func TestRegistry_PanicRecovery(t *testing.T) {
	reg := NewRegistry()
	reg.Register(minTool{
		name: "boom",
		execute: func(_ context.Context, _ []byte) ([]byte, error) {
			panic("kaboom")
		},
	})
	res := reg.Execute(context.Background(), ToolCallRequest{ID: "1", ToolName: "boom", Args: []byte(`{}`)})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "internal system error")
}

func TestRegistry_Hooks(t *testing.T) {
	var before, after atomic.Int32
	reg := NewRegistry(
		WithOnBeforeExecute(func(_ context.Context, _ ToolCallRequest) { before.Add(1) }),
		WithOnAfterExecute(func(_ context.Context, _ ToolCallRequest, res ToolCallResult, _ time.Duration) {
			if res.Success {
				after.Add(1)
			}
		}),
	)
	reg.Register(minTool{name: "m"})
	res := reg.Execute(context.Background(), ToolCallRequest{ID: "1", ToolName: "m", Args: []byte(`{}`)})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, int32(1), before.Load())
	assert.Equal(t, int32(1), after.Load())
}

func TestRegistry_ExecuteBatch(t *testing.T) {
	reg := NewRegistry()
	reg.Register(minTool{name: "ok"})
	calls := []ToolCallRequest{
		{ID: "1", ToolName: "ok", Args: []byte(`{}`)},
		{ID: "2", ToolName: "missing", Args: []byte(`{}`)},
		{ID: "3", ToolName: "ok", Args: []byte(`{}`)},
	}
	results := reg.ExecuteBatch(context.Background(), calls)
	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success) // a failed call does not abort its siblings
	assert.True(t, results[2].Success)
	assert.Equal(t, "2", results[1].ID)
}

func TestRegistry_Shutdown(t *testing.T) {
	reg := NewRegistry()
	reg.Register(minTool{name: "m"})
	require.NoError(t, reg.Shutdown(context.Background()))
	res := reg.Execute(context.Background(), ToolCallRequest{ID: "1", ToolName: "m", Args: []byte(`{}`)})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "shut down")
	// Shutdown is idempotent
	require.NoError(t, reg.Shutdown(context.Background()))
}

func TestNormalizeArgs(t *testing.T) {
	params := weatherParams()

	out, err := NormalizeArgs([]byte(`{"city":"Moscow"}`), params, defaultArgAliases)
	require.NoError(t, err)
	assert.JSONEq(t, `{"location":"Moscow"}`, string(out))

	// case-insensitive match
	out, err = NormalizeArgs([]byte(`{"Location":"Oslo"}`), params, defaultArgAliases)
	require.NoError(t, err)
	assert.JSONEq(t, `{"location":"Oslo"}`, string(out))

	// canonical name already present: the stray key stays as-is
	out, err = NormalizeArgs([]byte(`{"location":"Oslo","city":"Moscow"}`), params, defaultArgAliases)
	require.NoError(t, err)
	assert.JSONEq(t, `{"location":"Oslo","city":"Moscow"}`, string(out))

	// empty and null arguments become an empty object
	out, err = NormalizeArgs(nil, params, defaultArgAliases)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(out))
	out, err = NormalizeArgs([]byte("null"), params, defaultArgAliases)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(out))

	// schema without properties passes everything through
	out, err = NormalizeArgs([]byte(`{"q":"x"}`), map[string]any{"type": "object"}, defaultArgAliases)
	require.NoError(t, err)
	assert.JSONEq(t, `{"q":"x"}`, string(out))

	_, err = NormalizeArgs([]byte(`not json`), params, defaultArgAliases)
	require.Error(t, err)
	assert.True(t, IsClientError(err))
}

func TestNormalizeArgs_CustomAliases(t *testing.T) {
	params := map[string]any{
		"type":       "object",
		"properties": map[string]any{"ticker": map[string]any{"type": "string"}},
	}
	aliases := append(defaultArgAliases, []string{"ticker", "symbol"})
	out, err := NormalizeArgs([]byte(`{"symbol":"AAPL"}`), params, aliases)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ticker":"AAPL"}`, string(out))
}
