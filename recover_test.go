package salvage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustPersonSchema(t *testing.T) *Schema {
	t.Helper()
	schema, err := NewSchema(personSchemaDoc())
	require.NoError(t, err)
	return schema
}

func TestRecoverValue_Natural(t *testing.T) {
	out := RecoverValue(`{"name":"Alice","age":30}`, mustPersonSchema(t))
	require.True(t, out.Success)
	assert.Equal(t, MethodNatural, out.Method)
	assert.Empty(t, out.Errors)
	assert.Equal(t, map[string]any{"name": "Alice", "age": float64(30)}, out.Value)
}

func TestRecoverValue_TextRepair(t *testing.T) {
	out := RecoverValue(`{name: 'Alice', age: 30,}`, mustPersonSchema(t))
	require.True(t, out.Success)
	assert.Equal(t, MethodTextRepair, out.Method)
	assert.Equal(t, map[string]any{"name": "Alice", "age": float64(30)}, out.Value)
}

func TestRecoverValue_RetryTagging(t *testing.T) {
	out := RecoverValue(`{"name":"Alice","age":30}`, mustPersonSchema(t), WithAttempt(2))
	require.True(t, out.Success)
	assert.Equal(t, MethodRetry, out.Method)

	// repair outranks the retry tag
	out = RecoverValue(`{name: 'Alice', age: 30}`, mustPersonSchema(t), WithAttempt(2))
	require.True(t, out.Success)
	assert.Equal(t, MethodTextRepair, out.Method)
}

func TestRecoverValue_TypeFix(t *testing.T) {
	out := RecoverValue(`{"name":"Alice","age":"30"}`, mustPersonSchema(t))
	require.True(t, out.Success)
	assert.Equal(t, MethodTypeFix, out.Method)
	assert.Equal(t, float64(30), out.Value.(map[string]any)["age"])
	assert.NotEmpty(t, out.Errors)
}

func TestRecoverValue_ContainerCoercion(t *testing.T) {
	schema, err := NewSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"elements": map[string]any{"type": "array", "items": map[string]any{"type": "object"}},
		},
		"required": []any{"elements"},
	})
	require.NoError(t, err)

	out := RecoverValue(`[{"id":1},{"id":2}]`, schema)
	require.True(t, out.Success)
	assert.Equal(t, MethodTypeFix, out.Method)
	elements := out.Value.(map[string]any)["elements"].([]any)
	require.Len(t, elements, 2)
	assert.Equal(t, float64(1), elements[0].(map[string]any)["id"])
}

func TestRecoverValue_FallbackMergesPartial(t *testing.T) {
	out := RecoverValue(`{"age": 30}`, mustPersonSchema(t))
	require.True(t, out.Success)
	assert.Equal(t, MethodFallback, out.Method)
	assert.Equal(t, map[string]any{"name": "", "age": float64(30)}, out.Value)
}

func TestRecoverValue_FallbackOnParseFailure(t *testing.T) {
	out := RecoverValue(`complete garbage`, mustPersonSchema(t))
	require.True(t, out.Success)
	assert.Equal(t, MethodFallback, out.Method)
	assert.Equal(t, map[string]any{"name": "", "age": float64(0)}, out.Value)
	assert.NotEmpty(t, out.Errors)
}

func TestRecoverValue_FallbacksDisabled(t *testing.T) {
	out := RecoverValue(`complete garbage`, mustPersonSchema(t), WithFallbacks(false))
	assert.False(t, out.Success)
	assert.Equal(t, "parse", out.FailedStage)
	assert.NotEmpty(t, out.Errors)

	out = RecoverValue(`{"age":"unknowable"}`, mustPersonSchema(t), WithFallbacks(false))
	assert.False(t, out.Success)
	assert.Equal(t, "validation", out.FailedStage)
}

func TestRecoverValue_TextRepairDisabled(t *testing.T) {
	out := RecoverValue(`{name: 'x'}`, mustPersonSchema(t), WithTextRepair(false), WithFallbacks(false))
	assert.False(t, out.Success)
	assert.Equal(t, "parse", out.FailedStage)
}

func TestRecoverValue_DoubleEncoded(t *testing.T) {
	out := RecoverValue(`"{\"name\":\"Alice\",\"age\":30}"`, mustPersonSchema(t))
	require.True(t, out.Success)
	assert.Equal(t, MethodTextRepair, out.Method)
	assert.Equal(t, "Alice", out.Value.(map[string]any)["name"])
}

func TestRecoverValue_EmptyText(t *testing.T) {
	out := RecoverValue("   ", mustPersonSchema(t))
	require.True(t, out.Success)
	assert.Equal(t, MethodFallback, out.Method)
}

type recoverPerson struct {
	Name string  `json:"name"`
	Age  float64 `json:"age"`
}

func TestRecoverInto(t *testing.T) {
	p, out, err := RecoverInto[recoverPerson](`{name: 'Alice', age: 30,}`)
	require.NoError(t, err)
	assert.Equal(t, MethodTextRepair, out.Method)
	assert.Equal(t, recoverPerson{Name: "Alice", Age: 30}, p)
}

func TestRecoverInto_Exhausted(t *testing.T) {
	_, out, err := RecoverInto[recoverPerson](`garbage`, WithFallbacks(false))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, ErrUnparsable)
	assert.False(t, out.Success)
	var re *RecoveryError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "parse", re.Stage)

	// a parsed-but-invalid value is exhausted, not unparsable
	_, _, err = RecoverInto[recoverPerson](`{"age": "unknowable"}`, WithFallbacks(false))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.NotErrorIs(t, err, ErrUnparsable)
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "validation", re.Stage)
}

func TestReliableRecover_FirstTry(t *testing.T) {
	model := &scriptedCaller{responses: []*ModelResponse{{Text: `{"name":"A","age":1}`}}}
	schema := mustPersonSchema(t)
	out, err := ReliableRecover(context.Background(), model, "who?", schema)
	require.NoError(t, err)
	assert.Equal(t, MethodNatural, out.Method)
	require.Len(t, model.calls, 1)
	assert.Same(t, schema, model.calls[0].ResponseSchema)
}

func TestReliableRecover_RetrySucceeds(t *testing.T) {
	model := &scriptedCaller{responses: []*ModelResponse{
		{Text: `I cannot answer that`},
		{Text: `{"name":"A","age":1}`},
	}}
	out, err := ReliableRecover(context.Background(), model, "who?", mustPersonSchema(t))
	require.NoError(t, err)
	assert.Equal(t, MethodRetry, out.Method)
	assert.NotEmpty(t, out.Errors)
	require.Len(t, model.calls, 2)
	assert.Contains(t, model.calls[1].Prompt, "previous reply")
}

func TestReliableRecover_FallbackOnFinalAttempt(t *testing.T) {
	model := &scriptedCaller{responses: []*ModelResponse{
		{Text: `nope`},
		{Text: `still nope`},
	}}
	out, err := ReliableRecover(context.Background(), model, "who?", mustPersonSchema(t), WithMaxRetries(2))
	require.NoError(t, err)
	require.True(t, out.Success)
	assert.Equal(t, MethodFallback, out.Method)
	assert.Len(t, model.calls, 2)
}

func TestReliableRecover_ExhaustedWithoutFallbacks(t *testing.T) {
	model := &scriptedCaller{responses: []*ModelResponse{{Text: `nope`}, {Text: `nope`}}}
	_, err := ReliableRecover(context.Background(), model, "who?", mustPersonSchema(t),
		WithMaxRetries(2), WithFallbacks(false))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestReliableRecover_TransportErrorThenSuccess(t *testing.T) {
	model := &scriptedCaller{
		errs:      []error{errors.New("rate limited"), nil},
		responses: []*ModelResponse{{}, {Text: `{"name":"A","age":1}`}},
	}
	out, err := ReliableRecover(context.Background(), model, "who?", mustPersonSchema(t))
	require.NoError(t, err)
	require.True(t, out.Success)
	assert.Contains(t, out.Errors[0], "rate limited")
}

func TestReliableRecover_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	model := &scriptedCaller{}
	_, err := ReliableRecover(ctx, model, "who?", mustPersonSchema(t))
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, model.calls)
}
