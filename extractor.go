package salvage

import (
	"encoding/json"
	"maps"
	"reflect"
)

// Extractor provides JSON Schema generation and two-layer validation (schema + Validatable)
// for type T without binding to the Tool interface. ParseAndValidate is the strict path for
// tool arguments; Recover is the lenient path for model output, running the full repair,
// coercion, and fallback ladder before unmarshaling into T.
type Extractor[T any] struct {
	schema *Schema
}

// NewExtractor creates an Extractor for type T. When strict is true, the generated schema
// has additionalProperties: false for all objects and all properties required (OpenAI Structured Outputs).
func NewExtractor[T any](strict bool) (*Extractor[T], error) {
	schema, err := generateSchema[T](strict)
	if err != nil {
		return nil, err
	}
	return &Extractor[T]{schema: schema}, nil
}

// Schema returns a shallow copy of the JSON Schema (top-level keys only).
// Nested maps are shared; callers must not mutate them.
func (e *Extractor[T]) Schema() map[string]any {
	return maps.Clone(e.schema.doc)
}

// ParseAndValidate deserializes argsJSON into T, runs Layer 1 (schema validation) and
// Layer 2 (Validatable.Validate() if T implements it). Returns ClientError for invalid
// JSON or validation failures so the caller can pass the message to the LLM for self-correction.
// No repair is attempted; use Recover for lenient parsing.
func (e *Extractor[T]) ParseAndValidate(argsJSON []byte) (T, error) {
	var zero T
	var v any
	if err := json.Unmarshal(argsJSON, &v); err != nil {
		return zero, wrapJSONParseError(err)
	}
	if err := e.schema.Validate(v); err != nil {
		return zero, err
	}
	var args T
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return zero, wrapJSONParseError(err)
	}
	if err := runLayer2Validation(args); err != nil {
		if IsClientError(err) {
			return zero, err
		}
		return zero, &ClientError{Reason: err.Error(), Err: ErrValidation}
	}
	return args, nil
}

// Recover turns raw model text into a T via the recovery ladder. The error is
// non-nil only when recovery was exhausted with fallbacks disabled or the
// recovered value cannot be unmarshaled into T.
func (e *Extractor[T]) Recover(raw string, opts ...Option) (T, RecoveryOutcome, error) {
	var zero T
	out := RecoverValue(raw, e.schema, opts...)
	if !out.Success {
		return zero, out, exhaustionError(out)
	}
	data, err := json.Marshal(out.Value)
	if err != nil {
		return zero, out, &SystemError{Err: err}
	}
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return zero, out, &SystemError{Err: err}
	}
	return result, out, nil
}

// runLayer2Validation runs Validatable.Validate() on args; if args does not implement Validatable,
// it tries &args for value types (pointer receiver). Never calls Validate twice for the same receiver.
func runLayer2Validation[T any](args T) error {
	if err := validateCustom(any(args)); err != nil {
		return err
	}
	if _, ok := any(args).(Validatable); ok {
		return nil
	}
	typ := reflect.TypeOf(args)
	if typ == nil || typ.Kind() == reflect.Pointer {
		return nil
	}
	return validateCustom(any(&args))
}
