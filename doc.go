// Package salvage recovers schema-valid structured output and non-empty final
// answers from LLMs that emit malformed JSON or stop after a tool call without
// any concluding text.
//
// # Overview
//
// Models frequently produce near-JSON: markdown fences, single quotes, bare
// keys, trailing commas, Python constants, comments, unbalanced brackets.
// This package turns that text back into a value that validates against a
// caller-supplied JSON Schema: repair (string-aware text transforms) →
// strict parse → schema validation → container/type coercion → schema-driven
// fallback. The accepted result is tagged with the recovery method that
// produced it (natural, retry, text_repair, type_fix, fallback).
//
// The second engine, ReliableCall, wraps a model-call boundary and guarantees
// a non-empty answer after tool-bearing turns: it executes requested tools
// (normalizing argument names against an alias table), and when the model
// leaves tool results without any text it issues a tool-free synthesis call
// to obtain the final answer.
//
// # Key concepts
//
//   - Repair never corrupts string content: every transform runs over a
//     single-pass quote/escape scanner, so "//", "None" or smart quotes
//     inside string literals survive untouched.
//   - Recovery never throws while fallbacks are enabled: parse and validation
//     failures degrade through coercion and fallback, and the outcome carries
//     the ordered diagnostic trail.
//   - A synthesis call never carries tools, so forced completion cannot
//     recurse into further tool invocations.
//
// See RepairText, RecoverValue, RecoverInto, and ReliableCall for the main
// entry points, and Schema / SchemaFor for the validation boundary.
//
// # Example
//
//	schema, err := salvage.NewSchema(map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	        "name": map[string]any{"type": "string"},
//	        "age":  map[string]any{"type": "number"},
//	    },
//	    "required": []any{"name", "age"},
//	})
//	if err != nil { ... }
//	out := salvage.RecoverValue("{name: 'Alice', age: 30,}", schema)
//	// out.Success == true, out.Method == salvage.MethodTextRepair
package salvage
