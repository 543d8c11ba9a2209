package salvage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// RecoveryMethod names the first technique that produced a schema-valid value.
type RecoveryMethod string

const (
	// MethodNatural: the raw text parsed and validated untouched, first attempt.
	MethodNatural RecoveryMethod = "natural"
	// MethodRetry: a caller-level retry succeeded without text repair.
	MethodRetry RecoveryMethod = "retry"
	// MethodTextRepair: the repair pipeline produced the accepted parse.
	MethodTextRepair RecoveryMethod = "text_repair"
	// MethodTypeFix: container/type coercion made the parsed value validate.
	MethodTypeFix RecoveryMethod = "type_fix"
	// MethodFallback: schema-driven defaults were synthesized (and merged
	// under any parsed partial values).
	MethodFallback RecoveryMethod = "fallback"
)

// RecoveryOutcome is the terminal artifact of a recovery run. Errors holds the
// ordered diagnostics of every stage that fired, kept even on success.
// FailedStage is "parse" or "validation" when Success is false.
type RecoveryOutcome struct {
	Value       any
	Success     bool
	Method      RecoveryMethod
	Errors      []string
	FailedStage string
}

// RecoverValue turns raw model text into a schema-valid value, degrading
// through strict parse → text repair → coercion → fallback. With fallbacks
// enabled (the default) it always succeeds; the Method field tells the caller
// how hard it had to work.
func RecoverValue(raw string, schema *Schema, opts ...Option) RecoveryOutcome {
	cfg := buildConfig(defaultRecoverConfig(), opts)
	return recoverWithConfig(raw, schema, cfg)
}

func recoverWithConfig(raw string, schema *Schema, cfg config) RecoveryOutcome {
	var trail []string

	parsed, repaired, ok := parseStage(raw, cfg, &trail)
	if !ok {
		if cfg.useFallbacks {
			trail = append(trail, "fallback: synthesized schema defaults after parse failure")
			logDebug(cfg.logger, "recovery fell back after parse failure", "attempt", cfg.attempt)
			return RecoveryOutcome{Value: GenerateFallback(schema), Success: true, Method: MethodFallback, Errors: trail}
		}
		return RecoveryOutcome{Errors: trail, FailedStage: "parse"}
	}

	method := MethodNatural
	switch {
	case repaired:
		method = MethodTextRepair
	case cfg.attempt > 1:
		method = MethodRetry
	}

	if err := schema.Validate(parsed); err == nil {
		return RecoveryOutcome{Value: parsed, Success: true, Method: method, Errors: trail}
	} else {
		trail = append(trail, "validation: "+err.Error())
	}

	partial := parsed
	if cfg.attemptRecovery && cfg.fixTypeMismatches {
		coerced, diags := coerceToSchema(parsed, schema.doc)
		trail = append(trail, diags...)
		if err := schema.Validate(coerced); err == nil {
			logDebug(cfg.logger, "coercion recovered value", "attempt", cfg.attempt)
			return RecoveryOutcome{Value: coerced, Success: true, Method: MethodTypeFix, Errors: trail}
		} else {
			trail = append(trail, "validation after coercion: "+err.Error())
		}
		partial = coerced
	}

	if cfg.useFallbacks {
		fb := GenerateFallback(schema)
		merged := mergeFallback(partial, fb)
		if schema.Validate(merged) == nil {
			trail = append(trail, "fallback: merged schema defaults under partial value")
			return RecoveryOutcome{Value: merged, Success: true, Method: MethodFallback, Errors: trail}
		}
		trail = append(trail, "fallback: partial value rejected, using pure schema defaults")
		return RecoveryOutcome{Value: fb, Success: true, Method: MethodFallback, Errors: trail}
	}
	return RecoveryOutcome{Errors: trail, FailedStage: "validation"}
}

// parseStage tries a strict parse, then the repair pipeline when enabled.
// repaired reports whether the accepted parse needed repair.
func parseStage(raw string, cfg config, trail *[]string) (v any, repaired, ok bool) {
	t := strings.TrimSpace(raw)
	if t == "" {
		*trail = append(*trail, "parse: empty text")
		return nil, false, false
	}
	if err := json.Unmarshal([]byte(t), &v); err == nil {
		if !quotedStructure(t) {
			return v, false, true
		}
		*trail = append(*trail, "parse: double-encoded JSON string")
	} else {
		*trail = append(*trail, "parse: "+err.Error())
	}
	if !cfg.enableTextRepair {
		return nil, false, false
	}
	fixed, found := RepairText(t)
	if !found {
		*trail = append(*trail, "repair: no valid JSON after all repair stages")
		return nil, false, false
	}
	if err := json.Unmarshal([]byte(fixed), &v); err != nil {
		*trail = append(*trail, "repair: "+err.Error())
		return nil, false, false
	}
	*trail = append(*trail, "repair: recovered parseable JSON")
	return v, true, true
}

// RecoverInto recovers raw text into a value of type T using its reflected
// schema. The error is non-nil only when recovery is exhausted (fallbacks
// disabled) or the recovered value cannot be unmarshaled into T.
func RecoverInto[T any](raw string, opts ...Option) (T, RecoveryOutcome, error) {
	var zero T
	schema, err := SchemaFor[T]()
	if err != nil {
		return zero, RecoveryOutcome{}, &SystemError{Err: err}
	}
	out := RecoverValue(raw, schema, opts...)
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

// ReliableRecover drives RecoverValue through a caller-level retry loop
// against a live model. Repair and coercion run on every attempt; fallback
// synthesis is held back until the final attempt so earlier attempts get a
// chance to obtain real data. Cancellation of ctx aborts the loop immediately.
func ReliableRecover(ctx context.Context, model ModelCaller, prompt string, schema *Schema, opts ...Option) (RecoveryOutcome, error) {
	cfg := buildConfig(defaultRecoverConfig(), opts)
	var trail []string
	var last RecoveryOutcome

	for attempt := 1; attempt <= cfg.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		req := &ModelRequest{Prompt: prompt, ResponseSchema: schema}
		if attempt > 1 {
			req.Prompt = retryPrompt(prompt, trail)
		}
		resp, err := model.Call(ctx, req)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return last, err
			}
			trail = append(trail, fmt.Sprintf("attempt %d: model call: %v", attempt, err))
			continue
		}

		attemptCfg := cfg
		attemptCfg.attempt = attempt
		attemptCfg.useFallbacks = cfg.useFallbacks && attempt == cfg.maxRetries
		out := recoverWithConfig(resp.Text, schema, attemptCfg)
		for _, e := range out.Errors {
			trail = append(trail, fmt.Sprintf("attempt %d: %s", attempt, e))
		}
		if out.Success {
			out.Errors = trail
			return out, nil
		}
		last = out
		logDebug(cfg.logger, "recovery attempt failed", "attempt", attempt, "stage", out.FailedStage)
	}

	if cfg.useFallbacks {
		trail = append(trail, "fallback: synthesized schema defaults after retries exhausted")
		return RecoveryOutcome{Value: GenerateFallback(schema), Success: true, Method: MethodFallback, Errors: trail}, nil
	}
	last.Errors = trail
	return last, exhaustionError(last)
}

// exhaustionError is the hard-failure error for a failed outcome; parse-stage
// exhaustion additionally carries ErrUnparsable.
func exhaustionError(out RecoveryOutcome) error {
	err := error(ErrExhausted)
	if out.FailedStage == "parse" {
		err = fmt.Errorf("%w: %w", ErrExhausted, ErrUnparsable)
	}
	return &RecoveryError{Stage: out.FailedStage, Trail: out.Errors, Err: err}
}

func retryPrompt(prompt string, trail []string) string {
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nThe previous reply was not valid against the required JSON shape")
	if len(trail) > 0 {
		b.WriteString(" (")
		b.WriteString(trail[len(trail)-1])
		b.WriteString(")")
	}
	b.WriteString(". Reply again with only the corrected JSON.")
	return b.String()
}

func logDebug(l *slog.Logger, msg string, args ...any) {
	if l != nil {
		l.Debug(msg, args...)
	}
}
