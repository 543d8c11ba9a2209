package salvage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// CompletionMethod names how ReliableCall obtained (or failed to obtain) the
// final text.
type CompletionMethod string

const (
	// CompletionNatural: the model produced non-empty text on its own.
	CompletionNatural CompletionMethod = "natural"
	// CompletionForced: the text came from a tool-free synthesis call built
	// from the tool results.
	CompletionForced CompletionMethod = "forced"
	// CompletionIncomplete: every attempt was exhausted; the last response is
	// returned as-is. A quality signal, not a failure.
	CompletionIncomplete CompletionMethod = "incomplete"
)

// CompletionAttempt is the immutable record of one reliability-loop iteration.
type CompletionAttempt struct {
	Attempt     int
	HasText     bool
	ToolResults []ToolCallResult
	Errors      []string
}

// ReliableResult is the terminal artifact of ReliableCall. Usage merges the
// accounting of the primary and synthesis calls of the winning attempt and
// every earlier one.
type ReliableResult struct {
	Text        string
	ToolCalls   []ToolCallRequest
	ToolResults []ToolCallResult
	Method      CompletionMethod
	RetryCount  int
	Errors      []string
	Usage       Usage
	Attempts    []CompletionAttempt
}

// ReliableCall issues a model call and guarantees the caller gets either
// natural non-empty text or a forced synthesis answer built from tool results.
// Per attempt: call the model; non-empty text wins immediately; otherwise
// gather tool results (executing requested calls against reg when the runtime
// did not), and issue a tool-free follow-up call embedding the question and
// the serialized results. The loop is linear and bounded by WithMaxRetries;
// exhaustion returns the last response tagged CompletionIncomplete. The error
// is non-nil only on cancellation or when no model response was ever obtained.
func ReliableCall(ctx context.Context, model ModelCaller, prompt string, reg *Registry, opts ...Option) (*ReliableResult, error) {
	cfg := buildConfig(defaultReliableConfig(), opts)

	var tools []ToolSpec
	if reg != nil {
		tools = reg.Specs()
	}

	var (
		attempts []CompletionAttempt
		trail    []string
		usage    Usage
		last     *ModelResponse
		lastErr  error
	)

	for attempt := 1; attempt <= cfg.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec := CompletionAttempt{Attempt: attempt}

		resp, err := model.Call(ctx, &ModelRequest{Prompt: prompt, Tools: tools, ResponseSchema: cfg.responseSchema})
		if err != nil {
			if isCancellation(ctx, err) {
				return nil, err
			}
			lastErr = err
			rec.Errors = append(rec.Errors, "model call: "+err.Error())
			trail = append(trail, fmt.Sprintf("attempt %d: model call: %v", attempt, err))
			attempts = append(attempts, rec)
			continue
		}
		last = resp
		usage.Add(resp.Usage)

		if strings.TrimSpace(resp.Text) != "" {
			rec.HasText = true
			return &ReliableResult{
				Text:        resp.Text,
				ToolCalls:   resp.ToolCalls,
				ToolResults: resp.ToolResults,
				Method:      CompletionNatural,
				RetryCount:  attempt - 1,
				Errors:      trail,
				Usage:       usage,
				Attempts:    append(attempts, rec),
			}, nil
		}

		results := resp.ToolResults
		if len(results) == 0 && len(resp.ToolCalls) > 0 && reg != nil {
			results = executeRequested(ctx, reg, resp.ToolCalls, cfg)
		}
		rec.ToolResults = results
		succeeded := 0
		for _, res := range results {
			if res.Success {
				succeeded++
				continue
			}
			rec.Errors = append(rec.Errors, fmt.Sprintf("tool %s: %s", res.ToolName, res.Error))
			trail = append(trail, fmt.Sprintf("attempt %d: tool %s: %s", attempt, res.ToolName, res.Error))
		}

		switch {
		case succeeded == 0:
			rec.Errors = append(rec.Errors, "no text and no tool results obtainable")
			trail = append(trail, fmt.Sprintf("attempt %d: no text and no tool results obtainable", attempt))
		case !cfg.forceCompletion:
			rec.Errors = append(rec.Errors, "no text and forced completion disabled")
			trail = append(trail, fmt.Sprintf("attempt %d: no text and forced completion disabled", attempt))
		default:
			synth, serr := model.Call(ctx, buildSynthesisRequest(prompt, results, cfg.responseSchema))
			if serr != nil {
				if isCancellation(ctx, serr) {
					return nil, serr
				}
				rec.Errors = append(rec.Errors, "synthesis: "+serr.Error())
				trail = append(trail, fmt.Sprintf("attempt %d: %v: %v", attempt, ErrSynthesis, serr))
				break
			}
			usage.Add(synth.Usage)
			if strings.TrimSpace(synth.Text) != "" {
				logDebug(cfg.logger, "forced synthesis produced final text", "attempt", attempt, "tools", succeeded)
				return &ReliableResult{
					Text:        synth.Text,
					ToolCalls:   resp.ToolCalls,
					ToolResults: results,
					Method:      CompletionForced,
					RetryCount:  attempt - 1,
					Errors:      trail,
					Usage:       usage,
					Attempts:    append(attempts, rec),
				}, nil
			}
			rec.Errors = append(rec.Errors, "synthesis returned empty text")
			trail = append(trail, fmt.Sprintf("attempt %d: %v: empty text", attempt, ErrSynthesis))
		}
		attempts = append(attempts, rec)
	}

	if last == nil {
		return nil, fmt.Errorf("%w: %w", ErrExhausted, lastErr)
	}
	return &ReliableResult{
		Text:        last.Text,
		ToolCalls:   last.ToolCalls,
		ToolResults: lastToolResults(attempts),
		Method:      CompletionIncomplete,
		RetryCount:  cfg.maxRetries - 1,
		Errors:      trail,
		Usage:       usage,
		Attempts:    attempts,
	}, nil
}

// executeRequested runs the model-requested calls against the registry,
// assigning IDs where the model omitted them. Alias groups from WithArgAliases
// are applied before dispatch (the registry then runs its own table over the
// result). cfg.toolTimeout bounds each call individually; a timed-out call
// fails that call only.
func executeRequested(ctx context.Context, reg *Registry, calls []ToolCallRequest, cfg config) []ToolCallResult {
	prepared := make([]ToolCallRequest, len(calls))
	for i, call := range calls {
		if call.ID == "" {
			call.ID = uuid.NewString()
		}
		if len(cfg.argAliases) > 0 {
			if tool, ok := reg.GetTool(call.ToolName); ok {
				if args, err := NormalizeArgs(call.Args, tool.Parameters(), cfg.argAliases); err == nil {
					call.Args = args
				}
			}
		}
		prepared[i] = call
	}
	if cfg.toolTimeout <= 0 {
		return reg.ExecuteBatch(ctx, prepared)
	}
	results := make([]ToolCallResult, len(prepared))
	var wg sync.WaitGroup
	for i, call := range prepared {
		i, call := i, call
		wg.Add(1)
		go func() {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, cfg.toolTimeout)
			defer cancel()
			results[i] = reg.Execute(callCtx, call)
		}()
	}
	wg.Wait()
	return results
}

// buildSynthesisRequest embeds the original question and serialized tool
// results into a follow-up prompt. No tools are attached, so the synthesis
// call cannot recurse into further tool invocations.
func buildSynthesisRequest(prompt string, results []ToolCallResult, schema *Schema) *ModelRequest {
	var b strings.Builder
	b.WriteString("Original question:\n")
	b.WriteString(prompt)
	b.WriteString("\n\nTool results:\n")
	for _, res := range results {
		data, err := json.Marshal(res)
		if err != nil {
			continue
		}
		b.Write(data)
		b.WriteByte('\n')
	}
	b.WriteString("\nUsing only the tool results above, give the final answer to the original question.")
	if schema != nil {
		if data, err := json.Marshal(schema.Map()); err == nil {
			b.WriteString(" Reply with a single JSON value matching this schema:\n")
			b.Write(data)
		}
	}
	return &ModelRequest{Prompt: b.String(), ResponseSchema: schema}
}

func lastToolResults(attempts []CompletionAttempt) []ToolCallResult {
	for i := len(attempts) - 1; i >= 0; i-- {
		if len(attempts[i].ToolResults) > 0 {
			return attempts[i].ToolResults
		}
	}
	return nil
}

func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
