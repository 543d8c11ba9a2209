package salvage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// Built-in alias groups for tool argument names. Within a group every name is
// treated as the same parameter; the tool's schema decides the canonical one.
var defaultArgAliases = [][]string{
	{"location", "city", "place"},
	{"query", "q", "search"},
	{"question", "prompt", "input"},
}

// RegistryOption configures a Registry.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	timeout        time.Duration
	maxConcurrency int
	recoverPanics  bool
	argAliases     [][]string
	onBefore       func(context.Context, ToolCallRequest)
	onAfter        func(context.Context, ToolCallRequest, ToolCallResult, time.Duration)
}

// WithDefaultTimeout sets the default execution timeout for tools.
// Zero (the default) means unbounded.
func WithDefaultTimeout(d time.Duration) RegistryOption {
	return func(o *registryOptions) {
		o.timeout = d
	}
}

// WithMaxConcurrency limits concurrent tool executions (semaphore).
// Pass 0 or negative to disable the semaphore (unlimited concurrency).
func WithMaxConcurrency(n int) RegistryOption {
	return func(o *registryOptions) {
		o.maxConcurrency = n
	}
}

// WithRecoverPanics enables panic recovery in Execute (failures become SystemError).
func WithRecoverPanics(enable bool) RegistryOption {
	return func(o *registryOptions) {
		o.recoverPanics = enable
	}
}

// WithRegistryArgAliases extends the built-in argument alias table for every
// tool executed through this registry.
func WithRegistryArgAliases(groups ...[]string) RegistryOption {
	return func(o *registryOptions) {
		o.argAliases = append(o.argAliases, groups...)
	}
}

// WithOnBeforeExecute sets a hook called before each tool execution, after
// argument normalization.
func WithOnBeforeExecute(fn func(context.Context, ToolCallRequest)) RegistryOption {
	return func(o *registryOptions) {
		o.onBefore = fn
	}
}

// WithOnAfterExecute sets a hook called after each tool execution.
func WithOnAfterExecute(fn func(context.Context, ToolCallRequest, ToolCallResult, time.Duration)) RegistryOption {
	return func(o *registryOptions) {
		o.onAfter = fn
	}
}

// Registry holds tools and executes model-requested calls with argument
// normalization, timeout, semaphore, one empty-result retry, and optional
// panic recovery. A failed call is a failed ToolCallResult, never an error:
// sibling calls in a batch are unaffected.
type Registry struct {
	tools       map[string]Tool // wrapped with middlewares, used by Execute
	rawTools    map[string]Tool // unwrapped, used by Use() to re-apply middlewares from scratch
	sem         chan struct{}
	opts        registryOptions
	done        chan struct{}
	running     sync.WaitGroup
	mu          sync.Mutex
	middlewares []Middleware
}

// NewRegistry creates a Registry with the given options.
func NewRegistry(opts ...RegistryOption) *Registry {
	o := registryOptions{
		maxConcurrency: 10,
		recoverPanics:  true,
		argAliases:     slices.Clone(defaultArgAliases),
	}
	for _, opt := range opts {
		opt(&o)
	}
	var sem chan struct{}
	if o.maxConcurrency > 0 {
		sem = make(chan struct{}, o.maxConcurrency)
	}
	return &Registry{
		tools:    make(map[string]Tool),
		rawTools: make(map[string]Tool),
		sem:      sem,
		opts:     o,
		done:     make(chan struct{}),
	}
}

// Register adds a tool. Stored middlewares (see Use) are applied to the tool before registration.
// If a tool with the same name already exists, it is replaced. Safe for concurrent use with Execute and other Register calls.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	r.rawTools[name] = t
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		t = r.middlewares[i](t)
	}
	r.tools[name] = t
}

// GetAllTools returns all registered tools, sorted by name for deterministic order.
func (r *Registry) GetAllTools() []Tool {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	out := make([]Tool, 0, len(names))
	for _, name := range names {
		out = append(out, r.tools[name])
	}
	return out
}

// GetTool returns the tool with the given name (after middlewares are applied), or (nil, false) if not found.
func (r *Registry) GetTool(name string) (Tool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tools[name]
	return t, ok
}

// Specs returns the declarations of all registered tools for a ModelRequest,
// sorted by name.
func (r *Registry) Specs() []ToolSpec {
	tools := r.GetAllTools()
	specs := make([]ToolSpec, len(tools))
	for i, t := range tools {
		specs[i] = ToolSpec{Name: t.Name(), Description: t.Description(), Parameters: t.Parameters()}
	}
	return specs
}

// Execute runs one model-requested tool call: normalize argument names against
// the alias table, run with the effective timeout, retry once if the raw
// result is empty, and fold any failure into the returned result. The
// after-execution hook (WithOnAfterExecute) is always invoked via defer.
func (r *Registry) Execute(ctx context.Context, call ToolCallRequest) (result ToolCallResult) {
	result = ToolCallResult{ID: call.ID, ToolName: call.ToolName}

	r.mu.Lock()
	select {
	case <-r.done:
		r.mu.Unlock()
		result.Error = ErrShutdown.Error()
		return result
	default:
	}
	tool, ok := r.tools[call.ToolName]
	if !ok {
		r.mu.Unlock()
		result.Error = fmt.Sprintf("%v: %s", ErrToolNotFound, call.ToolName)
		return result
	}
	r.running.Add(1)
	r.mu.Unlock()
	defer r.running.Done()

	if err := r.acquireSemaphore(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrTimeout
		}
		result.Error = err.Error()
		return result
	}
	defer r.releaseSemaphore()

	args, err := NormalizeArgs(call.Args, tool.Parameters(), r.opts.argAliases)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	call.Args = args
	result.NormalizedArgs = args

	timeout := r.opts.timeout
	if tm, ok := tool.(ToolMetadata); ok && tm.Timeout() > 0 {
		timeout = tm.Timeout()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r.opts.onAfter != nil {
			r.opts.onAfter(ctx, call, result, time.Since(start))
		}
	}()
	if r.opts.onBefore != nil {
		r.opts.onBefore(ctx, call)
	}

	raw, err := r.runTool(ctx, tool, args)
	if err == nil && emptyResult(raw) {
		// one retry before marking the call failed; empty results are
		// usually transient upstream hiccups
		raw, err = r.runTool(ctx, tool, args)
		if err == nil && emptyResult(raw) {
			err = fmt.Errorf("%w: empty result after retry", ErrToolExecution)
		}
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrTimeout
		}
		result.Error = err.Error()
		return result
	}
	result.Result = raw
	result.Success = true
	return result
}

// runTool invokes the tool with optional panic recovery.
func (r *Registry) runTool(ctx context.Context, tool Tool, args json.RawMessage) (raw []byte, err error) {
	if r.opts.recoverPanics {
		defer func() {
			if p := recover(); p != nil {
				raw = nil
				err = &SystemError{Err: &panicError{p: p}}
			}
		}()
	}
	return tool.Execute(ctx, args)
}

// ExecuteBatch runs all calls in parallel and returns results in input order.
// A failed call does not abort its siblings.
func (r *Registry) ExecuteBatch(ctx context.Context, calls []ToolCallRequest) []ToolCallResult {
	results := make([]ToolCallResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		i, call := i, call
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = r.Execute(ctx, call)
		}()
	}
	wg.Wait()
	return results
}

func (r *Registry) acquireSemaphore(ctx context.Context) error {
	if r.sem == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case r.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) releaseSemaphore() {
	if r.sem != nil {
		<-r.sem
	}
}

// Shutdown closes the registry for new calls and waits for in-flight executions or ctx to cancel.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	select {
	case <-r.done:
		r.mu.Unlock()
		return nil
	default:
		close(r.done)
	}
	r.mu.Unlock()
	done := make(chan struct{})
	go func() {
		r.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NormalizeArgs rewrites model-produced argument names to the tool schema's
// canonical names: alias-group matches first (e.g. "city" -> "location"),
// then case-insensitive matches. Keys already canonical, and keys with no
// target, pass through untouched. Empty args become an empty object.
func NormalizeArgs(raw json.RawMessage, params map[string]any, aliases [][]string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return json.RawMessage("{}"), nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, wrapJSONParseError(err)
	}
	props := schemaProps(params)
	if len(props) == 0 {
		return raw, nil
	}
	out := make(map[string]any, len(args))
	for key, val := range args {
		if _, ok := props[key]; ok {
			out[key] = val
			continue
		}
		target := aliasTarget(key, props, aliases)
		if target == "" || target == key {
			out[key] = val
			continue
		}
		if _, taken := args[target]; taken {
			out[key] = val // canonical name already supplied, keep the stray as-is
			continue
		}
		out[target] = val
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, &SystemError{Err: err}
	}
	return data, nil
}

// aliasTarget resolves a stray argument name to a canonical schema property.
func aliasTarget(key string, props map[string]map[string]any, aliases [][]string) string {
	for _, group := range aliases {
		if !slices.Contains(group, key) {
			continue
		}
		for _, name := range group {
			if name == key {
				continue
			}
			if _, ok := props[name]; ok {
				return name
			}
		}
	}
	for name := range props {
		if strings.EqualFold(name, key) {
			return name
		}
	}
	return ""
}

// emptyResult reports whether raw tool output carries no usable content.
func emptyResult(raw []byte) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", `""`:
		return true
	}
	return false
}

// panicError wraps a recovered panic value for SystemError; used by Registry and WithPanicRecovery middleware.
type panicError struct{ p any }

func (e *panicError) Error() string {
	return "panic: " + fmt.Sprint(e.p)
}
