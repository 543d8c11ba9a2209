package salvage

import (
	"log/slog"
	"time"
)

// config holds the shared tuning knobs of RecoverValue, ReliableRecover and
// ReliableCall. Zero values are replaced by the per-engine defaults.
type config struct {
	maxRetries        int
	attemptRecovery   bool
	useFallbacks      bool
	fixTypeMismatches bool
	enableTextRepair  bool
	forceCompletion   bool
	toolTimeout       time.Duration
	logger            *slog.Logger
	attempt           int
	argAliases        [][]string
	responseSchema    *Schema
}

// Option configures a recovery or reliability call (e.g. WithMaxRetries).
type Option func(*config)

func defaultRecoverConfig() config {
	return config{
		maxRetries:        3,
		attemptRecovery:   true,
		useFallbacks:      true,
		fixTypeMismatches: true,
		enableTextRepair:  true,
		forceCompletion:   true,
		attempt:           1,
	}
}

func defaultReliableConfig() config {
	cfg := defaultRecoverConfig()
	cfg.maxRetries = 2
	return cfg
}

func buildConfig(base config, opts []Option) config {
	for _, opt := range opts {
		opt(&base)
	}
	if base.maxRetries < 1 {
		base.maxRetries = 1
	}
	if base.attempt < 1 {
		base.attempt = 1
	}
	return base
}

// WithMaxRetries bounds the caller-level retry loop. Values below 1 mean a
// single attempt.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// WithRecovery toggles coercion and fallback after a validation failure.
// Disabled, a parse that fails validation is a hard failure.
func WithRecovery(enable bool) Option {
	return func(c *config) {
		c.attemptRecovery = enable
	}
}

// WithFallbacks toggles schema-driven fallback synthesis when repair and
// coercion are exhausted.
func WithFallbacks(enable bool) Option {
	return func(c *config) {
		c.useFallbacks = enable
	}
}

// WithTypeFixes toggles per-field type coercion (string/number/bool/enum).
func WithTypeFixes(enable bool) Option {
	return func(c *config) {
		c.fixTypeMismatches = enable
	}
}

// WithTextRepair toggles the repair pipeline. Disabled, only strictly valid
// JSON parses.
func WithTextRepair(enable bool) Option {
	return func(c *config) {
		c.enableTextRepair = enable
	}
}

// WithForcedCompletion toggles the tool-free synthesis call issued when a
// tool-bearing turn produced results but no text.
func WithForcedCompletion(enable bool) Option {
	return func(c *config) {
		c.forceCompletion = enable
	}
}

// WithToolTimeout bounds each directly-executed tool call. Zero means
// unbounded.
func WithToolTimeout(d time.Duration) Option {
	return func(c *config) {
		c.toolTimeout = d
	}
}

// WithLogger attaches a structured logger for per-stage debug records.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithAttempt tags the recovery as attempt n of a caller-level retry loop, so
// a success on n > 1 reports MethodRetry instead of MethodNatural.
func WithAttempt(n int) Option {
	return func(c *config) {
		c.attempt = n
	}
}

// WithArgAliases extends the built-in argument alias table. Each group lists
// names treated as the same parameter; the schema decides the canonical one.
func WithArgAliases(groups ...[]string) Option {
	return func(c *config) {
		c.argAliases = append(c.argAliases, groups...)
	}
}

// WithResponseSchema declares the shape the final answer must take. ReliableCall
// forwards it on every model call and instructs the synthesis call to emit it.
func WithResponseSchema(schema *Schema) Option {
	return func(c *config) {
		c.responseSchema = schema
	}
}
