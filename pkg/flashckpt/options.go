package flashckpt

import (
	"log/slog"

	"github.com/nash635/dlrover/pkg/flashckpt/collective"
	"github.com/nash635/dlrover/pkg/flashckpt/observability"
)

// engineConfig holds construction-time configuration for an Engine.
type engineConfig struct {
	namespace string
	env       Env
	envSet    bool
	group     collective.Group
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager
}

// DefaultNamespace is the shared-object namespace when none is
// configured. It must match the saver process's namespace on the node.
const DefaultNamespace = "flash"

func defaultEngineConfig() engineConfig {
	return engineConfig{
		namespace: DefaultNamespace,
		metrics:   observability.NoopMetrics{},
		spans:     observability.NoopSpanManager{},
	}
}

// Option configures engine construction.
type Option func(*engineConfig)

// WithNamespace sets the shared-object namespace used to derive lock,
// segment, and queue names. Writer and saver on a node must agree on it.
func WithNamespace(ns string) Option {
	return func(c *engineConfig) {
		if ns != "" {
			c.namespace = ns
		}
	}
}

// WithEnv injects the execution environment instead of reading it from
// the process environment. Tests use this to simulate ranks and
// restarts deterministically.
func WithEnv(env Env) Option {
	return func(c *engineConfig) {
		c.env = env
		c.envSet = true
	}
}

// WithGroup sets the collective group used for cross-rank consistency.
// A nil group (the default) means single-process mode.
func WithGroup(g collective.Group) Option {
	return func(c *engineConfig) {
		c.group = g
	}
}

// WithLogger enables structured logging on the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(c *engineConfig) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics recorder. Default: no-op.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *engineConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithSpanManager sets the tracing span manager. Default: no-op.
func WithSpanManager(s observability.SpanManager) Option {
	return func(c *engineConfig) {
		if s != nil {
			c.spans = s
		}
	}
}
