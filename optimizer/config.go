// Package optimizer wires interp, peephole and deadslot into a driver that
// runs the peephole visitors and the dead-slot pass to a joint fixpoint,
// then flattens the result back to the wire format.
package optimizer

import (
	"io"

	"github.com/32bitkid/bcopt/grammar"
)

// OutputMode mirrors the three build output modes the host toolchain
// supports. The driver only optimizes in SourceOnly; the other two disable
// it entirely, since a source map computed against pre-optimization
// offsets would go stale the moment the tree is rewritten.
type OutputMode int

const (
	SourceOnly OutputMode = iota
	SourceAndMap
	SourceWithInlineMap
)

// Config holds the driver's resolved settings, built by applying Options
// over zero-value defaults.
type Config struct {
	Log           io.Writer
	Hints         grammar.Hints
	SkipDeadSlot  bool
	MaxIterations int
	OutputMode    OutputMode
}

// defaultMaxIterations bounds the driver's own outer peephole/dead-slot
// fixpoint loop (distinct from interp's own loop-body fixpoint cap), as a
// safety net against non-convergence.
const defaultMaxIterations = 1024

func newConfig(opts []Option) *Config {
	cfg := &Config{MaxIterations: defaultMaxIterations}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Option configures the driver: applying an Option returns the Option
// that undoes it, so callers can snapshot and restore a setting.
type Option func(*Config) Option

// WithLog installs a diagnostic sink. When set, Optimize prints a
// before/after trace via Print for every rule it changes.
func WithLog(w io.Writer) Option {
	return func(c *Config) Option {
		prev := c.Log
		c.Log = w
		return WithLog(prev)
	}
}

// WithHints supplies the per-rule match-hint table the RULE transfer rule
// consults. Omitting this is equivalent to every rule reporting
// grammar.HintUnknown.
func WithHints(h grammar.Hints) Option {
	return func(c *Config) Option {
		prev := c.Hints
		c.Hints = h
		return WithHints(prev)
	}
}

// SkipDeadSlot disables the dead-slot pass, running only the peephole
// visitors to their own fixpoint.
func SkipDeadSlot(b bool) Option {
	return func(c *Config) Option {
		prev := c.SkipDeadSlot
		c.SkipDeadSlot = b
		return SkipDeadSlot(prev)
	}
}

// WithMaxIterations overrides the driver's outer fixpoint safety cap.
func WithMaxIterations(n int) Option {
	return func(c *Config) Option {
		prev := c.MaxIterations
		if n > 0 {
			c.MaxIterations = n
		}
		return WithMaxIterations(prev)
	}
}

// WithOutputMode selects the build's output mode; anything but SourceOnly
// makes Optimize a no-op.
func WithOutputMode(m OutputMode) Option {
	return func(c *Config) Option {
		prev := c.OutputMode
		c.OutputMode = m
		return WithOutputMode(prev)
	}
}
