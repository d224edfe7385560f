package skvm

import (
	"github.com/tetratelabs/skvm/internal/features"
)

// Config controls how programs are scheduled and evaluated, with the default
// implementation as NewConfig.
//
// Config is immutable: each With method returns a new instance including the
// corresponding change.
type Config interface {
	// WithJIT enables compiling programs into native code on their first
	// evaluation. When the host or the program cannot be compiled, programs are
	// interpreted regardless.
	//
	// This defaults to CompilerSupported, unless SKVMFEATURES contains "nojit".
	WithJIT(enabled bool) Config

	// WithHoisting enables moving loop invariant instructions, such as uniform
	// loads and constants, before the loop so they run once per evaluation.
	//
	// This defaults to true, unless SKVMFEATURES contains "nohoist".
	WithHoisting(enabled bool) Config
}

type config struct {
	jit   bool
	hoist bool
}

// engineLessConfig helps avoid copy/pasting the wrong defaults.
var engineLessConfig = &config{hoist: true}

// clone makes a deep copy of this config.
func (c *config) clone() *config {
	ret := *c
	return &ret
}

// NewConfigCompiler returns a Config compiling programs into native code when the
// host supports it.
//
// Note: Programs the compiler does not support fall back to the interpreter, so this
// is safe to use on any platform.
func NewConfigCompiler() Config {
	ret := engineLessConfig.clone()
	ret.jit = true
	return ret.withFeatures()
}

// NewConfigInterpreter returns a Config evaluating every program with the interpreter.
func NewConfigInterpreter() Config {
	return engineLessConfig.clone().withFeatures()
}

// withFeatures applies the process-wide overrides of SKVMFEATURES.
func (c *config) withFeatures() *config {
	if features.Have(features.NoJIT) {
		c.jit = false
	}
	if features.Have(features.NoHoist) {
		c.hoist = false
	}
	return c
}

// WithJIT implements Config.WithJIT
func (c *config) WithJIT(enabled bool) Config {
	ret := c.clone()
	ret.jit = enabled
	return ret
}

// WithHoisting implements Config.WithHoisting
func (c *config) WithHoisting(enabled bool) Config {
	ret := c.clone()
	ret.hoist = enabled
	return ret
}

// configOf returns the implementation of cfg, or the defaults when cfg is nil.
func configOf(cfg Config) *config {
	if cfg == nil {
		return NewConfig().(*config)
	}
	return cfg.(*config)
}
