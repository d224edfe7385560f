//go:build skvm_debug

package ir

// AssertionsEnabled is true when built with the skvm_debug tag: assert_true instructions
// are recorded by the builder and checked on every lane.
const AssertionsEnabled = true
