//go:build !amd64 && !arm64

package skvm

// CompilerSupported is true when programs can be compiled into native code on this
// GOARCH.
const CompilerSupported = false

// NewConfig returns NewConfigInterpreter
func NewConfig() Config {
	return NewConfigInterpreter()
}
