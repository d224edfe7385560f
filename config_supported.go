//go:build amd64 || arm64

package skvm

// CompilerSupported is true when programs can be compiled into native code on this
// GOARCH. The CPU may still lack the required vector extensions, in which case
// programs are interpreted.
const CompilerSupported = true

// NewConfig returns NewConfigCompiler
func NewConfig() Config {
	return NewConfigCompiler()
}
