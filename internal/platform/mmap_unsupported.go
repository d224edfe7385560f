//go:build !unix

package platform

import (
	"fmt"
	"runtime"
)

const mmapSupported = false

var errUnsupported = fmt.Errorf("mmap unsupported on GOOS=%s. Use interpreter instead.", runtime.GOOS)

func mmapCodeSegment(code []byte) ([]byte, error) {
	return nil, errUnsupported
}

func munmapCodeSegment(code []byte) error {
	return errUnsupported
}
