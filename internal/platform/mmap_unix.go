//go:build unix

package platform

import "golang.org/x/sys/unix"

const mmapSupported = true

func mmapCodeSegment(code []byte) ([]byte, error) {
	// Anonymous as this is not an actual file, but a memory,
	// Private as this is in-process memory region.
	mmapFunc, err := unix.Mmap(-1, 0, len(code), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}

	copy(mmapFunc, code)

	// Then we're done with writing code, therefore we make the mapped region executable.
	if err = unix.Mprotect(mmapFunc, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		_ = unix.Munmap(mmapFunc)
		return nil, err
	}
	return mmapFunc, nil
}

func munmapCodeSegment(code []byte) error {
	return unix.Munmap(code)
}
