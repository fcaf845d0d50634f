//go:build !linux

package resource

import (
	"runtime"

	"gitlab.com/tozd/go/errors"
)

// HostMemory is only implemented on Linux
func HostMemory() (uint64, error) {
	return 0, errors.Errorf("%w: memory query not supported on %s", ErrResource, runtime.GOOS)
}
