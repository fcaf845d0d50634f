//go:build linux

package resource

import (
	"golang.org/x/sys/unix"

	"gitlab.com/tozd/go/errors"
)

// HostMemory returns the total physical memory of the host in bytes
func HostMemory() (uint64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, errors.Errorf("%w: sysinfo: %s", ErrResource, err)
	}

	return uint64(info.Totalram) * uint64(info.Unit), nil
}
