// Package resource sizes guest memory and persists per-identity ports.
package resource

import (
	"context"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// ErrResource is returned when host resources cannot be determined.
var ErrResource = errors.Base("host resource unavailable")

const (
	gib = uint64(1) << 30

	// LargeGuestMemory is requested on hosts with more than 8 GiB of RAM.
	LargeGuestMemory = "8G"
	// SmallGuestMemory is requested otherwise, and whenever host memory is unknown.
	SmallGuestMemory = "4G"
)

// GuestMemory applies the two-tier sizing policy to the host's total memory in bytes
func GuestMemory(total uint64) string {
	if total > 8*gib {
		return LargeGuestMemory
	}
	return SmallGuestMemory
}

// MemorySize sizes guest memory for this host. Failing to read host memory is
// logged and falls back to the small tier.
func MemorySize(ctx context.Context) string {
	total, err := HostMemory()
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("memory", SmallGuestMemory).Msg("Cannot size host memory, using default")
		return SmallGuestMemory
	}

	mem := GuestMemory(total)
	zerolog.Ctx(ctx).Debug().Uint64("host_bytes", total).Str("memory", mem).Msg("Sized guest memory")
	return mem
}
