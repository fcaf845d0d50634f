package resource_test

import (
	"context"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walteh/qlaunch/pkg/resource"
)

func TestGuestMemory(t *testing.T) {
	const gib = uint64(1) << 30

	tests := []struct {
		name  string
		total uint64
		want  string
	}{
		{"Small", 2 * gib, "4G"},
		{"ExactlyEight", 8 * gib, "4G"},
		{"JustAbove", 8*gib + 1, "8G"},
		{"Large", 64 * gib, "8G"},
		{"Unknown", 0, "4G"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resource.GuestMemory(tt.total))
		})
	}
}

func TestMemorySize(t *testing.T) {
	mem := resource.MemorySize(zerolog.Nop().WithContext(context.Background()))
	assert.Contains(t, []string{resource.SmallGuestMemory, resource.LargeGuestMemory}, mem)
}

func TestPortStore(t *testing.T) {
	ctx := context.Background()
	store := resource.NewPortStore(t.TempDir())

	t.Run("Idempotent", func(t *testing.T) {
		first := store.Load(ctx, "ubuntu_74")
		assert.Equal(t, resource.DefaultSSHPort, first, "unseen identity gets the default port")

		require.NoError(t, store.Save("ubuntu_74", first))
		assert.Equal(t, first, store.Load(ctx, "ubuntu_74"), "second load should return the persisted port")
		assert.Equal(t, 5901, resource.DisplayPort(first))
	})

	t.Run("Persisted", func(t *testing.T) {
		require.NoError(t, store.Save("win11_c3", 6022))
		assert.Equal(t, 6022, store.Load(ctx, "win11_c3"))

		data, err := os.ReadFile(store.Path("win11_c3"))
		require.NoError(t, err)
		assert.Equal(t, "6022", string(data), "file holds a plain decimal port")
	})

	t.Run("Malformed", func(t *testing.T) {
		require.NoError(t, os.WriteFile(store.Path("broken_00"), []byte("not-a-port"), 0o644))
		assert.Equal(t, resource.DefaultSSHPort, store.Load(ctx, "broken_00"))
	})

	t.Run("Remove", func(t *testing.T) {
		require.NoError(t, store.Save("gone_11", 7000))
		require.NoError(t, store.Remove("gone_11"))
		assert.Equal(t, resource.DefaultSSHPort, store.Load(ctx, "gone_11"))
		assert.NoError(t, store.Remove("gone_11"), "removing twice is fine")
	})
}
