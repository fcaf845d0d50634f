package identity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walteh/qlaunch/pkg/config"
	"github.com/walteh/qlaunch/pkg/identity"
	"gitlab.com/tozd/go/errors"
)

func TestResolve(t *testing.T) {
	t.Run("Known", func(t *testing.T) {
		id, err := identity.Resolve([]string{"/vm/ubuntu.qcow2"})
		require.NoError(t, err)

		assert.Equal(t, "749f8c5633c1b5a02c4b0c10ab1dacec", id.GUID)
		assert.Equal(t, "ubuntu", id.Name)
		assert.Equal(t, "74", id.ShortUID)
		assert.Equal(t, "ubuntu_74", id.ProcID)
		assert.Equal(t, "52:54:00:74:9f:8c", id.MAC())
	})

	t.Run("Deterministic", func(t *testing.T) {
		boot := []string{"/vm/win11.qcow2", "nvme0", "/iso/virtio.iso"}
		a, err := identity.Resolve(boot)
		require.NoError(t, err)
		b, err := identity.Resolve(boot)
		require.NoError(t, err)
		assert.Equal(t, a, b, "same media should yield the same identity")
	})

	t.Run("OrderSensitive", func(t *testing.T) {
		a, err := identity.Resolve([]string{"a", "b"})
		require.NoError(t, err)
		b, err := identity.Resolve([]string{"b", "a"})
		require.NoError(t, err)
		assert.NotEqual(t, a.GUID, b.GUID, "reordered media is a different VM")
	})

	t.Run("LongName", func(t *testing.T) {
		id, err := identity.Resolve([]string{"/images/debian-bookworm-amd64.img"})
		require.NoError(t, err)
		assert.Equal(t, "debian-bookworm-amd64", id.Name)
		assert.Equal(t, "debian-bookw_"+id.ShortUID, id.ProcID, "name part is limited to 12 characters")
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := identity.Resolve(nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, config.ErrConfiguration))
	})
}

func TestDerived(t *testing.T) {
	id, err := identity.Resolve([]string{"nvme0"})
	require.NoError(t, err)

	mac := id.MAC()
	assert.Equal(t, "52:54:00:"+id.GUID[0:2]+":"+id.GUID[2:4]+":"+id.GUID[4:6], mac)

	u, err := id.UUID()
	require.NoError(t, err)
	assert.Equal(t, id.GUID[:8], u.String()[:8], "uuid should carry the digest bytes")

	known, err := identity.Resolve([]string{"/vm/ubuntu.qcow2"})
	require.NoError(t, err)
	ku, err := known.UUID()
	require.NoError(t, err)
	assert.Equal(t, "749f8c56-33c1-b5a0-2c4b-0c10ab1dacec", ku.String(), "uuid is the dashed digest, bits untouched")

	other, err := identity.Resolve([]string{"nvme1"})
	require.NoError(t, err)
	assert.NotEqual(t, mac, other.MAC())
}
