package lease_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walteh/qlaunch/pkg/lease"
	"github.com/walteh/qlaunch/pkg/shell/shelltest"
	"gitlab.com/tozd/go/errors"
)

const virshOutput = ` 2026-10-19 09:12:44   52:54:00:74:9f:8c   ipv4       192.168.122.57/24   ubuntu     -
 2026-10-19 11:40:02   52:54:00:74:9f:8c   ipv4       192.168.122.88/24   ubuntu     -
`

func TestParseVirsh(t *testing.T) {
	assert.Equal(t, "192.168.122.88", lease.ParseVirsh(virshOutput), "latest lease should win")
	assert.Empty(t, lease.ParseVirsh(""))
	assert.Empty(t, lease.ParseVirsh("garbage line"))
}

func TestVirsh(t *testing.T) {
	ctx := context.Background()
	exec := shelltest.New().Respond(0, virshOutput, "virsh")

	addr, err := lease.NewVirsh(exec).Lookup(ctx, "52:54:00:74:9f:8c")
	require.NoError(t, err)
	assert.Equal(t, "192.168.122.88", addr)
	assert.Equal(t, 1, exec.Count("virsh", "--quiet", "net-dhcp-leases", "default", "--mac", "52:54:00:74:9f:8c"))

	failing := shelltest.New().Respond(1, "error: failed to connect", "virsh")
	_, err = lease.NewVirsh(failing).Lookup(ctx, "52:54:00:74:9f:8c")
	assert.Error(t, err)
}

type fixed struct {
	addr string
	err  error
}

func (f fixed) Lookup(ctx context.Context, mac string) (string, error) {
	return f.addr, f.err
}

func TestChain(t *testing.T) {
	ctx := context.Background()

	addr, err := lease.Chain{
		fixed{err: errors.New("socket missing")},
		fixed{},
		fixed{addr: "10.0.0.5"},
		fixed{addr: "10.0.0.9"},
	}.Lookup(ctx, "52:54:00:00:00:01")
	require.NoError(t, err, "chain never fails")
	assert.Equal(t, "10.0.0.5", addr)

	addr, err = lease.Chain{fixed{err: errors.New("down")}}.Lookup(ctx, "52:54:00:00:00:01")
	require.NoError(t, err)
	assert.Empty(t, addr)
}

func TestLibvirtUnavailable(t *testing.T) {
	src := lease.NewLibvirt()
	src.Socket = filepath.Join(t.TempDir(), "absent.sock")
	src.Timeout = 100 * time.Millisecond

	_, err := src.Lookup(context.Background(), "52:54:00:00:00:01")
	assert.Error(t, err, "missing socket should fail the lookup")
}
