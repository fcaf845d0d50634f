// Package lease looks up the DHCP-assigned guest address for a MAC on the libvirt default network.
package lease

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket/dialers"
	"github.com/rs/zerolog"
	"github.com/walteh/qlaunch/pkg/shell"
	"gitlab.com/tozd/go/errors"
)

const (
	DefaultNetwork = "default"
	DefaultSocket  = "/var/run/libvirt/libvirt-sock"
)

// Source finds the most recent lease for a MAC. An empty address with a nil
// error means no lease exists.
type Source interface {
	Lookup(ctx context.Context, mac string) (string, error)
}

// Libvirt queries the lease table over the libvirt RPC socket
type Libvirt struct {
	Socket  string
	Network string
	Timeout time.Duration
}

var _ Source = &Libvirt{}

func NewLibvirt() *Libvirt {
	return &Libvirt{
		Socket:  DefaultSocket,
		Network: DefaultNetwork,
		Timeout: 2 * time.Second,
	}
}

func (l *Libvirt) Lookup(ctx context.Context, mac string) (string, error) {
	dialer := dialers.NewLocal(
		dialers.WithSocket(l.Socket),
		dialers.WithLocalTimeout(l.Timeout),
	)

	conn := libvirt.NewWithDialer(dialer)
	if err := conn.Connect(); err != nil {
		return "", errors.Errorf("connecting to libvirt at %s: %w", l.Socket, err)
	}
	defer func() {
		if err := conn.Disconnect(); err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Msg("Disconnecting from libvirt")
		}
	}()

	network, err := conn.NetworkLookupByName(l.Network)
	if err != nil {
		return "", errors.Errorf("looking up network %s: %w", l.Network, err)
	}

	leases, _, err := conn.NetworkGetDhcpLeases(network, libvirt.OptString{mac}, 1, 0)
	if err != nil {
		return "", errors.Errorf("listing leases on %s: %w", l.Network, err)
	}

	var (
		addr   string
		newest int64
	)
	for _, lease := range leases {
		if lease.Ipaddr == "" || lease.Expirytime < newest {
			continue
		}
		addr, newest = lease.Ipaddr, lease.Expirytime
	}

	return addr, nil
}

// Virsh parses `virsh net-dhcp-leases` output; used when the RPC socket is unavailable
type Virsh struct {
	Exec    shell.Executor
	Network string
}

var _ Source = &Virsh{}

func NewVirsh(exec shell.Executor) *Virsh {
	return &Virsh{Exec: exec, Network: DefaultNetwork}
}

func (v *Virsh) Lookup(ctx context.Context, mac string) (string, error) {
	res, err := v.Exec.Run(ctx, []string{"virsh", "--quiet", "net-dhcp-leases", v.Network, "--mac", mac})
	if err != nil {
		return "", errors.Errorf("listing leases with virsh: %w", err)
	}

	return ParseVirsh(res.Output), nil
}

// ParseVirsh picks the last lease line in sorted order and returns its address without prefix length.
// Lines read: expiry-date expiry-time mac protocol address/prefix hostname client-id.
func ParseVirsh(output string) string {
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return ""
	}

	sort.Strings(lines)
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 5 {
		return ""
	}

	addr, _, _ := strings.Cut(fields[4], "/")
	return addr
}

// Chain asks each source in turn until one returns an address.
// Source failures are logged and never returned.
type Chain []Source

var _ Source = Chain{}

func (c Chain) Lookup(ctx context.Context, mac string) (string, error) {
	logger := zerolog.Ctx(ctx)

	for _, src := range c {
		addr, err := src.Lookup(ctx, mac)
		if err != nil {
			logger.Debug().Err(err).Str("mac", mac).Msg("Lease source failed")
			continue
		}
		if addr != "" {
			logger.Debug().Str("mac", mac).Str("addr", addr).Msg("Found DHCP lease")
			return addr, nil
		}
	}

	return "", nil
}
