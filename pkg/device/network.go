package device

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/walteh/qlaunch/pkg/config"
	"github.com/walteh/qlaunch/pkg/lease"
	"github.com/walteh/qlaunch/pkg/resource"
	"github.com/walteh/qlaunch/pkg/shell"
)

// Network assigns the MAC, ports and addresses and adds the guest NIC.
// It also persists the ssh port so later runs reuse it.
type Network struct {
	exec   shell.Executor
	ports  *resource.PortStore
	leases lease.Source
}

func (*Network) Name() string { return "network" }

func (n *Network) Configure(ctx context.Context, cfg config.Config, env *Environment, params *Params) error {
	logger := zerolog.Ctx(ctx)
	procID := env.Identity.ProcID

	env.SSHPort = n.ports.Load(ctx, procID)
	env.DisplayPort = resource.DisplayPort(env.SSHPort)
	env.MAC = env.Identity.MAC()
	env.HostIP = n.hostIP(ctx)

	env.GuestIP = cfg.GuestIP
	if env.GuestIP == "" && cfg.Net != config.NetNAT && n.leases != nil {
		addr, err := n.leases.Lookup(ctx, env.MAC)
		if err != nil {
			logger.Debug().Err(err).Str("mac", env.MAC).Msg("DHCP lease lookup failed")
		}
		env.GuestIP = addr
	}

	switch cfg.Net {
	case config.NetNAT:
		params.Add("-nic", fmt.Sprintf("user,model=virtio-net-pci,mac=%s,smb=%s,hostfwd=tcp::%d-:22", env.MAC, cfg.Home, env.SSHPort))
	case config.NetTap:
		params.Add("-nic", fmt.Sprintf("tap,model=virtio-net-pci,mac=%s,script=%s/projects/scripts/qemu-ifup", env.MAC, cfg.Home))
	case config.NetBridge:
		params.Add("-nic", fmt.Sprintf("bridge,br=virbr0,model=virtio-net-pci,mac=%s", env.MAC))
	}

	if err := n.ports.Save(procID, env.SSHPort); err != nil {
		logger.Error().Err(err).Msg("Failed to write SSH port")
	}

	logger.Info().
		Str("mac", env.MAC).
		Str("host", env.HostIP).
		Str("guest", env.GuestIP).
		Int("ssh_port", env.SSHPort).
		Int("display_port", env.DisplayPort).
		Msg("Configured network")

	return nil
}

// hostIP asks the routing table for the source address of the default route
func (n *Network) hostIP(ctx context.Context) string {
	res, err := n.exec.Run(ctx, []string{"ip", "r", "g", "1.0.0.0"})
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("Route lookup failed, using localhost")
		return "localhost"
	}

	if addr := RouteSource(res.Output); addr != "" {
		return addr
	}
	return "localhost"
}

// RouteSource extracts the src address from `ip route get` output
func RouteSource(output string) string {
	fields := strings.Fields(output)
	for i, f := range fields {
		if f == "src" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	if len(fields) > 6 {
		return fields[6]
	}
	return ""
}
