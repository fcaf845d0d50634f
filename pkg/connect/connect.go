// Package connect hands the user an interactive session on the guest.
package connect

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/walteh/qlaunch/pkg/config"
	"github.com/walteh/qlaunch/pkg/poll"
	"github.com/walteh/qlaunch/pkg/shell"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	// DefaultInterval separates reachability probes
	DefaultInterval = 5 * time.Second
	// DefaultRetries bounds reachability polling to 60 probes
	DefaultRetries = 59
)

// Endpoint is where the running guest can be reached
type Endpoint struct {
	ProcID      string
	HostIP      string
	GuestIP     string
	SSHPort     int
	DisplayPort int
}

// Info describes the chosen hand-off. Command is empty for the local monitor.
type Info struct {
	Method  config.ConnectMode
	Target  string
	Port    int
	Command []string
}

// Plan picks exactly one connect strategy and returns it together with the
// console tokens the VM command needs for that strategy
func Plan(cfg config.Config, ep Endpoint) (Info, []string) {
	switch cfg.Connect {
	case config.ConnectRemoteShell:
		info := Info{Method: config.ConnectRemoteShell}
		if cfg.Net == config.NetNAT {
			info.Target = ep.HostIP
			info.Port = ep.SSHPort
			info.Command = []string{"ssh", "-p", strconv.Itoa(ep.SSHPort), cfg.User + "@" + ep.HostIP}
		} else {
			info.Target = ep.GuestIP
			info.Command = []string{"ssh", cfg.User + "@" + ep.GuestIP}
		}
		return info, []string{"-nographic", "-serial", "mon:stdio"}

	case config.ConnectRemoteDisplay:
		info := Info{
			Method: config.ConnectRemoteDisplay,
			Target: ep.HostIP,
			Port:   ep.DisplayPort,
			Command: []string{
				"remote-viewer", "-t", ep.ProcID,
				fmt.Sprintf("spice://%s", net.JoinHostPort(ep.HostIP, strconv.Itoa(ep.DisplayPort))),
			},
		}
		return info, []string{"-monitor", "stdio"}

	default:
		return Info{Method: config.ConnectLocalMonitor}, []string{"-monitor", "stdio"}
	}
}

// Manager waits for the guest and runs the hand-off command
type Manager struct {
	exec   shell.Executor
	logger zerolog.Logger

	Interval time.Duration
	Retries  int
}

func NewManager(exec shell.Executor, logger zerolog.Logger) *Manager {
	return &Manager{
		exec:     exec,
		logger:   logger.With().Str("component", "connect-manager").Logger(),
		Interval: DefaultInterval,
		Retries:  DefaultRetries,
	}
}

// Connect waits for reachability (remote shell only) and starts the hand-off.
// A reachability timeout is logged and the hand-off is still attempted.
// With console set the hand-off takes over the current terminal.
func (m *Manager) Connect(ctx context.Context, info Info, console bool) error {
	if info.Method == config.ConnectRemoteShell {
		if info.Target == "" {
			m.logger.Warn().Msg("Guest address is unknown, skipping ssh hand-off")
			return nil
		}

		if err := m.WaitReachable(ctx, info.Target); err != nil {
			if ctx.Err() != nil {
				return err
			}
			m.logger.Warn().Err(err).Str("target", info.Target).Msg("SSH connection timed out")
		}
	}

	if len(info.Command) == 0 {
		return nil
	}

	m.logger.Info().Str("method", string(info.Method)).Strs("command", info.Command).Msg("Connecting")

	if console {
		if _, err := m.exec.RunConsole(ctx, info.Command); err != nil {
			return errors.Errorf("running %s hand-off: %w", info.Method, err)
		}
		return nil
	}

	if err := m.exec.Start(ctx, info.Command); err != nil {
		return errors.Errorf("starting %s hand-off: %w", info.Method, err)
	}
	return nil
}

// WaitReachable pings host until it answers or the retries are exhausted
func (m *Manager) WaitReachable(ctx context.Context, host string) error {
	m.logger.Info().Str("host", host).Msg("Waiting for SSH")

	return poll.Until(ctx, m.Interval, m.Retries, func(ctx context.Context) bool {
		res, err := m.exec.Run(ctx, []string{"ping", "-c", "1", host})
		return err == nil && res.Success()
	})
}

// KnownHostName is the known_hosts entry for host and port; port 0 means the default
func KnownHostName(host string, port int) string {
	if port == 0 {
		return knownhosts.Normalize(host)
	}
	return knownhosts.Normalize(net.JoinHostPort(host, strconv.Itoa(port)))
}

// ForgetHost removes the guest's host key so a reinstalled guest does not trip
// StrictHostKeyChecking. Failures are logged only.
func (m *Manager) ForgetHost(ctx context.Context, host string, port int) {
	if host == "" {
		m.logger.Debug().Msg("No host to forget")
		return
	}

	name := KnownHostName(host, port)
	if _, err := m.exec.Run(ctx, []string{"ssh-keygen", "-R", name}); err != nil {
		m.logger.Warn().Err(err).Str("host", name).Msg("Removing known host failed")
		return
	}

	m.logger.Info().Str("host", name).Msg("Removed known host")
}
