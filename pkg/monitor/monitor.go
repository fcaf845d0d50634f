// Package monitor talks to a running guest through its QMP socket.
package monitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/digitalocean/go-qemu/qemu"
	"github.com/digitalocean/go-qemu/qmp"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// Status represents the guest run state
type Status int

const (
	StatusUnknown Status = iota
	StatusRunning
	StatusShutdown
	StatusPaused
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusShutdown:
		return "shutdown"
	case StatusPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// SocketPath is the QMP socket of procID inside runDir
func SocketPath(runDir, procID string) string {
	return filepath.Join(runDir, procID+"_qmp.sock")
}

// Tokens exposes a QMP server on path
func Tokens(path string) []string {
	return []string{"-qmp", fmt.Sprintf("unix:%s,server,nowait", path)}
}

// Prober queries guest state over QMP
type Prober struct {
	Timeout time.Duration
	logger  zerolog.Logger
}

func NewProber(logger zerolog.Logger) *Prober {
	return &Prober{
		Timeout: 2 * time.Second,
		logger:  logger.With().Str("component", "qmp-monitor").Logger(),
	}
}

// Status connects to the socket at path and reports the guest state
func (p *Prober) Status(ctx context.Context, path, name string) (Status, error) {
	if _, err := os.Stat(path); err != nil {
		return StatusUnknown, errors.Errorf("qmp socket %s: %w", path, err)
	}

	mon, err := qmp.NewSocketMonitor("unix", path, p.Timeout)
	if err != nil {
		return StatusUnknown, errors.Errorf("creating QMP monitor: %w", err)
	}

	if err := mon.Connect(); err != nil {
		return StatusUnknown, errors.Errorf("connecting to QMP at %s: %w", path, err)
	}

	domain, err := qemu.NewDomain(mon, name)
	if err != nil {
		_ = mon.Disconnect()
		return StatusUnknown, errors.Errorf("creating domain %s: %w", name, err)
	}
	defer domain.Close()

	status, err := domain.Status()
	if err != nil {
		return StatusUnknown, errors.Errorf("querying status of %s: %w", name, err)
	}

	return fromQEMU(status), nil
}

// Report logs the guest state; failures are logged at debug and never returned
func (p *Prober) Report(ctx context.Context, path, name string) Status {
	status, err := p.Status(ctx, path, name)
	if err != nil {
		p.logger.Debug().Err(err).Str("vm", name).Msg("QMP status unavailable")
		return StatusUnknown
	}

	p.logger.Info().Str("vm", name).Str("status", status.String()).Msg("Guest status")
	return status
}

func fromQEMU(s qemu.Status) Status {
	switch s {
	case qemu.StatusRunning:
		return StatusRunning
	case qemu.StatusPaused:
		return StatusPaused
	case qemu.StatusShutdown:
		return StatusShutdown
	default:
		return StatusUnknown
	}
}
