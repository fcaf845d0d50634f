// Package process decides between spawning a VM and attaching to a running one.
package process

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/walteh/qlaunch/pkg/config"
	"github.com/walteh/qlaunch/pkg/poll"
	"github.com/walteh/qlaunch/pkg/shell"
	"github.com/walteh/qlaunch/pkg/terminal"
	"gitlab.com/tozd/go/errors"
)

// ErrSpawnFailed is returned when the VM process exits non-zero.
var ErrSpawnFailed = errors.Base("vm process failed")

// DefaultProbeInterval separates process-table checks
const DefaultProbeInterval = 5 * time.Second

// Controller owns the VM process lifecycle: NotRunning -> spawn -> Running, Running -> attach
type Controller struct {
	exec       shell.Executor
	term       terminal.Terminal
	privileged bool
	logger     zerolog.Logger

	Interval time.Duration
}

func NewController(exec shell.Executor, term terminal.Terminal, privileged bool, logger zerolog.Logger) *Controller {
	return &Controller{
		exec:       exec,
		term:       term,
		privileged: privileged,
		logger:     logger.With().Str("component", "process-controller").Logger(),
		Interval:   DefaultProbeInterval,
	}
}

// Privileged reports whether spawned commands are prefixed with sudo
func (c *Controller) Privileged() bool {
	return c.privileged
}

// IsRunning looks procID up in the process table by exact title, retrying up to
// retries more times. Exhausted retries and probe failures both mean not running.
func (c *Controller) IsRunning(ctx context.Context, procID string, retries int) bool {
	err := poll.Until(ctx, c.Interval, retries, func(ctx context.Context) bool {
		res, err := c.exec.Run(ctx, []string{"ps", "-C", procID})
		return err == nil && res.Success()
	})
	if err != nil {
		c.logger.Debug().Err(err).Str("procid", procID).Msg("VM process not found")
		return false
	}

	c.logger.Info().Str("procid", procID).Msg("VM process is already running")
	return true
}

// Binary resolves the emulator for cfg.Arch, preferring the user-local build
func Binary(cfg config.Config) string {
	name := "qemu-system-" + string(cfg.Arch)
	if cfg.SystemBinary {
		return name
	}
	return filepath.Join(cfg.Home, "qemu", "bin", name)
}

// Command assembles the full VM command: privilege prefix, terminal wrapper, binary and parameters
func (c *Controller) Command(procID, binary string, params []string) []string {
	argv := append([]string{binary}, params...)
	return c.term.Wrap(procID, c.privileged, argv)
}

// Spawn runs argv and waits for it. console hands the foreground terminal to the
// process instead of capturing its output. A non-zero exit is ErrSpawnFailed.
func (c *Controller) Spawn(ctx context.Context, argv []string, console bool) error {
	c.logger.Info().Str("command", shell.Join(argv)).Bool("console", console).Msg("Starting VM")

	var (
		res shell.Result
		err error
	)
	if console {
		res, err = c.exec.RunConsole(ctx, argv)
	} else {
		res, err = c.exec.Run(ctx, argv)
	}

	if err != nil {
		c.logger.Error().Int("exit", res.ExitCode).Str("output", res.Output).Msg("VM execution failed")
		return errors.Errorf("%w: %s", ErrSpawnFailed, err)
	}

	return nil
}
