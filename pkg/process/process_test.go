package process_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walteh/qlaunch/pkg/config"
	"github.com/walteh/qlaunch/pkg/process"
	"github.com/walteh/qlaunch/pkg/shell/shelltest"
	"github.com/walteh/qlaunch/pkg/terminal"
	"gitlab.com/tozd/go/errors"
)

func newController(exec *shelltest.Executor, term terminal.Terminal) *process.Controller {
	c := process.NewController(exec, term, true, zerolog.Nop())
	c.Interval = time.Millisecond
	return c
}

func TestIsRunning(t *testing.T) {
	ctx := context.Background()

	t.Run("Running", func(t *testing.T) {
		exec := shelltest.New().Respond(0, "  PID TTY TIME CMD\n 4242 ? 00:01:02 ubuntu_74", "ps", "-C", "ubuntu_74")
		assert.True(t, newController(exec, terminal.None{}).IsRunning(ctx, "ubuntu_74", 0))
	})

	t.Run("NotRunningRetries", func(t *testing.T) {
		exec := shelltest.New().Respond(1, "", "ps")
		assert.False(t, newController(exec, terminal.None{}).IsRunning(ctx, "ubuntu_74", 2))
		assert.Equal(t, 3, exec.Count("ps", "-C", "ubuntu_74"), "should probe once plus retries")
	})
}

func TestBinary(t *testing.T) {
	cfg := config.Default()
	cfg.Home = "/home/dev"
	cfg.Arch = config.ArchAArch64

	assert.Equal(t, "/home/dev/qemu/bin/qemu-system-aarch64", process.Binary(cfg))

	cfg.SystemBinary = true
	assert.Equal(t, "qemu-system-aarch64", process.Binary(cfg))
}

func TestCommand(t *testing.T) {
	c := newController(shelltest.New(), terminal.Gnome{})
	argv := c.Command("ubuntu_74", "/home/dev/qemu/bin/qemu-system-x86_64", []string{"-m", "4G"})
	assert.Equal(t, []string{
		"sudo", "gnome-terminal", "--title=ubuntu_74", "--",
		"/home/dev/qemu/bin/qemu-system-x86_64", "-m", "4G",
	}, argv)
}

func TestSpawn(t *testing.T) {
	ctx := context.Background()

	exec := shelltest.New()
	c := newController(exec, terminal.None{})
	require.NoError(t, c.Spawn(ctx, []string{"qemu-system-x86_64"}, false))
	require.NoError(t, c.Spawn(ctx, []string{"qemu-system-x86_64"}, true))

	calls := exec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "run", calls[0].Method)
	assert.Equal(t, "console", calls[1].Method)

	failing := shelltest.New().Respond(1, "qemu: could not open disk", "qemu-system-x86_64")
	err := newController(failing, terminal.None{}).Spawn(ctx, []string{"qemu-system-x86_64"}, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, process.ErrSpawnFailed), "non-zero exit should be a spawn failure")
}
