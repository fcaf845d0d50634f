package shell_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walteh/qlaunch/pkg/shell"
	"github.com/walteh/qlaunch/pkg/shell/shelltest"
	"gitlab.com/tozd/go/errors"
)

func TestJoin(t *testing.T) {
	argv := []string{"qemu-system-x86_64", "-name", "vm,process=vm_ab", "-append", "root=/dev/sda console=ttyS0"}
	assert.Equal(t, `qemu-system-x86_64 -name 'vm,process=vm_ab' -append 'root=/dev/sda console=ttyS0'`, shell.Join(argv))
	assert.Equal(t, `remote-viewer -t vm_ab spice://10.0.0.2:5901`,
		shell.Join([]string{"remote-viewer", "-t", "vm_ab", "spice://10.0.0.2:5901"}), "plain tokens stay unquoted")
}

func TestSplit(t *testing.T) {
	t.Setenv("QLAUNCH_TEST_DIR", "/srv/share")

	fields, err := shell.Split(`-device virtio-rng-pci -append "root=/dev/vda quiet" -virtfs path=$QLAUNCH_TEST_DIR`)
	require.NoError(t, err, "should split extra parameters")
	assert.Equal(t, []string{"-device", "virtio-rng-pci", "-append", "root=/dev/vda quiet", "-virtfs", "path=/srv/share"}, fields)

	fields, err = shell.Split("   ")
	require.NoError(t, err)
	assert.Empty(t, fields, "blank input should produce no tokens")

	_, err = shell.Split(`-append "unterminated`)
	assert.Error(t, err, "unbalanced quotes should fail")
}

func TestRunner(t *testing.T) {
	ctx := zerolog.Nop().WithContext(context.Background())
	runner := shell.NewRunner()

	t.Run("Success", func(t *testing.T) {
		res, err := runner.Run(ctx, []string{"sh", "-c", "echo hello"})
		require.NoError(t, err, "should run command")
		assert.True(t, res.Success())
		assert.Equal(t, "hello", res.Output)
	})

	t.Run("NonZeroExit", func(t *testing.T) {
		res, err := runner.Run(ctx, []string{"sh", "-c", "exit 3"})
		require.Error(t, err, "non-zero exit should be an error")
		assert.True(t, errors.Is(err, shell.ErrExternalProcess))
		assert.Equal(t, 3, res.ExitCode)
	})

	t.Run("MissingBinary", func(t *testing.T) {
		res, err := runner.Run(ctx, []string{"/nonexistent/qlaunch-binary"})
		require.Error(t, err)
		assert.Equal(t, -1, res.ExitCode)
	})

	t.Run("EmptyCommand", func(t *testing.T) {
		_, err := runner.Run(ctx, nil)
		assert.True(t, errors.Is(err, shell.ErrExternalProcess))
	})
}

func TestFakeExecutor(t *testing.T) {
	ctx := context.Background()
	fake := shelltest.New().
		Respond(1, "", "ps").
		Respond(0, "1234 qemu", "ps", "-C", "running_01")

	_, err := fake.Run(ctx, []string{"ps", "-C", "other_02"})
	assert.True(t, errors.Is(err, shell.ErrExternalProcess), "generic rule should apply")

	res, err := fake.Run(ctx, []string{"ps", "-C", "running_01"})
	require.NoError(t, err, "more specific later rule should win")
	assert.Equal(t, "1234 qemu", res.Output)

	require.NoError(t, fake.Start(ctx, []string{"virtiofsd", "--socket-path=/tmp/x.sock"}))

	assert.Equal(t, 2, fake.Count("ps"))
	assert.Len(t, fake.Find("socket-path"), 1)
	assert.Equal(t, "start", fake.Calls()[2].Method)
}
