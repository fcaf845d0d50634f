package media_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walteh/qlaunch/pkg/config"
	"github.com/walteh/qlaunch/pkg/media"
	"github.com/walteh/qlaunch/pkg/shell/shelltest"
	"gitlab.com/tozd/go/errors"
)

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	return path
}

func TestResolve(t *testing.T) {
	ctx := zerolog.Nop().WithContext(context.Background())
	dir := t.TempDir()

	disk := touch(t, dir, "ubuntu.qcow2")
	iso := touch(t, dir, "installer.ISO")
	kernel := touch(t, dir, "vmlinuz-6.8")
	touch(t, dir, "notes.txt")

	cfg := config.Default()
	cfg.Media = []string{iso, "nvme1:2", disk, kernel, filepath.Join(dir, "notes.txt"), filepath.Join(dir, "missing.qcow2")}
	cfg.NVMe = []string{"nvme0"}

	set, err := media.Resolve(ctx, shelltest.New(), cfg)
	require.NoError(t, err, "should resolve media")

	assert.Equal(t, []string{disk}, set.Disks)
	assert.Equal(t, []string{iso}, set.CDROMs)
	assert.Equal(t, kernel, set.Kernel)
	require.Len(t, set.NVMe, 2)
	assert.Equal(t, "nvme0", set.NVMe[0].ID)
	assert.Equal(t, 2, set.NVMe[1].Namespaces)

	assert.Equal(t, []string{disk, "nvme0", "nvme1:2", iso, kernel}, set.Boot, "boot order is disks, nvme, cdroms, kernel")
	assert.Empty(t, set.BootType, "first boot device is not nvme")
}

func TestResolveNVMeBoot(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Media = []string{"nvme0"}

	set, err := media.Resolve(ctx, shelltest.New(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "1", set.BootType)
	assert.Equal(t, []string{"nvme0"}, set.Boot)
}

func TestResolveEmpty(t *testing.T) {
	cfg := config.Default()
	cfg.Media = []string{"/nonexistent/disk.qcow2"}

	_, err := media.Resolve(context.Background(), shelltest.New(), cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrConfiguration), "empty boot list is a configuration error")
}

func TestResolveDiskSelectors(t *testing.T) {
	exec := shelltest.New().Respond(0, "sda Samsung_SSD_870 S5Y1\nsdb WDC_WD40 WX12\nsdc Samsung_SSD_870 S5Y2",
		"lsblk")

	cfg := config.Default()
	cfg.Disks = []string{"samsung:1:2"}

	set, err := media.Resolve(context.Background(), exec, cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/sda1", "/dev/sdc2"}, set.Boot, "each match takes the next partition suffix")

	failing := shelltest.New().Respond(1, "", "lsblk")
	cfg.Media = []string{"nvme0"}
	set, err = media.Resolve(context.Background(), failing, cfg)
	require.NoError(t, err, "lsblk failure should not be fatal")
	assert.Equal(t, []string{"nvme0"}, set.Boot)
}
