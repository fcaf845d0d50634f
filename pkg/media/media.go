// Package media classifies boot media into disks, NVMe controllers, CD-ROMs and a kernel.
package media

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/walteh/qlaunch/pkg/config"
	"github.com/walteh/qlaunch/pkg/shell"
	"gitlab.com/tozd/go/errors"
)

var diskExtensions = map[string]bool{
	".img":   true,
	".qcow2": true,
	".vhdx":  true,
}

// Set is the classified boot media of one launch
type Set struct {
	Disks  []string
	CDROMs []string
	NVMe   []config.NVMeSpec
	Kernel string

	// Boot is the ordered identity input: disks, NVMe specs, CD-ROMs, kernel.
	Boot []string
	// BootType is "1" when the first boot device is an emulated NVMe controller.
	BootType string
}

// Resolve expands disk-model selectors, classifies every medium and builds the boot list
func Resolve(ctx context.Context, exec shell.Executor, cfg config.Config) (Set, error) {
	logger := zerolog.Ctx(ctx)

	set := Set{Kernel: cfg.Kernel}
	nvme := append([]string{}, cfg.NVMe...)

	for _, item := range cfg.Media {
		if config.IsNVMeSpec(item) {
			nvme = append(nvme, item)
			continue
		}

		info, err := os.Stat(item)
		if err != nil {
			if strings.Contains(item, "vmlinuz") && set.Kernel == "" {
				set.Kernel = item
				continue
			}
			logger.Warn().Str("media", item).Err(err).Msg("Ignoring missing boot media")
			continue
		}

		ext := strings.ToLower(filepath.Ext(item))
		switch {
		case isBlockDevice(info):
			set.Disks = append(set.Disks, item)
		case diskExtensions[ext]:
			set.Disks = append(set.Disks, item)
		case ext == ".iso":
			set.CDROMs = append(set.CDROMs, item)
		case strings.Contains(item, "vmlinuz") && set.Kernel == "":
			set.Kernel = item
		default:
			logger.Warn().Str("media", item).Msg("Ignoring unrecognised boot media")
		}
	}

	// selector matches come from lsblk and are block devices by construction
	for _, selector := range cfg.Disks {
		set.Disks = append(set.Disks, lookupDisks(ctx, exec, selector)...)
	}

	for _, raw := range nvme {
		spec, err := config.ParseNVMeSpec(raw, cfg)
		if err != nil {
			return Set{}, err
		}
		set.NVMe = append(set.NVMe, spec)
	}

	set.Boot = append(set.Boot, set.Disks...)
	set.Boot = append(set.Boot, nvme...)
	set.Boot = append(set.Boot, set.CDROMs...)
	if set.Kernel != "" {
		set.Boot = append(set.Boot, set.Kernel)
	}

	logger.Info().
		Strs("disks", set.Disks).
		Strs("cdroms", set.CDROMs).
		Strs("nvme", nvme).
		Str("kernel", set.Kernel).
		Strs("boot", set.Boot).
		Msg("Resolved boot media")

	if len(set.Boot) == 0 {
		return Set{}, errors.Errorf("%w: no boot device", config.ErrConfiguration)
	}

	if len(nvme) > 0 && nvme[0] == set.Boot[0] {
		set.BootType = "1"
	}

	return set, nil
}

// lookupDisks resolves a model[:part...] selector to block device paths through lsblk.
// Each matching device consumes the next partition suffix; lookup failures yield nothing.
func lookupDisks(ctx context.Context, exec shell.Executor, selector string) []string {
	logger := zerolog.Ctx(ctx)

	res, err := exec.Run(ctx, []string{"lsblk", "-d", "-o", "NAME,MODEL,SERIAL", "--sort", "NAME", "-n", "-e7"})
	if err != nil {
		logger.Warn().Err(err).Str("selector", selector).Msg("Listing block devices failed")
		return nil
	}

	parts := strings.Split(strings.ToLower(selector), ":")
	model, parts := parts[0], parts[1:]

	var devices []string
	for _, line := range strings.Split(res.Output, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || !strings.Contains(strings.ToLower(line), model) {
			continue
		}

		part := ""
		if len(parts) > 0 {
			part, parts = parts[0], parts[1:]
		}
		devices = append(devices, "/dev/"+fields[0]+part)
	}

	logger.Debug().Str("selector", selector).Strs("devices", devices).Msg("Resolved disk selector")
	return devices
}

func isBlockDevice(info os.FileInfo) bool {
	mode := info.Mode()
	return mode&os.ModeDevice != 0 && mode&os.ModeCharDevice == 0
}
