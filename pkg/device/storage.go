package device

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/walteh/qlaunch/pkg/config"
)

// Kernel boots a Linux kernel directly
type Kernel struct{}

func (*Kernel) Name() string { return "kernel" }

func (*Kernel) Configure(ctx context.Context, cfg config.Config, env *Environment, params *Params) error {
	kernel := env.Media.Kernel
	if kernel == "" {
		return nil
	}

	params.Add("-kernel", kernel)

	initrd := cfg.Initrd
	if initrd == "" {
		initrd = strings.Replace(kernel, "vmlinuz", "initrd.img", 1)
	}
	if _, err := os.Stat(initrd); err == nil {
		params.Add("-initrd", initrd)
	}

	root := cfg.RootDev
	if root == "" {
		root = "sda1"
		if len(env.Media.Boot) > 0 && strings.Contains(env.Media.Boot[0], ".img") {
			root = "sda"
		}
	}

	console := "vga=0x300"
	if cfg.Connect == config.ConnectRemoteShell {
		console = "console=ttyS0"
	}

	params.Add("-append", fmt.Sprintf("root=/dev/%s %s", root, console))
	return nil
}

// Disks attaches disk images and block devices, picking a template by suffix
type Disks struct{}

func (*Disks) Name() string { return "disks" }

func (*Disks) Configure(ctx context.Context, cfg config.Config, env *Environment, params *Params) error {
	scsi := false
	for _, image := range env.Media.Disks {
		i := params.NextDrive()

		lower := strings.ToLower(image)
		switch {
		case strings.HasSuffix(lower, ".qcow2"):
			params.Drive(fmt.Sprintf("file=%s,cache=writeback,id=drive-%d", image, i))
		case strings.HasSuffix(lower, ".vhdx"):
			params.Drive(fmt.Sprintf("file=%s,if=none,id=drive-%d", image, i))
			params.Device(fmt.Sprintf("nvme,drive=drive-%d,serial=nvme-%d", i, i))
		default:
			// raw disks share one virtio-scsi controller and its io thread
			if !scsi {
				params.Add("-object", "iothread,id=iothread0")
				params.Device("virtio-scsi-pci,id=scsi0,iothread=iothread0")
				scsi = true
			}
			params.Drive(fmt.Sprintf("file=%s,if=none,format=raw,discard=unmap,aio=native,cache=none,id=drive-%d", image, i))
			params.Device(fmt.Sprintf("scsi-hd,scsi-id=%d,drive=drive-%d,id=scsi0-%d", i, i, i))
		}
	}
	return nil
}

// CDROM attaches ISO images; it shares the drive index with Disks
type CDROM struct{}

func (*CDROM) Name() string { return "cdrom" }

func (*CDROM) Configure(ctx context.Context, cfg config.Config, env *Environment, params *Params) error {
	iface := "none"
	if cfg.Arch == config.ArchX86_64 {
		iface = "ide"
	}

	for _, image := range env.Media.CDROMs {
		i := params.NextDrive()
		params.Drive(fmt.Sprintf("file=%s,media=cdrom,readonly=on,if=%s,index=%d,id=cdrom%d", image, iface, i, i))
		if cfg.Arch != config.ArchX86_64 {
			params.Device(fmt.Sprintf("usb-storage,drive=cdrom%d", i))
		}
	}
	return nil
}
