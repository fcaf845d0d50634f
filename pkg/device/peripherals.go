package device

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/walteh/qlaunch/pkg/config"
	"github.com/walteh/qlaunch/pkg/connect"
	"github.com/walteh/qlaunch/pkg/shell"
	"gitlab.com/tozd/go/errors"
)

// TPM passes the host TPM through to the guest
type TPM struct{}

func (*TPM) Name() string { return "tpm" }

func (*TPM) Configure(ctx context.Context, cfg config.Config, env *Environment, params *Params) error {
	if !cfg.TPM {
		return nil
	}

	cancel := filepath.Join(cfg.RunDir, "tpm-cancel-"+env.Identity.ShortUID)
	f, err := os.OpenFile(cancel, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Errorf("creating tpm cancel file: %w", err)
	}
	_ = f.Close()

	params.Add("-tpmdev", "passthrough,id=tpm0,path=/dev/tpm0,cancel-path="+cancel)
	params.Device("tpm-tis,tpmdev=tpm0")
	return nil
}

// USB adds the USB controllers, spice redirection and host passthrough
type USB struct{}

func (*USB) Name() string { return "usb" }

func (*USB) Configure(ctx context.Context, cfg config.Config, env *Environment, params *Params) error {
	if cfg.NoUSB {
		return nil
	}

	if cfg.Arch != config.ArchX86_64 {
		params.Device("qemu-xhci,id=usb3")
		params.Device("usb-kbd")
		params.Device("usb-tablet")
		return nil
	}

	params.Device("qemu-xhci,id=xhci1")
	for i := 1; i <= 3; i++ {
		params.Add("-chardev", fmt.Sprintf("spicevmc,name=usbredir,id=usbredirchardev%d", i))
		params.Device(fmt.Sprintf("usb-redir,bus=xhci1.0,chardev=usbredirchardev%d,id=usbredirdev%d", i, i))
	}
	params.Device("qemu-xhci,id=xhci2")
	params.Device("usb-host,bus=xhci2.0,vendorid=0x04e8,productid=0x6860")
	return nil
}

// USBStorage attaches a raw image or device as a USB stick
type USBStorage struct{}

func (*USBStorage) Name() string { return "usb-storage" }

func (*USBStorage) Configure(ctx context.Context, cfg config.Config, env *Environment, params *Params) error {
	if cfg.USBStick == "" {
		return nil
	}

	if _, err := os.Stat(cfg.USBStick); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("stick", cfg.USBStick).Msg("USB stick not found, skipping")
		return nil
	}

	params.Drive(fmt.Sprintf("file=%s,if=none,format=raw,id=stick0", cfg.USBStick))
	params.Device("usb-storage,drive=stick0")
	return nil
}

// PCIPassthrough hands host PCI functions to the guest through vfio
type PCIPassthrough struct{}

func (*PCIPassthrough) Name() string { return "pci-passthrough" }

func (*PCIPassthrough) Configure(ctx context.Context, cfg config.Config, env *Environment, params *Params) error {
	for _, bdf := range cfg.PCIDevices {
		params.Device("vfio-pci,host=" + bdf)
	}
	return nil
}

// Extra appends user supplied parameters, split shell-style
type Extra struct{}

func (*Extra) Name() string { return "extra" }

func (*Extra) Configure(ctx context.Context, cfg config.Config, env *Environment, params *Params) error {
	tokens, err := shell.Split(cfg.Extra)
	if err != nil {
		return errors.Errorf("%w: extra parameters: %s", config.ErrConfiguration, err)
	}
	params.Add(tokens...)
	return nil
}

// Connect picks the hand-off strategy and adds its console tokens.
// It must run after Network, which fills in the addresses it reads.
type Connect struct{}

func (*Connect) Name() string { return "connect" }

func (*Connect) Configure(ctx context.Context, cfg config.Config, env *Environment, params *Params) error {
	info, tokens := connect.Plan(cfg, env.Endpoint())
	env.Connect = info
	params.Add(tokens...)
	return nil
}
