package device

import (
	"context"
	"fmt"

	"github.com/walteh/qlaunch/pkg/config"
	"github.com/walteh/qlaunch/pkg/monitor"
)

const hvciCPU = "Skylake-Client-v3,hv_stimer,hv_synic,hv_relaxed,hv_reenlightenment,hv_spinlocks=0xfff," +
	"hv_vpindex,hv_vapic,hv_time,hv_frequencies,hv_runtime,+kvm_pv_unhalt,+vmx"

// Machine names the VM and sets the machine type, CPU and memory
type Machine struct{}

func (*Machine) Name() string { return "machine" }

func (*Machine) Configure(ctx context.Context, cfg config.Config, env *Environment, params *Params) error {
	id := env.Identity
	params.Add("-name", fmt.Sprintf("%s,process=%s", id.Name, id.ProcID))

	if u, err := id.UUID(); err == nil {
		params.Add("-uuid", u.String())
	}

	if env.QMPSocket != "" {
		params.Add(monitor.Tokens(env.QMPSocket)...)
	}

	switch cfg.Arch {
	case config.ArchX86_64:
		params.Add("-machine", fmt.Sprintf("type=%s,accel=kvm,usb=on", cfg.Machine))
		params.Device("intel-iommu")
		if cfg.HVCI {
			params.Add("-cpu", hvciCPU)
		} else {
			params.Add("-cpu", "host")
		}
		params.Add("-enable-kvm")
		params.Add("-object", "rng-random,id=rng0,filename=/dev/urandom")
		params.Device("virtio-rng-pci,rng=rng0")
		if !cfg.HVCI && cfg.Vendor != "" {
			params.Add("-smbios", fmt.Sprintf("type=1,manufacturer=%s,product=%s Notebook PC", cfg.Vendor, cfg.Vendor))
		}
	case config.ArchRISCV64:
		params.Add("-machine", "virt", "-bios", "none")
	case config.ArchARM:
		params.Add("-machine", "virt", "-cpu", "cortex-a53")
		params.Device("ramfb")
	case config.ArchAArch64:
		params.Add("-machine", "virt,virtualization=true", "-cpu", "cortex-a72")
		params.Device("ramfb")
	}

	cores := max(env.CPUs/2, 1)
	params.Add(
		"-m", env.Memory,
		"-smp", fmt.Sprintf("%d,sockets=1,cores=%d,threads=1", cores, cores),
		"-nodefaults",
		"-rtc", "base=localtime",
	)

	return nil
}

// UEFI selects the firmware code and variable store
type UEFI struct{}

func (*UEFI) Name() string { return "uefi" }

func (*UEFI) Configure(ctx context.Context, cfg config.Config, env *Environment, params *Params) error {
	switch cfg.Arch {
	case config.ArchX86_64:
		params.Drive(fmt.Sprintf("if=pflash,format=raw,readonly=on,file=/usr/share/OVMF/OVMF_CODE_4M%s.fd", cfg.SecureBootSuffix()))
		params.Drive(fmt.Sprintf("if=pflash,format=raw,file=%s/vm/OVMF_VARS_4M.ms%s.fd", cfg.Home, env.Media.BootType))
	case config.ArchAArch64:
		params.Drive(fmt.Sprintf("if=pflash,format=raw,readonly=on,file=%s/qemu/share/qemu/edk2-aarch64-code.fd", cfg.Home))
		params.Drive(fmt.Sprintf("if=pflash,format=raw,file=%s/vm/edk2-arm-vars.fd", cfg.Home))
	}
	return nil
}
