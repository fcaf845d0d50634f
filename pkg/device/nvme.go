package device

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/walteh/qlaunch/pkg/config"
	"github.com/walteh/qlaunch/pkg/shell"
	"gitlab.com/tozd/go/errors"
)

const (
	fdpSubsystem = ",fdp=on,fdp.runs=96M,fdp.nrg=1,fdp.nruh=16"
	fdpNamespace = ",fdp.ruhs=1-15,mcl=2048,mssrl=256,msrc=7"
	sriovSuffix  = ",msix_qsize=512,sriov_max_vfs=%d,sriov_vq_flexible=508,sriov_vi_flexible=510"
	sriovDetach  = ",shared=false,detached=true"

	// sriovQueues is the minimum queue count that fits the flexible queue pool
	sriovQueues = 512
)

// NVMe builds an emulated PCIe NVMe topology: one root port and upstream switch,
// then a downstream port, subsystem and controller per spec, then its namespaces.
type NVMe struct {
	exec    shell.Executor
	workDir string
}

func (*NVMe) Name() string { return "nvme" }

func (n *NVMe) Configure(ctx context.Context, cfg config.Config, env *Environment, params *Params) error {
	specs := env.Media.NVMe
	if len(specs) == 0 {
		return nil
	}

	params.Device("ioh3420,bus=pcie.0,id=root1.0,slot=1")
	params.Device("x3130-upstream,bus=root1.0,id=upstream1.0")

	for _, spec := range specs {
		ctrl := params.NextController()
		n.controller(cfg, spec, ctrl, params)

		for nsid := 1; nsid <= spec.Namespaces; nsid++ {
			if err := n.namespace(ctx, cfg, spec, nsid, params); err != nil {
				return err
			}
		}
	}

	events := filepath.Join(n.workDir, "events")
	if _, err := os.Stat(events); err == nil {
		params.Add("--trace", "events="+events)
	}

	return nil
}

func (n *NVMe) controller(cfg config.Config, spec config.NVMeSpec, ctrl int, params *Params) {
	subsys := fmt.Sprintf("nvme-subsys,id=nvme-subsys-%d,nqn=subsys%d", ctrl, ctrl)
	if spec.FDP {
		subsys += fdpSubsystem
	}

	queues := cfg.Queues
	if spec.SRIOV {
		queues = max(queues, sriovQueues)
	}

	ctl := fmt.Sprintf("nvme,serial=beef%s,ocp=on,id=%s,subsys=nvme-subsys-%d,bus=downstream1.%d,max_ioqpairs=%d",
		spec.ID, spec.ID, ctrl, ctrl, queues)
	if cfg.DeviceID != "" {
		ctl += ",did=" + cfg.DeviceID
	}
	if cfg.ModelName != "" {
		ctl += ",mn=" + cfg.ModelName
	}
	if spec.SRIOV {
		ctl += fmt.Sprintf(sriovSuffix, spec.Namespaces)
	}

	params.Device(fmt.Sprintf("xio3130-downstream,bus=upstream1.0,id=downstream1.%d,chassis=%d,multifunction=on", ctrl, ctrl))
	params.Device(subsys)
	params.Device(ctl)
}

// namespace emits the drive and nvme-ns tokens for one namespace. A backing file
// held open by another process is skipped without error.
func (n *NVMe) namespace(ctx context.Context, cfg config.Config, spec config.NVMeSpec, nsid int, params *Params) error {
	logger := zerolog.Ctx(ctx)
	file := filepath.Join(cfg.NVMeDir, fmt.Sprintf("%sn%d.qcow2", spec.ID, nsid))

	if err := n.ensureImage(ctx, file, spec.SizeGB); err != nil {
		return err
	}

	if n.held(ctx, file) {
		logger.Warn().Str("file", file).Int("nsid", nsid).Msg("Namespace image is in use, skipping")
		return nil
	}

	suffix := ""
	if spec.FDP && nsid == 1 {
		suffix += fdpNamespace
	}
	if spec.SRIOV {
		suffix += sriovDetach
	}

	drive := fmt.Sprintf("%s%d", spec.ID, nsid)
	params.Drive(fmt.Sprintf("file=%s,id=%s,if=none,cache=none", file, drive))
	params.Device(fmt.Sprintf("nvme-ns,drive=%s,bus=%s,nsid=%d%s", drive, spec.ID, nsid, suffix))
	return nil
}

// ensureImage creates a qcow2 image of sizeGB unless file already exists
func (n *NVMe) ensureImage(ctx context.Context, file string, sizeGB int) error {
	if _, err := os.Stat(file); err == nil {
		return nil
	}

	zerolog.Ctx(ctx).Info().Str("file", file).Int("size_gb", sizeGB).Msg("Creating namespace image")

	_, err := n.exec.Run(ctx, []string{"qemu-img", "create", "-f", "qcow2", file, fmt.Sprintf("%dG", sizeGB)})
	if err != nil {
		return errors.Errorf("creating namespace image %s: %w", file, err)
	}
	return nil
}

// held reports whether lsof finds another process holding file open
func (n *NVMe) held(ctx context.Context, file string) bool {
	res, err := n.exec.Run(ctx, []string{"lsof", "-w", file})
	return err == nil && res.Success()
}
