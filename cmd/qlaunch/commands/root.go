package commands

import (
	"context"
	"fmt"
	"runtime"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/walteh/qlaunch/pkg/config"
	"github.com/walteh/qlaunch/pkg/launcher"
	"gitlab.com/tozd/go/errors"
)

// RunFunc receives the validated configuration of one invocation
type RunFunc func(ctx context.Context, cfg config.Config) error

// Launch is the RunFunc used by the qlaunch binary
func Launch(ctx context.Context, cfg config.Config) error {
	deps, err := launcher.DefaultDeps(cfg)
	if err != nil {
		return err
	}
	return launcher.New(cfg, deps, *zerolog.Ctx(ctx)).Launch(ctx, cfg)
}

type options struct {
	cfg        config.Config
	arch       string
	connect    string
	net        string
	configFile string
}

// NewRootCmd builds the qlaunch command. Flag values are layered over the
// defaults file and handed to run once validated.
func NewRootCmd(run RunFunc) *cobra.Command {
	opts := &options{cfg: config.Default()}

	cmd := &cobra.Command{
		Use:   "qlaunch [flags] IMAGES...",
		Short: "Launch or attach to a QEMU virtual machine",
		Long: `qlaunch starts a QEMU virtual machine from disk images, ISO files,
NVMe specs (nvme0, nvme1:4) or a kernel, and connects to it over ssh,
spice or the local monitor. Running it again for the same boot media
attaches to the running VM instead of starting a second one.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configFile
			if path == "" {
				path = config.DefaultFile(opts.cfg.Home)
			}
			return config.ApplyFile(path, cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.cfg.Media = append(opts.cfg.Media, args...)
			opts.cfg.Arch = config.Arch(opts.arch)
			opts.cfg.Connect = config.ConnectMode(opts.connect)
			opts.cfg.Net = config.NetMode(opts.net)

			cfg, err := opts.cfg.Validate()
			if err != nil {
				return err
			}

			logger := zerolog.Ctx(cmd.Context()).Level(Level(cfg.Debug))
			ctx := logger.WithContext(cmd.Context())

			if cfg.DryRun() {
				logger.Info().Msg("Dry run: commands are printed, not executed")
			}
			if err := run(ctx, cfg); err != nil {
				return errors.Errorf("launching VM: %w", err)
			}
			return nil
		},
	}

	c := &opts.cfg
	flags := cmd.Flags()

	flags.StringVar(&opts.configFile, "config", "", "defaults file (YAML keyed by flag name, default ~/.config/qlaunch/config.yaml)")
	flags.BoolVarP(&c.SystemBinary, "qemu", "q", false, "use the qemu-system binary from PATH instead of ~/qemu/bin")
	flags.StringVarP(&opts.arch, "arch", "a", string(c.Arch), "target VM architecture: x86_64, aarch64, arm, riscv64")
	flags.StringVarP(&c.Debug, "debug", "d", c.Debug, "log level: cmd (print commands only), debug, info, warning")
	flags.Lookup("debug").NoOptDefVal = config.LevelInfo

	flags.StringSliceVar(&c.NVMe, "nvme", nil, "NVMe controllers as nvme<N>[:<namespaces>]")
	flags.StringSliceVar(&c.Disks, "disk", nil, "host disks by model as model[:part...], resolved with lsblk")
	flags.StringVar(&c.Kernel, "kernel", "", "Linux kernel image")
	flags.StringVar(&c.RootDev, "rootdev", "", "root filesystem device passed on the kernel command line")
	flags.StringVar(&c.Initrd, "initrd", "", "initrd image")

	flags.IntVar(&c.Namespaces, "numns", c.Namespaces, "number of namespaces per NVMe controller")
	flags.IntVar(&c.NamespaceSizeGB, "nssize", c.NamespaceSizeGB, "size of each NVMe namespace in GiB")
	flags.IntVar(&c.Queues, "num-queues", c.Queues, "max I/O queue pairs per NVMe controller")
	flags.BoolVar(&c.SRIOV, "sriov", false, "enable SR-IOV on NVMe controllers")
	flags.BoolVar(&c.FDP, "fdp", false, "enable flexible data placement on NVMe subsystems")
	flags.StringVar(&c.DeviceID, "did", "", "NVMe PCI device id (decimal or 0x hex)")
	flags.StringVar(&c.ModelName, "mn", "", "NVMe model name")

	flags.StringVarP(&opts.connect, "connect", "c", string(c.Connect), "hand-off: remote-shell (ssh), remote-display (spice), local-monitor (qemu)")
	flags.StringVarP(&opts.net, "net", "n", string(c.Net), "network backend: nat (user), tap, bridge")
	flags.StringVarP(&c.User, "user", "u", c.User, "guest login for ssh")
	flags.StringVar(&c.GuestIP, "ip", "", "guest address, skips the DHCP lease lookup")

	flags.BoolVar(&c.NoShare, "noshare", false, "do not export the home directory through virtiofs")
	flags.BoolVar(&c.NoUSB, "nousb", false, "do not add USB controllers")
	flags.BoolVar(&c.TPM, "tpm", false, "pass the host TPM through")
	flags.StringVar(&c.USBStick, "stick", "", "raw image or device attached as a USB stick")
	flags.StringSliceVar(&c.PCIDevices, "pci", nil, "host PCI functions passed through with vfio (BDF)")

	flags.BoolVar(&c.Console, "console", false, "run in the current terminal instead of a new window")
	flags.BoolVar(&c.RemoveKnownHost, "rmssh", false, "forget the guest host key and port reservation")

	flags.StringVar(&c.Machine, "machine", c.Machine, "x86_64 machine type")
	flags.StringVar(&c.VGA, "vga", c.VGA, "x86_64 display adapter")
	flags.BoolVar(&c.SecureBoot, "secboot", false, "use secure boot firmware")
	flags.BoolVar(&c.HVCI, "hvci", false, "use a cpu model that supports hypervisor-enforced code integrity")
	flags.StringVar(&c.Vendor, "vendor", "", "SMBIOS vendor string")
	flags.StringVar(&c.Extra, "ext", "", "extra emulator parameters, split shell-style")

	flags.StringVar(&c.Terminal, "terminal", c.Terminal, "window for spawned commands: gnome, tmux, none")
	flags.StringVar(&c.RunDir, "rundir", c.RunDir, "directory for port files and sockets")
	flags.StringVar(&c.NVMeDir, "nvmedir", c.NVMeDir, "directory for NVMe namespace images")
	flags.IntVar(&c.ProbeRetries, "retries", c.ProbeRetries, "extra checks for an already running VM")

	return cmd
}

// Level maps a --debug value to a zerolog level
func Level(debug string) zerolog.Level {
	switch debug {
	case config.LevelDebug:
		return zerolog.DebugLevel
	case config.LevelInfo, config.LevelCommand:
		return zerolog.InfoLevel
	default:
		return zerolog.WarnLevel
	}
}

type stackTracer interface {
	StackTrace() []uintptr
}

// ExitCode logs the outcome of a run and returns the process exit status.
// Interruption is not a failure.
func ExitCode(ctx context.Context, logger zerolog.Logger, err error) int {
	if err == nil {
		return 0
	}

	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		logger.Info().Msg("Interrupted")
		return 0
	}

	event := logger.Error().Err(err)
	if frames := Frames(err, 3); len(frames) > 0 {
		event = event.Strs("stack", frames)
	}
	event.Msg("qlaunch failed")
	return 1
}

// Frames returns up to limit "function file:line" entries from the innermost stack trace of err
func Frames(err error, limit int) []string {
	var pcs []uintptr
	for e := err; e != nil; e = errors.Unwrap(e) {
		if st, ok := e.(stackTracer); ok {
			pcs = st.StackTrace()
		}
	}
	if len(pcs) == 0 {
		return nil
	}

	var out []string
	frames := runtime.CallersFrames(pcs)
	for len(out) < limit {
		frame, more := frames.Next()
		if frame.Function != "" {
			out = append(out, fmt.Sprintf("%s %s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}
	return out
}
