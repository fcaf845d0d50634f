// Package launcher runs one VM launch from configuration to interactive hand-off.
package launcher

import (
	"context"
	"io"
	"os"
	"runtime"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/walteh/qlaunch/pkg/config"
	"github.com/walteh/qlaunch/pkg/connect"
	"github.com/walteh/qlaunch/pkg/device"
	"github.com/walteh/qlaunch/pkg/identity"
	"github.com/walteh/qlaunch/pkg/lease"
	"github.com/walteh/qlaunch/pkg/media"
	"github.com/walteh/qlaunch/pkg/monitor"
	"github.com/walteh/qlaunch/pkg/process"
	"github.com/walteh/qlaunch/pkg/resource"
	"github.com/walteh/qlaunch/pkg/shell"
	"github.com/walteh/qlaunch/pkg/terminal"
	"gitlab.com/tozd/go/errors"
)

// Deps are the host collaborators of a launch
type Deps struct {
	Exec       shell.Executor
	Terminal   terminal.Terminal
	Leases     lease.Source
	Privileged bool

	// Out receives dry-run commands.
	Out io.Writer
	// WorkDir is where an NVMe trace events file is looked up.
	WorkDir string
}

// DefaultDeps wires the real executor, the configured terminal and both lease sources
func DefaultDeps(cfg config.Config) (Deps, error) {
	exec := shell.NewRunner()

	term, err := terminal.New(cfg.Terminal, cfg.Console || cfg.Debug == config.LevelDebug)
	if err != nil {
		return Deps{}, err
	}

	return Deps{
		Exec:       exec,
		Terminal:   term,
		Leases:     lease.Chain{lease.NewLibvirt(), lease.NewVirsh(exec)},
		Privileged: terminal.Privileged(),
		Out:        os.Stdout,
		WorkDir:    ".",
	}, nil
}

// Plan is the outcome of Setup: what to run and how to reach the guest
type Plan struct {
	Env     *device.Environment
	Params  []string
	Running bool
	// Command is the full VM command; empty when attaching to a running VM.
	Command []string
}

// Launcher drives media -> identity -> resources -> composition -> spawn or attach -> connect
type Launcher struct {
	deps     Deps
	ports    *resource.PortStore
	composer *device.Composer
	process  *process.Controller
	connect  *connect.Manager
	monitor  *monitor.Prober
	logger   zerolog.Logger

	// Memory sizes the guest; replaceable for tests.
	Memory func(ctx context.Context) string
	CPUs   int
}

func New(cfg config.Config, deps Deps, logger zerolog.Logger) *Launcher {
	if deps.Out == nil {
		deps.Out = os.Stdout
	}

	ports := resource.NewPortStore(cfg.RunDir)

	return &Launcher{
		deps:  deps,
		ports: ports,
		composer: device.NewComposer(device.Tools{
			Exec:       deps.Exec,
			Ports:      ports,
			Leases:     deps.Leases,
			Terminal:   deps.Terminal,
			Privileged: deps.Privileged,
			WorkDir:    deps.WorkDir,
		}, logger),
		process: process.NewController(deps.Exec, deps.Terminal, deps.Privileged, logger),
		connect: connect.NewManager(deps.Exec, logger),
		monitor: monitor.NewProber(logger),
		logger:  logger.With().Str("component", "launcher").Logger(),
		Memory:  resource.MemorySize,
		CPUs:    runtime.NumCPU(),
	}
}

// Process exposes the process controller so callers can tune its polling
func (l *Launcher) Process() *process.Controller {
	return l.process
}

// Connector exposes the connection manager so callers can tune its polling
func (l *Launcher) Connector() *connect.Manager {
	return l.connect
}

// Launch sets the VM up and runs it
func (l *Launcher) Launch(ctx context.Context, cfg config.Config) error {
	plan, err := l.Setup(ctx, cfg)
	if err != nil {
		return err
	}
	return l.Run(ctx, cfg, plan)
}

// Setup resolves the identity, decides spawn or attach and composes parameters accordingly
func (l *Launcher) Setup(ctx context.Context, cfg config.Config) (*Plan, error) {
	set, err := media.Resolve(ctx, l.deps.Exec, cfg)
	if err != nil {
		return nil, errors.Errorf("resolving boot media: %w", err)
	}

	id, err := identity.Resolve(set.Boot)
	if err != nil {
		return nil, errors.Errorf("deriving identity: %w", err)
	}

	env := &device.Environment{
		Identity:  id,
		Media:     set,
		Memory:    l.Memory(ctx),
		CPUs:      l.CPUs,
		QMPSocket: monitor.SocketPath(cfg.RunDir, id.ProcID),
	}

	l.logger.Info().
		Str("name", id.Name).
		Str("procid", id.ProcID).
		Str("guid", id.GUID).
		Str("memory", env.Memory).
		Msg("Resolved VM identity")

	plan := &Plan{Env: env}
	plan.Running = l.process.IsRunning(ctx, id.ProcID, cfg.ProbeRetries)

	// the shared-folder helper opens its window during composition
	if !plan.Running && !cfg.DryRun() {
		if err := l.deps.Terminal.Prepare(ctx); err != nil {
			return nil, errors.Errorf("preparing terminal: %w", err)
		}
	}

	var params *device.Params
	if plan.Running {
		params, err = l.composer.Attach(ctx, cfg, env)
		if err == nil {
			l.monitor.Report(ctx, env.QMPSocket, id.Name)
		}
	} else {
		params, err = l.composer.Compose(ctx, cfg, env)
	}
	if err != nil {
		return nil, errors.Errorf("composing devices for %s: %w", id.ProcID, err)
	}

	plan.Params = params.Tokens()
	if !plan.Running {
		plan.Command = l.process.Command(id.ProcID, process.Binary(cfg), plan.Params)
	}

	if cfg.RemoveKnownHost {
		l.forgetHost(ctx, cfg, env)
	}

	return plan, nil
}

// Run spawns the VM unless it is already running, then hands off to the guest.
// A failed spawn is fatal and skips the hand-off. Without a window the VM owns
// the current terminal, as with --console.
func (l *Launcher) Run(ctx context.Context, cfg config.Config, plan *Plan) error {
	env := plan.Env

	if !plan.Running {
		if cfg.DryRun() {
			l.print(color.FgCyan, plan.Command)
		} else {
			foreground := cfg.Console || terminal.InPlace(l.deps.Terminal)
			if err := l.process.Spawn(ctx, plan.Command, foreground); err != nil {
				return err
			}
		}
	}

	if cfg.DryRun() {
		if len(env.Connect.Command) > 0 {
			l.print(color.FgGreen, env.Connect.Command)
		}
		return nil
	}

	return l.connect.Connect(ctx, env.Connect, cfg.Console)
}

func (l *Launcher) print(attr color.Attribute, argv []string) {
	if _, err := color.New(attr).Fprintln(l.deps.Out, shell.Join(argv)); err != nil {
		l.logger.Debug().Err(err).Msg("Printing command failed")
	}
}

// forgetHost drops the port reservation and the stale host key of this identity
func (l *Launcher) forgetHost(ctx context.Context, cfg config.Config, env *device.Environment) {
	if err := l.ports.Remove(env.Identity.ProcID); err != nil {
		l.logger.Warn().Err(err).Msg("Removing port file failed")
	}

	if cfg.Net == config.NetNAT {
		l.connect.ForgetHost(ctx, env.HostIP, env.SSHPort)
		return
	}
	l.connect.ForgetHost(ctx, env.GuestIP, 0)
}
