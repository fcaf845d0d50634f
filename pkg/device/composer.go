package device

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/walteh/qlaunch/pkg/config"
	"github.com/walteh/qlaunch/pkg/lease"
	"github.com/walteh/qlaunch/pkg/resource"
	"github.com/walteh/qlaunch/pkg/shell"
	"github.com/walteh/qlaunch/pkg/terminal"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gitlab.com/tozd/go/errors"
)

// Tools are the host collaborators the stages use
type Tools struct {
	Exec       shell.Executor
	Ports      *resource.PortStore
	Leases     lease.Source
	Terminal   terminal.Terminal
	Privileged bool

	// SocketInterval separates checks for the shared-folder socket.
	SocketInterval time.Duration
	// WorkDir is searched for an NVMe trace "events" file.
	WorkDir string
}

// Composer runs the stages in a fixed order. The order is load-bearing: later
// stages read environment fields written by earlier ones.
type Composer struct {
	full   []Configurator
	attach []Configurator
	logger zerolog.Logger
}

func NewComposer(tools Tools, logger zerolog.Logger) *Composer {
	if tools.SocketInterval == 0 {
		tools.SocketInterval = time.Second
	}
	if tools.WorkDir == "" {
		tools.WorkDir = "."
	}

	network := &Network{exec: tools.Exec, ports: tools.Ports, leases: tools.Leases}
	conn := &Connect{}

	return &Composer{
		full: []Configurator{
			&Machine{},
			&UEFI{},
			&Kernel{},
			&Disks{},
			&CDROM{},
			&NVMe{exec: tools.Exec, workDir: tools.WorkDir},
			network,
			&Display{},
			&SharedFolder{
				exec:       tools.Exec,
				term:       tools.Terminal,
				privileged: tools.Privileged,
				interval:   tools.SocketInterval,
			},
			&TPM{},
			&USB{},
			&USBStorage{},
			&PCIPassthrough{},
			&Extra{},
			conn,
		},
		attach: []Configurator{network, conn},
		logger: logger.With().Str("component", "device-composer").Logger(),
	}
}

// Stages names the full pipeline in execution order
func (c *Composer) Stages() []string {
	names := make([]string, 0, len(c.full))
	for _, s := range c.full {
		names = append(names, s.Name())
	}
	return names
}

// Compose runs the full pipeline for a VM that is about to be spawned
func (c *Composer) Compose(ctx context.Context, cfg config.Config, env *Environment) (*Params, error) {
	return c.run(ctx, c.full, cfg, env)
}

// Attach runs only the stages needed to reach an already running VM
func (c *Composer) Attach(ctx context.Context, cfg config.Config, env *Environment) (*Params, error) {
	return c.run(ctx, c.attach, cfg, env)
}

func (c *Composer) run(ctx context.Context, stages []Configurator, cfg config.Config, env *Environment) (*Params, error) {
	params := NewParams()
	summary := orderedmap.New[string, int]()

	for _, stage := range stages {
		before := params.Len()
		if err := stage.Configure(ctx, cfg, env, params); err != nil {
			return nil, errors.Errorf("configuring %s: %w", stage.Name(), err)
		}
		summary.Set(stage.Name(), params.Len()-before)
	}

	event := c.logger.Debug().Str("procid", env.Identity.ProcID)
	for pair := summary.Oldest(); pair != nil; pair = pair.Next() {
		event = event.Int(pair.Key, pair.Value)
	}
	event.Msg("Composed device parameters")

	return params, nil
}
