// Package device composes the ordered QEMU hardware parameter list.
package device

import (
	"context"
	"slices"

	"github.com/walteh/qlaunch/pkg/config"
	"github.com/walteh/qlaunch/pkg/connect"
	"github.com/walteh/qlaunch/pkg/identity"
	"github.com/walteh/qlaunch/pkg/media"
)

// Environment accumulates launch facts while the pipeline runs.
// Stages own it exclusively during composition; it is read-only afterwards.
type Environment struct {
	Identity identity.Identity
	Media    media.Set
	Memory   string
	CPUs     int

	SSHPort     int
	DisplayPort int
	HostIP      string
	GuestIP     string
	MAC         string

	QMPSocket   string
	ShareSocket string

	Connect connect.Info
}

// Endpoint is where the composed guest will be reachable
func (e *Environment) Endpoint() connect.Endpoint {
	return connect.Endpoint{
		ProcID:      e.Identity.ProcID,
		HostIP:      e.HostIP,
		GuestIP:     e.GuestIP,
		SSHPort:     e.SSHPort,
		DisplayPort: e.DisplayPort,
	}
}

// Params is the append-only token list handed to QEMU. The drive index (disks
// and CD-ROMs) and the NVMe controller id are separate counters.
type Params struct {
	tokens     []string
	drive      int
	controller int
}

func NewParams() *Params {
	return &Params{controller: 1}
}

// Add appends raw tokens
func (p *Params) Add(tokens ...string) {
	p.tokens = append(p.tokens, tokens...)
}

// Device appends "-device spec"
func (p *Params) Device(spec string) {
	p.Add("-device", spec)
}

// Drive appends "-drive spec"
func (p *Params) Drive(spec string) {
	p.Add("-drive", spec)
}

// NextDrive returns the current drive index and advances it
func (p *Params) NextDrive() int {
	i := p.drive
	p.drive++
	return i
}

// NextController returns the current NVMe controller id and advances it
func (p *Params) NextController() int {
	i := p.controller
	p.controller++
	return i
}

// Tokens returns a copy of the accumulated tokens
func (p *Params) Tokens() []string {
	return slices.Clone(p.tokens)
}

func (p *Params) Len() int {
	return len(p.tokens)
}

// Configurator is one pipeline stage
type Configurator interface {
	Name() string
	Configure(ctx context.Context, cfg config.Config, env *Environment, params *Params) error
}
