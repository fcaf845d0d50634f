// Package terminal wraps commands so they run in their own terminal window.
package terminal

import (
	"context"
	"os"
	"os/exec"

	gotmux "github.com/jubnzv/go-tmux"
	"github.com/rs/zerolog"
	"github.com/walteh/qlaunch/pkg/config"
	"gitlab.com/tozd/go/errors"
)

// Terminal builds the argv that runs a command in a separate window
type Terminal interface {
	// Prepare makes sure the terminal backend can accept new windows.
	Prepare(ctx context.Context) error

	// Wrap returns argv prefixed with the terminal launcher. When privileged is
	// true the command itself is run through sudo. opts are passed to the launcher.
	Wrap(title string, privileged bool, argv []string, opts ...string) []string
}

// New returns the wrapper named by kind. With bare set no window is opened at all.
func New(kind string, bare bool) (Terminal, error) {
	if bare {
		return None{}, nil
	}

	switch kind {
	case config.TerminalGnome, "":
		return Gnome{}, nil
	case config.TerminalNone:
		return None{}, nil
	case config.TerminalTmux:
		return NewTmux(SessionName), nil
	default:
		return nil, errors.Errorf("%w: unknown terminal %q", config.ErrConfiguration, kind)
	}
}

// Privileged reports whether commands need sudo to reach devices like /dev/kvm
func Privileged() bool {
	return os.Geteuid() != 0
}

func sudo(privileged bool, argv []string) []string {
	if !privileged {
		return append([]string{}, argv...)
	}
	return append([]string{"sudo"}, argv...)
}

// Gnome opens a gnome-terminal window: sudo gnome-terminal --title=<title> [opts] -- argv
type Gnome struct{}

func (Gnome) Prepare(ctx context.Context) error {
	if _, err := exec.LookPath("gnome-terminal"); err != nil {
		return errors.Errorf("gnome-terminal is not installed: %w", err)
	}
	return nil
}

func (Gnome) Wrap(title string, privileged bool, argv []string, opts ...string) []string {
	wrapped := []string{"gnome-terminal", "--title=" + title}
	wrapped = append(wrapped, opts...)
	wrapped = append(wrapped, "--")
	wrapped = append(wrapped, argv...)
	return sudo(privileged, wrapped)
}

// None runs the command in the current terminal
type None struct{}

// InPlace reports whether t runs commands in the current terminal rather than a new window
func InPlace(t Terminal) bool {
	switch t.(type) {
	case None, *None:
		return true
	}
	return false
}

func (None) Prepare(ctx context.Context) error {
	return nil
}

func (None) Wrap(title string, privileged bool, argv []string, opts ...string) []string {
	return sudo(privileged, argv)
}

// SessionName is the tmux session that collects every VM window
const SessionName = "qlaunch"

// Tmux opens a new window in a shared tmux session
type Tmux struct {
	Session string
	server  *gotmux.Server
}

func NewTmux(session string) *Tmux {
	return &Tmux{
		Session: session,
		server:  new(gotmux.Server),
	}
}

// Prepare creates the shared session when it does not exist yet
func (t *Tmux) Prepare(ctx context.Context) error {
	logger := zerolog.Ctx(ctx)

	if _, err := exec.LookPath("tmux"); err != nil {
		return errors.Errorf("tmux is not installed: %w", err)
	}

	exists, err := t.server.HasSession(t.Session)
	if err != nil {
		return errors.Errorf("checking for tmux session %s: %w", t.Session, err)
	}

	if !exists {
		logger.Info().Str("session", t.Session).Msg("Creating tmux session")
		if _, err := t.server.NewSession(t.Session); err != nil {
			return errors.Errorf("creating tmux session %s: %w", t.Session, err)
		}
	}

	return nil
}

// Wrap ignores opts; window geometry is a gnome-terminal concept
func (t *Tmux) Wrap(title string, privileged bool, argv []string, opts ...string) []string {
	wrapped := []string{"tmux", "new-window", "-t", t.Session + ":", "-n", title, "--"}
	return append(wrapped, sudo(privileged, argv)...)
}
