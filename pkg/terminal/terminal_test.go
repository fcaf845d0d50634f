package terminal_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walteh/qlaunch/pkg/config"
	"github.com/walteh/qlaunch/pkg/terminal"
	"gitlab.com/tozd/go/errors"
)

func TestWrap(t *testing.T) {
	argv := []string{"qemu-system-x86_64", "-name", "ubuntu,process=ubuntu_74"}

	tests := []struct {
		name       string
		term       terminal.Terminal
		privileged bool
		opts       []string
		want       []string
	}{
		{
			name:       "Gnome",
			term:       terminal.Gnome{},
			privileged: true,
			want:       []string{"sudo", "gnome-terminal", "--title=ubuntu_74", "--", "qemu-system-x86_64", "-name", "ubuntu,process=ubuntu_74"},
		},
		{
			name: "GnomeGeometry",
			term: terminal.Gnome{},
			opts: []string{"--geometry=80x24+5+5"},
			want: []string{"gnome-terminal", "--title=ubuntu_74", "--geometry=80x24+5+5", "--", "qemu-system-x86_64", "-name", "ubuntu,process=ubuntu_74"},
		},
		{
			name:       "None",
			term:       terminal.None{},
			privileged: true,
			want:       []string{"sudo", "qemu-system-x86_64", "-name", "ubuntu,process=ubuntu_74"},
		},
		{
			name:       "Tmux",
			term:       terminal.NewTmux("lab"),
			privileged: true,
			opts:       []string{"--geometry=80x24+5+5"},
			want:       []string{"tmux", "new-window", "-t", "lab:", "-n", "ubuntu_74", "--", "sudo", "qemu-system-x86_64", "-name", "ubuntu,process=ubuntu_74"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.term.Wrap("ubuntu_74", tt.privileged, argv, tt.opts...)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("wrapped argv mismatch (-want +got):\n%s", diff)
			}
		})
	}

	assert.Len(t, argv, 3, "input argv should not be modified")
}

func TestNew(t *testing.T) {
	term, err := terminal.New(config.TerminalGnome, true)
	require.NoError(t, err)
	assert.IsType(t, terminal.None{}, term, "bare mode never opens a window")

	term, err = terminal.New(config.TerminalTmux, false)
	require.NoError(t, err)
	assert.IsType(t, &terminal.Tmux{}, term)

	_, err = terminal.New("konsole", false)
	assert.True(t, errors.Is(err, config.ErrConfiguration))
}

func TestInPlace(t *testing.T) {
	assert.True(t, terminal.InPlace(terminal.None{}), "no window means the current terminal")
	assert.False(t, terminal.InPlace(terminal.Gnome{}))
	assert.False(t, terminal.InPlace(terminal.NewTmux(terminal.SessionName)))
}
