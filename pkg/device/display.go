package device

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/walteh/qlaunch/pkg/config"
	"github.com/walteh/qlaunch/pkg/poll"
	"github.com/walteh/qlaunch/pkg/shell"
	"github.com/walteh/qlaunch/pkg/terminal"
	"gitlab.com/tozd/go/errors"
)

// Display serves the console over spice with audio and the guest agent channel
type Display struct{}

func (*Display) Name() string { return "display" }

func (*Display) Configure(ctx context.Context, cfg config.Config, env *Environment, params *Params) error {
	params.Add("-spice", fmt.Sprintf("port=%d,disable-ticketing=on", env.DisplayPort))
	params.Add("-audiodev", "spice,id=audio0")
	params.Device("intel-hda")
	params.Device("hda-duplex,audiodev=audio0,mixer=off")
	params.Add("-chardev", "spicevmc,id=vdagent,name=vdagent")
	params.Device("virtio-serial")
	params.Device("virtserialport,chardev=vdagent,name=com.redhat.spice.0")

	if cfg.Arch == config.ArchX86_64 && cfg.Connect != config.ConnectRemoteShell {
		params.Add("-vga", cfg.VGA)
	}
	return nil
}

// SharedFolder exports the home directory through virtiofs. It starts the
// privileged virtiofsd helper and blocks until the helper's socket exists.
type SharedFolder struct {
	exec       shell.Executor
	term       terminal.Terminal
	privileged bool
	interval   time.Duration
}

func (*SharedFolder) Name() string { return "shared-folder" }

func (s *SharedFolder) Configure(ctx context.Context, cfg config.Config, env *Environment, params *Params) error {
	if cfg.NoShare {
		return nil
	}

	logger := zerolog.Ctx(ctx)
	uid := env.Identity.ShortUID
	sock := filepath.Join(cfg.RunDir, fmt.Sprintf("virtiofs_%s.sock", uid))
	env.ShareSocket = sock

	helper := []string{virtiofsd(cfg.Home), "--socket-path=" + sock, "-o", "source=" + cfg.Home}
	argv := s.term.Wrap(env.Identity.ProcID, s.privileged, helper, "--geometry=80x24+5+5")

	if cfg.DryRun() {
		logger.Info().Str("command", shell.Join(argv)).Msg("Shared folder helper (not started)")
	} else {
		if err := s.exec.Start(ctx, argv); err != nil {
			return errors.Errorf("starting virtiofsd: %w", err)
		}

		// no timeout: the helper may be waiting on a sudo password in its window
		err := poll.Forever(ctx, s.interval, func(ctx context.Context) bool {
			_, err := os.Stat(sock)
			if err != nil {
				logger.Debug().Str("socket", sock).Msg("Waiting for virtiofsd socket")
			}
			return err == nil
		})
		if err != nil {
			return errors.Errorf("waiting for %s: %w", sock, err)
		}
	}

	params.Add("-chardev", fmt.Sprintf("socket,id=char%s,path=%s", uid, sock))
	params.Device(fmt.Sprintf("vhost-user-fs-pci,chardev=char%s,tag=hostfs", uid))
	params.Add("-object", fmt.Sprintf("memory-backend-memfd,id=mem,size=%s,share=on", env.Memory))
	params.Add("-numa", "node,memdev=mem")
	return nil
}

func virtiofsd(home string) string {
	local := filepath.Join(home, "qemu", "libexec", "virtiofsd")
	if _, err := os.Stat(local); err == nil {
		return local
	}
	return "/usr/libexec/virtiofsd"
}
