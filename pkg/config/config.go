// Package config holds the launch configuration consumed by every other package.
package config

import (
	"os"
	"os/user"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gitlab.com/tozd/go/errors"
)

// ErrConfiguration is returned for missing or invalid launch input.
var ErrConfiguration = errors.Base("invalid configuration")

type Arch string

const (
	ArchX86_64  Arch = "x86_64"
	ArchAArch64 Arch = "aarch64"
	ArchARM     Arch = "arm"
	ArchRISCV64 Arch = "riscv64"
)

// ConnectMode selects how the user reaches the guest once it runs
type ConnectMode string

const (
	ConnectRemoteShell   ConnectMode = "remote-shell"
	ConnectRemoteDisplay ConnectMode = "remote-display"
	ConnectLocalMonitor  ConnectMode = "local-monitor"
)

// NetMode selects the guest network backend
type NetMode string

const (
	NetNAT    NetMode = "nat"
	NetTap    NetMode = "tap"
	NetBridge NetMode = "bridge"
)

// Terminal names a terminal wrapper understood by pkg/terminal
const (
	TerminalGnome = "gnome"
	TerminalNone  = "none"
	TerminalTmux  = "tmux"
)

// Log levels accepted by --debug. LevelCommand prints commands instead of running them.
const (
	LevelCommand = "cmd"
	LevelDebug   = "debug"
	LevelInfo    = "info"
	LevelWarning = "warning"
)

var connectAliases = map[string]ConnectMode{
	"ssh":   ConnectRemoteShell,
	"spice": ConnectRemoteDisplay,
	"qemu":  ConnectLocalMonitor,
	"":      ConnectLocalMonitor,
}

var netAliases = map[string]NetMode{
	"user": NetNAT,
	"":     NetNAT,
}

var bdfPattern = regexp.MustCompile(`^([0-9a-fA-F]{4}:)?[0-9a-fA-F]{2}:[0-9a-fA-F]{2}\.[0-7]$`)

// Config is the complete, immutable description of one launch.
// It is passed by value; Validate returns a normalised copy.
type Config struct {
	Arch  Arch
	Media []string

	// Disks are lsblk model selectors of the form model[:part...]
	Disks []string
	NVMe  []string

	Kernel  string
	Initrd  string
	RootDev string

	Namespaces      int
	NamespaceSizeGB int
	Queues          int
	FDP             bool
	SRIOV           bool
	DeviceID        string
	ModelName       string

	Connect ConnectMode
	Net     NetMode
	User    string
	GuestIP string

	NoShare    bool
	NoUSB      bool
	TPM        bool
	USBStick   string
	PCIDevices []string

	SystemBinary    bool
	Console         bool
	RemoveKnownHost bool

	Machine    string
	VGA        string
	SecureBoot bool
	HVCI       bool
	Vendor     string
	Extra      string

	Debug    string
	Terminal string

	// RunDir holds port files, sockets and other per-identity state.
	RunDir string
	// NVMeDir holds the namespace backing images.
	NVMeDir string
	Home    string

	// ProbeRetries is how many extra times the process table is checked.
	ProbeRetries int
}

// Default returns the configuration used when no flag or file overrides a value
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/root"
	}

	username := os.Getenv("USER")
	if u, err := user.Current(); err == nil {
		username = u.Username
	}

	return Config{
		Arch:            ArchX86_64,
		Namespaces:      1,
		NamespaceSizeGB: 1,
		Queues:          32,
		Connect:         ConnectLocalMonitor,
		Net:             NetNAT,
		User:            username,
		Machine:         "q35",
		VGA:             "qxl",
		Debug:           LevelWarning,
		Terminal:        TerminalGnome,
		RunDir:          os.TempDir(),
		NVMeDir:         ".",
		Home:            home,
	}
}

// DryRun reports whether commands should be printed instead of executed
func (c Config) DryRun() bool {
	return c.Debug == LevelCommand
}

// SecureBootSuffix is the OVMF firmware file suffix selected by SecureBoot
func (c Config) SecureBootSuffix() string {
	if c.SecureBoot {
		return ".secboot"
	}
	return ""
}

// Validate checks every field and returns a copy with aliases resolved
func (c Config) Validate() (Config, error) {
	switch c.Arch {
	case ArchX86_64, ArchAArch64, ArchARM, ArchRISCV64:
	default:
		return c, errors.Errorf("%w: unsupported architecture %q", ErrConfiguration, c.Arch)
	}

	connect, err := ParseConnectMode(string(c.Connect))
	if err != nil {
		return c, err
	}
	c.Connect = connect

	net, err := ParseNetMode(string(c.Net))
	if err != nil {
		return c, err
	}
	c.Net = net

	switch c.Debug {
	case LevelCommand, LevelDebug, LevelInfo, LevelWarning:
	case "":
		c.Debug = LevelWarning
	default:
		return c, errors.Errorf("%w: unknown log level %q", ErrConfiguration, c.Debug)
	}

	switch c.Terminal {
	case TerminalGnome, TerminalNone, TerminalTmux:
	case "":
		c.Terminal = TerminalGnome
	default:
		return c, errors.Errorf("%w: unknown terminal %q", ErrConfiguration, c.Terminal)
	}

	if c.Namespaces < 1 {
		return c, errors.Errorf("%w: namespace count must be positive, got %d", ErrConfiguration, c.Namespaces)
	}
	if c.NamespaceSizeGB < 1 {
		return c, errors.Errorf("%w: namespace size must be positive, got %d", ErrConfiguration, c.NamespaceSizeGB)
	}
	if c.Queues < 1 {
		return c, errors.Errorf("%w: queue count must be positive, got %d", ErrConfiguration, c.Queues)
	}
	if c.ProbeRetries < 0 {
		return c, errors.Errorf("%w: probe retries cannot be negative", ErrConfiguration)
	}

	if c.DeviceID != "" {
		did, err := strconv.ParseInt(c.DeviceID, 0, 32)
		if err != nil {
			return c, errors.Errorf("%w: device id %q: %s", ErrConfiguration, c.DeviceID, err)
		}
		c.DeviceID = strconv.FormatInt(did, 10)
	}

	for _, bdf := range c.PCIDevices {
		if !bdfPattern.MatchString(bdf) {
			return c, errors.Errorf("%w: invalid PCI address %q", ErrConfiguration, bdf)
		}
	}

	for _, raw := range c.NVMe {
		if _, err := ParseNVMeSpec(raw, c); err != nil {
			return c, err
		}
	}

	if c.GuestIP != "" && strings.ContainsAny(c.GuestIP, " \t/") {
		return c, errors.Errorf("%w: invalid guest address %q", ErrConfiguration, c.GuestIP)
	}

	if c.RunDir == "" {
		c.RunDir = os.TempDir()
	}
	if c.NVMeDir == "" {
		c.NVMeDir = "."
	}
	if c.Home == "" {
		return c, errors.Errorf("%w: home directory is not set", ErrConfiguration)
	}
	c.Home = filepath.Clean(c.Home)

	return c, nil
}

// ParseConnectMode resolves a connect mode name or its short alias
func ParseConnectMode(s string) (ConnectMode, error) {
	if m, ok := connectAliases[s]; ok {
		return m, nil
	}
	switch m := ConnectMode(s); m {
	case ConnectRemoteShell, ConnectRemoteDisplay, ConnectLocalMonitor:
		return m, nil
	}
	return "", errors.Errorf("%w: unknown connect mode %q", ErrConfiguration, s)
}

// ParseNetMode resolves a network mode name or its alias
func ParseNetMode(s string) (NetMode, error) {
	if m, ok := netAliases[s]; ok {
		return m, nil
	}
	switch m := NetMode(s); m {
	case NetNAT, NetTap, NetBridge:
		return m, nil
	}
	return "", errors.Errorf("%w: unknown network mode %q", ErrConfiguration, s)
}
