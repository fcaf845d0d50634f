package resource

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// DefaultSSHPort is used the first time an identity is launched
const DefaultSSHPort = 5900

// DisplayPort is always derived from the ssh port and never stored
func DisplayPort(sshPort int) int {
	return sshPort + 1
}

// PortStore persists the chosen ssh port of each identity as a plain decimal file.
// There is no locking and no cross-identity collision detection.
type PortStore struct {
	Dir string
}

func NewPortStore(dir string) *PortStore {
	return &PortStore{Dir: dir}
}

// Path is the port file of procID
func (s *PortStore) Path(procID string) string {
	return filepath.Join(s.Dir, procID+"_SSH")
}

// Load returns the stored port, or DefaultSSHPort when none is stored or the file is unreadable
func (s *PortStore) Load(ctx context.Context, procID string) int {
	logger := zerolog.Ctx(ctx)
	path := s.Path(procID)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("path", path).Msg("Reading port file failed")
		}
		return DefaultSSHPort
	}

	port, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || port <= 0 || port >= 65535 {
		logger.Warn().Str("path", path).Str("content", string(data)).Msg("Ignoring malformed port file")
		return DefaultSSHPort
	}

	return port
}

// Save writes port for procID, replacing any previous value
func (s *PortStore) Save(procID string, port int) error {
	path := s.Path(procID)
	if err := os.WriteFile(path, []byte(strconv.Itoa(port)), 0o644); err != nil {
		return errors.Errorf("writing port file %s: %w", path, err)
	}
	return nil
}

// Remove deletes the port file of procID; a missing file is not an error
func (s *PortStore) Remove(procID string) error {
	path := s.Path(procID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Errorf("removing port file %s: %w", path, err)
	}
	return nil
}
