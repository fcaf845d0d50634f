// Package identity derives a stable VM identity from its ordered boot media.
package identity

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/walteh/qlaunch/pkg/config"
	"gitlab.com/tozd/go/errors"
)

const nameLimit = 12

// Identity recognises "the same VM" across invocations.
// ProcID is both the process title and the key for persisted state.
type Identity struct {
	Name     string
	GUID     string
	ShortUID string
	ProcID   string
}

// Resolve hashes the ordered concatenation of boot media. Order matters:
// the same media in a different order is a different VM.
func Resolve(boot []string) (Identity, error) {
	if len(boot) == 0 {
		return Identity{}, errors.Errorf("%w: no boot media to derive an identity from", config.ErrConfiguration)
	}

	sum := md5.Sum([]byte(strings.Join(boot, "")))
	guid := hex.EncodeToString(sum[:])

	name := stem(boot[0])
	short := guid[:2]

	return Identity{
		Name:     name,
		GUID:     guid,
		ShortUID: short,
		ProcID:   fmt.Sprintf("%s_%s", truncate(name, nameLimit), short),
	}, nil
}

// UUID lays the raw digest out in UUID form for the guest SMBIOS table. No
// version or variant bits are set, so the string is the dashed GUID.
func (id Identity) UUID() (uuid.UUID, error) {
	raw, err := hex.DecodeString(id.GUID)
	if err != nil {
		return uuid.Nil, errors.Errorf("decoding guid %q: %w", id.GUID, err)
	}

	u, err := uuid.FromBytes(raw)
	if err != nil {
		return uuid.Nil, errors.Errorf("building uuid from guid: %w", err)
	}

	return u, nil
}

// MAC derives the guest MAC address: the QEMU vendor prefix plus three digest octets
func (id Identity) MAC() string {
	g := id.GUID
	return fmt.Sprintf("52:54:00:%s:%s:%s", g[0:2], g[2:4], g[4:6])
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
