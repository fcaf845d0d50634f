package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the defaults file looked up when --config is not given
func DefaultFile(home string) string {
	return filepath.Join(home, ".config", "qlaunch", "config.yaml")
}

// ApplyFile reads a YAML map keyed by flag name and sets every flag that was not
// given on the command line. A missing file is not an error.
func ApplyFile(path string, flags *pflag.FlagSet) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Errorf("reading config file %s: %w", path, err)
	}

	values := map[string]any{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return errors.Errorf("%w: parsing %s: %s", ErrConfiguration, path, err)
	}

	for name, value := range values {
		flag := flags.Lookup(name)
		if flag == nil {
			return errors.Errorf("%w: %s: unknown key %q", ErrConfiguration, path, name)
		}
		if flag.Changed {
			continue
		}

		items := []any{value}
		if list, ok := value.([]any); ok {
			items = list
		}

		for _, item := range items {
			if err := flags.Set(name, fmt.Sprint(item)); err != nil {
				return errors.Errorf("%w: %s: key %q: %s", ErrConfiguration, path, name, err)
			}
		}
	}

	return nil
}
