package shell

import (
	"strconv"
	"strings"

	"gitlab.com/tozd/go/errors"
	"mvdan.cc/sh/v3/shell"
	"mvdan.cc/sh/v3/syntax"
)

// Join renders argv as a single bash command line. It is only meant for display;
// commands are always executed from the discrete tokens.
func Join(argv []string) string {
	quoted := make([]string, 0, len(argv))
	for _, arg := range argv {
		q, err := syntax.Quote(arg, syntax.LangBash)
		if err != nil {
			q = strconv.Quote(arg)
		}
		quoted = append(quoted, q)
	}
	return strings.Join(quoted, " ")
}

// Split breaks a shell-style string into argument tokens, expanding environment variables
func Split(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	fields, err := shell.Fields(s, nil)
	if err != nil {
		return nil, errors.Errorf("splitting %q: %w", s, err)
	}

	return fields, nil
}
