// Package shelltest provides a scripted shell.Executor for tests.
package shelltest

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/walteh/qlaunch/pkg/shell"
	"gitlab.com/tozd/go/errors"
)

// Call records a single invocation on the fake executor
type Call struct {
	Method string
	Argv   []string
}

type rule struct {
	prefix []string
	result shell.Result
	hook   func(argv []string)
}

// Executor answers commands from registered rules and records every call.
// Unmatched commands succeed with empty output.
type Executor struct {
	mu    sync.Mutex
	rules []rule
	calls []Call
}

var _ shell.Executor = &Executor{}

// New creates an empty fake executor
func New() *Executor {
	return &Executor{}
}

// Respond makes commands starting with prefix exit with code and print output.
// Later rules win over earlier ones.
func (e *Executor) Respond(code int, output string, prefix ...string) *Executor {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rules = append(e.rules, rule{prefix: prefix, result: shell.Result{ExitCode: code, Output: output}})
	return e
}

// OnCall runs hook whenever a command starting with prefix is executed
func (e *Executor) OnCall(hook func(argv []string), prefix ...string) *Executor {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rules = append(e.rules, rule{prefix: prefix, hook: hook})
	return e
}

// Run implements shell.Executor
func (e *Executor) Run(ctx context.Context, argv []string) (shell.Result, error) {
	return e.exec("run", argv)
}

// RunConsole implements shell.Executor
func (e *Executor) RunConsole(ctx context.Context, argv []string) (shell.Result, error) {
	return e.exec("console", argv)
}

// Start implements shell.Executor
func (e *Executor) Start(ctx context.Context, argv []string) error {
	_, err := e.exec("start", argv)
	return err
}

func (e *Executor) exec(method string, argv []string) (shell.Result, error) {
	e.mu.Lock()
	e.calls = append(e.calls, Call{Method: method, Argv: slices.Clone(argv)})

	res := shell.Result{}
	var hooks []func([]string)
	for _, r := range e.rules {
		if !hasPrefix(argv, r.prefix) {
			continue
		}
		if r.hook != nil {
			hooks = append(hooks, r.hook)
			continue
		}
		res = r.result
	}
	e.mu.Unlock()

	for _, hook := range hooks {
		hook(argv)
	}

	res.Argv = argv
	if res.ExitCode != 0 {
		return res, errors.Errorf("%w: %s: exit status %d", shell.ErrExternalProcess, shell.Join(argv), res.ExitCode)
	}
	return res, nil
}

// Calls returns every recorded invocation in order
func (e *Executor) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()

	return slices.Clone(e.calls)
}

// Count returns how many recorded commands start with prefix
func (e *Executor) Count(prefix ...string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, c := range e.calls {
		if hasPrefix(c.Argv, prefix) {
			n++
		}
	}
	return n
}

// Find returns the recorded calls whose command line contains needle
func (e *Executor) Find(needle string) []Call {
	e.mu.Lock()
	defer e.mu.Unlock()

	var found []Call
	for _, c := range e.calls {
		if strings.Contains(strings.Join(c.Argv, " "), needle) {
			found = append(found, c)
		}
	}
	return found
}

func hasPrefix(argv, prefix []string) bool {
	if len(prefix) > len(argv) {
		return false
	}
	for i, p := range prefix {
		if argv[i] != p {
			return false
		}
	}
	return true
}
