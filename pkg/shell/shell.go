package shell

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// ErrExternalProcess is returned when a child process cannot be started or exits non-zero.
var ErrExternalProcess = errors.Base("external process failed")

// Result holds the outcome of a finished command
type Result struct {
	Argv     []string
	ExitCode int
	Output   string
}

// Success reports whether the command exited with status 0
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Executor runs external commands. Every component that talks to the host goes through it.
type Executor interface {
	// Run executes argv and captures its combined output.
	Run(ctx context.Context, argv []string) (Result, error)

	// RunConsole executes argv attached to the current terminal and waits for it.
	RunConsole(ctx context.Context, argv []string) (Result, error)

	// Start spawns argv in the background and returns without waiting for it to exit.
	Start(ctx context.Context, argv []string) error
}

// Runner is the os/exec backed Executor
type Runner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Settle is how long Start pauses after spawning so the child can come up.
	Settle time.Duration
}

var _ Executor = &Runner{}

// NewRunner creates a Runner wired to the process stdio
func NewRunner() *Runner {
	return &Runner{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Settle: time.Second,
	}
}

// Run executes argv and captures its combined output
func (r *Runner) Run(ctx context.Context, argv []string) (Result, error) {
	if len(argv) == 0 {
		return Result{}, errors.Errorf("%w: empty command", ErrExternalProcess)
	}

	logger := zerolog.Ctx(ctx)
	logger.Debug().Strs("argv", argv).Msg("Running command")

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	output, err := cmd.CombinedOutput()

	res := Result{
		Argv:     argv,
		ExitCode: exitCode(err),
		Output:   strings.TrimSpace(string(output)),
	}

	logger.Debug().Int("exit", res.ExitCode).Str("output", res.Output).Msg("Command finished")

	if err != nil {
		return res, errors.Errorf("%w: %s: %s", ErrExternalProcess, Join(argv), err)
	}

	return res, nil
}

// RunConsole executes argv with the runner's stdio and waits for it to exit
func (r *Runner) RunConsole(ctx context.Context, argv []string) (Result, error) {
	if len(argv) == 0 {
		return Result{}, errors.Errorf("%w: empty command", ErrExternalProcess)
	}

	logger := zerolog.Ctx(ctx)
	logger.Debug().Strs("argv", argv).Msg("Running command on console")

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = r.Stdin
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr

	err := cmd.Run()
	res := Result{Argv: argv, ExitCode: exitCode(err)}

	if err != nil {
		return res, errors.Errorf("%w: %s: %s", ErrExternalProcess, Join(argv), err)
	}

	return res, nil
}

// Start spawns argv detached from ctx; the child keeps running after the caller returns
func (r *Runner) Start(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return errors.Errorf("%w: empty command", ErrExternalProcess)
	}

	logger := zerolog.Ctx(ctx)
	logger.Debug().Strs("argv", argv).Msg("Starting background command")

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = r.Stdin
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr

	if err := cmd.Start(); err != nil {
		return errors.Errorf("%w: starting %s: %s", ErrExternalProcess, Join(argv), err)
	}

	// reap the child when it exits
	go func() {
		_ = cmd.Wait()
	}()

	if r.Settle > 0 {
		time.Sleep(r.Settle)
	}

	return nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	return -1
}
