package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/walteh/qlaunch/cmd/qlaunch/commands"
)

func main() {
	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	logger, closeLog := newLogger()
	ctx = logger.WithContext(ctx)

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")
		cancel()
	}()

	err := commands.NewRootCmd(commands.Launch).ExecuteContext(ctx)
	code := commands.ExitCode(ctx, logger, err)

	cancel()
	closeLog()
	os.Exit(code)
}

// newLogger writes human readable lines to stderr and JSON lines to a log file in the temp dir
func newLogger() (zerolog.Logger, func()) {
	console := zerolog.ConsoleWriter{
		Out:     os.Stderr,
		NoColor: !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()),
	}

	var out io.Writer = console
	closeLog := func() {}

	file, err := os.OpenFile(filepath.Join(os.TempDir(), "qlaunch.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err == nil {
		out = zerolog.MultiLevelWriter(console, file)
		closeLog = func() { _ = file.Close() }
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	if err != nil {
		logger.Debug().Err(err).Msg("Log file unavailable, logging to stderr only")
	}
	return logger, closeLog
}
