package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"winbuilder/internal/cli"
	"winbuilder/internal/winenv"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	exitCode := run(ctx, os.Args[1:], os.Environ(), os.Stdout, os.Stderr)
	stop()
	os.Exit(exitCode)
}

// run executes the command line and returns the process exit code.
// It is separate from main so tests can drive it with their own environment.
func run(ctx context.Context, args, environ []string, stdout, stderr io.Writer) int {
	app := &cli.App{
		Environ: environ,
		Stdout:  stdout,
		Stderr:  stderr,
		Host:    winenv.DetectHost(),
	}
	return app.Execute(ctx, args)
}
