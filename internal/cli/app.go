// Package cli wires the winbuilder command line: flag parsing, logging,
// the run ledger and exit codes around the provisioning pipeline.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"winbuilder/internal/artifact"
	"winbuilder/internal/launcher"
	"winbuilder/internal/ledger"
	"winbuilder/internal/resolver"
	"winbuilder/internal/winenv"
)

// App holds everything a command needs from the outside world. Tests replace
// the runner, mapper and HTTP client; main fills in the process values.
type App struct {
	Environ    []string
	Stdout     io.Writer
	Stderr     io.Writer
	Host       winenv.Host
	Runner     launcher.Runner     // default: launcher.ExecRunner
	Mapper     launcher.PathMapper // default: winepath through Runner
	HTTPClient artifact.HTTPClient
	Catalog    artifact.Catalog
	WorkDir    string
	Now        func() time.Time
}

type rootOptions struct {
	policy       string
	pollTimeout  time.Duration
	pollInterval time.Duration
	upgradePip   bool
	json         bool
	ledgerPath   string
	noLedger     bool
	verbose      bool
}

// reportedError marks an error whose details were already written to stderr.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// Execute runs the command line and returns the process exit code.
func (a *App) Execute(ctx context.Context, args []string) int {
	root := a.NewRootCommand()
	root.SetArgs(args)
	root.SetOut(a.stdout())
	root.SetErr(a.stderr())

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	var reported *reportedError
	if !errors.As(err, &reported) {
		fmt.Fprintln(a.stderr(), "Error:", err)
	}
	return ExitCode(err)
}

// NewRootCommand builds the winbuilder command tree.
func (a *App) NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "winbuilder [config.yaml]",
		Short: "Provision wine prefixes with CPython and MinGW for building Windows extensions",
		Long: `winbuilder provisions a Windows build toolchain: a wine prefix, a CPython
interpreter installed from the official MSI, pip and a MinGW-w64 compiler
linked against the interpreter's MSVC runtime.

With a config file every target listed under 'matrix' is provisioned in
order. Without one, a single target is read from the environment
(PYTHON_HOME, PYTHON_VERSION, ARCH, MINGW_HOME, MINGW_VERSION,
DOWNLOAD_FOLDER, WINE_ROOT, INSTALL_PIP).`,
		Args:          usageArgs(cobra.MaximumNArgs(1)),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runProvision(cmd, opts, args)
		},
	}

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &UsageError{Err: err}
	})

	flags := root.Flags()
	flags.StringVar(&opts.policy, "policy", "", "propagation timeout policy: best-effort or fail-fast")
	flags.DurationVar(&opts.pollTimeout, "poll-timeout", 0, "how long to wait for the PATH registry update (default 100s)")
	flags.DurationVar(&opts.pollInterval, "poll-interval", 0, "how often to check for the PATH registry update (default 1s)")
	flags.BoolVar(&opts.upgradePip, "upgrade-pip", false, "upgrade pip even when it is already installed")

	persistent := root.PersistentFlags()
	persistent.BoolVar(&opts.json, "json", false, "write results as JSON")
	persistent.StringVar(&opts.ledgerPath, "ledger", "", "run history database (default $WINBUILDER_LEDGER or $XDG_DATA_HOME/winbuilder/runs.db)")
	persistent.BoolVar(&opts.noLedger, "no-ledger", false, "do not record runs")
	persistent.BoolVarP(&opts.verbose, "verbose", "v", false, "log debug output")

	root.AddCommand(a.newRunsCommand(opts))
	root.AddCommand(a.newVersionCommand(opts))
	return root
}

func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return &UsageError{Err: err}
		}
		return nil
	}
}

func (a *App) logger(opts *rootOptions) *slog.Logger {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	} else if v, ok := resolver.Lookup(a.Environ, "WINBUILDER_LOG_LEVEL"); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "debug":
			level = slog.LevelDebug
		case "warn", "warning":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	return slog.New(slog.NewTextHandler(a.stderr(), &slog.HandlerOptions{Level: level}))
}

func (a *App) ledgerPath(opts *rootOptions) string {
	if opts.ledgerPath != "" {
		return opts.ledgerPath
	}
	return ledger.ResolvePath(a.Environ)
}

func (a *App) stdout() io.Writer {
	if a.Stdout != nil {
		return a.Stdout
	}
	return os.Stdout
}

func (a *App) stderr() io.Writer {
	if a.Stderr != nil {
		return a.Stderr
	}
	return os.Stderr
}
