// Package launcher runs the external programs a provisioning run needs:
// Windows programs (msiexec, python, gendef, dlltool, gcc) through wine or
// natively, and host helpers (winepath, regedit) directly.
package launcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"winbuilder/internal/winenv"
)

// Mode selects how a command is dispatched.
type Mode int

const (
	// ModeAuto runs a Windows program: through wine on a wine host, through
	// the command interpreter on Windows so the run's PATH is honoured.
	ModeAuto Mode = iota
	// ModeDirect runs the program as is.
	ModeDirect
)

// Command is one external program invocation.
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Mode    Mode
	LogPath string // log file the program writes, reported on failure
}

// String renders the command line as it is logged.
func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Runner executes commands in a run environment and returns their stdout.
type Runner interface {
	Run(ctx context.Context, env winenv.Environment, cmd Command) ([]byte, error)
}

// ToolError reports an external program that could not be started or that
// exited with a non-zero status.
type ToolError struct {
	Command  string
	ExitCode int // -1 when the program did not start
	LogPath  string
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	var b strings.Builder
	if e.ExitCode < 0 {
		fmt.Fprintf(&b, "cannot run %q: %v", e.Command, e.Err)
	} else {
		fmt.Fprintf(&b, "%q exited with status %d", e.Command, e.ExitCode)
	}
	if e.LogPath != "" {
		fmt.Fprintf(&b, " (see %s)", e.LogPath)
	}
	if e.Stderr != "" {
		fmt.Fprintf(&b, ": %s", e.Stderr)
	}
	return b.String()
}

func (e *ToolError) Unwrap() error { return e.Err }

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// Stderr receives the programs' stderr as it is produced. May be nil.
	Stderr io.Writer
	Logger *slog.Logger
}

// NewExecRunner returns a runner that streams program stderr to w.
func NewExecRunner(w io.Writer, logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{Stderr: w, Logger: logger}
}

// Run executes cmd and waits for it. A non-zero exit is returned as a
// *ToolError carrying the tail of stderr.
func (r *ExecRunner) Run(ctx context.Context, env winenv.Environment, cmd Command) ([]byte, error) {
	argv := Argv(env, cmd)
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("=> "+strings.Join(argv, " "), "env", env.ID(), "dir", cmd.Dir)

	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	c.Env = env.Environ()
	c.Dir = cmd.Dir

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if r.Stderr != nil {
		c.Stderr = io.MultiWriter(&stderr, r.Stderr)
	}

	err := c.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	toolErr := &ToolError{
		Command:  cmd.String(),
		ExitCode: -1,
		LogPath:  cmd.LogPath,
		Stderr:   tail(stderr.String(), 512),
		Err:      err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		toolErr.ExitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		toolErr.Err = ctxErr
	}
	return stdout.Bytes(), toolErr
}

// Argv returns the full argument vector cmd is run with in env.
func Argv(env winenv.Environment, cmd Command) []string {
	argv := append([]string{cmd.Name}, cmd.Args...)
	if cmd.Mode == ModeDirect {
		return argv
	}
	if env.Native() {
		return append([]string{"cmd", "/C"}, argv...)
	}
	return append([]string{"wine"}, argv...)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// IsNotFound checks if the error indicates the command was not found
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}

// IsPermissionDenied checks if the error indicates permission was denied
func IsPermissionDenied(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrPermission)
}
