package cli

import (
	"errors"
	"net/http"

	"winbuilder/internal/artifact"
	"winbuilder/internal/launcher"
	"winbuilder/internal/registry"
	"winbuilder/internal/target"
	"winbuilder/internal/toolchain"
)

// Exit codes.
const (
	ExitOK                 = 0
	ExitConfig             = 1
	ExitUnsupportedArch    = 2
	ExitToolFailure        = 3
	ExitArtifactNotFound   = 4
	ExitPropagationTimeout = 5
	ExitDownload           = 6
	ExitOther              = 7
	ExitNotExecutable      = 126
	ExitCommandNotFound    = 127
)

// UsageError reports a command line that could not be parsed.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }

// ExitCode maps an error to the process exit code. Typed errors are checked
// before sentinel ones so a tool that could not be started is told apart from
// a missing file elsewhere.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var usage *UsageError
	if errors.As(err, &usage) {
		return ExitConfig
	}

	var archErr *target.UnsupportedArchError
	if errors.As(err, &archErr) {
		return ExitUnsupportedArch
	}
	if errors.Is(err, target.ErrInvalidConfig) {
		return ExitConfig
	}

	var toolErr *launcher.ToolError
	if errors.As(err, &toolErr) {
		switch {
		case toolErr.ExitCode >= 0:
			return ExitToolFailure
		case launcher.IsNotFound(toolErr.Err):
			return ExitCommandNotFound
		case launcher.IsPermissionDenied(toolErr.Err):
			return ExitNotExecutable
		}
		return ExitToolFailure
	}

	var missing *toolchain.ArtifactNotFoundError
	if errors.As(err, &missing) {
		return ExitArtifactNotFound
	}
	if errors.Is(err, registry.ErrPropagationTimeout) {
		return ExitPropagationTimeout
	}

	var fetchErr *artifact.FetchError
	if errors.As(err, &fetchErr) {
		if fetchErr.Status == http.StatusNotFound {
			return ExitArtifactNotFound
		}
		return ExitDownload
	}

	return ExitOther
}
