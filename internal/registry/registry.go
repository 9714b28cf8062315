// Package registry publishes environment variables to the Windows user
// registry and waits for wine to persist them.
//
// Under wine, regedit returns before the running wineserver has flushed
// the change to user.reg, and programs started in the meantime do not see
// the new value. Callers poll the registry file until the serialized value
// shows up.
package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/cenkalti/backoff/v4"

	"winbuilder/internal/launcher"
	"winbuilder/internal/winenv"
)

// EnvironmentKey is the registry key holding per-user environment variables.
const EnvironmentKey = `[HKEY_CURRENT_USER\Environment]`

// FileName is the registration file handed to regedit.
const FileName = "_custom_path.reg"

// ErrPropagationTimeout is returned when a published value did not appear
// in the registry file before the deadline.
var ErrPropagationTimeout = errors.New("registry update was not observed before the timeout")

// ErrNonASCII is returned for values regedit files cannot carry.
var ErrNonASCII = errors.New("registry value must be ASCII")

// Outcome describes how a publication ended.
type Outcome int

const (
	OutcomeConfirmed Outcome = iota
	OutcomeTimedOut
	OutcomeAlreadyPresent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeTimedOut:
		return "timed-out"
	case OutcomeAlreadyPresent:
		return "already-present"
	}
	return "unknown"
}

// SerializeValue renders one value line, "KEY"="value", with backslashes
// doubled as the .reg format requires.
func SerializeValue(key, value string) (string, error) {
	line := fmt.Sprintf(`"%s"="%s"`, key, strings.ReplaceAll(value, `\`, `\\`))
	for _, r := range line {
		if r > unicode.MaxASCII {
			return "", fmt.Errorf("%w: %q", ErrNonASCII, value)
		}
	}
	return line, nil
}

// RegFile returns the content of a registration file setting one value
// under EnvironmentKey.
func RegFile(valueLine string) []byte {
	return []byte(EnvironmentKey + "\r\n" + valueLine + "\r\n")
}

// Contains reports whether the registry file holds pattern. A missing file
// holds nothing.
func Contains(file, pattern string) (bool, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return bytes.Contains(data, []byte(pattern)), nil
}

var errNotYet = errors.New("value not yet visible")

// WaitFor polls file every interval until it contains pattern, at most
// ceil(timeout/interval) times.
func WaitFor(ctx context.Context, file, pattern string, timeout, interval time.Duration) (Outcome, error) {
	return waitFor(ctx, file, pattern, timeout, interval, nil)
}

func waitFor(ctx context.Context, file, pattern string, timeout, interval time.Duration, logger *slog.Logger) (Outcome, error) {
	if interval <= 0 {
		interval = time.Second
	}
	attempts := int((timeout + interval - 1) / interval)
	if attempts < 1 {
		attempts = 1
	}

	op := func() error {
		found, err := Contains(file, pattern)
		if err != nil {
			return err
		}
		if !found {
			return errNotYet
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		if logger != nil && !errors.Is(err, errNotYet) {
			logger.Warn("reading registry file", "file", file, "error", err)
		}
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(attempts-1)),
		ctx,
	)
	err := backoff.RetryNotify(op, b, notify)
	switch {
	case err == nil:
		return OutcomeConfirmed, nil
	case ctx.Err() != nil:
		return OutcomeTimedOut, ctx.Err()
	}
	return OutcomeTimedOut, fmt.Errorf("%w: %s after %s", ErrPropagationTimeout, file, timeout)
}

// Store writes values through regedit.
type Store struct {
	Runner   launcher.Runner
	WorkDir  string // where the registration file is written
	Timeout  time.Duration
	Interval time.Duration
	Logger   *slog.Logger
}

// Publish writes the registration file for key=value into the work dir and
// loads it with regedit. It returns the serialized value line.
func (s Store) Publish(ctx context.Context, env winenv.Environment, key, value string) (string, error) {
	line, err := SerializeValue(key, value)
	if err != nil {
		return "", err
	}
	s.logger().Info(fmt.Sprintf("setting '%s'='%s'", key, value), "env", env.ID())

	if err := os.MkdirAll(s.WorkDir, 0o755); err != nil {
		return "", fmt.Errorf("registry: create work dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.WorkDir, FileName), RegFile(line), 0o644); err != nil {
		return "", fmt.Errorf("registry: write %s: %w", FileName, err)
	}

	_, err = s.Runner.Run(ctx, env, launcher.Command{
		Name: "regedit",
		Args: []string{"/s", FileName},
		Dir:  s.WorkDir,
		Mode: launcher.ModeDirect,
	})
	return line, err
}

// PublishAndConfirm publishes key=value unless the registry already holds
// it, then waits for the value to become visible. On a native Windows host
// regedit applies the change synchronously and no wait is needed.
func (s Store) PublishAndConfirm(ctx context.Context, env winenv.Environment, key, value string) (Outcome, error) {
	line, err := SerializeValue(key, value)
	if err != nil {
		return OutcomeTimedOut, err
	}

	var regFile string
	if !env.Native() {
		regFile, err = env.RegistryFile()
		if err != nil {
			return OutcomeTimedOut, err
		}
		found, err := Contains(regFile, line)
		if err != nil {
			s.logger().Debug("could not read registry file", "file", regFile, "error", err)
		}
		if found {
			s.logger().Info("registry already up to date", "env", env.ID(), "key", key)
			return OutcomeAlreadyPresent, nil
		}
	}

	if _, err := s.Publish(ctx, env, key, value); err != nil {
		return OutcomeTimedOut, err
	}
	if env.Native() {
		return OutcomeConfirmed, nil
	}

	s.logger().Info("waiting for registry to get updated", "file", regFile, "timeout", s.Timeout)
	outcome, err := waitFor(ctx, regFile, line, s.Timeout, s.Interval, s.logger())
	if err == nil {
		s.logger().Info("registry updated", "env", env.ID())
	}
	return outcome, err
}

func (s Store) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
