// Package winenv builds the process environment for one provisioning run.
//
// An Environment is a value: it is copied from the caller's environ when
// created and every modification returns a new copy, so two runs never
// share a mapping.
package winenv

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/mitchellh/go-homedir"

	"winbuilder/internal/target"
)

// Host tells whether Windows programs run natively or through wine.
type Host int

const (
	HostWine Host = iota
	HostWindows
)

func (h Host) String() string {
	if h == HostWindows {
		return "windows"
	}
	return "wine"
}

// DetectHost returns HostWindows when running on Windows, HostWine otherwise.
func DetectHost() Host {
	if runtime.GOOS == "windows" {
		return HostWindows
	}
	return HostWine
}

// Environment is the immutable environment of one provisioning run.
type Environment struct {
	vars map[string]string
	host Host
	id   string
}

// New derives the run environment for spec from base (os.Environ form).
// On a wine host a non-empty prefix root is created if needed and
// WINEPREFIX points at <root>/<environment id>; 32-bit targets also get
// WINEARCH=win32 so wine creates a 32-bit prefix.
func New(base []string, spec target.Spec, host Host) (Environment, error) {
	env := Environment{
		vars: parse(base),
		host: host,
		id:   spec.EnvironmentID(),
	}
	if host == HostWindows {
		return env, nil
	}

	if spec.PrefixRoot != "" {
		root, err := filepath.Abs(spec.PrefixRoot)
		if err != nil {
			return Environment{}, fmt.Errorf("winenv: resolve prefix root: %w", err)
		}
		if err := os.MkdirAll(root, 0o755); err != nil {
			return Environment{}, fmt.Errorf("winenv: create prefix root: %w", err)
		}
		env.vars["WINEPREFIX"] = filepath.Join(root, env.id)
	}
	if spec.Arch == target.Arch32 {
		env.vars["WINEARCH"] = "win32"
	}
	return env, nil
}

// ID is the environment identifier derived from version and architecture.
func (e Environment) ID() string { return e.id }

// Host reports how Windows programs are executed in this environment.
func (e Environment) Host() Host { return e.host }

// Native reports whether Windows programs run without wine.
func (e Environment) Native() bool { return e.host == HostWindows }

// Get returns the value of a variable.
func (e Environment) Get(key string) (string, bool) {
	if k, ok := e.lookupKey(key); ok {
		return e.vars[k], true
	}
	return "", false
}

// With returns a copy of e with key set to value.
func (e Environment) With(key, value string) Environment {
	out := e.clone()
	if k, ok := e.lookupKey(key); ok {
		key = k
	}
	out.vars[key] = value
	return out
}

// PrependPath returns a copy of e whose PATH starts with value. Entries are
// joined with ';' because the PATH is consumed by Windows programs.
func (e Environment) PrependPath(value string) Environment {
	if old, ok := e.Get("PATH"); ok && old != "" {
		value = value + ";" + old
	}
	return e.With("PATH", value)
}

// Prefix returns the WINEPREFIX of the environment, if any.
func (e Environment) Prefix() string {
	v, _ := e.Get("WINEPREFIX")
	return v
}

// RegistryFile is the wine user registry backing HKEY_CURRENT_USER:
// $WINEPREFIX/user.reg, or ~/.wine/user.reg for the default prefix.
func (e Environment) RegistryFile() (string, error) {
	if prefix := e.Prefix(); prefix != "" {
		return filepath.Join(prefix, "user.reg"), nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("winenv: home dir: %w", err)
	}
	return filepath.Join(home, ".wine", "user.reg"), nil
}

// Environ returns the variables in os.Environ form, sorted by name.
func (e Environment) Environ() []string {
	out := make([]string, 0, len(e.vars))
	for k, v := range e.vars {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func (e Environment) clone() Environment {
	vars := make(map[string]string, len(e.vars)+1)
	for k, v := range e.vars {
		vars[k] = v
	}
	return Environment{vars: vars, host: e.host, id: e.id}
}

// lookupKey finds the stored spelling of key. Windows variable names are
// case-insensitive ("Path" and "PATH" are the same variable).
func (e Environment) lookupKey(key string) (string, bool) {
	if _, ok := e.vars[key]; ok {
		return key, true
	}
	if e.host != HostWindows {
		return "", false
	}
	for k := range e.vars {
		if strings.EqualFold(k, key) {
			return k, true
		}
	}
	return "", false
}

func parse(environ []string) map[string]string {
	vars := make(map[string]string, len(environ))
	for _, entry := range environ {
		idx := strings.Index(entry, "=")
		if idx <= 0 {
			continue
		}
		vars[entry[:idx]] = entry[idx+1:]
	}
	return vars
}
