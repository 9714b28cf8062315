// Package target describes provisioning targets: which CPython version and
// architecture to install, and where the interpreter, the MinGW toolchain
// and the wine prefix live.
package target

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidConfig marks configuration problems detected before any
// provisioning step runs.
var ErrInvalidConfig = errors.New("invalid configuration")

// Arch is the Windows CPU architecture of the interpreter.
type Arch string

const (
	Arch32 Arch = "32"
	Arch64 Arch = "64"
)

// UnsupportedArchError is returned for architecture values outside {32, 64}.
type UnsupportedArchError struct {
	Value string
}

func (e *UnsupportedArchError) Error() string {
	return fmt.Sprintf("unsupported windows architecture: %q (must be 32 or 64)", e.Value)
}

// ParseArch converts a raw architecture value into an Arch.
func ParseArch(raw string) (Arch, error) {
	a := Arch(strings.TrimSpace(raw))
	if err := a.Validate(); err != nil {
		return "", err
	}
	return a, nil
}

// Validate reports an *UnsupportedArchError for anything but 32 or 64.
func (a Arch) Validate() error {
	switch a {
	case Arch32, Arch64:
		return nil
	}
	return &UnsupportedArchError{Value: string(a)}
}

// Triplet returns the mingw-w64 target folder for the architecture.
func (a Arch) Triplet() string {
	if a == Arch64 {
		return "x86_64-w64-mingw32"
	}
	return "i686-w64-mingw32"
}

// Version is a dotted major.minor[.patch] interpreter version.
type Version struct {
	Raw   string
	Major int
	Minor int
}

// ParseVersion parses a version with two or three integer components.
func ParseVersion(raw string) (Version, error) {
	raw = strings.TrimSpace(raw)
	parts := strings.Split(raw, ".")
	if len(parts) < 2 || len(parts) > 3 {
		return Version{}, fmt.Errorf("%w: version %q must look like major.minor[.patch]", ErrInvalidConfig, raw)
	}
	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("%w: version %q has a non-numeric component %q", ErrInvalidConfig, raw, p)
		}
		nums[i] = n
	}
	return Version{Raw: raw, Major: nums[0], Minor: nums[1]}, nil
}

func (v Version) String() string {
	return v.Raw
}

// Tag returns the compact major/minor form used in library names ("34").
func (v Version) Tag() string {
	return fmt.Sprintf("%d%d", v.Major, v.Minor)
}

// Defaults applied when the input leaves a field empty.
const (
	DefaultMinGWHome    = `C:\mingw-static`
	DefaultMinGWVersion = "2014-11"
	DefaultDownloadDir  = "."
	DefaultPrefixRoot   = "wine"
)

// Spec is one provisioning job. Windows paths (PythonHome, MinGWHome) are
// as seen from inside the prefix; PrefixRoot and DownloadDir are host paths.
type Spec struct {
	PythonHome   string
	Version      Version
	Arch         Arch
	MinGWHome    string
	MinGWVersion string
	PrefixRoot   string // empty: use WINEPREFIX from the caller's environment
	DownloadDir  string
	InstallPip   bool
}

// Validate checks the invariants of a fully built spec.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.PythonHome) == "" {
		return fmt.Errorf("%w: python home is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(s.MinGWHome) == "" {
		return fmt.Errorf("%w: mingw home is required", ErrInvalidConfig)
	}
	if s.Version.Raw == "" {
		return fmt.Errorf("%w: python version is required", ErrInvalidConfig)
	}
	return s.Arch.Validate()
}

// EnvironmentID is the wine prefix name for the spec, e.g. "wine-py3.4.3-64".
func (s Spec) EnvironmentID() string {
	return fmt.Sprintf("wine-py%s-%s", s.Version.Raw, s.Arch)
}

// Fingerprint hashes the fields that shape the resulting installation.
// Two specs with the same environment ID but different fingerprints would
// provision different things into the same prefix.
func (s Spec) Fingerprint() string {
	canonical := strings.Join([]string{
		"python_home=" + s.PythonHome,
		"python_version=" + s.Version.Raw,
		"python_arch=" + string(s.Arch),
		"mingw_home=" + s.MinGWHome,
		"mingw_version=" + s.MinGWVersion,
		"install_pip=" + strconv.FormatBool(s.InstallPip),
	}, "\n")
	sum := sha256.Sum256([]byte(canonical))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Policy decides what a registry propagation timeout means for a run.
type Policy string

const (
	// PolicyBestEffort records the timeout as a warning and keeps going.
	PolicyBestEffort Policy = "best-effort"
	// PolicyFailFast halts the target on timeout.
	PolicyFailFast Policy = "fail-fast"
)

// ParsePolicy accepts "best-effort" or "fail-fast"; empty means best-effort.
func ParsePolicy(raw string) (Policy, error) {
	switch Policy(strings.TrimSpace(strings.ToLower(raw))) {
	case "", PolicyBestEffort:
		return PolicyBestEffort, nil
	case PolicyFailFast:
		return PolicyFailFast, nil
	}
	return "", fmt.Errorf("%w: unknown propagation policy %q (want best-effort or fail-fast)", ErrInvalidConfig, raw)
}

// Propagation configures the wait for registry writes to become visible.
type Propagation struct {
	Policy   Policy
	Timeout  time.Duration
	Interval time.Duration
}

// DefaultPropagation polls once a second for up to 100 seconds.
func DefaultPropagation() Propagation {
	return Propagation{
		Policy:   PolicyBestEffort,
		Timeout:  100 * time.Second,
		Interval: time.Second,
	}
}

// Batch is a parsed multi-target configuration document.
type Batch struct {
	PrefixRoot  string
	Propagation Propagation
	Targets     []Spec
}
