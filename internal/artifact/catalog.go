// Package artifact knows where the installers live and keeps a local
// download cache of them.
package artifact

import (
	"fmt"
	"path"
	"strings"

	"winbuilder/internal/target"
)

// Artifact is one downloadable file.
type Artifact struct {
	Name string // file name inside the cache directory
	URL  string
}

// Catalog holds the upstream locations of the installers.
type Catalog struct {
	PythonBaseURL string
	GetPipURL     string
	MinGWBaseURL  string
}

// DefaultCatalog points at python.org, the PyPA bootstrap script and the
// static mingw-w64 builds for CPython.
func DefaultCatalog() Catalog {
	return Catalog{
		PythonBaseURL: "https://www.python.org/ftp/python",
		GetPipURL:     "https://bootstrap.pypa.io/get-pip.py",
		MinGWBaseURL:  "https://bitbucket.org/carlkl/mingw-w64-for-python/downloads",
	}
}

// PythonInstaller returns the MSI for a version and architecture. The
// architecture is checked before anything is downloaded.
func (c Catalog) PythonInstaller(version target.Version, arch target.Arch) (Artifact, error) {
	var marker string
	switch arch {
	case target.Arch32:
		marker = ""
	case target.Arch64:
		marker = ".amd64"
	default:
		return Artifact{}, &target.UnsupportedArchError{Value: string(arch)}
	}
	name := fmt.Sprintf("python-%s%s.msi", version.Raw, marker)
	return Artifact{
		Name: name,
		URL:  join(c.PythonBaseURL, version.Raw, name),
	}, nil
}

// GetPip returns the pip bootstrap script.
func (c Catalog) GetPip() Artifact {
	return Artifact{Name: path.Base(c.GetPipURL), URL: c.GetPipURL}
}

// MinGWArchive returns the static MinGW toolchain archive for an architecture.
func (c Catalog) MinGWArchive(version string, arch target.Arch) (Artifact, error) {
	if err := arch.Validate(); err != nil {
		return Artifact{}, err
	}
	if version == "" {
		version = target.DefaultMinGWVersion
	}
	name := fmt.Sprintf("mingw%sstatic-%s.tar.xz", arch, version)
	return Artifact{Name: name, URL: join(c.MinGWBaseURL, name)}, nil
}

func join(base string, parts ...string) string {
	return strings.TrimRight(base, "/") + "/" + strings.Join(parts, "/")
}
