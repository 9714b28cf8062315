// Package toolchain installs the static MinGW toolchain and wires it to a
// CPython installation so C extensions can be built.
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"winbuilder/internal/artifact"
	"winbuilder/internal/target"
)

// ArtifactNotFoundError is returned when a file the toolchain needs is not
// present in any of the searched locations.
type ArtifactNotFoundError struct {
	Name     string
	Searched []string
}

func (e *ArtifactNotFoundError) Error() string {
	return fmt.Sprintf("could not find %s (searched %s)", e.Name, strings.Join(e.Searched, ", "))
}

// Fetcher returns the local path of a downloaded artifact.
type Fetcher interface {
	Fetch(ctx context.Context, a artifact.Artifact) (string, error)
	Dir() string
}

// Installer places the MinGW toolchain at its home directory.
type Installer struct {
	Fetcher Fetcher
	Catalog artifact.Catalog
	Logger  *slog.Logger
}

// Ensure installs the toolchain for arch into home (a host path) unless home
// already exists. It reports whether anything was installed.
//
// The archive unpacks to mingw{arch}static next to the download. A failed
// extraction removes the staging directory again; one left behind by a killed
// process is reused as is.
func (i Installer) Ensure(ctx context.Context, arch target.Arch, version, home string) (bool, error) {
	logger := i.logger()
	if _, err := os.Stat(home); err == nil {
		logger.Info("mingw already installed", "home", home)
		return false, nil
	}

	a, err := i.Catalog.MinGWArchive(version, arch)
	if err != nil {
		return false, err
	}
	archive, err := i.Fetcher.Fetch(ctx, a)
	if err != nil {
		return false, err
	}

	downloads, err := filepath.Abs(i.Fetcher.Dir())
	if err != nil {
		return false, fmt.Errorf("toolchain: resolve download dir: %w", err)
	}
	staging := filepath.Join(downloads, StagingName(arch))
	if _, err := os.Stat(staging); errors.Is(err, fs.ErrNotExist) {
		logger.Info("extracting", "archive", archive)
		if err := ExtractTarXz(archive, downloads); err != nil {
			if rmErr := os.RemoveAll(staging); rmErr != nil {
				logger.Warn("removing partial extraction", "dir", staging, "error", rmErr)
			}
			return false, err
		}
	} else {
		logger.Info("reusing extracted toolchain", "dir", staging)
	}
	if info, err := os.Stat(staging); err != nil || !info.IsDir() {
		return false, &ArtifactNotFoundError{Name: StagingName(arch), Searched: []string{archive}}
	}

	logger.Info("installing mingw", "home", home)
	if err := move(staging, home); err != nil {
		return false, err
	}
	return true, nil
}

// StagingName is the top-level directory of the toolchain archive.
func StagingName(arch target.Arch) string {
	return "mingw" + string(arch) + "static"
}

func (i Installer) logger() *slog.Logger {
	if i.Logger != nil {
		return i.Logger
	}
	return slog.Default()
}

// move renames src to dst, copying when the rename crosses devices.
func move(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("toolchain: prepare parent dir: %w", err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyTree(src, dst); err != nil {
		os.RemoveAll(dst)
		return fmt.Errorf("toolchain: move %s to %s: %w", src, dst, err)
	}
	return os.RemoveAll(src)
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		out := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(out, 0o755)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			return os.Symlink(link, out)
		}
		return copyFile(p, out)
	})
}

// copyFile copies src to dst keeping the permission bits.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
