package toolchain

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

// ErrUnsafeArchive is returned for archive entries that would land outside
// the extraction directory.
var ErrUnsafeArchive = errors.New("archive entry escapes destination")

// ExtractTarXz unpacks a .tar.xz archive into dest. Every entry is checked
// before anything is written for it.
func ExtractTarXz(archivePath, dest string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("toolchain: open archive: %w", err)
	}
	defer file.Close()

	xzr, err := xz.NewReader(file)
	if err != nil {
		return fmt.Errorf("toolchain: xz reader: %w", err)
	}
	return extractTar(tar.NewReader(xzr), dest)
}

func extractTar(tr *tar.Reader, dest string) error {
	dest, err := filepath.Abs(dest)
	if err != nil {
		return fmt.Errorf("toolchain: resolve destination: %w", err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("toolchain: create destination: %w", err)
	}

	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("toolchain: read archive: %w", err)
		}

		clean := path.Clean(strings.TrimPrefix(header.Name, "./"))
		if clean == "." || clean == "" {
			continue
		}
		target := filepath.Join(dest, filepath.FromSlash(clean))
		if err := ensureWithinRoot(dest, target); err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, dirMode(header.Mode)); err != nil {
				return fmt.Errorf("toolchain: mkdir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := writeEntry(tr, target, fs.FileMode(header.Mode).Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			linkTarget := filepath.Join(filepath.Dir(target), filepath.FromSlash(header.Linkname))
			if filepath.IsAbs(header.Linkname) {
				linkTarget = header.Linkname
			}
			if err := ensureWithinRoot(dest, linkTarget); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("toolchain: mkdir for link %s: %w", target, err)
			}
			if err := os.Symlink(header.Linkname, target); err != nil {
				return fmt.Errorf("toolchain: symlink %s: %w", target, err)
			}
		case tar.TypeLink:
			linkTarget := filepath.Join(dest, filepath.FromSlash(path.Clean(header.Linkname)))
			if err := ensureWithinRoot(dest, linkTarget); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("toolchain: mkdir for link %s: %w", target, err)
			}
			if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("toolchain: replace %s: %w", target, err)
			}
			if err := os.Link(linkTarget, target); err != nil {
				return fmt.Errorf("toolchain: hard link %s: %w", target, err)
			}
		default:
			// Devices and fifos have no place in a toolchain archive.
			return fmt.Errorf("toolchain: unsupported tar entry %q", header.Name)
		}
	}
}

func writeEntry(r io.Reader, target string, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("toolchain: mkdir for file %s: %w", target, err)
	}
	if mode == 0 {
		mode = 0o644
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("toolchain: create file %s: %w", target, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("toolchain: copy file %s: %w", target, err)
	}
	return f.Close()
}

func dirMode(mode int64) fs.FileMode {
	m := fs.FileMode(mode).Perm()
	if m == 0 {
		return 0o755
	}
	return m | 0o700
}

func ensureWithinRoot(root, target string) error {
	root = filepath.Clean(root)
	target = filepath.Clean(target)
	if target == root {
		return nil
	}
	if !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return fmt.Errorf("%w: %s", ErrUnsafeArchive, target)
	}
	return nil
}
