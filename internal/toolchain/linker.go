package toolchain

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"winbuilder/internal/launcher"
	"winbuilder/internal/target"
	"winbuilder/internal/winenv"
)

// GCCVersion is the gcc release shipped in the static toolchain.
const GCCVersion = "4.9.2"

const compilerConfig = "[build]\ncompiler=mingw32\n"

const msWin64Define = "\n[build_ext]\ndefine=MS_WIN64\n"

// Runtime is the MSVC runtime an interpreter was built against.
type Runtime struct {
	Tag     string // "100" or "90"
	Library string // libmsvcr{tag}.a
	Specs   string // specs{tag}
}

// RuntimeVariant selects the MSVC runtime: msvcr100 for Python 3, msvcr90
// otherwise.
func RuntimeVariant(version target.Version) Runtime {
	tag := "90"
	if version.Major == 3 {
		tag = "100"
	}
	return Runtime{Tag: tag, Library: "libmsvcr" + tag + ".a", Specs: "specs" + tag}
}

// Layout holds the interpreter and toolchain locations, both as Windows
// paths (inside the prefix) and as host paths.
type Layout struct {
	PythonHome string
	PythonHost string
	MinGWHome  string
	MinGWHost  string
}

// Linker prepares a CPython installation for linking with MinGW.
type Linker struct {
	Runner  launcher.Runner
	Mapper  launcher.PathMapper
	WorkDir string // where gendef and dlltool write their output
	Logger  *slog.Logger
}

// ImportLibraryName is the MinGW import library of the interpreter DLL.
func ImportLibraryName(version target.Version) string {
	return "libpython" + version.Tag() + ".dll.a"
}

// DLLCandidates lists where the interpreter DLL is looked up, in order.
func DLLCandidates(spec target.Spec) []string {
	dll := "python" + spec.Version.Tag() + ".dll"
	system := `C:\Windows\SysWoW64\`
	if spec.Arch == target.Arch64 {
		system = `C:\Windows\System32\`
	}
	return []string{spec.PythonHome + `\` + dll, system + dll}
}

// EnsureImportLibrary generates libs\libpython{XY}.dll.a from the interpreter
// DLL unless it already exists. It reports whether it generated anything.
func (l Linker) EnsureImportLibrary(ctx context.Context, env winenv.Environment, spec target.Spec, layout Layout) (bool, error) {
	libName := ImportLibraryName(spec.Version)
	libPath := filepath.Join(layout.PythonHost, "libs", libName)
	if fileExists(libPath) {
		return false, nil
	}
	logger := l.logger()
	logger.Info(fmt.Sprintf("generating %s from %s", libName, spec.PythonHome))

	candidates := DLLCandidates(spec)
	var dll string
	for _, winPath := range candidates {
		hostPath, err := l.Mapper.ToHost(ctx, env, winPath)
		if err != nil {
			return false, err
		}
		if fileExists(hostPath) {
			dll = winPath
			break
		}
		logger.Info("python dll not found", "path", winPath)
	}
	if dll == "" {
		return false, &ArtifactNotFoundError{Name: "python" + spec.Version.Tag() + ".dll", Searched: candidates}
	}

	if err := os.MkdirAll(l.WorkDir, 0o755); err != nil {
		return false, fmt.Errorf("toolchain: create work dir: %w", err)
	}
	bin := layout.MinGWHome + `\bin\`
	defName := "python" + spec.Version.Tag() + ".def"
	steps := []launcher.Command{
		{Name: bin + "gendef", Args: []string{dll}, Dir: l.WorkDir},
		{Name: bin + "dlltool", Args: []string{"-D", dll, "-d", defName, "-l", libName}, Dir: l.WorkDir},
	}
	for _, cmd := range steps {
		if _, err := l.Runner.Run(ctx, env, cmd); err != nil {
			return false, err
		}
	}

	logger.Info(fmt.Sprintf("moving %s to %s", libName, libPath))
	if err := os.MkdirAll(filepath.Dir(libPath), 0o755); err != nil {
		return false, fmt.Errorf("toolchain: create libs dir: %w", err)
	}
	if err := move(filepath.Join(l.WorkDir, libName), libPath); err != nil {
		return false, err
	}
	return true, nil
}

// LinkRuntime copies the MSVC runtime import library into the interpreter's
// libs folder and makes its specs file the gcc default.
func (l Linker) LinkRuntime(spec target.Spec, layout Layout) error {
	rt := RuntimeVariant(spec.Version)
	triplet := spec.Arch.Triplet()

	libSrc := filepath.Join(layout.MinGWHost, triplet, "lib", rt.Library)
	libDst := filepath.Join(layout.PythonHost, "libs", rt.Library)
	l.logger().Info(fmt.Sprintf("copying %s to %s", libSrc, filepath.Dir(libDst)))
	if err := copyRequired(libSrc, libDst); err != nil {
		return err
	}

	specsDir := filepath.Join(layout.MinGWHost, "lib", "gcc", triplet, GCCVersion)
	specsSrc := filepath.Join(specsDir, rt.Specs)
	l.logger().Info(fmt.Sprintf("copying %s to %s", specsSrc, filepath.Join(specsDir, "specs")))
	return copyRequired(specsSrc, filepath.Join(specsDir, "specs"))
}

// WriteCompilerConfig makes mingw32 the default distutils compiler. The file
// is rewritten on every run.
func WriteCompilerConfig(pythonHost string) (string, error) {
	cfg := distutilsConfig(pythonHost)
	if err := os.MkdirAll(filepath.Dir(cfg), 0o755); err != nil {
		return "", fmt.Errorf("toolchain: create distutils dir: %w", err)
	}
	if err := os.WriteFile(cfg, []byte(compilerConfig), 0o644); err != nil {
		return "", fmt.Errorf("toolchain: write distutils.cfg: %w", err)
	}
	return cfg, nil
}

// NeedsMSWin64Define reports whether a target needs MS_WIN64 defined for
// extension builds: 64-bit Python 2 does not define it for gcc
// (bugs.python.org/issue4709).
func NeedsMSWin64Define(arch target.Arch, version target.Version) bool {
	return arch == target.Arch64 && version.Major == 2
}

// ApplyMSWin64Define appends the MS_WIN64 define to distutils.cfg.
func ApplyMSWin64Define(pythonHost string) error {
	f, err := os.OpenFile(distutilsConfig(pythonHost), os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("toolchain: open distutils.cfg: %w", err)
	}
	if _, err := f.WriteString(msWin64Define); err != nil {
		f.Close()
		return fmt.Errorf("toolchain: append MS_WIN64 define: %w", err)
	}
	return f.Close()
}

func distutilsConfig(pythonHost string) string {
	return filepath.Join(pythonHost, "Lib", "distutils", "distutils.cfg")
}

func copyRequired(src, dst string) error {
	if !fileExists(src) {
		return &ArtifactNotFoundError{Name: filepath.Base(src), Searched: []string{filepath.Dir(src)}}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("toolchain: create %s: %w", filepath.Dir(dst), err)
	}
	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("toolchain: copy %s: %w", src, err)
	}
	return nil
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

func (l Linker) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}
