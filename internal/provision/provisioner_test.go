package provision

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ulikunitz/xz"

	"winbuilder/internal/artifact"
	"winbuilder/internal/launcher"
	"winbuilder/internal/registry"
	"winbuilder/internal/target"
	"winbuilder/internal/toolchain"
	"winbuilder/internal/winenv"
)

// mingwArchive builds a minimal static toolchain archive for arch.
func mingwArchive(t *testing.T, arch target.Arch) []byte {
	t.Helper()
	top := "mingw" + string(arch) + "static/"
	triplet := arch.Triplet()
	files := map[string]string{
		top + "bin/gcc.exe":                            "gcc",
		top + triplet + "/lib/libmsvcr100.a":           "msvcr100",
		top + triplet + "/lib/libmsvcr90.a":            "msvcr90",
		top + "lib/gcc/" + triplet + "/4.9.2/specs100": "specs100",
		top + "lib/gcc/" + triplet + "/4.9.2/specs90":  "specs90",
	}

	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	tw := tar.NewWriter(xw)
	for name, body := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := xw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type upstream struct {
	server *httptest.Server
	hits   int32
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	archive64 := mingwArchive(t, target.Arch64)
	archive32 := mingwArchive(t, target.Arch32)
	u := &upstream{}
	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&u.hits, 1)
		switch {
		case strings.Contains(r.URL.Path, "9.9"):
			http.NotFound(w, r)
		case strings.HasPrefix(r.URL.Path, "/python/"):
			_, _ = w.Write([]byte("msi"))
		case r.URL.Path == "/get-pip.py":
			_, _ = w.Write([]byte("print('pip')"))
		case r.URL.Path == "/mingw/mingw64static-2014-11.tar.xz":
			_, _ = w.Write(archive64)
		case r.URL.Path == "/mingw/mingw32static-2014-11.tar.xz":
			_, _ = w.Write(archive32)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(u.server.Close)
	return u
}

func (u *upstream) catalog() artifact.Catalog {
	return artifact.Catalog{
		PythonBaseURL: u.server.URL + "/python",
		GetPipURL:     u.server.URL + "/get-pip.py",
		MinGWBaseURL:  u.server.URL + "/mingw",
	}
}

func (u *upstream) requests() int32 { return atomic.LoadInt32(&u.hits) }

type call struct {
	cmd launcher.Command
	env winenv.Environment
}

var msiVersion = regexp.MustCompile(`python-(\d+)\.(\d+)`)

// fakeWindows imitates the Windows programs the pipeline runs, acting on a
// host directory that backs drive C:.
type fakeWindows struct {
	drive         func(env winenv.Environment) string
	skipDLL       bool
	silentRegedit bool
	calls         []call
}

func wineDrive(env winenv.Environment) string {
	return filepath.Join(env.Prefix(), "drive_c")
}

func (f *fakeWindows) hostPath(env winenv.Environment, win string) string {
	if strings.HasPrefix(win, "Z:") {
		return filepath.FromSlash(strings.ReplaceAll(win[2:], `\`, "/"))
	}
	rel := strings.TrimPrefix(win, `C:\`)
	return filepath.Join(f.drive(env), filepath.FromSlash(strings.ReplaceAll(rel, `\`, "/")))
}

func (f *fakeWindows) Run(_ context.Context, env winenv.Environment, cmd launcher.Command) ([]byte, error) {
	f.calls = append(f.calls, call{cmd: cmd, env: env})
	write := func(p, content string) error {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		return os.WriteFile(p, []byte(content), 0o644)
	}

	switch name := cmd.Name; {
	case name == "winepath" && cmd.Args[0] == "--unix":
		return []byte(f.hostPath(env, cmd.Args[1]) + "\n"), nil
	case name == "winepath":
		return []byte("Z:" + strings.ReplaceAll(cmd.Args[1], "/", `\`) + "\n"), nil

	case name == "msiexec":
		home := f.hostPath(env, strings.TrimPrefix(cmd.Args[len(cmd.Args)-1], "TARGETDIR="))
		if err := os.MkdirAll(filepath.Join(home, "Lib", "distutils"), 0o755); err != nil {
			return nil, err
		}
		if err := write(filepath.Join(home, "python.exe"), "exe"); err != nil {
			return nil, err
		}
		if m := msiVersion.FindStringSubmatch(cmd.Args[2]); m != nil && !f.skipDLL {
			return nil, write(filepath.Join(home, "python"+m[1]+m[2]+".dll"), "dll")
		}
		return nil, nil

	case name == "regedit":
		if f.silentRegedit {
			return nil, nil
		}
		data, err := os.ReadFile(filepath.Join(cmd.Dir, cmd.Args[1]))
		if err != nil {
			return nil, err
		}
		reg, err := os.OpenFile(filepath.Join(env.Prefix(), "user.reg"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		defer reg.Close()
		_, err = reg.Write(data)
		return nil, err

	case strings.HasSuffix(name, `\python`):
		if strings.HasSuffix(cmd.Args[0], "get-pip.py") {
			home := f.hostPath(env, strings.TrimSuffix(name, `\python`))
			return nil, write(filepath.Join(home, "Scripts", "pip.exe"), "pip")
		}
		return []byte("Successfully installed pip\n"), nil

	case strings.HasSuffix(name, `\gendef`):
		return nil, write(filepath.Join(cmd.Dir, "python.def"), "EXPORTS")
	case strings.HasSuffix(name, `\dlltool`):
		return nil, write(filepath.Join(cmd.Dir, cmd.Args[len(cmd.Args)-1]), "implib")

	case name == "python":
		return []byte("Python 3.4.3\r\n"), nil
	case name == "gcc":
		return []byte("gcc.exe (x86_64-posix-seh, Built by MinGW-W64 project) 4.9.2\nCopyright\n"), nil
	}
	return nil, &launcher.ToolError{Command: cmd.String(), ExitCode: -1, Err: errors.New("not found")}
}

func (f *fakeWindows) count(match func(launcher.Command) bool) int {
	n := 0
	for _, c := range f.calls {
		if match(c.cmd) {
			n++
		}
	}
	return n
}

func named(name string) func(launcher.Command) bool {
	return func(c launcher.Command) bool { return c.Name == name }
}

func suffixed(suffix string) func(launcher.Command) bool {
	return func(c launcher.Command) bool { return strings.HasSuffix(c.Name, suffix) }
}

func isPipUpgrade(c launcher.Command) bool {
	return strings.HasSuffix(c.Name, `\python`) && len(c.Args) > 1 && c.Args[1] == "pip"
}

func isGetPip(c launcher.Command) bool {
	return strings.HasSuffix(c.Name, `\python`) && strings.HasSuffix(c.Args[0], "get-pip.py")
}

func newSpec(t *testing.T, version string, arch target.Arch, prefixRoot, downloads string) target.Spec {
	t.Helper()
	v, err := target.ParseVersion(version)
	if err != nil {
		t.Fatal(err)
	}
	return target.Spec{
		PythonHome:   `C:\Py` + v.Tag(),
		Version:      v,
		Arch:         arch,
		MinGWHome:    target.DefaultMinGWHome,
		MinGWVersion: target.DefaultMinGWVersion,
		PrefixRoot:   prefixRoot,
		DownloadDir:  downloads,
		InstallPip:   true,
	}
}

func wineProvisioner(u *upstream, fake *fakeWindows, workDir string) *Provisioner {
	return &Provisioner{
		Environ:    []string{"HOME=/nonexistent"},
		Host:       winenv.HostWine,
		Runner:     fake,
		HTTPClient: u.server.Client(),
		Catalog:    u.catalog(),
		Propagation: target.Propagation{
			Policy:   target.PolicyBestEffort,
			Timeout:  2 * time.Second,
			Interval: 5 * time.Millisecond,
		},
		WorkDir: workDir,
		Now:     func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
}

func readFile(t *testing.T, p string) string {
	t.Helper()
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read %s: %v", p, err)
	}
	return string(b)
}

func TestMakePath(t *testing.T) {
	if got := MakePath(`C:\Py34`, `C:\mingw`); got != `C:\Py34;C:\Py34\Scripts;C:\mingw\bin` {
		t.Errorf("MakePath = %q", got)
	}
}

func TestProvision_WineEndToEnd(t *testing.T) {
	u := newUpstream(t)
	fake := &fakeWindows{drive: wineDrive}
	root, downloads, work := t.TempDir(), t.TempDir(), t.TempDir()
	p := wineProvisioner(u, fake, work)
	spec := newSpec(t, "3.4.3", target.Arch64, root, downloads)

	result, err := p.Provision(context.Background(), spec)
	if err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	if !result.OK() || result.State != StateVerified {
		t.Fatalf("result = %+v", result)
	}
	if result.EnvironmentID != "wine-py3.4.3-64" {
		t.Errorf("EnvironmentID = %q", result.EnvironmentID)
	}
	if result.Versions["python"] != "Python 3.4.3" {
		t.Errorf("python version = %q", result.Versions["python"])
	}
	if !strings.HasSuffix(result.Versions["gcc"], "4.9.2") {
		t.Errorf("gcc version = %q", result.Versions["gcc"])
	}
	wantActions := []string{
		"installed python 3.4.3",
		"bootstrapped pip",
		"upgraded pip",
		"installed mingw 2014-11",
		"published PATH",
		"generated libpython34.dll.a",
	}
	if strings.Join(result.Actions, "|") != strings.Join(wantActions, "|") {
		t.Errorf("Actions = %v", result.Actions)
	}

	prefix := filepath.Join(root, "wine-py3.4.3-64")
	for _, c := range fake.calls {
		if c.env.Prefix() != prefix {
			t.Fatalf("%s ran with WINEPREFIX %q", c.cmd, c.env.Prefix())
		}
		if _, ok := c.env.Get("WINEARCH"); ok {
			t.Fatalf("64-bit target ran with WINEARCH set")
		}
	}

	var msi launcher.Command
	for _, c := range fake.calls {
		if c.cmd.Name == "msiexec" {
			msi = c.cmd
		}
	}
	wantMsi := fmt.Sprintf(`msiexec /qn /i Z:%s /log msi_install.log TARGETDIR=C:\Py34`,
		strings.ReplaceAll(filepath.Join(downloads, "python-3.4.3.amd64.msi"), "/", `\`))
	if msi.String() != wantMsi {
		t.Errorf("msiexec = %q, want %q", msi, wantMsi)
	}
	if msi.Dir != work || msi.Mode != launcher.ModeAuto {
		t.Errorf("msiexec Dir=%q Mode=%v", msi.Dir, msi.Mode)
	}

	userReg := readFile(t, filepath.Join(prefix, "user.reg"))
	if !strings.Contains(userReg, `"PATH"="C:\\Py34;C:\\Py34\\Scripts;C:\\mingw-static\\bin"`) {
		t.Errorf("user.reg = %q", userReg)
	}

	drive := filepath.Join(prefix, "drive_c")
	if got := readFile(t, filepath.Join(drive, "Py34", "Lib", "distutils", "distutils.cfg")); got != "[build]\ncompiler=mingw32\n" {
		t.Errorf("distutils.cfg = %q", got)
	}
	if got := readFile(t, filepath.Join(drive, "Py34", "libs", "libmsvcr100.a")); got != "msvcr100" {
		t.Errorf("runtime library = %q", got)
	}
	if got := readFile(t, filepath.Join(drive, "Py34", "libs", "libpython34.dll.a")); got != "implib" {
		t.Errorf("import library = %q", got)
	}
	if got := readFile(t, filepath.Join(drive, "mingw-static", "lib", "gcc", "x86_64-w64-mingw32", "4.9.2", "specs")); got != "specs100" {
		t.Errorf("specs = %q", got)
	}
}

func TestProvision_SecondRunIsIdempotent(t *testing.T) {
	u := newUpstream(t)
	fake := &fakeWindows{drive: wineDrive}
	p := wineProvisioner(u, fake, t.TempDir())
	spec := newSpec(t, "3.4.3", target.Arch64, t.TempDir(), t.TempDir())

	if _, err := p.Provision(context.Background(), spec); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	requests := u.requests()
	fake.calls = nil

	result, err := p.Provision(context.Background(), spec)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if !result.OK() {
		t.Fatalf("second run = %+v", result)
	}
	if len(result.Actions) != 0 {
		t.Errorf("second run made changes: %v", result.Actions)
	}
	checks := map[string]func(launcher.Command) bool{
		"msiexec":     named("msiexec"),
		"get-pip":     isGetPip,
		"pip upgrade": isPipUpgrade,
		"regedit":     named("regedit"),
		"gendef":      suffixed(`\gendef`),
		"dlltool":     suffixed(`\dlltool`),
	}
	for name, match := range checks {
		if n := fake.count(match); n != 0 {
			t.Errorf("%s invoked %d times on second run", name, n)
		}
	}
	if u.requests() != requests {
		t.Errorf("second run downloaded %d files", u.requests()-requests)
	}
}

func TestProvision_UpgradePipForced(t *testing.T) {
	u := newUpstream(t)
	fake := &fakeWindows{drive: wineDrive}
	p := wineProvisioner(u, fake, t.TempDir())
	spec := newSpec(t, "3.4.3", target.Arch64, t.TempDir(), t.TempDir())
	if _, err := p.Provision(context.Background(), spec); err != nil {
		t.Fatal(err)
	}

	fake.calls = nil
	p.UpgradePip = true
	if _, err := p.Provision(context.Background(), spec); err != nil {
		t.Fatal(err)
	}
	if n := fake.count(isPipUpgrade); n != 1 {
		t.Errorf("pip upgrade ran %d times, want 1", n)
	}
	if n := fake.count(isGetPip); n != 0 {
		t.Errorf("get-pip ran %d times, want 0", n)
	}
}

func TestProvision_WithoutPip(t *testing.T) {
	u := newUpstream(t)
	fake := &fakeWindows{drive: wineDrive}
	p := wineProvisioner(u, fake, t.TempDir())
	spec := newSpec(t, "3.4.3", target.Arch64, t.TempDir(), t.TempDir())
	spec.InstallPip = false

	if _, err := p.Provision(context.Background(), spec); err != nil {
		t.Fatal(err)
	}
	if n := fake.count(isGetPip) + fake.count(isPipUpgrade); n != 0 {
		t.Errorf("pip commands ran %d times", n)
	}
}

func TestProvision_MSWin64PointFix(t *testing.T) {
	tests := []struct {
		version string
		arch    target.Arch
		fixed   bool
	}{
		{"2.7.9", target.Arch64, true},
		{"2.7.9", target.Arch32, false},
		{"3.4.3", target.Arch64, false},
		{"3.4.3", target.Arch32, false},
	}
	for _, tt := range tests {
		t.Run(tt.version+"-"+string(tt.arch), func(t *testing.T) {
			u := newUpstream(t)
			fake := &fakeWindows{drive: wineDrive}
			p := wineProvisioner(u, fake, t.TempDir())
			spec := newSpec(t, tt.version, tt.arch, t.TempDir(), t.TempDir())

			result, err := p.Provision(context.Background(), spec)
			if err != nil {
				t.Fatalf("Provision failed: %v", err)
			}
			env, _ := winenv.New(nil, spec, winenv.HostWine)
			if tt.arch == target.Arch32 {
				if v, _ := fake.calls[0].env.Get("WINEARCH"); v != "win32" {
					t.Errorf("WINEARCH = %q", v)
				}
			}
			pyHost := filepath.Join(env.Prefix(), "drive_c", "Py"+spec.Version.Tag())
			cfg := readFile(t, filepath.Join(pyHost, "Lib", "distutils", "distutils.cfg"))
			if got := strings.Contains(cfg, "define=MS_WIN64"); got != tt.fixed {
				t.Errorf("MS_WIN64 present = %v, want %v (cfg %q)", got, tt.fixed, cfg)
			}
			runtime := toolchain.RuntimeVariant(spec.Version)
			if _, err := os.Stat(filepath.Join(pyHost, "libs", runtime.Library)); err != nil {
				t.Errorf("runtime %s not linked: %v", runtime.Library, err)
			}
			hasAction := false
			for _, a := range result.Actions {
				if a == "applied MS_WIN64 define" {
					hasAction = true
				}
			}
			if hasAction != tt.fixed {
				t.Errorf("point-fix action = %v", hasAction)
			}
		})
	}
}

func TestProvision_MissingDLL(t *testing.T) {
	u := newUpstream(t)
	fake := &fakeWindows{drive: wineDrive, skipDLL: true}
	p := wineProvisioner(u, fake, t.TempDir())

	result, err := p.Provision(context.Background(), newSpec(t, "3.4.3", target.Arch64, t.TempDir(), t.TempDir()))
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Step != StepLink {
		t.Fatalf("expected link StepError, got %v", err)
	}
	var notFound *toolchain.ArtifactNotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("expected ArtifactNotFoundError, got %v", err)
	}
	if result.State != StateFailed || result.FailedStep != StepLink {
		t.Errorf("result = %v at %v", result.State, result.FailedStep)
	}
	if fake.count(named("python")) != 0 {
		t.Error("verify ran after a failed step")
	}
}

func TestProvision_InstallerNotFound(t *testing.T) {
	u := newUpstream(t)
	fake := &fakeWindows{drive: wineDrive}
	p := wineProvisioner(u, fake, t.TempDir())

	result, err := p.Provision(context.Background(), newSpec(t, "9.9", target.Arch64, t.TempDir(), t.TempDir()))
	var fetchErr *artifact.FetchError
	if !errors.As(err, &fetchErr) || fetchErr.Status != http.StatusNotFound {
		t.Fatalf("expected 404 FetchError, got %v", err)
	}
	if result.FailedStep != StepInterpreter {
		t.Errorf("FailedStep = %v", result.FailedStep)
	}
	if fake.count(named("msiexec")) != 0 {
		t.Error("msiexec ran without an installer")
	}
}

func TestProvision_PropagationPolicy(t *testing.T) {
	t.Run("best-effort continues with a warning", func(t *testing.T) {
		u := newUpstream(t)
		fake := &fakeWindows{drive: wineDrive, silentRegedit: true}
		p := wineProvisioner(u, fake, t.TempDir())
		p.Propagation.Timeout = 20 * time.Millisecond

		result, err := p.Provision(context.Background(), newSpec(t, "3.4.3", target.Arch64, t.TempDir(), t.TempDir()))
		if err != nil {
			t.Fatalf("Provision failed: %v", err)
		}
		if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "PATH update") {
			t.Errorf("Warnings = %v", result.Warnings)
		}
	})

	t.Run("fail-fast halts the target", func(t *testing.T) {
		u := newUpstream(t)
		fake := &fakeWindows{drive: wineDrive, silentRegedit: true}
		p := wineProvisioner(u, fake, t.TempDir())
		p.Propagation.Timeout = 20 * time.Millisecond
		p.Propagation.Policy = target.PolicyFailFast

		result, err := p.Provision(context.Background(), newSpec(t, "3.4.3", target.Arch64, t.TempDir(), t.TempDir()))
		if !errors.Is(err, registry.ErrPropagationTimeout) {
			t.Fatalf("expected ErrPropagationTimeout, got %v", err)
		}
		if result.FailedStep != StepPath {
			t.Errorf("FailedStep = %v", result.FailedStep)
		}
	})
}

func TestProvision_Cancelled(t *testing.T) {
	u := newUpstream(t)
	fake := &fakeWindows{drive: wineDrive}
	p := wineProvisioner(u, fake, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := p.Provision(ctx, newSpec(t, "3.4.3", target.Arch64, t.TempDir(), t.TempDir()))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result.FailedStep != StepEnvironment || len(fake.calls) != 0 {
		t.Errorf("cancelled run did work: step %v, %d calls", result.FailedStep, len(fake.calls))
	}
}

// nativeMapper maps C:\ onto the fake's drive without winepath.
type nativeMapper struct{ f *fakeWindows }

func (m nativeMapper) ToHost(_ context.Context, env winenv.Environment, p string) (string, error) {
	return m.f.hostPath(env, p), nil
}

func (m nativeMapper) ToWindows(_ context.Context, _ winenv.Environment, p string) (string, error) {
	return p, nil
}

type memoryRecorder struct {
	results      []Result
	fingerprints map[string]string
}

func (m *memoryRecorder) Record(_ context.Context, r Result) error {
	m.results = append(m.results, r)
	return nil
}

func (m *memoryRecorder) LastFingerprint(_ context.Context, envID string) (string, bool, error) {
	fp, ok := m.fingerprints[envID]
	return fp, ok, nil
}

func TestProvisionAll_NativeBatch(t *testing.T) {
	u := newUpstream(t)
	drive := t.TempDir()
	fake := &fakeWindows{drive: func(winenv.Environment) string { return drive }}
	recorder := &memoryRecorder{fingerprints: map[string]string{"wine-py3.3.5-64": "sha256:old"}}
	p := &Provisioner{
		Environ:    []string{"Path=C:\\Windows"},
		Host:       winenv.HostWindows,
		Runner:     fake,
		Mapper:     nativeMapper{f: fake},
		HTTPClient: u.server.Client(),
		Catalog:    u.catalog(),
		WorkDir:    t.TempDir(),
		Recorder:   recorder,
	}
	downloads := t.TempDir()
	specs := []target.Spec{
		newSpec(t, "3.4.3", target.Arch64, "", downloads),
		newSpec(t, "9.9", target.Arch64, "", downloads),
		newSpec(t, "3.3.5", target.Arch64, "", downloads),
	}

	summary := p.ProvisionAll(context.Background(), specs)

	if len(summary.Results) != 3 {
		t.Fatalf("got %d results", len(summary.Results))
	}
	for i, want := range []string{"wine-py3.4.3-64", "wine-py9.9-64", "wine-py3.3.5-64"} {
		if summary.Results[i].EnvironmentID != want {
			t.Errorf("result %d = %s, want %s", i, summary.Results[i].EnvironmentID, want)
		}
	}
	if !summary.Results[0].OK() || summary.Results[1].OK() || !summary.Results[2].OK() {
		t.Errorf("states = %v, %v, %v", summary.Results[0].State, summary.Results[1].State, summary.Results[2].State)
	}
	if summary.Failed() != 1 {
		t.Errorf("Failed = %d", summary.Failed())
	}
	var fetchErr *artifact.FetchError
	if !errors.As(summary.FirstError(), &fetchErr) {
		t.Errorf("FirstError = %v", summary.FirstError())
	}
	if len(recorder.results) != 3 {
		t.Errorf("recorded %d results", len(recorder.results))
	}

	// Drift against the recorded fingerprint is reported on the third target only.
	if len(summary.Results[2].Warnings) != 1 || !strings.Contains(summary.Results[2].Warnings[0], "sha256:old") {
		t.Errorf("third target warnings = %v", summary.Results[2].Warnings)
	}
	if len(summary.Results[0].Warnings) != 0 {
		t.Errorf("first target warnings = %v", summary.Results[0].Warnings)
	}

	if fake.count(named("regedit")) != 0 || fake.count(named("winepath")) != 0 {
		t.Error("native host used wine helpers")
	}
	for _, c := range fake.calls {
		if c.cmd.Name != "python" {
			continue
		}
		pathValue, _ := c.env.Get("PATH")
		switch {
		case strings.HasPrefix(pathValue, `C:\Py34;C:\Py34\Scripts;C:\mingw-static\bin;`):
		case strings.HasPrefix(pathValue, `C:\Py33;C:\Py33\Scripts;C:\mingw-static\bin;`):
			if strings.Contains(pathValue, "Py34") {
				t.Errorf("environment leaked between targets: %q", pathValue)
			}
		default:
			t.Errorf("verify ran with PATH %q", pathValue)
		}
		if !strings.HasSuffix(pathValue, `;C:\Windows`) {
			t.Errorf("base Path lost: %q", pathValue)
		}
	}
}

func TestStateString(t *testing.T) {
	for s := StateNotStarted; s <= StateFailed; s++ {
		parsed, ok := ParseState(s.String())
		if !ok || parsed != s {
			t.Errorf("ParseState(%q) = %v, %v", s.String(), parsed, ok)
		}
	}
	if _, ok := ParseState("bogus"); ok {
		t.Error("ParseState accepted an unknown name")
	}
}
