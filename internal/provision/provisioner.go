package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"winbuilder/internal/artifact"
	"winbuilder/internal/launcher"
	"winbuilder/internal/registry"
	"winbuilder/internal/target"
	"winbuilder/internal/toolchain"
	"winbuilder/internal/winenv"
)

// Provisioner provisions targets. The zero value of every optional field
// selects the production default.
type Provisioner struct {
	Environ     []string // base environment every target starts from
	Host        winenv.Host
	Runner      launcher.Runner
	Mapper      launcher.PathMapper // default: winepath through Runner
	HTTPClient  artifact.HTTPClient // default: http.DefaultClient
	Catalog     artifact.Catalog    // default: artifact.DefaultCatalog()
	Propagation target.Propagation  // default: target.DefaultPropagation()
	UpgradePip  bool                // upgrade pip even when it is already installed
	WorkDir     string              // registration files, msi log, gendef output; default "."
	Logger      *slog.Logger
	Recorder    Recorder
	Now         func() time.Time
}

// MakePath builds the PATH value for a target:
// <python>;<python>\Scripts;<mingw>\bin.
func MakePath(pythonHome, mingwHome string) string {
	return strings.Join([]string{
		pythonHome,
		pythonHome + `\Scripts`,
		mingwHome + `\bin`,
	}, ";")
}

// run is the mutable state of one Provision call.
type run struct {
	p      *Provisioner
	spec   target.Spec
	env    winenv.Environment
	cache  *artifact.Cache
	layout toolchain.Layout
	result *Result
	logger *slog.Logger
}

// Provision runs the pipeline for spec. On failure the returned error is a
// *StepError, the result is in StateFailed and FailedStep names the step
// that stopped it.
func (p *Provisioner) Provision(ctx context.Context, spec target.Spec) (Result, error) {
	result := Result{
		EnvironmentID: spec.EnvironmentID(),
		Fingerprint:   spec.Fingerprint(),
		Spec:          spec,
		State:         StateNotStarted,
		Versions:      map[string]string{},
		StartedAt:     p.now(),
	}
	r := &run{
		p:      p,
		spec:   spec,
		result: &result,
		logger: p.logger().With("env", result.EnvironmentID),
	}

	steps := []struct {
		step  Step
		fn    func(context.Context) error
		after State
	}{
		{StepEnvironment, r.environment, StateEnvironmentReady},
		{StepInterpreter, r.interpreter, StateInterpreterReady},
		{StepPip, r.pip, StateInterpreterReady},
		{StepToolchain, r.toolchain, StateToolchainReady},
		{StepPath, r.path, StatePathPublished},
		{StepLink, r.link, StateLinked},
		{StepPointFix, r.pointFix, StateLinked},
		{StepVerify, r.verify, StateVerified},
	}

	r.logger.Info("provisioning", "python", spec.Version.Raw, "arch", spec.Arch, "host", p.Host)
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return r.fail(s.step, err)
		}
		if err := s.fn(ctx); err != nil {
			return r.fail(s.step, err)
		}
		result.State = s.after
	}
	result.FinishedAt = p.now()
	r.logger.Info("environment ready", "python", result.Versions["python"], "gcc", result.Versions["gcc"])
	return result, nil
}

func (r *run) fail(step Step, err error) (Result, error) {
	stepErr := &StepError{Step: step, Err: err}
	r.result.State = StateFailed
	r.result.FailedStep = step
	r.result.Err = stepErr
	r.result.FinishedAt = r.p.now()
	r.logger.Error("provisioning failed", "step", step, "error", err)
	return *r.result, stepErr
}

func (r *run) action(format string, args ...any) {
	r.result.Actions = append(r.result.Actions, fmt.Sprintf(format, args...))
}

func (r *run) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.result.Warnings = append(r.result.Warnings, msg)
	r.logger.Warn(msg)
}

func (r *run) environment(ctx context.Context) error {
	env, err := winenv.New(r.p.Environ, r.spec, r.p.Host)
	if err != nil {
		return err
	}
	r.env = env

	opts := []artifact.Option{artifact.WithLogger(r.logger)}
	if r.p.HTTPClient != nil {
		opts = append(opts, artifact.WithHTTPClient(r.p.HTTPClient))
	}
	r.cache = artifact.NewCache(r.spec.DownloadDir, opts...)

	mapper := r.p.mapper()
	pyHost, err := mapper.ToHost(ctx, env, r.spec.PythonHome)
	if err != nil {
		return err
	}
	mingwHost, err := mapper.ToHost(ctx, env, r.spec.MinGWHome)
	if err != nil {
		return err
	}
	r.layout = toolchain.Layout{
		PythonHome: r.spec.PythonHome,
		PythonHost: pyHost,
		MinGWHome:  r.spec.MinGWHome,
		MinGWHost:  mingwHost,
	}
	return nil
}

func (r *run) interpreter(ctx context.Context) error {
	if exists(r.layout.PythonHost) {
		r.logger.Info("python already installed", "home", r.spec.PythonHome)
		return nil
	}

	// Resolving the installer checks the architecture before any download.
	installer, err := r.p.catalog().PythonInstaller(r.spec.Version, r.spec.Arch)
	if err != nil {
		return err
	}
	msi, err := r.cache.Fetch(ctx, installer)
	if err != nil {
		return err
	}
	msiWin, err := r.p.mapper().ToWindows(ctx, r.env, msi)
	if err != nil {
		return err
	}

	r.logger.Info(fmt.Sprintf("installing Python %s (%s bit) to %s", r.spec.Version, r.spec.Arch, r.spec.PythonHome))
	workDir := r.p.workDir()
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	_, err = r.p.Runner.Run(ctx, r.env, launcher.Command{
		Name:    "msiexec",
		Args:    []string{"/qn", "/i", msiWin, "/log", "msi_install.log", "TARGETDIR=" + r.spec.PythonHome},
		Dir:     workDir,
		LogPath: filepath.Join(workDir, "msi_install.log"),
	})
	if err != nil {
		return err
	}
	r.action("installed python %s", r.spec.Version)
	return nil
}

func (r *run) pip(ctx context.Context) error {
	if !r.spec.InstallPip {
		return nil
	}
	python := r.spec.PythonHome + `\python`

	bootstrapped := false
	if !exists(filepath.Join(r.layout.PythonHost, "Scripts", "pip.exe")) {
		script, err := r.cache.Fetch(ctx, r.p.catalog().GetPip())
		if err != nil {
			return err
		}
		scriptWin, err := r.p.mapper().ToWindows(ctx, r.env, script)
		if err != nil {
			return err
		}
		if _, err := r.p.Runner.Run(ctx, r.env, launcher.Command{Name: python, Args: []string{scriptWin}}); err != nil {
			return err
		}
		bootstrapped = true
		r.action("bootstrapped pip")
	}

	if bootstrapped || r.p.UpgradePip {
		if _, err := r.p.Runner.Run(ctx, r.env, launcher.Command{
			Name: python,
			Args: []string{"-m", "pip", "install", "--upgrade", "pip"},
		}); err != nil {
			return err
		}
		r.action("upgraded pip")
	}
	return nil
}

func (r *run) toolchain(ctx context.Context) error {
	inst := toolchain.Installer{Fetcher: r.cache, Catalog: r.p.catalog(), Logger: r.logger}
	installed, err := inst.Ensure(ctx, r.spec.Arch, r.spec.MinGWVersion, r.layout.MinGWHost)
	if err != nil {
		return err
	}
	if installed {
		r.action("installed mingw %s", r.spec.MinGWVersion)
	}
	return nil
}

func (r *run) path(ctx context.Context) error {
	value := MakePath(r.spec.PythonHome, r.spec.MinGWHome)
	if r.env.Native() {
		r.env = r.env.PrependPath(value)
		return nil
	}

	prop := r.p.propagation()
	store := registry.Store{
		Runner:   r.p.Runner,
		WorkDir:  r.p.workDir(),
		Timeout:  prop.Timeout,
		Interval: prop.Interval,
		Logger:   r.logger,
	}
	outcome, err := store.PublishAndConfirm(ctx, r.env, "PATH", value)
	switch {
	case err == nil:
	case errors.Is(err, registry.ErrPropagationTimeout) && prop.Policy == target.PolicyBestEffort:
		r.warn("PATH update not visible in the registry after %s; continuing", prop.Timeout)
	default:
		return err
	}
	if outcome != registry.OutcomeAlreadyPresent {
		r.action("published PATH")
	}
	return nil
}

func (r *run) link(ctx context.Context) error {
	linker := toolchain.Linker{
		Runner:  r.p.Runner,
		Mapper:  r.p.mapper(),
		WorkDir: r.p.workDir(),
		Logger:  r.logger,
	}
	generated, err := linker.EnsureImportLibrary(ctx, r.env, r.spec, r.layout)
	if err != nil {
		return err
	}
	if generated {
		r.action("generated %s", toolchain.ImportLibraryName(r.spec.Version))
	}
	if err := linker.LinkRuntime(r.spec, r.layout); err != nil {
		return err
	}
	cfg, err := toolchain.WriteCompilerConfig(r.layout.PythonHost)
	if err != nil {
		return err
	}
	r.logger.Info("setting mingw as the default compiler", "file", cfg)
	return nil
}

func (r *run) pointFix(context.Context) error {
	if !toolchain.NeedsMSWin64Define(r.spec.Arch, r.spec.Version) {
		return nil
	}
	r.logger.Info("defining MS_WIN64 for extension builds")
	if err := toolchain.ApplyMSWin64Define(r.layout.PythonHost); err != nil {
		return err
	}
	r.action("applied MS_WIN64 define")
	return nil
}

func (r *run) verify(ctx context.Context) error {
	for _, tool := range []string{"python", "gcc"} {
		out, err := r.p.Runner.Run(ctx, r.env, launcher.Command{Name: tool, Args: []string{"--version"}})
		if err != nil {
			return err
		}
		r.result.Versions[tool] = firstLine(string(out))
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func (p *Provisioner) mapper() launcher.PathMapper {
	if p.Mapper != nil {
		return p.Mapper
	}
	return launcher.Winepath{Runner: p.Runner}
}

func (p *Provisioner) catalog() artifact.Catalog {
	if p.Catalog == (artifact.Catalog{}) {
		return artifact.DefaultCatalog()
	}
	return p.Catalog
}

func (p *Provisioner) propagation() target.Propagation {
	prop := p.Propagation
	def := target.DefaultPropagation()
	if prop.Policy == "" {
		prop.Policy = def.Policy
	}
	if prop.Timeout <= 0 {
		prop.Timeout = def.Timeout
	}
	if prop.Interval <= 0 {
		prop.Interval = def.Interval
	}
	return prop
}

func (p *Provisioner) workDir() string {
	if p.WorkDir != "" {
		return p.WorkDir
	}
	return "."
}

func (p *Provisioner) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Provisioner) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
