package target

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// batchFile represents the YAML file structure
type batchFile struct {
	PrefixRoot   *string          `yaml:"wine_prefix_root"`
	DownloadDir  string           `yaml:"download_folder,omitempty"`
	Propagation  propagationEntry `yaml:"propagation,omitempty"`
	Matrix       []targetEntry    `yaml:"matrix"`
	Environments []targetEntry    `yaml:"environments,omitempty"`
}

// propagationEntry represents the optional propagation block
type propagationEntry struct {
	Policy   string `yaml:"policy,omitempty"`
	Timeout  string `yaml:"timeout,omitempty"`
	Interval string `yaml:"interval,omitempty"`
}

// targetEntry represents a single matrix entry
type targetEntry struct {
	PythonHome        string `yaml:"python_home"`
	PythonVersion     string `yaml:"python_version"`
	PythonArch        string `yaml:"python_arch"`
	MinGWHome         string `yaml:"mingw_home,omitempty"`
	MinGWVersion      string `yaml:"mingw_version,omitempty"`
	PrefixRoot        string `yaml:"wine_prefix_root,omitempty"`
	DownloadDir       string `yaml:"download_folder,omitempty"`
	LegacyDownloadDir string `yaml:"DOWNLOAD_FOLDER,omitempty"`
	InstallPip        *bool  `yaml:"install_pip,omitempty"`
}

// ParseBatch parses a YAML batch document. Every entry is validated before
// the batch is returned, so a bad entry fails the whole load.
func ParseBatch(content []byte) (Batch, error) {
	var bf batchFile
	if err := yaml.Unmarshal(content, &bf); err != nil {
		return Batch{}, fmt.Errorf("%w: invalid YAML: %v", ErrInvalidConfig, err)
	}

	prefixRoot := DefaultPrefixRoot
	if bf.PrefixRoot != nil {
		prefixRoot = strings.TrimSpace(*bf.PrefixRoot)
	}
	prefixRoot, err := expandHostPath(prefixRoot)
	if err != nil {
		return Batch{}, err
	}

	propagation, err := parsePropagation(bf.Propagation)
	if err != nil {
		return Batch{}, err
	}

	// "environments" is the key used by the older single-file script.
	entries := bf.Matrix
	if len(entries) == 0 {
		entries = bf.Environments
	}
	if len(entries) == 0 {
		return Batch{}, fmt.Errorf("%w: no targets listed under 'matrix'", ErrInvalidConfig)
	}

	batch := Batch{
		PrefixRoot:  prefixRoot,
		Propagation: propagation,
		Targets:     make([]Spec, 0, len(entries)),
	}
	for i, entry := range entries {
		spec, err := entry.toSpec(prefixRoot, bf.DownloadDir)
		if err != nil {
			return Batch{}, fmt.Errorf("matrix entry %d: %w", i, err)
		}
		batch.Targets = append(batch.Targets, spec)
	}
	return batch, nil
}

// LoadBatchFromPath reads and parses a batch document from the given file path
func LoadBatchFromPath(path string) (Batch, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Batch{}, fmt.Errorf("%w: config file not found: %s", ErrInvalidConfig, path)
		}
		return Batch{}, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseBatch(content)
}

func (e targetEntry) toSpec(prefixRoot, downloadDir string) (Spec, error) {
	if strings.TrimSpace(e.PythonHome) == "" {
		return Spec{}, fmt.Errorf("%w: missing required field 'python_home'", ErrInvalidConfig)
	}
	if strings.TrimSpace(e.PythonVersion) == "" {
		return Spec{}, fmt.Errorf("%w: missing required field 'python_version'", ErrInvalidConfig)
	}
	if strings.TrimSpace(e.PythonArch) == "" {
		return Spec{}, fmt.Errorf("%w: missing required field 'python_arch'", ErrInvalidConfig)
	}

	version, err := ParseVersion(e.PythonVersion)
	if err != nil {
		return Spec{}, err
	}
	arch, err := ParseArch(e.PythonArch)
	if err != nil {
		return Spec{}, err
	}

	if e.PrefixRoot != "" {
		prefixRoot = e.PrefixRoot
	}
	prefixRoot, err = expandHostPath(prefixRoot)
	if err != nil {
		return Spec{}, err
	}

	dl := firstNonEmpty(e.DownloadDir, e.LegacyDownloadDir, downloadDir, DefaultDownloadDir)
	dl, err = expandHostPath(dl)
	if err != nil {
		return Spec{}, err
	}

	spec := Spec{
		PythonHome:   strings.TrimSpace(e.PythonHome),
		Version:      version,
		Arch:         arch,
		MinGWHome:    firstNonEmpty(strings.TrimSpace(e.MinGWHome), DefaultMinGWHome),
		MinGWVersion: firstNonEmpty(strings.TrimSpace(e.MinGWVersion), DefaultMinGWVersion),
		PrefixRoot:   prefixRoot,
		DownloadDir:  dl,
		InstallPip:   e.InstallPip == nil || *e.InstallPip,
	}
	return spec, spec.Validate()
}

func parsePropagation(p propagationEntry) (Propagation, error) {
	out := DefaultPropagation()

	policy, err := ParsePolicy(p.Policy)
	if err != nil {
		return Propagation{}, err
	}
	out.Policy = policy

	if p.Timeout != "" {
		d, err := time.ParseDuration(p.Timeout)
		if err != nil || d <= 0 {
			return Propagation{}, fmt.Errorf("%w: propagation timeout %q is not a positive duration", ErrInvalidConfig, p.Timeout)
		}
		out.Timeout = d
	}
	if p.Interval != "" {
		d, err := time.ParseDuration(p.Interval)
		if err != nil || d <= 0 {
			return Propagation{}, fmt.Errorf("%w: propagation interval %q is not a positive duration", ErrInvalidConfig, p.Interval)
		}
		out.Interval = d
	}
	return out, nil
}

func expandHostPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	expanded, err := homedir.Expand(p)
	if err != nil {
		return "", fmt.Errorf("%w: cannot expand %q: %v", ErrInvalidConfig, p, err)
	}
	return expanded, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
