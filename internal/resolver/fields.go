package resolver

import "winbuilder/internal/target"

// Kind is the value type of a single-run input.
type Kind string

const (
	KindString  Kind = "string"
	KindEnum    Kind = "enum"
	KindVersion Kind = "version"
	KindBool    Kind = "bool"
)

// Field describes one single-run input.
type Field struct {
	Key      string   // e.g., "python.home"
	Kind     Kind     // value type checked by the validator
	Required bool     // missing required inputs abort before any work
	Default  string   // used when no env var is set
	Values   []string // allowed values for enum fields
	Aliases  []string // older variable names, checked after the primary one
}

// EnvVars returns the variable names consulted for the field, in order.
func (f Field) EnvVars() []string {
	return append([]string{PathToEnvVar(f.Key)}, f.Aliases...)
}

// Single-run input keys.
const (
	KeyPythonHome    = "python.home"
	KeyPythonVersion = "python.version"
	KeyArch          = "arch"
	KeyMinGWHome     = "mingw.home"
	KeyMinGWVersion  = "mingw.version"
	KeyDownloadDir   = "download.folder"
	KeyWineRoot      = "wine.root"
	KeyInstallPip    = "install.pip"
)

// SingleRunFields lists every input read from the environment when no
// batch file is given.
var SingleRunFields = []Field{
	{Key: KeyPythonHome, Kind: KindString, Required: true, Aliases: []string{"PY_HOME"}},
	{Key: KeyPythonVersion, Kind: KindVersion, Required: true, Aliases: []string{"PY_VERSION"}},
	{Key: KeyArch, Kind: KindEnum, Required: true, Values: []string{string(target.Arch32), string(target.Arch64)}},
	{Key: KeyMinGWHome, Kind: KindString, Default: target.DefaultMinGWHome},
	{Key: KeyMinGWVersion, Kind: KindString, Default: target.DefaultMinGWVersion},
	{Key: KeyDownloadDir, Kind: KindString, Default: target.DefaultDownloadDir},
	{Key: KeyWineRoot, Kind: KindString},
	{Key: KeyInstallPip, Kind: KindBool, Default: "true"},
}
