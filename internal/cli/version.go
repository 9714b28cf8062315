package cli

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X winbuilder/internal/cli.Version=...".
var Version = "dev"

// VersionString returns Version, falling back to the module version recorded
// by the go tool.
func VersionString() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}

func (a *App) newVersionCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the winbuilder version",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(*cobra.Command, []string) error {
			if root.json {
				return writeJSON(a.stdout(), map[string]string{
					"version": VersionString(),
					"go":      runtime.Version(),
					"host":    a.Host.String(),
				})
			}
			fmt.Fprintf(a.stdout(), "winbuilder %s (%s, %s host)\n", VersionString(), runtime.Version(), a.Host)
			return nil
		},
	}
}
