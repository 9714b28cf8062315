package launcher

import (
	"context"
	"fmt"
	"strings"

	"winbuilder/internal/winenv"
)

// PathMapper translates between Windows paths seen inside the prefix and
// host paths.
type PathMapper interface {
	ToHost(ctx context.Context, env winenv.Environment, winPath string) (string, error)
	ToWindows(ctx context.Context, env winenv.Environment, hostPath string) (string, error)
}

// Winepath maps paths with the winepath tool. On a native Windows host both
// directions are the identity.
type Winepath struct {
	Runner Runner
}

// ToHost returns the host path backing a Windows path.
func (w Winepath) ToHost(ctx context.Context, env winenv.Environment, winPath string) (string, error) {
	if env.Native() {
		return winPath, nil
	}
	return w.convert(ctx, env, "--unix", winPath)
}

// ToWindows returns the Windows path a host path is visible as.
func (w Winepath) ToWindows(ctx context.Context, env winenv.Environment, hostPath string) (string, error) {
	if env.Native() {
		return hostPath, nil
	}
	return w.convert(ctx, env, "--windows", hostPath)
}

func (w Winepath) convert(ctx context.Context, env winenv.Environment, flag, p string) (string, error) {
	out, err := w.Runner.Run(ctx, env, Command{Name: "winepath", Args: []string{flag, p}, Mode: ModeDirect})
	if err != nil {
		return "", err
	}
	converted := strings.TrimSpace(string(out))
	if converted == "" {
		return "", fmt.Errorf("winepath %s %q returned nothing", flag, p)
	}
	return converted, nil
}
