// Package resolver reads single-run provisioning inputs from the environment.
package resolver

import "strings"

// PathToEnvVar converts a dotted input key to its environment variable name.
// e.g., "python.home" -> "PYTHON_HOME", "download.folder" -> "DOWNLOAD_FOLDER"
func PathToEnvVar(key string) string {
	if key == "" {
		return ""
	}
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
