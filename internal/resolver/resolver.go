package resolver

import (
	"strings"
)

// ResolvedValue represents a resolved input value
type ResolvedValue struct {
	Key       string // The input key (e.g., "python.home")
	EnvVar    string // The variable the value came from, or the primary name if unset
	Value     string // The resolved value (default if not set)
	Present   bool   // Whether one of the env vars was set
	Defaulted bool   // Whether Value is the field default
}

// Resolve looks up every field in the environment.
// environ uses the "KEY=VALUE" form of os.Environ. Results keep the order of fields.
func Resolve(fields []Field, environ []string) []ResolvedValue {
	envMap := parseEnviron(environ)

	results := make([]ResolvedValue, 0, len(fields))
	for _, f := range fields {
		names := f.EnvVars()
		rv := ResolvedValue{Key: f.Key, EnvVar: names[0]}
		for _, name := range names {
			if value, ok := envMap[name]; ok {
				rv.EnvVar = name
				rv.Value = strings.TrimSpace(value)
				rv.Present = true
				break
			}
		}
		if !rv.Present && f.Default != "" {
			rv.Value = f.Default
			rv.Defaulted = true
		}
		results = append(results, rv)
	}

	return results
}

// Lookup returns the value of a single variable from an environ slice.
func Lookup(environ []string, name string) (string, bool) {
	v, ok := parseEnviron(environ)[name]
	return v, ok
}

// Values flattens resolved values into a key -> value map.
func Values(resolved []ResolvedValue) map[string]string {
	out := make(map[string]string, len(resolved))
	for _, rv := range resolved {
		out[rv.Key] = rv.Value
	}
	return out
}

// parseEnviron converts an environ slice (["KEY=VALUE", ...]) into a map.
// Handles edge cases like empty values ("KEY=") and values containing "=" ("KEY=a=b").
func parseEnviron(environ []string) map[string]string {
	result := make(map[string]string)
	for _, entry := range environ {
		// Split on first "=" only - values can contain "="
		idx := strings.Index(entry, "=")
		if idx == -1 {
			// No "=" found, skip malformed entry
			continue
		}
		key := entry[:idx]
		value := entry[idx+1:]
		result[key] = value
	}
	return result
}
