// Package validator checks single-run inputs before any provisioning work.
package validator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"winbuilder/internal/resolver"
	"winbuilder/internal/target"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Key     string   // The input key (e.g., "python.home")
	EnvVar  string   // The environment variable name (e.g., "PYTHON_HOME")
	Message string   // Human-readable error message
	Value   string   // The invalid value (if present)
	Allowed []string // For enum errors, the allowed values
}

// ValidationResult contains all validation outcomes
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

// Validate checks all resolved values against their field constraints.
// It collects all errors rather than stopping at the first one.
func Validate(fields []resolver.Field, resolved []resolver.ResolvedValue) ValidationResult {
	byKey := make(map[string]resolver.Field, len(fields))
	for _, f := range fields {
		byKey[f.Key] = f
	}

	var errs []ValidationError
	for _, rv := range resolved {
		field, exists := byKey[rv.Key]
		if !exists {
			continue
		}

		if field.Required && (!rv.Present || rv.Value == "") {
			errs = append(errs, ValidationError{
				Key:     rv.Key,
				EnvVar:  rv.EnvVar,
				Message: "required but not set",
			})
			continue
		}
		if rv.Value == "" {
			continue
		}

		switch field.Kind {
		case resolver.KindEnum:
			if !isValidEnumValue(rv.Value, field.Values) {
				errs = append(errs, ValidationError{
					Key:     rv.Key,
					EnvVar:  rv.EnvVar,
					Message: "invalid enum value",
					Value:   rv.Value,
					Allowed: field.Values,
				})
			}
		case resolver.KindVersion:
			if _, err := target.ParseVersion(rv.Value); err != nil {
				errs = append(errs, ValidationError{
					Key:     rv.Key,
					EnvVar:  rv.EnvVar,
					Message: "must look like major.minor[.patch]",
					Value:   rv.Value,
				})
			}
		case resolver.KindBool:
			if _, err := strconv.ParseBool(rv.Value); err != nil {
				errs = append(errs, ValidationError{
					Key:     rv.Key,
					EnvVar:  rv.EnvVar,
					Message: "must be true or false",
					Value:   rv.Value,
				})
			}
		}
	}

	return ValidationResult{
		Valid:  len(errs) == 0,
		Errors: errs,
	}
}

// Err converts a failed result into an error. When every problem is an
// architecture value the error is a *target.UnsupportedArchError; anything
// else is reported as target.ErrInvalidConfig.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}

	var archErr error
	onlyArch := true
	for _, e := range r.Errors {
		if e.Key == resolver.KeyArch && e.Value != "" {
			if archErr == nil {
				archErr = &target.UnsupportedArchError{Value: e.Value}
			}
			continue
		}
		onlyArch = false
	}

	msg := strings.Join(FormatErrors(r), "; ")
	if onlyArch && archErr != nil {
		return archErr
	}
	return fmt.Errorf("%w: %s", target.ErrInvalidConfig, msg)
}

// BuildSpec validates resolved single-run inputs and assembles a target spec.
func BuildSpec(fields []resolver.Field, resolved []resolver.ResolvedValue) (target.Spec, error) {
	result := Validate(fields, resolved)
	if err := result.Err(); err != nil {
		return target.Spec{}, err
	}

	values := resolver.Values(resolved)
	version, err := target.ParseVersion(values[resolver.KeyPythonVersion])
	if err != nil {
		return target.Spec{}, err
	}
	arch, err := target.ParseArch(values[resolver.KeyArch])
	if err != nil {
		return target.Spec{}, err
	}
	installPip := true
	if raw := values[resolver.KeyInstallPip]; raw != "" {
		installPip, err = strconv.ParseBool(raw)
		if err != nil {
			return target.Spec{}, errors.Join(target.ErrInvalidConfig, err)
		}
	}

	spec := target.Spec{
		PythonHome:   values[resolver.KeyPythonHome],
		Version:      version,
		Arch:         arch,
		MinGWHome:    values[resolver.KeyMinGWHome],
		MinGWVersion: values[resolver.KeyMinGWVersion],
		PrefixRoot:   values[resolver.KeyWineRoot],
		DownloadDir:  values[resolver.KeyDownloadDir],
		InstallPip:   installPip,
	}
	return spec, spec.Validate()
}

// isValidEnumValue checks if a value is in the allowed list
func isValidEnumValue(value string, allowed []string) bool {
	for _, v := range allowed {
		if v == value {
			return true
		}
	}
	return false
}
