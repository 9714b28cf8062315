package validator

import (
	"fmt"
	"strings"
)

// FormatError formats a ValidationError into a human-readable error message.
func FormatError(err ValidationError) string {
	// Missing required input: no value, no allowed list
	if err.Value == "" && len(err.Allowed) == 0 {
		// Format: "{key}: required but {ENV_VAR} is not set"
		return fmt.Sprintf("%s: required but %s is not set", err.Key, err.EnvVar)
	}

	// Invalid enum value
	if len(err.Allowed) > 0 {
		// Format: "{key}: '{value}' is not valid, must be one of: {allowed}"
		return fmt.Sprintf("%s: '%s' is not valid, must be one of: %s",
			err.Key, err.Value, strings.Join(err.Allowed, ", "))
	}

	return fmt.Sprintf("%s: '%s' %s (from %s)", err.Key, err.Value, err.Message, err.EnvVar)
}

// FormatErrors formats all validation errors into a slice of human-readable messages.
func FormatErrors(result ValidationResult) []string {
	messages := make([]string, len(result.Errors))
	for i, err := range result.Errors {
		messages[i] = FormatError(err)
	}
	return messages
}
