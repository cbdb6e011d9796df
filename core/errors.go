package core

import (
	"errors"
	"fmt"
)

// ConfigError represents a configuration error with an actionable instruction.
type ConfigError struct {
	Code    string // Error code for programmatic handling
	Message string // Human-readable error message
	Action  string // Actionable instruction for resolution
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s. %s", e.Message, e.Action)
	}
	return e.Message
}

// Error codes for configuration errors
const (
	ErrCodeConfigFileUnreadable = "CONFIG_FILE_UNREADABLE"
	ErrCodeConfigFileInvalid    = "CONFIG_FILE_INVALID"
	ErrCodeInvalidValue         = "INVALID_VALUE"
)

// ErrConfigFileUnreadable returns an error for a config file that cannot be read.
func ErrConfigFileUnreadable(path string, reason error) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeConfigFileUnreadable,
		Message: fmt.Sprintf("Cannot read configuration file %s: %v", path, reason),
		Action:  "Check LIFECYCLE_CONFIG points to a readable YAML file, or unset it",
	}
}

// ErrConfigFileInvalid returns an error for a config file that is not valid YAML.
func ErrConfigFileInvalid(path string, reason error) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeConfigFileInvalid,
		Message: fmt.Sprintf("Invalid configuration file %s: %v", path, reason),
		Action:  "Fix the YAML syntax; see lifecycle.example.yaml for the expected keys",
	}
}

// ErrInvalidValue returns an error for a setting with an unusable value.
func ErrInvalidValue(name string, value interface{}, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidValue,
		Message: fmt.Sprintf("Invalid %s %v: %s", name, value, reason),
		Action:  fmt.Sprintf("Set %s in your .env file or configuration file", name),
	}
}

// IsConfigError checks if an error is (or wraps) a ConfigError and returns it if so.
func IsConfigError(err error) (*ConfigError, bool) {
	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return configErr, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error if it's a ConfigError.
func GetErrorCode(err error) string {
	if configErr, ok := IsConfigError(err); ok {
		return configErr.Code
	}
	return ""
}
