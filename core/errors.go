package core

import (
	"errors"
	"fmt"
)

// ConfigError is a configuration problem with an instruction for fixing it.
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
	ErrCodeMissingConfig = "MISSING_CONFIG"
	ErrCodeInvalidValue  = "INVALID_VALUE"
	ErrCodeInvalidPort   = "INVALID_PORT"
	ErrCodeInvalidSize   = "INVALID_SIZE"
	ErrCodeInvalidDevice = "INVALID_DEVICE"
	ErrCodeInvalidModel  = "INVALID_MODEL"
)

// ErrMissingConfig returns an error for missing required configuration
func ErrMissingConfig(varName string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingConfig,
		Message: fmt.Sprintf("Missing required configuration: %s", varName),
		Action:  fmt.Sprintf("Set %s in your environment or .env file", varName),
	}
}

// ErrInvalidValue reports a variable whose value cannot be used.
func ErrInvalidValue(varName string, value any, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidValue,
		Message: fmt.Sprintf("Invalid %s '%v': %s", varName, value, reason),
		Action:  fmt.Sprintf("Fix %s in your environment or .env file", varName),
	}
}

// ErrInvalidPort reports a port outside 1-65535.
func ErrInvalidPort(port int) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidPort,
		Message: fmt.Sprintf("Invalid WEBUI_PORT %d: must be between 1 and 65535", port),
		Action:  "Set WEBUI_PORT to a free TCP port, e.g. 7860",
	}
}

// ErrInvalidMaxSize reports a maximum image side below the minimum.
func ErrInvalidMaxSize(size, min int) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidSize,
		Message: fmt.Sprintf("Invalid ZIMAGE_MAX_SIZE %d: must be at least %d", size, min),
		Action:  "Set ZIMAGE_MAX_SIZE to a value such as 1024",
	}
}

// ErrInvalidDevice reports an unknown device name.
func ErrInvalidDevice(name string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidDevice,
		Message: fmt.Sprintf("Unknown ZIMAGE_DEVICE %q", name),
		Action:  "Use one of mps, cuda or cpu, or leave it unset to auto-detect",
	}
}

// ErrInvalidModelID reports a model id that is neither owner/name nor a
// local directory.
func ErrInvalidModelID(id string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidModel,
		Message: fmt.Sprintf("Invalid ZIMAGE_MODEL_ID %q", id),
		Action:  "Use a hub id like owner/name or the path of a local model directory",
	}
}

// IsConfigError returns the ConfigError in err's chain, if any.
func IsConfigError(err error) (*ConfigError, bool) {
	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return configErr, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error if it's a ConfigError
func GetErrorCode(err error) string {
	if configErr, ok := IsConfigError(err); ok {
		return configErr.Code
	}
	return ""
}
