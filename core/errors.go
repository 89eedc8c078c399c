package core

import (
	"errors"
	"fmt"
)

// ConfigError is a configuration problem with an actionable fix.
// main prints Message and Action and exits with ExitCodeConfig.
//
// Example output:
//
//	Missing authentication credentials for runware. Set RUNWARE_API_KEY in your .env file
type ConfigError struct {
	Code    string // Error code for programmatic handling
	Message string // Human-readable error message
	Action  string // What the operator should do
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s. %s", e.Message, e.Action)
	}
	return e.Message
}

// Error codes for configuration errors
const (
	ErrCodeMissingAuth   = "MISSING_AUTH"
	ErrCodeInvalidValue  = "INVALID_VALUE"
	ErrCodeCatalogFailed = "CATALOG_INVALID"
	ErrCodeStorageFailed = "STORAGE_UNAVAILABLE"
)

// ErrMissingAuth reports missing provider credentials.
// service is "runware", "openai" or any other provider name; the first two
// get a tailored Action.
func ErrMissingAuth(service string) *ConfigError {
	var action string
	switch service {
	case "runware":
		action = "Set RUNWARE_API_KEY in your .env file"
	case "openai":
		action = "Set OPENAI_API_KEY in your .env file, or use SYNTHESIS_PROVIDER=runware"
	default:
		action = fmt.Sprintf("Set the API key for %s in your .env file", service)
	}
	return &ConfigError{
		Code:    ErrCodeMissingAuth,
		Message: fmt.Sprintf("Missing authentication credentials for %s", service),
		Action:  action,
	}
}

// ErrInvalidValue reports an out-of-range environment value.
func ErrInvalidValue(varName string, value any, want string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidValue,
		Message: fmt.Sprintf("Invalid %s=%v", varName, value),
		Action:  fmt.Sprintf("Set %s to %s", varName, want),
	}
}

// ErrCatalog wraps a catalog load failure.
func ErrCatalog(path string, err error) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeCatalogFailed,
		Message: fmt.Sprintf("Cannot load catalog %s: %v", path, err),
		Action:  "Fix the catalog file or unset CATALOG_PATH to use the built-in catalog",
	}
}

// ErrStorage wraps a database or Redis startup failure.
func ErrStorage(what string, err error) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeStorageFailed,
		Message: fmt.Sprintf("Cannot open %s: %v", what, err),
		Action:  "Check DATABASE_PATH, REDIS_ADDR and REDIS_PASSWORD",
	}
}

// IsConfigError unwraps err to a *ConfigError.
func IsConfigError(err error) (*ConfigError, bool) {
	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return configErr, true
	}
	return nil, false
}

// GetErrorCode returns the ConfigError code of err, or "".
func GetErrorCode(err error) string {
	if configErr, ok := IsConfigError(err); ok {
		return configErr.Code
	}
	return ""
}
