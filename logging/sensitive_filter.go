package logging

import (
	"regexp"
	"strings"
)

// RedactedPlaceholder replaces any secret found in a log field.
const RedactedPlaceholder = "[REDACTED]"

var sensitivePatterns = []*regexp.Regexp{
	// OpenAI keys, legacy and project scoped.
	regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),
	// Bearer headers echoed back in provider error bodies.
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._-]{16,}`),
	// Runware task payloads carry "apiKey":"..." in the auth task.
	regexp.MustCompile(`(?i)"apiKey"\s*:\s*"[^"]+"`),
	regexp.MustCompile(`(?i)(api_?key|password|secret|token)\s*[:=]\s*[^\s,;"]{8,}`),
	// redis://:password@host
	regexp.MustCompile(`redis://[^:@/\s]*:[^@/\s]+@`),
}

// sensitiveKeys are matched as substrings of upper-cased field names.
var sensitiveKeys = []string{
	"API_KEY",
	"APIKEY",
	"RUNWARE_API_KEY",
	"OPENAI_API_KEY",
	"REDIS_PASSWORD",
	"PASSWORD",
	"SECRET",
	"AUTHORIZATION",
	"TOKEN",
}

// RedactSensitiveData replaces every recognised secret in value with
// RedactedPlaceholder.
//
// Example:
//
//	RedactSensitiveData(`{"taskType":"authentication","apiKey":"abc123"}`)
//	// {"taskType":"authentication",[REDACTED]}
func RedactSensitiveData(value string) string {
	if value == "" {
		return value
	}
	for _, p := range sensitivePatterns {
		value = p.ReplaceAllString(value, RedactedPlaceholder)
	}
	return value
}

// IsSensitiveField reports whether a field key names a secret, such as
// "runware_api_key" or "Authorization".
func IsSensitiveField(key string) bool {
	upper := strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
	for _, k := range sensitiveKeys {
		if strings.Contains(upper, k) {
			return true
		}
	}
	return false
}
