package logging

import (
	"regexp"
	"strings"
)

// RedactedPlaceholder replaces secrets in log output.
const RedactedPlaceholder = "[REDACTED]"

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`hf_[A-Za-z0-9]{20,}`),                   // Hugging Face access tokens
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]{16,}`),  // Authorization header values
	regexp.MustCompile(`(?i)(token|secret|password)=[^\s&;,]+`), // query or env style assignments
}

// sensitiveKeys are field name fragments whose values are always redacted.
var sensitiveKeys = []string{
	"TOKEN",
	"AUTHORIZATION",
	"SECRET",
	"PASSWORD",
	"API_KEY",
}

// RedactSensitiveData masks secrets found anywhere in value.
func RedactSensitiveData(value string) string {
	if value == "" {
		return value
	}
	for _, p := range sensitivePatterns {
		value = p.ReplaceAllString(value, RedactedPlaceholder)
	}
	return value
}

// IsSensitiveField reports whether a field named key carries a secret.
func IsSensitiveField(key string) bool {
	upper := strings.ToUpper(key)
	for _, frag := range sensitiveKeys {
		if strings.Contains(upper, frag) {
			return true
		}
	}
	return false
}

// ContainsSensitiveData reports whether value matches any secret pattern.
func ContainsSensitiveData(value string) bool {
	for _, p := range sensitivePatterns {
		if p.MatchString(value) {
			return true
		}
	}
	return false
}
