package logging

import (
	"regexp"
	"strings"
)

// Field names whose values are never logged.
var sensitiveFields = []string{
	"password",
	"passphrase",
	"secret",
	"token",
	"api_key",
	"apikey",
	"api-key",
	"authorization",
	"credential",
	"private_key",
	"privatekey",
}

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(ghp_[a-zA-Z0-9]{36})`),
	regexp.MustCompile(`(?i)(github_pat_[a-zA-Z0-9]{22}_[a-zA-Z0-9]+)`),
	regexp.MustCompile(`(?i)(sk-[a-zA-Z0-9]{20,})`),
	regexp.MustCompile(`(?i)bearer\s+([a-zA-Z0-9._-]{20,})`),
	regexp.MustCompile(`(?i)(key|token|secret|password|auth)[=:]["']?([a-zA-Z0-9+/=_-]{32,})["']?`),
}

// Shell forms that carry secrets: --password=x, --token x, PASSWORD=x env
// prefixes and sshpass -p x.
var commandPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(--?(?:password|passwd|pass|token|secret)[= ])("[^"]*"|'[^']*'|\S+)`),
	regexp.MustCompile(`(?i)(\b[A-Z0-9_]*(?:PASSWORD|TOKEN|SECRET)[A-Z0-9_]*=)("[^"]*"|'[^']*'|\S+)`),
	regexp.MustCompile(`(\bsshpass\s+-p\s*)("[^"]*"|'[^']*'|\S+)`),
}

// RedactedValue is the replacement for sensitive values.
const RedactedValue = "[REDACTED]"

// Redact replaces sensitive information in a string.
func Redact(s string) string {
	result := s
	for _, pattern := range secretPatterns {
		result = pattern.ReplaceAllString(result, RedactedValue)
	}
	return result
}

// RedactCommand masks secrets in a shell command line while keeping the
// flag or variable name visible.
func RedactCommand(command string) string {
	result := command
	for _, pattern := range commandPatterns {
		result = pattern.ReplaceAllString(result, "${1}"+RedactedValue)
	}
	return Redact(result)
}

// RedactMap redacts sensitive fields in a task config map.
func RedactMap(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		switch {
		case IsSensitiveField(k):
			result[k] = RedactedValue
		case k == "command":
			if str, ok := v.(string); ok {
				result[k] = RedactCommand(str)
			} else {
				result[k] = v
			}
		default:
			if nested, ok := v.(map[string]any); ok {
				result[k] = RedactMap(nested)
			} else if str, ok := v.(string); ok {
				result[k] = Redact(str)
			} else {
				result[k] = v
			}
		}
	}
	return result
}

// IsSensitiveField checks if a field name is considered sensitive.
func IsSensitiveField(name string) bool {
	lowerName := strings.ToLower(name)
	for _, field := range sensitiveFields {
		if strings.Contains(lowerName, field) {
			return true
		}
	}
	return false
}
