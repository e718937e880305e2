// Package redaction masks credentials before they reach logs, reports or
// persisted excerpts.
package redaction

import "regexp"

// SensitivePatterns holds the compiled patterns used to spot secrets.
type SensitivePatterns struct {
	// KeyPatterns match attribute keys whose value must never be logged.
	KeyPatterns []*regexp.Regexp
	// ValuePatterns match credential shapes inside free text.
	ValuePatterns []*regexp.Regexp
}

// DefaultSensitivePatterns returns the built-in pattern set. Value patterns
// target concrete token shapes rather than words like "secret", so file
// paths such as config/secrets.json survive redaction.
func DefaultSensitivePatterns() *SensitivePatterns {
	return &SensitivePatterns{
		KeyPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)^(password|passwd|pwd|secret|token|api_?key|access_?key|secret_?key|authorization|credentials?)$`),
			regexp.MustCompile(`(?i)_(password|secret|token)$`),
		},
		ValuePatterns: []*regexp.Regexp{
			regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
			regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{16,}`),
			regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{20,}`),
			regexp.MustCompile(`\bglpat-[A-Za-z0-9_\-]{20,}`),
			regexp.MustCompile(`\bxox[abprs]-[A-Za-z0-9\-]{10,}`),
			regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
		},
	}
}

// IsSensitiveKey reports whether an attribute key names a secret.
func (sp *SensitivePatterns) IsSensitiveKey(key string) bool {
	for _, pattern := range sp.KeyPatterns {
		if pattern.MatchString(key) {
			return true
		}
	}
	return false
}

// IsSensitiveValue reports whether a value contains a known credential shape.
func (sp *SensitivePatterns) IsSensitiveValue(value string) bool {
	for _, pattern := range sp.ValuePatterns {
		if pattern.MatchString(value) {
			return true
		}
	}
	return false
}

// DefaultKeyValuePatterns returns the keys whose assignments are masked in text.
func DefaultKeyValuePatterns() []string {
	return []string{
		"password",
		"passwd",
		"token",
		"secret",
		"api_key",
		"apikey",
		"_PASSWORD",
		"_TOKEN",
		"_SECRET",
		"Bearer ",
		"Basic ",
		"Authorization: ",
	}
}
