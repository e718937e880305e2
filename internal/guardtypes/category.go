package guardtypes

import "fmt"

// RiskCategory classifies why a path is risky.
type RiskCategory string

// Risk categories recognised by the pattern catalog.
const (
	CategorySecretFile        RiskCategory = "secret_file"
	CategorySensitiveConfig   RiskCategory = "sensitive_config"
	CategoryLargeBinary       RiskCategory = "large_binary"
	CategoryCredentialPattern RiskCategory = "credential_pattern"
	CategoryAPIKeyPattern     RiskCategory = "api_key_pattern"
	CategoryDatabaseFile      RiskCategory = "database_file"
	CategoryBackupFile        RiskCategory = "backup_file"
	CategoryLogFile           RiskCategory = "log_file"
	CategoryTemporaryFile     RiskCategory = "temporary_file"
	CategoryIDEConfig         RiskCategory = "ide_config"
	CategoryCertificateFile   RiskCategory = "certificate_file"
	CategoryPrivateKey        RiskCategory = "private_key"
	CategoryEnvironmentFile   RiskCategory = "environment_file"
	CategoryArchiveFile       RiskCategory = "archive_file"
	CategoryDevArtifact       RiskCategory = "dev_artifact"
	CategoryOSSystemFile      RiskCategory = "os_system_file"
	CategoryBuildArtifact     RiskCategory = "build_artifact"
)

// categorySeverity is the fixed category to severity table.
var categorySeverity = map[RiskCategory]Severity{
	CategoryPrivateKey:        SeverityCritical,
	CategoryAPIKeyPattern:     SeverityCritical,
	CategoryCredentialPattern: SeverityCritical,
	CategorySecretFile:        SeverityCritical,

	CategoryEnvironmentFile: SeverityHigh,
	CategoryCertificateFile: SeverityHigh,
	CategoryDatabaseFile:    SeverityHigh,
	CategorySensitiveConfig: SeverityHigh,

	CategoryBackupFile:  SeverityMedium,
	CategoryLargeBinary: SeverityMedium,
	CategoryArchiveFile: SeverityMedium,
	CategoryLogFile:     SeverityMedium,

	CategoryTemporaryFile: SeverityLow,
	CategoryIDEConfig:     SeverityLow,
	CategoryDevArtifact:   SeverityLow,
	CategoryOSSystemFile:  SeverityLow,
	CategoryBuildArtifact: SeverityLow,
}

var categoryLabels = map[RiskCategory]string{
	CategorySecretFile:        "secret file",
	CategorySensitiveConfig:   "sensitive configuration",
	CategoryLargeBinary:       "large binary",
	CategoryCredentialPattern: "credential pattern",
	CategoryAPIKeyPattern:     "API key pattern",
	CategoryDatabaseFile:      "database file",
	CategoryBackupFile:        "backup file",
	CategoryLogFile:           "log file",
	CategoryTemporaryFile:     "temporary file",
	CategoryIDEConfig:         "IDE configuration",
	CategoryCertificateFile:   "certificate file",
	CategoryPrivateKey:        "private key",
	CategoryEnvironmentFile:   "environment file",
	CategoryArchiveFile:       "archive file",
	CategoryDevArtifact:       "development/test artifact",
	CategoryOSSystemFile:      "OS-specific system file",
	CategoryBuildArtifact:     "build artifact",
}

// AllCategories returns every category in table order.
func AllCategories() []RiskCategory {
	return []RiskCategory{
		CategorySecretFile, CategorySensitiveConfig, CategoryLargeBinary,
		CategoryCredentialPattern, CategoryAPIKeyPattern, CategoryDatabaseFile,
		CategoryBackupFile, CategoryLogFile, CategoryTemporaryFile,
		CategoryIDEConfig, CategoryCertificateFile, CategoryPrivateKey,
		CategoryEnvironmentFile, CategoryArchiveFile, CategoryDevArtifact,
		CategoryOSSystemFile, CategoryBuildArtifact,
	}
}

// Severity returns the fixed severity of the category.
func (c RiskCategory) Severity() Severity {
	return categorySeverity[c]
}

// Valid reports whether c is a known category.
func (c RiskCategory) Valid() bool {
	_, ok := categorySeverity[c]
	return ok
}

// Label returns a human readable name.
func (c RiskCategory) Label() string {
	if l, ok := categoryLabels[c]; ok {
		return l
	}
	return string(c)
}

// IsContentSecret reports whether the category describes secret material
// detected inside file content, which is re-inspected for in-place remediation.
func (c RiskCategory) IsContentSecret() bool {
	return c == CategoryCredentialPattern || c == CategoryAPIKeyPattern
}

// ParseCategory validates a category name.
func ParseCategory(s string) (RiskCategory, error) {
	c := RiskCategory(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
	}
	return c, nil
}
