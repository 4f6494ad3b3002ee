package analyzer

import (
	"strings"

	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

// severityAliases folds the vocabulary advisories actually use onto the
// four enum values.
var severityAliases = map[string]models.Severity{
	"critical":      models.SeverityCritical,
	"high":          models.SeverityHigh,
	"important":     models.SeverityHigh,
	"severe":        models.SeverityHigh,
	"medium":        models.SeverityMedium,
	"moderate":      models.SeverityMedium,
	"low":           models.SeverityLow,
	"minor":         models.SeverityLow,
	"informational": models.SeverityLow,
	"info":          models.SeverityLow,
	"negligible":    models.SeverityLow,
}

// severityProbes resolve the long tail, values like "High (CVSS 8.1)".
// Ordered so the graver word wins when several appear.
var severityProbes = []struct {
	word string
	sev  models.Severity
}{
	{"critical", models.SeverityCritical},
	{"high", models.SeverityHigh},
	{"important", models.SeverityHigh},
	{"moderate", models.SeverityMedium},
	{"medium", models.SeverityMedium},
	{"low", models.SeverityLow},
}

// NormalizeSeverity maps a free-form severity string onto the enum.
// exact=false marks a value outside the alias table; the closest match is
// still returned so the row can be written, and the caller warns.
func NormalizeSeverity(raw string) (models.Severity, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if sev, ok := severityAliases[key]; ok {
		return sev, true
	}
	for _, probe := range severityProbes {
		if strings.Contains(key, probe.word) {
			return probe.sev, false
		}
	}
	return models.SeverityMedium, false
}
