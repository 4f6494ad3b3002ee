package classifier

import (
	"strings"

	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

// labelMap reduces the labels models actually emit, including the creative
// ones, to the five database enum values.
var labelMap = map[string]models.Classification{
	"security_bugfix":   models.ClassSecurityBugfix,
	"security_fix":      models.ClassSecurityBugfix,
	"security_patch":    models.ClassSecurityBugfix,
	"vulnerability_fix": models.ClassSecurityBugfix,

	"normal_bugfix": models.ClassNormalBugfix,
	"bugfix":        models.ClassNormalBugfix,
	"bug_fix":       models.ClassNormalBugfix,
	"fix":           models.ClassNormalBugfix,

	"refactor":    models.ClassRefactor,
	"refactoring": models.ClassRefactor,
	"cleanup":     models.ClassRefactor,
	"performance": models.ClassRefactor,
	"perf":        models.ClassRefactor,

	"feature":     models.ClassFeature,
	"feat":        models.ClassFeature,
	"enhancement": models.ClassFeature,

	"other":         models.ClassOther,
	"documentation": models.ClassOther,
	"docs":          models.ClassOther,
	"chore":         models.ClassOther,
	"test":          models.ClassOther,
	"tests":         models.ClassOther,
	"ci":            models.ClassOther,
	"build":         models.ClassOther,
	"style":         models.ClassOther,
	"release":       models.ClassOther,
	"revert":        models.ClassOther,
	"dependency":    models.ClassOther,
	"deps":          models.ClassOther,
}

// ReduceLabel maps an LLM-emitted label onto the enum. ok=false signals a
// label outside the map; callers fall back to other and log it.
func ReduceLabel(raw string) (models.Classification, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "-", "_")
	class, ok := labelMap[key]
	if !ok {
		return models.ClassOther, false
	}
	return class, true
}
