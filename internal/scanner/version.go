package scanner

import (
	"strings"

	"github.com/Masterminds/semver"
)

// EffectiveVersion picks the library version a project is effectively
// running, best effort: the resolved version when the manifest pinned one,
// then the newest known version if it satisfies the declared constraint,
// then the newest known version outright. An empty result means nothing is
// known; callers treat that as potentially affected.
func EffectiveVersion(resolved, constraintExpr, newestKnown *string) string {
	if resolved != nil && *resolved != "" {
		return *resolved
	}

	newest := ""
	if newestKnown != nil {
		newest = *newestKnown
	}
	if constraintExpr != nil && *constraintExpr != "" {
		if v := exactPin(*constraintExpr); v != "" {
			return v
		}
		if newest != "" {
			if c, err := semver.NewConstraint(*constraintExpr); err == nil {
				if v, err := semver.NewVersion(newest); err == nil && c.Check(v) {
					return newest
				}
			}
		}
	}
	return newest
}

// exactPin unwraps constraints that name a single version, "==1.2.3" and
// friends, which pip and Cargo emit routinely.
func exactPin(expr string) string {
	s := strings.TrimSpace(expr)
	s = strings.TrimPrefix(s, "==")
	s = strings.TrimPrefix(s, "=")
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "<>~^*,| ") {
		return ""
	}
	if _, err := semver.NewVersion(s); err != nil {
		return ""
	}
	return s
}
