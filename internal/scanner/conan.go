package scanner

import "strings"

// conanParser reads conanfile.txt reference lists. conanfile.py is a
// known gap: recipes are Python programs, not data.
type conanParser struct{}

func (conanParser) DetectionMethod() string { return "conan_txt" }

func (conanParser) FilePatterns() []string { return []string{"conanfile.txt"} }

func (p conanParser) Parse(path string, content []byte) ([]ScannedDependency, error) {
	var deps []ScannedDependency
	section := ""
	for _, raw := range strings.Split(string(content), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.Trim(line, "[]"))
			continue
		}
		switch section {
		case "requires", "tool_requires", "build_requires":
		default:
			continue
		}
		if dep, ok := parseConanReference(line); ok {
			dep.SourceFile = path
			dep.DetectionMethod = p.DetectionMethod()
			deps = append(deps, dep)
		}
	}
	return deps, nil
}

// parseConanReference splits name/version[@user/channel][#revision].
func parseConanReference(ref string) (ScannedDependency, bool) {
	if i := strings.Index(ref, "#"); i >= 0 {
		ref = ref[:i]
	}
	if i := strings.Index(ref, "@"); i >= 0 {
		ref = ref[:i]
	}
	name, version, ok := strings.Cut(ref, "/")
	if !ok || name == "" {
		return ScannedDependency{}, false
	}

	dep := ScannedDependency{LibraryName: name}
	version = strings.TrimSpace(version)
	if strings.HasPrefix(version, "[") {
		dep.ConstraintExpr = strings.Trim(version, "[]")
	} else if version != "" {
		dep.ResolvedVersion = version
	}
	return dep, true
}
