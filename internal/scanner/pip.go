package scanner

import (
	"regexp"
	"strings"
)

// pipParser reads requirements.txt and its -dev/-test variants. VCS
// requirements yield a repo URL; index packages yield name-only records.
type pipParser struct{}

func (pipParser) DetectionMethod() string { return "pip_requirements" }

func (pipParser) FilePatterns() []string { return []string{"requirements*.txt"} }

var requirementRe = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)(\[[^\]]*\])?\s*(.*)$`)

func (p pipParser) Parse(path string, content []byte) ([]ScannedDependency, error) {
	var deps []ScannedDependency
	for _, raw := range strings.Split(string(content), "\n") {
		dep, ok := parseRequirementLine(raw)
		if !ok {
			continue
		}
		dep.SourceFile = path
		dep.DetectionMethod = p.DetectionMethod()
		deps = append(deps, dep)
	}
	return deps, nil
}

func parseRequirementLine(raw string) (ScannedDependency, bool) {
	line := strings.TrimSpace(raw)
	line = strings.TrimSuffix(line, "\\")
	line = strings.TrimSpace(line)

	// Comments start at a hash at line start or after whitespace.
	if i := strings.Index(line, "#"); i == 0 {
		return ScannedDependency{}, false
	} else if i > 0 && (line[i-1] == ' ' || line[i-1] == '\t') {
		// A hash may also open a URL fragment (#egg=); only cut when
		// it follows whitespace.
		line = strings.TrimSpace(line[:i])
	}
	// Environment markers never carry version information.
	if i := strings.Index(line, ";"); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if line == "" {
		return ScannedDependency{}, false
	}

	if strings.HasPrefix(line, "-e ") || strings.HasPrefix(line, "--editable ") {
		line = strings.TrimSpace(line[strings.Index(line, " ")+1:])
		if !strings.Contains(line, "+") {
			// Editable local paths have nothing to monitor.
			return ScannedDependency{}, false
		}
	} else if strings.HasPrefix(line, "-") {
		// -r, -c, --hash, --index-url and friends.
		return ScannedDependency{}, false
	}

	// PEP 508 direct reference: name @ URL.
	if name, url, ok := strings.Cut(line, " @ "); ok {
		name = strings.TrimSpace(name)
		if strings.Contains(url, "+") && strings.Contains(url, "://") {
			dep, vok := parseVCSRequirement(url)
			if !vok {
				return ScannedDependency{}, false
			}
			dep.LibraryName = name
			return dep, true
		}
		// Archive and wheel URLs point at artifacts, not repositories.
		return ScannedDependency{LibraryName: name}, true
	}
	if strings.Contains(line, "+") && strings.Contains(line, "://") {
		return parseVCSRequirement(line)
	}

	m := requirementRe.FindStringSubmatch(line)
	if m == nil {
		return ScannedDependency{}, false
	}
	dep := ScannedDependency{LibraryName: m[1]}
	spec := strings.TrimSpace(m[3])
	switch {
	case spec == "":
	case strings.HasPrefix(spec, "==") && !strings.Contains(spec, ",") && !strings.Contains(spec, "*"):
		dep.ResolvedVersion = strings.TrimSpace(strings.TrimPrefix(spec, "=="))
	default:
		dep.ConstraintExpr = spec
	}
	return dep, true
}

// parseVCSRequirement handles git+https://host/org/repo[@ref][#egg=name].
func parseVCSRequirement(line string) (ScannedDependency, bool) {
	url := line
	var name string
	if base, frag, ok := strings.Cut(url, "#"); ok {
		url = base
		for _, kv := range strings.Split(frag, "&") {
			if v, ok := strings.CutPrefix(kv, "egg="); ok {
				name = v
			}
		}
	}

	var ref string
	if scheme, rest, ok := strings.Cut(url, "://"); ok {
		if at := strings.LastIndex(rest, "@"); at > strings.Index(rest, "/") && strings.Index(rest, "/") >= 0 {
			ref = rest[at+1:]
			rest = rest[:at]
		}
		url = scheme + "://" + rest
	}

	url = CanonicalRepoURL(url)
	if name == "" {
		if i := strings.LastIndex(url, "/"); i >= 0 && i+1 < len(url) {
			name = url[i+1:]
		}
	}
	if name == "" {
		return ScannedDependency{}, false
	}
	return ScannedDependency{
		LibraryName:     name,
		LibraryRepoURL:  url,
		ResolvedVersion: ref,
	}, true
}
