package scanner

import (
	"path/filepath"
	"regexp"
	"strings"
)

// cmakeParser scans find_package calls. Precision is inherently
// limited: package names are not pinned to repositories and finder
// modules resolve them host-side, so records are name-only.
type cmakeParser struct{}

func (cmakeParser) DetectionMethod() string { return "cmake_find_package" }

func (cmakeParser) FilePatterns() []string { return []string{"CMakeLists.txt", "*.cmake"} }

var findPackageRe = regexp.MustCompile(`(?mi)^\s*find_package\s*\(\s*([A-Za-z0-9_=-]+)(?:\s+([0-9][0-9.]*))?`)

// Build infrastructure packages, not third-party libraries.
var cmakeInfraPackages = map[string]struct{}{
	"threads": {}, "pkgconfig": {}, "doxygen": {}, "git": {},
	"python": {}, "python2": {}, "python3": {}, "pythoninterp": {}, "pythonlibs": {},
	"ccache": {}, "sanitizers": {},
}

func (p cmakeParser) Parse(path string, content []byte) ([]ScannedDependency, error) {
	// Finder modules declare how to locate a package; the calls inside
	// them are implementation detail, not project dependencies.
	if strings.HasPrefix(filepath.Base(path), "Find") {
		return nil, nil
	}

	seen := make(map[string]struct{})
	var deps []ScannedDependency
	for _, m := range findPackageRe.FindAllStringSubmatch(string(content), -1) {
		name := m[1]
		if _, infra := cmakeInfraPackages[strings.ToLower(name)]; infra {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		dep := ScannedDependency{
			LibraryName:     name,
			SourceFile:      path,
			DetectionMethod: p.DetectionMethod(),
		}
		if m[2] != "" {
			dep.ConstraintExpr = ">=" + strings.TrimSuffix(m[2], ".")
		}
		deps = append(deps, dep)
	}
	return deps, nil
}
