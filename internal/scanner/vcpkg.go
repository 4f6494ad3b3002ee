package scanner

import (
	"encoding/json"
	"fmt"
)

// vcpkgParser reads vcpkg.json. Ports are registry names without
// repository URLs; overrides pin the exact version for a port.
type vcpkgParser struct{}

func (vcpkgParser) DetectionMethod() string { return "vcpkg_json" }

func (vcpkgParser) FilePatterns() []string { return []string{"vcpkg.json"} }

type vcpkgManifest struct {
	Dependencies []json.RawMessage `json:"dependencies"`
	Overrides    []struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"overrides"`
}

type vcpkgDependency struct {
	Name       string `json:"name"`
	VersionGte string `json:"version>="`
}

func (p vcpkgParser) Parse(path string, content []byte) ([]ScannedDependency, error) {
	var manifest vcpkgManifest
	if err := json.Unmarshal(content, &manifest); err != nil {
		return nil, fmt.Errorf("malformed vcpkg.json: %w", err)
	}

	pinned := make(map[string]string, len(manifest.Overrides))
	for _, o := range manifest.Overrides {
		pinned[o.Name] = o.Version
	}

	var deps []ScannedDependency
	for _, raw := range manifest.Dependencies {
		var entry vcpkgDependency
		if err := json.Unmarshal(raw, &entry); err != nil {
			// Entries are either bare strings or objects.
			var name string
			if json.Unmarshal(raw, &name) != nil {
				continue
			}
			entry.Name = name
		}
		if entry.Name == "" {
			continue
		}
		dep := ScannedDependency{
			LibraryName:     entry.Name,
			SourceFile:      path,
			DetectionMethod: p.DetectionMethod(),
		}
		if v, ok := pinned[entry.Name]; ok {
			dep.ResolvedVersion = v
		} else if entry.VersionGte != "" {
			dep.ConstraintExpr = ">=" + entry.VersionGte
		}
		deps = append(deps, dep)
	}
	return deps, nil
}
