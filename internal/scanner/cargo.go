package scanner

import (
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// cargoParser reads Cargo.toml. Registry requirements are caret ranges
// by default, so a bare "1.0" is a constraint; only "=x.y.z" pins. Git
// dependencies carry the repository URL directly.
type cargoParser struct{}

func (cargoParser) DetectionMethod() string { return "cargo_toml" }

func (cargoParser) FilePatterns() []string { return []string{"Cargo.toml"} }

type cargoTables struct {
	Dependencies      map[string]any `toml:"dependencies"`
	DevDependencies   map[string]any `toml:"dev-dependencies"`
	BuildDependencies map[string]any `toml:"build-dependencies"`
}

type cargoFile struct {
	Dependencies      map[string]any         `toml:"dependencies"`
	DevDependencies   map[string]any         `toml:"dev-dependencies"`
	BuildDependencies map[string]any         `toml:"build-dependencies"`
	Workspace         cargoTables            `toml:"workspace"`
	Target            map[string]cargoTables `toml:"target"`
}

func (p cargoParser) Parse(path string, content []byte) ([]ScannedDependency, error) {
	var file cargoFile
	if err := toml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("malformed Cargo.toml: %w", err)
	}

	var deps []ScannedDependency
	addTables := func(t cargoTables) {
		for _, table := range []map[string]any{t.Dependencies, t.DevDependencies, t.BuildDependencies} {
			for _, name := range sortedKeys(table) {
				if dep, ok := parseCargoEntry(name, table[name]); ok {
					dep.SourceFile = path
					dep.DetectionMethod = p.DetectionMethod()
					deps = append(deps, dep)
				}
			}
		}
	}

	addTables(cargoTables{file.Dependencies, file.DevDependencies, file.BuildDependencies})
	addTables(file.Workspace)
	for _, target := range sortedKeys(file.Target) {
		addTables(file.Target[target])
	}
	return deps, nil
}

func parseCargoEntry(name string, value any) (ScannedDependency, bool) {
	dep := ScannedDependency{LibraryName: name}

	switch v := value.(type) {
	case string:
		applyCargoVersion(&dep, v)
	case map[string]any:
		if git, ok := v["git"].(string); ok {
			dep.LibraryRepoURL = CanonicalRepoURL(git)
			if tag, ok := v["tag"].(string); ok {
				dep.ResolvedVersion = tag
			} else if rev, ok := v["rev"].(string); ok {
				dep.ResolvedVersion = rev
			} else if branch, ok := v["branch"].(string); ok {
				dep.ConstraintExpr = "branch=" + branch
			}
			return dep, true
		}
		if _, local := v["path"]; local {
			return ScannedDependency{}, false
		}
		if ws, ok := v["workspace"].(bool); ok && ws {
			// Version inherited from the workspace table, which is
			// scanned on its own.
			return ScannedDependency{}, false
		}
		if version, ok := v["version"].(string); ok {
			applyCargoVersion(&dep, version)
		}
		if pkg, ok := v["package"].(string); ok {
			dep.LibraryName = pkg
		}
	default:
		return ScannedDependency{}, false
	}
	return dep, true
}

func applyCargoVersion(dep *ScannedDependency, version string) {
	version = strings.TrimSpace(version)
	switch {
	case version == "" || version == "*":
	case strings.HasPrefix(version, "=") && !strings.Contains(version, ","):
		dep.ResolvedVersion = strings.TrimSpace(strings.TrimPrefix(version, "="))
	default:
		dep.ConstraintExpr = version
	}
}
