package scanner

import (
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// foundryParser reads Soldeer [dependencies] tables out of foundry.toml
// or a standalone soldeer.toml. Registry pins are exact versions; git
// entries carry the repository.
type foundryParser struct{}

func (foundryParser) DetectionMethod() string { return "foundry_soldeer" }

func (foundryParser) FilePatterns() []string { return []string{"foundry.toml", "soldeer.toml"} }

type foundryFile struct {
	Dependencies map[string]any `toml:"dependencies"`
}

func (p foundryParser) Parse(path string, content []byte) ([]ScannedDependency, error) {
	var file foundryFile
	if err := toml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("malformed %s: %w", path, err)
	}

	var deps []ScannedDependency
	for _, name := range sortedKeys(file.Dependencies) {
		dep := ScannedDependency{
			LibraryName:     strings.TrimPrefix(name, "@"),
			SourceFile:      path,
			DetectionMethod: p.DetectionMethod(),
		}
		switch v := file.Dependencies[name].(type) {
		case string:
			dep.ResolvedVersion = v
		case map[string]any:
			if git, ok := v["git"].(string); ok {
				dep.LibraryRepoURL = CanonicalRepoURL(git)
			}
			if rev, ok := v["rev"].(string); ok {
				dep.ResolvedVersion = rev
			} else if tag, ok := v["tag"].(string); ok {
				dep.ResolvedVersion = tag
			} else if version, ok := v["version"].(string); ok {
				dep.ResolvedVersion = version
			}
		default:
			continue
		}
		deps = append(deps, dep)
	}
	return deps, nil
}
