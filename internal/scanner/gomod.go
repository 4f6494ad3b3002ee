package scanner

import (
	"fmt"

	"golang.org/x/mod/modfile"
)

// gomodParser reads go.mod through x/mod. Only direct requirements are
// reported; module paths on known forges map straight to a repo URL.
type gomodParser struct{}

func (gomodParser) DetectionMethod() string { return "go_mod" }

func (gomodParser) FilePatterns() []string { return []string{"go.mod"} }

func (p gomodParser) Parse(path string, content []byte) ([]ScannedDependency, error) {
	f, err := modfile.Parse(path, content, nil)
	if err != nil {
		return nil, fmt.Errorf("malformed go.mod: %w", err)
	}

	// Module replacements substitute both path and version.
	replaced := make(map[string]modfileTarget, len(f.Replace))
	for _, r := range f.Replace {
		if r.New.Version == "" {
			// Filesystem replacement; the original coordinate still
			// names what the project builds against upstream.
			continue
		}
		replaced[r.Old.Path] = modfileTarget{path: r.New.Path, version: r.New.Version}
	}

	var deps []ScannedDependency
	for _, req := range f.Require {
		if req.Indirect {
			continue
		}
		mod, version := req.Mod.Path, req.Mod.Version
		if t, ok := replaced[mod]; ok {
			mod, version = t.path, t.version
		}
		deps = append(deps, ScannedDependency{
			LibraryName:     mod,
			LibraryRepoURL:  repoURLFromModulePath(mod),
			ResolvedVersion: version,
			SourceFile:      path,
			DetectionMethod: p.DetectionMethod(),
		})
	}
	return deps, nil
}

type modfileTarget struct {
	path    string
	version string
}
