package scanner

import (
	"fmt"
	"path"
	"strings"

	"gopkg.in/ini.v1"
)

// gitmodulesParser reads .gitmodules. Submodules carry explicit remote
// URLs; the pinned commit lives in the git index, not in this file, so
// records have no resolved version.
type gitmodulesParser struct{}

func (gitmodulesParser) DetectionMethod() string { return "gitmodules" }

func (gitmodulesParser) FilePatterns() []string { return []string{".gitmodules"} }

func (p gitmodulesParser) Parse(filePath string, content []byte) ([]ScannedDependency, error) {
	cfg, err := ini.Load(content)
	if err != nil {
		return nil, fmt.Errorf("malformed .gitmodules: %w", err)
	}

	var deps []ScannedDependency
	for _, section := range cfg.Sections() {
		if !strings.HasPrefix(section.Name(), "submodule") {
			continue
		}
		url := section.Key("url").String()
		if url == "" || strings.HasPrefix(url, "./") || strings.HasPrefix(url, "../") {
			// Relative URLs resolve against the superproject remote;
			// without that context they are not addressable.
			continue
		}

		name := section.Key("path").String()
		if name == "" {
			name = strings.Trim(strings.TrimPrefix(section.Name(), "submodule"), ` "`)
		}
		name = path.Base(name)

		dep := ScannedDependency{
			LibraryName:     name,
			LibraryRepoURL:  CanonicalRepoURL(url),
			SourceFile:      filePath,
			DetectionMethod: p.DetectionMethod(),
		}
		if branch := section.Key("branch").String(); branch != "" && branch != "." {
			dep.ConstraintExpr = "branch=" + branch
		}
		deps = append(deps, dep)
	}
	return deps, nil
}
