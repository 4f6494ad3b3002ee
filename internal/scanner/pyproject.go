package scanner

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// pyprojectParser covers PEP 621 dependency arrays and Poetry tables.
type pyprojectParser struct{}

func (pyprojectParser) DetectionMethod() string { return "pyproject_toml" }

func (pyprojectParser) FilePatterns() []string { return []string{"pyproject.toml"} }

type pyprojectFile struct {
	Project struct {
		Dependencies         []string            `toml:"dependencies"`
		OptionalDependencies map[string][]string `toml:"optional-dependencies"`
	} `toml:"project"`
	Tool struct {
		Poetry struct {
			Dependencies map[string]any `toml:"dependencies"`
			Group        map[string]struct {
				Dependencies map[string]any `toml:"dependencies"`
			} `toml:"group"`
		} `toml:"poetry"`
	} `toml:"tool"`
}

func (p pyprojectParser) Parse(path string, content []byte) ([]ScannedDependency, error) {
	var file pyprojectFile
	if err := toml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("malformed pyproject.toml: %w", err)
	}

	var deps []ScannedDependency
	add := func(dep ScannedDependency, ok bool) {
		if !ok {
			return
		}
		dep.SourceFile = path
		dep.DetectionMethod = p.DetectionMethod()
		deps = append(deps, dep)
	}

	for _, line := range file.Project.Dependencies {
		add(parseRequirementLine(line))
	}
	for _, group := range sortedKeys(file.Project.OptionalDependencies) {
		for _, line := range file.Project.OptionalDependencies[group] {
			add(parseRequirementLine(line))
		}
	}

	for _, name := range sortedKeys(file.Tool.Poetry.Dependencies) {
		add(parsePoetryEntry(name, file.Tool.Poetry.Dependencies[name]))
	}
	for _, group := range sortedKeys(file.Tool.Poetry.Group) {
		table := file.Tool.Poetry.Group[group].Dependencies
		for _, name := range sortedKeys(table) {
			add(parsePoetryEntry(name, table[name]))
		}
	}
	return deps, nil
}

var poetryExactRe = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*([.-][0-9A-Za-z]+)*$`)

func parsePoetryEntry(name string, value any) (ScannedDependency, bool) {
	if strings.EqualFold(name, "python") {
		return ScannedDependency{}, false
	}
	dep := ScannedDependency{LibraryName: name}

	switch v := value.(type) {
	case string:
		applyPoetryVersion(&dep, v)
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
		if version, ok := v["version"].(string); ok {
			applyPoetryVersion(&dep, version)
		}
		if _, local := v["path"]; local {
			return ScannedDependency{}, false
		}
	default:
		return ScannedDependency{}, false
	}
	return dep, true
}

// applyPoetryVersion: a bare version is exact in Poetry; operators and
// wildcards make it a range.
func applyPoetryVersion(dep *ScannedDependency, version string) {
	version = strings.TrimSpace(version)
	switch {
	case version == "" || version == "*":
	case poetryExactRe.MatchString(version):
		dep.ResolvedVersion = version
	default:
		dep.ConstraintExpr = version
	}
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
