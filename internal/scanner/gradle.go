package scanner

import (
	"regexp"
	"strings"
)

// gradleParser reads build.gradle and build.gradle.kts with regexes.
// Version catalogs and project() references are out of reach; quoted
// coordinates cover the bulk of real build files.
type gradleParser struct{}

func (gradleParser) DetectionMethod() string { return "gradle_build" }

func (gradleParser) FilePatterns() []string {
	return []string{"build.gradle", "build.gradle.kts", "settings.gradle", "settings.gradle.kts"}
}

var (
	gradleConfigs = `implementation|api|compile|compileOnly|runtimeOnly|testImplementation|testCompile|testCompileOnly|testRuntimeOnly|annotationProcessor|kapt|classpath`

	// implementation 'group:artifact:version' / implementation("g:a:v")
	gradleStringRe = regexp.MustCompile(`(?m)^\s*(?:` + gradleConfigs + `)\s*[( ]\s*['"]([^'"]+)['"]`)

	// testImplementation group: 'junit', name: 'junit', version: '4.13.2'
	gradleMapRe = regexp.MustCompile(`(?m)^\s*(?:` + gradleConfigs + `)\s*[( ]?\s*group:\s*['"]([^'"]+)['"]\s*,\s*name:\s*['"]([^'"]+)['"]\s*(?:,\s*version:\s*['"]([^'"]+)['"])?`)
)

func (p gradleParser) Parse(path string, content []byte) ([]ScannedDependency, error) {
	text := string(content)
	var deps []ScannedDependency
	add := func(group, artifact, version string) {
		if group == "" || artifact == "" {
			return
		}
		dep := ScannedDependency{
			LibraryName:     group + ":" + artifact,
			SourceFile:      path,
			DetectionMethod: p.DetectionMethod(),
		}
		switch {
		case version == "":
		case strings.ContainsAny(version, "+[]()$") || strings.HasPrefix(version, "latest."):
			dep.ConstraintExpr = version
		default:
			dep.ResolvedVersion = version
		}
		deps = append(deps, dep)
	}

	for _, m := range gradleMapRe.FindAllStringSubmatch(text, -1) {
		add(m[1], m[2], m[3])
	}
	for _, m := range gradleStringRe.FindAllStringSubmatch(text, -1) {
		coord := m[1]
		if strings.HasPrefix(coord, ":") {
			continue
		}
		parts := strings.Split(coord, ":")
		switch {
		case len(parts) >= 3:
			add(parts[0], parts[1], parts[2])
		case len(parts) == 2:
			add(parts[0], parts[1], "")
		}
	}
	return deps, nil
}
