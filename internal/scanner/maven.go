package scanner

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// mavenParser reads pom.xml. Maven coordinates carry no repository URL,
// so every record is name-only; ${property} references are substituted
// from <properties> and the project's own version.
type mavenParser struct{}

func (mavenParser) DetectionMethod() string { return "maven_pom" }

func (mavenParser) FilePatterns() []string { return []string{"pom.xml"} }

type pomFile struct {
	GroupID    string        `xml:"groupId"`
	Version    string        `xml:"version"`
	Parent     pomParent     `xml:"parent"`
	Properties pomProperties `xml:"properties"`
	Deps       []pomDep      `xml:"dependencies>dependency"`
	Managed    []pomDep      `xml:"dependencyManagement>dependencies>dependency"`
}

type pomParent struct {
	GroupID string `xml:"groupId"`
	Version string `xml:"version"`
}

type pomDep struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version"`
}

type pomProperties map[string]string

func (p *pomProperties) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	*p = make(map[string]string)
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			var val string
			if err := d.DecodeElement(&val, &el); err != nil {
				return err
			}
			(*p)[el.Name.Local] = strings.TrimSpace(val)
		case xml.EndElement:
			if el.Name == start.Name {
				return nil
			}
		}
	}
}

func (p mavenParser) Parse(path string, content []byte) ([]ScannedDependency, error) {
	var pom pomFile
	if err := xml.Unmarshal(content, &pom); err != nil {
		return nil, fmt.Errorf("malformed pom.xml: %w", err)
	}

	props := pom.Properties
	if props == nil {
		props = pomProperties{}
	}
	if pom.Version != "" {
		props["project.version"] = pom.Version
	} else if pom.Parent.Version != "" {
		props["project.version"] = pom.Parent.Version
	}
	if pom.GroupID != "" {
		props["project.groupId"] = pom.GroupID
	} else if pom.Parent.GroupID != "" {
		props["project.groupId"] = pom.Parent.GroupID
	}

	// dependencyManagement pins versions that <dependencies> may omit.
	managed := make(map[string]string, len(pom.Managed))
	for _, d := range pom.Managed {
		managed[d.GroupID+":"+d.ArtifactID] = d.Version
	}

	var deps []ScannedDependency
	for _, d := range pom.Deps {
		group := substituteProperties(d.GroupID, props)
		artifact := substituteProperties(d.ArtifactID, props)
		if group == "" || artifact == "" {
			continue
		}
		version := d.Version
		if version == "" {
			version = managed[d.GroupID+":"+d.ArtifactID]
		}
		version = substituteProperties(version, props)

		dep := ScannedDependency{
			LibraryName:     group + ":" + artifact,
			SourceFile:      path,
			DetectionMethod: p.DetectionMethod(),
		}
		switch {
		case version == "":
		case strings.ContainsAny(version, "[](),") || strings.Contains(version, "${"):
			dep.ConstraintExpr = version
		default:
			dep.ResolvedVersion = version
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

// substituteProperties expands ${name} references, following chains a
// few levels deep. Unresolvable references stay literal.
func substituteProperties(s string, props pomProperties) string {
	for i := 0; i < 5; i++ {
		start := strings.Index(s, "${")
		if start < 0 {
			return s
		}
		end := strings.Index(s[start:], "}")
		if end < 0 {
			return s
		}
		name := s[start+2 : start+end]
		val, ok := props[name]
		if !ok {
			return s
		}
		s = s[:start] + val + s[start+end+1:]
	}
	return s
}
