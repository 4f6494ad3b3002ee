package scanner

import "path/filepath"

// ScannedDependency is one manifest entry as a parser reports it.
// LibraryRepoURL is empty when the manifest names no repository; such
// records surface in the scan result but are never inserted.
type ScannedDependency struct {
	LibraryName     string `json:"library_name"`
	LibraryRepoURL  string `json:"library_repo_url,omitempty"`
	ConstraintExpr  string `json:"constraint_expr,omitempty"`
	ResolvedVersion string `json:"resolved_version,omitempty"`
	SourceFile      string `json:"source_file"`
	DetectionMethod string `json:"detection_method"`
}

// Parser extracts dependencies from one class of manifest file.
type Parser interface {
	// DetectionMethod tags every record this parser emits.
	DetectionMethod() string
	// FilePatterns are globs matched against a file's base name.
	FilePatterns() []string
	// Parse reads one manifest. path is repo-relative and is stamped
	// into SourceFile on every record.
	Parse(path string, content []byte) ([]ScannedDependency, error)
}

// Registry routes walked files to the parser claiming them.
type Registry struct {
	parsers []Parser
}

func NewRegistry(parsers ...Parser) *Registry {
	return &Registry{parsers: parsers}
}

// DefaultRegistry carries every parser in the core set.
func DefaultRegistry() *Registry {
	return NewRegistry(
		pipParser{},
		pyprojectParser{},
		mavenParser{},
		gradleParser{},
		gomodParser{},
		cargoParser{},
		conanParser{},
		vcpkgParser{},
		cmakeParser{},
		gitmodulesParser{},
		foundryParser{},
	)
}

// Match returns the first parser whose patterns cover relPath, or nil.
func (r *Registry) Match(relPath string) Parser {
	base := filepath.Base(relPath)
	for _, p := range r.parsers {
		for _, pattern := range p.FilePatterns() {
			if ok, _ := filepath.Match(pattern, base); ok {
				return p
			}
		}
	}
	return nil
}
