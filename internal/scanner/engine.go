package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/vulnsentinel/vulnsentinel/internal/config"
	"github.com/vulnsentinel/vulnsentinel/internal/logging"
	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

// maxManifestSize caps how much of a single manifest the scanner will read.
// Anything larger is not a dependency manifest a human wrote.
const maxManifestSize = 2 << 20

// Store is the slice of the data layer the scanner needs.
type Store interface {
	GetProject(ctx context.Context, id string) (*models.Project, error)
	ListDueForScan(ctx context.Context, window time.Duration) ([]*models.Project, error)
	UpsertLibrary(ctx context.Context, name, repoURL, platform, defaultBranch string) (*models.Library, error)
	SyncDependency(ctx context.Context, projectID, libraryID string, constraintExpr, resolvedVersion *string, source string) (*models.ProjectDependency, error)
	DeleteVanishedDependencies(ctx context.Context, projectID string, keepLibraryIDs []string) (int64, error)
	TouchLastScanned(ctx context.Context, projectID string) error
}

// ScanResult summarizes one project scan.
type ScanResult struct {
	ProjectID string              `json:"project_id"`
	Manifests []string            `json:"manifests"`
	Synced    int                 `json:"synced"`
	Removed   int                 `json:"removed"`
	Skipped   bool                `json:"skipped"`
	Unlinked  []ScannedDependency `json:"unlinked,omitempty"`
}

// Engine keeps project dependency rows in sync with the manifests in the
// project's repository.
type Engine struct {
	store    Store
	cloner   Cloner
	registry *Registry
	window   time.Duration
	logger   *logging.Logger
}

func New(store Store, cloner Cloner, cfg config.ScannerConfig, logger *logging.Logger) *Engine {
	return &Engine{
		store:    store,
		cloner:   cloner,
		registry: DefaultRegistry(),
		window:   cfg.FreshnessWindow,
		logger:   logger.With("scanner"),
	}
}

// RunBatch scans every project whose last scan is older than the freshness
// window. One project's failure does not stop the rest. Returns the number
// of projects scanned successfully.
func (e *Engine) RunBatch(ctx context.Context) (int, error) {
	projects, err := e.store.ListDueForScan(ctx, e.window)
	if err != nil {
		return 0, fmt.Errorf("failed to list projects due for scan: %w", err)
	}

	scanned := 0
	for _, project := range projects {
		if ctx.Err() != nil {
			return scanned, ctx.Err()
		}
		if _, err := e.RunOne(ctx, project.ID); err != nil {
			e.logger.Error("scan.project_failed", "project_id", project.ID, "error", err.Error())
			continue
		}
		scanned++
	}
	return scanned, nil
}

// RunOne clones the project at its effective ref, parses every manifest the
// registry recognizes, and syncs the dependency rows. Dependencies whose
// repository cannot be determined from the manifest are returned in
// Unlinked rather than written; linking those is a manual step.
func (e *Engine) RunOne(ctx context.Context, projectID string) (*ScanResult, error) {
	project, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load project %s: %w", projectID, err)
	}

	result := &ScanResult{ProjectID: projectID}
	if !project.AutoSyncDeps {
		e.logger.Debug("scan.skipped", "project_id", projectID, "reason", "auto_sync_deps disabled")
		result.Skipped = true
		return result, nil
	}

	ref := project.DefaultBranch
	if project.PinnedRef != nil && *project.PinnedRef != "" {
		ref = *project.PinnedRef
	}

	dir, err := e.cloner.CloneAtRef(ctx, project.RepoURL, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to clone %s at %s: %w", project.RepoURL, ref, err)
	}

	deps, manifests, parseFailed, err := e.parseTree(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to walk clone of %s: %w", project.RepoURL, err)
	}
	result.Manifests = manifests

	keep := make([]string, 0, len(deps))
	seen := make(map[string]struct{}, len(deps))
	for _, dep := range deps {
		if dep.LibraryRepoURL == "" {
			result.Unlinked = append(result.Unlinked, dep)
			continue
		}
		// Two manifests can name the same library; the first occurrence wins.
		if _, dup := seen[dep.LibraryName]; dup {
			continue
		}
		seen[dep.LibraryName] = struct{}{}

		library, err := e.store.UpsertLibrary(ctx, dep.LibraryName, dep.LibraryRepoURL, models.PlatformGitHub, "")
		if err != nil {
			// Usually a name already registered under a different repository.
			// The existing library keeps its identity; this dependency waits
			// for an operator to resolve the clash.
			e.logger.Warn("scan.library_rejected",
				"project_id", projectID,
				"library", dep.LibraryName,
				"repo_url", dep.LibraryRepoURL,
				"error", err.Error())
			result.Unlinked = append(result.Unlinked, dep)
			continue
		}

		if _, err := e.store.SyncDependency(ctx, projectID, library.ID,
			optional(dep.ConstraintExpr), optional(dep.ResolvedVersion), dep.SourceFile); err != nil {
			return nil, fmt.Errorf("failed to sync dependency %s: %w", dep.LibraryName, err)
		}
		keep = append(keep, library.ID)
		result.Synced++
	}

	// Rows absent from every manifest are stale, unless a manifest failed to
	// parse; then absence proves nothing and the delete step is skipped.
	if parseFailed == 0 {
		removed, err := e.store.DeleteVanishedDependencies(ctx, projectID, keep)
		if err != nil {
			return nil, fmt.Errorf("failed to delete vanished dependencies: %w", err)
		}
		result.Removed = int(removed)
	} else {
		e.logger.Warn("scan.delete_skipped", "project_id", projectID, "parse_failures", parseFailed)
	}

	if err := e.store.TouchLastScanned(ctx, projectID); err != nil {
		return nil, fmt.Errorf("failed to record scan time: %w", err)
	}

	e.logger.Info("scan.project_done",
		"project_id", projectID,
		"ref", ref,
		"manifests", len(result.Manifests),
		"synced", result.Synced,
		"removed", result.Removed,
		"unlinked", len(result.Unlinked))
	return result, nil
}

// parseTree walks the clone and parses every manifest the registry claims.
// A manifest that fails to parse is logged and counted, not fatal.
func (e *Engine) parseTree(dir string) ([]ScannedDependency, []string, int, error) {
	var (
		deps        []ScannedDependency
		manifests   []string
		parseFailed int
	)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		parser := e.registry.Match(rel)
		if parser == nil {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > maxManifestSize {
			e.logger.Warn("scan.manifest_oversized", "file", rel, "size", info.Size())
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		parsed, err := parser.Parse(rel, content)
		if err != nil {
			parseFailed++
			e.logger.Warn("scan.manifest_unparseable", "file", rel, "method", parser.DetectionMethod(), "error", err.Error())
			return nil
		}

		manifests = append(manifests, rel)
		deps = append(deps, parsed...)
		return nil
	})
	if err != nil {
		return nil, nil, 0, err
	}
	return deps, manifests, parseFailed, nil
}

// skipDir lists directories that never hold the project's own manifests.
func skipDir(name string) bool {
	switch name {
	case ".git", "node_modules", "vendor", "venv", ".venv", "__pycache__",
		"dist", "build", "out", "target", ".cache", ".idea", ".vscode", ".tox":
		return true
	}
	return false
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
