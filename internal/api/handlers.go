package api

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/vulnsentinel/vulnsentinel/internal/models"
	"github.com/vulnsentinel/vulnsentinel/internal/scanner"
)

// validRepoURL accepts any clone-URL form the canonicalizer understands,
// including scp-style ssh remotes.
func validRepoURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(scanner.CanonicalRepoURL(fl.Field().String()))
	return err == nil && u.Scheme != "" && u.Host != ""
}

type manualDependencyRequest struct {
	LibraryName     string  `json:"library_name" validate:"required"`
	LibraryRepoURL  string  `json:"library_repo_url" validate:"required,repourl"`
	ConstraintExpr  *string `json:"constraint_expr"`
	ResolvedVersion *string `json:"resolved_version"`
}

type createProjectRequest struct {
	Name           string                    `json:"name" validate:"required"`
	RepoURL        string                    `json:"repo_url" validate:"required,repourl"`
	DefaultBranch  string                    `json:"default_branch"`
	Contact        *string                   `json:"contact"`
	CurrentVersion *string                   `json:"current_version"`
	PinnedRef      *string                   `json:"pinned_ref"`
	AutoSyncDeps   *bool                     `json:"auto_sync_deps"`
	Dependencies   []manualDependencyRequest `json:"dependencies" validate:"dive"`
}

type createProjectResponse struct {
	Project      *models.Project             `json:"project"`
	Dependencies []*models.ProjectDependency `json:"dependencies"`
	Backfilled   int                         `json:"backfilled"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	autoSync := true
	if req.AutoSyncDeps != nil {
		autoSync = *req.AutoSyncDeps
	}
	project, err := s.store.CreateProject(r.Context(), &models.Project{
		Name:           req.Name,
		RepoURL:        scanner.CanonicalRepoURL(req.RepoURL),
		DefaultBranch:  req.DefaultBranch,
		Contact:        req.Contact,
		CurrentVersion: req.CurrentVersion,
		PinnedRef:      req.PinnedRef,
		AutoSyncDeps:   autoSync,
	})
	if err != nil {
		s.storeError(w, r, err)
		return
	}

	resp := createProjectResponse{Project: project, Dependencies: []*models.ProjectDependency{}}
	for _, d := range req.Dependencies {
		dep, err := s.registerDependency(r, project.ID, d)
		if err != nil {
			// The project row stands; the caller re-submits the failed
			// dependency through the dependency endpoint.
			s.storeError(w, r, err)
			return
		}
		resp.Dependencies = append(resp.Dependencies, dep)
	}
	if len(resp.Dependencies) > 0 {
		resp.Backfilled = s.backfill(r, project.ID)
	}

	s.logger.Info("api.project_created",
		"project_id", project.ID,
		"repo_url", project.RepoURL,
		"dependencies", len(resp.Dependencies))
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "projectID")
	project, err := s.store.GetProject(r.Context(), id)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	deps, err := s.store.ListDependenciesByProject(r.Context(), id)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project":      project,
		"dependencies": deps,
	})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	after, limit, err := s.pagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := s.store.ListProjects(r.Context(), s.codec, after, limit)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type createDependencyResponse struct {
	Dependency *models.ProjectDependency `json:"dependency"`
	Backfilled int                       `json:"backfilled"`
}

func (s *Server) handleCreateDependency(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if _, err := s.store.GetProject(r.Context(), projectID); err != nil {
		s.storeError(w, r, err)
		return
	}

	var req manualDependencyRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	dep, err := s.registerDependency(r, projectID, req)
	if err != nil {
		s.storeError(w, r, err)
		return
	}

	resp := createDependencyResponse{Dependency: dep, Backfilled: s.backfill(r, projectID)}
	s.logger.Info("api.dependency_added",
		"project_id", projectID,
		"library", req.LibraryName,
		"backfilled", resp.Backfilled)
	writeJSON(w, http.StatusCreated, resp)
}

// registerDependency resolves the library and writes the row. The manual
// constraint source is applied by the store, never taken from the request.
func (s *Server) registerDependency(r *http.Request, projectID string, req manualDependencyRequest) (*models.ProjectDependency, error) {
	library, err := s.store.UpsertLibrary(r.Context(),
		req.LibraryName, scanner.CanonicalRepoURL(req.LibraryRepoURL), models.PlatformGitHub, "")
	if err != nil {
		return nil, err
	}
	return s.store.InsertManualDependency(r.Context(), projectID, library.ID, req.ConstraintExpr, req.ResolvedVersion)
}

// backfill is best effort; a failure is logged and the write that triggered
// it still succeeds. The impact engine's next pass covers the gap.
func (s *Server) backfill(r *http.Request, projectID string) int {
	n, err := s.impact.BackfillProject(r.Context(), projectID)
	if err != nil {
		s.logger.Error("api.backfill_failed", "project_id", projectID, "error", err.Error())
		return 0
	}
	return n
}

func (s *Server) handleListProjectVulns(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if _, err := s.store.GetProject(r.Context(), projectID); err != nil {
		s.storeError(w, r, err)
		return
	}
	after, limit, err := s.pagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := s.store.ListClientVulnsByProject(r.Context(), projectID, s.codec, after, limit)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type createLibraryRequest struct {
	Name          string `json:"name" validate:"required"`
	RepoURL       string `json:"repo_url" validate:"required,repourl"`
	DefaultBranch string `json:"default_branch"`
}

func (s *Server) handleCreateLibrary(w http.ResponseWriter, r *http.Request) {
	var req createLibraryRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	library, err := s.store.UpsertLibrary(r.Context(),
		req.Name, scanner.CanonicalRepoURL(req.RepoURL), models.PlatformGitHub, req.DefaultBranch)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, library)
}

func (s *Server) handleListLibraries(w http.ResponseWriter, r *http.Request) {
	after, limit, err := s.pagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := s.store.ListLibraries(r.Context(), s.codec, after, limit)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleListLibraryVulns(w http.ResponseWriter, r *http.Request) {
	libraryID := chi.URLParam(r, "libraryID")
	if _, err := s.store.GetLibrary(r.Context(), libraryID); err != nil {
		s.storeError(w, r, err)
		return
	}
	after, limit, err := s.pagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := s.store.ListUpstreamVulnsByLibrary(r.Context(), libraryID, s.codec, after, limit)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleListVulns(w http.ResponseWriter, r *http.Request) {
	after, limit, err := s.pagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := s.store.ListUpstreamVulns(r.Context(), s.codec, after, limit)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=recorded reported confirmed fixed not_affect"`
}

func (s *Server) handleUpdateVulnStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "clientVulnID")

	var req updateStatusRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	if err := s.store.UpdateClientVulnStatus(r.Context(), id, models.ClientVulnStatus(req.Status)); err != nil {
		s.storeError(w, r, err)
		return
	}
	cv, err := s.store.GetClientVuln(r.Context(), id)
	if err != nil {
		s.storeError(w, r, err)
		return
	}

	s.logger.Info("api.status_updated", "client_vuln_id", id, "status", req.Status)
	writeJSON(w, http.StatusOK, cv)
}
