package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vulnsentinel/vulnsentinel/internal/config"
	"github.com/vulnsentinel/vulnsentinel/internal/database"
	"github.com/vulnsentinel/vulnsentinel/internal/logging"
	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

// Store is the slice of the data layer the API serves.
type Store interface {
	Ping(ctx context.Context) error

	CreateProject(ctx context.Context, p *models.Project) (*models.Project, error)
	GetProject(ctx context.Context, id string) (*models.Project, error)
	ListProjects(ctx context.Context, codec *database.CursorCodec, after *database.Cursor, limit int) (database.Page[*models.Project], error)

	UpsertLibrary(ctx context.Context, name, repoURL, platform, defaultBranch string) (*models.Library, error)
	GetLibrary(ctx context.Context, id string) (*models.Library, error)
	ListLibraries(ctx context.Context, codec *database.CursorCodec, after *database.Cursor, limit int) (database.Page[*models.Library], error)

	InsertManualDependency(ctx context.Context, projectID, libraryID string, constraintExpr, resolvedVersion *string) (*models.ProjectDependency, error)
	ListDependenciesByProject(ctx context.Context, projectID string) ([]*models.ProjectDependency, error)

	ListUpstreamVulns(ctx context.Context, codec *database.CursorCodec, after *database.Cursor, limit int) (database.Page[*models.UpstreamVuln], error)
	ListUpstreamVulnsByLibrary(ctx context.Context, libraryID string, codec *database.CursorCodec, after *database.Cursor, limit int) (database.Page[*models.UpstreamVuln], error)

	GetClientVuln(ctx context.Context, id string) (*models.ClientVuln, error)
	ListClientVulnsByProject(ctx context.Context, projectID string, codec *database.CursorCodec, after *database.Cursor, limit int) (database.Page[*models.ClientVuln], error)
	UpdateClientVulnStatus(ctx context.Context, id string, to models.ClientVulnStatus) error
}

// Backfiller closes the registration gap: projects added after a vuln is
// published still receive rows for it.
type Backfiller interface {
	BackfillProject(ctx context.Context, projectID string) (int, error)
}

// Server is the HTTP surface: project and library registration, manual
// dependency entry, read models for the dashboard, operator status
// transitions, health and metrics.
type Server struct {
	store    Store
	impact   Backfiller
	codec    *database.CursorCodec
	validate *validator.Validate
	logger   *logging.Logger
	http     *http.Server
}

func New(store Store, impact Backfiller, cfg config.ServerConfig, codec *database.CursorCodec, logger *logging.Logger) *Server {
	validate := validator.New()
	validate.RegisterValidation("repourl", validRepoURL)
	s := &Server{
		store:    store,
		impact:   impact,
		codec:    codec,
		validate: validate,
		logger:   logger.With("api"),
	}
	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler builds the router. Exposed separately so tests can drive the
// routes without binding a socket.
func (s *Server) Handler(corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/projects", func(r chi.Router) {
			r.Get("/", s.handleListProjects)
			r.Post("/", s.handleCreateProject)
			r.Route("/{projectID}", func(r chi.Router) {
				r.Get("/", s.handleGetProject)
				r.Get("/vulns", s.handleListProjectVulns)
				r.Post("/dependencies", s.handleCreateDependency)
			})
		})
		r.Route("/libraries", func(r chi.Router) {
			r.Get("/", s.handleListLibraries)
			r.Post("/", s.handleCreateLibrary)
			r.Get("/{libraryID}/vulns", s.handleListLibraryVulns)
		})
		r.Get("/vulns", s.handleListVulns)
		r.Patch("/client-vulns/{clientVulnID}/status", s.handleUpdateVulnStatus)
	})

	return r
}

// Start blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info("api.listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("api.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
