package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/irgordon/deploycenter/internal/core/domain"
)

// ProjectStore is the project surface the gateway needs; both the
// PostgreSQL repository and the in-memory store satisfy it.
type ProjectStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Project, error)
	Create(ctx context.Context, p *domain.Project) error
	List(ctx context.Context) ([]domain.Project, error)
}

type ProjectHandler struct {
	Store    ProjectStore
	Logger   *slog.Logger
	validate *validator.Validate
}

func NewProjectHandler(store ProjectStore, logger *slog.Logger) *ProjectHandler {
	return &ProjectHandler{
		Store:    store,
		Logger:   logger,
		validate: validator.New(),
	}
}

type createProjectRequest struct {
	Name            string                `json:"name" validate:"required,min=1,max=100"`
	RepoURL         string                `json:"repo_url" validate:"required"`
	DefaultBranch   string                `json:"default_branch"`
	Environment     string                `json:"environment"`
	DeploymentPaths []string              `json:"deployment_paths" validate:"required,min=1,dive,required"`
	Pipeline        []domain.PipelineStep `json:"pipeline"`
	BuildCommand    string                `json:"build_command"`
	BuildOutput     string                `json:"build_output"`
	AutoDeploy      bool                  `json:"auto_deploy"`
	DeployOnPaths   []string              `json:"deploy_on_paths"`
	WebhookSecret   string                `json:"webhook_secret"`
	SyncIgnores     []string              `json:"sync_ignore_patterns"`
	RsyncOptions    string                `json:"rsync_options"`
}

// Create handles POST /api/v1/projects.
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	project := &domain.Project{
		Name:               req.Name,
		RepoURL:            req.RepoURL,
		DefaultBranch:      defaultString(req.DefaultBranch, "main"),
		Environment:        defaultString(req.Environment, "production"),
		Active:             true,
		DeploymentPaths:    req.DeploymentPaths,
		Pipeline:           req.Pipeline,
		BuildCommand:       req.BuildCommand,
		BuildOutput:        req.BuildOutput,
		AutoDeploy:         req.AutoDeploy,
		DeployOnPaths:      req.DeployOnPaths,
		WebhookSecret:      req.WebhookSecret,
		SyncIgnorePatterns: req.SyncIgnores,
		RsyncOptions:       req.RsyncOptions,
	}
	if err := h.Store.Create(r.Context(), project); err != nil {
		h.Logger.Error("project creation failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "could not create project")
		return
	}

	writeJSON(w, http.StatusCreated, project)
}

// List handles GET /api/v1/projects.
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	projects, err := h.Store.List(r.Context())
	if err != nil {
		h.Logger.Error("project list failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "could not list projects")
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

// GetByID handles GET /api/v1/projects/{id}.
func (h *ProjectHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}

	project, err := h.Store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		h.Logger.Error("project fetch failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "could not fetch project")
		return
	}
	// The webhook secret never leaves the server.
	project.WebhookSecret = ""
	writeJSON(w, http.StatusOK, project)
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
