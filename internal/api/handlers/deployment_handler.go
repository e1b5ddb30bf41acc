package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	apimw "github.com/irgordon/deploycenter/internal/api/middleware"
	"github.com/irgordon/deploycenter/internal/core/domain"
	"github.com/irgordon/deploycenter/internal/orchestrator"
)

type DeploymentHandler struct {
	Orch        *orchestrator.Orchestrator
	Deployments domain.DeploymentRepository
	Steps       domain.StepRepository
	Logger      *slog.Logger
	validate    *validator.Validate
}

func NewDeploymentHandler(orch *orchestrator.Orchestrator, deployments domain.DeploymentRepository, steps domain.StepRepository, logger *slog.Logger) *DeploymentHandler {
	return &DeploymentHandler{
		Orch:        orch,
		Deployments: deployments,
		Steps:       steps,
		Logger:      logger,
		validate:    validator.New(),
	}
}

type createDeploymentRequest struct {
	Branch     string `json:"branch" validate:"omitempty,max=250"`
	CommitHash string `json:"commit_hash" validate:"omitempty,max=64"`
}

// Create handles POST /api/v1/projects/{id}/deployments (manual trigger).
func (h *DeploymentHandler) Create(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}

	var req createDeploymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	dep, err := h.Orch.CreateDeployment(r.Context(), orchestrator.CreateParams{
		ProjectID:   projectID,
		Trigger:     domain.TriggerManual,
		Branch:      req.Branch,
		CommitHash:  req.CommitHash,
		TriggeredBy: apimw.Principal(r.Context()),
	})
	if err != nil {
		h.respondCreateError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, dep)
}

// Cancel handles POST /api/v1/deployments/{id}/cancel.
func (h *DeploymentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deployment id")
		return
	}

	if err := h.Orch.Cancel(r.Context(), id, apimw.Principal(r.Context())); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "deployment not found")
		case errors.Is(err, orchestrator.ErrNotCancellable):
			writeError(w, http.StatusConflict, err.Error())
		default:
			h.Logger.Error("cancel failed", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "could not cancel deployment")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.StatusCancelled)})
}

// Retry handles POST /api/v1/deployments/{id}/retry.
func (h *DeploymentHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deployment id")
		return
	}

	dep, err := h.Orch.Retry(r.Context(), id, apimw.Principal(r.Context()))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "deployment not found")
		case errors.Is(err, orchestrator.ErrNotRetryable):
			writeError(w, http.StatusConflict, err.Error())
		default:
			h.Logger.Error("retry failed", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "could not retry deployment")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, dep)
}

// GetByID handles GET /api/v1/deployments/{id}.
func (h *DeploymentHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deployment id")
		return
	}

	dep, err := h.Deployments.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "deployment not found")
			return
		}
		h.Logger.Error("deployment fetch failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "could not fetch deployment")
		return
	}
	writeJSON(w, http.StatusOK, dep)
}

// ListSteps handles GET /api/v1/deployments/{id}/steps.
func (h *DeploymentHandler) ListSteps(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deployment id")
		return
	}

	steps, err := h.Steps.ListForDeployment(r.Context(), id)
	if err != nil {
		h.Logger.Error("step list failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "could not list steps")
		return
	}
	writeJSON(w, http.StatusOK, steps)
}

// ListForProject handles GET /api/v1/projects/{id}/deployments: the recent
// completed history.
func (h *DeploymentHandler) ListForProject(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}

	deps, err := h.Deployments.ListCompletedForProject(r.Context(), projectID, 50)
	if err != nil {
		h.Logger.Error("deployment list failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "could not list deployments")
		return
	}
	writeJSON(w, http.StatusOK, deps)
}

// QueueStatus handles GET /api/v1/queue.
func (h *DeploymentHandler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Orch.QueueStatus())
}

func (h *DeploymentHandler) respondCreateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "project not found")
	case errors.Is(err, domain.ErrProjectInactive),
		errors.Is(err, domain.ErrNoDeploymentPaths),
		errors.Is(err, domain.ErrIncompleteSSHKey):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.Logger.Error("deployment creation failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "could not create deployment")
	}
}
