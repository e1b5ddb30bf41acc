package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/irgordon/deploycenter/internal/core/domain"
	"github.com/irgordon/deploycenter/internal/orchestrator"
	"github.com/irgordon/deploycenter/internal/webhook"
)

// WebhookHandler is the public entry point for git push deliveries. It
// verifies the HMAC signature, normalises the payload and asks the filter
// whether this push deserves a deployment.
type WebhookHandler struct {
	Projects ProjectStore
	Orch     *orchestrator.Orchestrator
	Logger   *slog.Logger
}

func NewWebhookHandler(projects ProjectStore, orch *orchestrator.Orchestrator, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{Projects: projects, Orch: orch, Logger: logger}
}

// HandleGitHubPush handles POST /api/v1/webhooks/github/{id}.
func (h *WebhookHandler) HandleGitHubPush(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}

	project, err := h.Projects.GetByID(r.Context(), projectID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		h.Logger.Error("webhook project lookup failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	if project.WebhookSecret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if err := webhook.VerifySignature(body, sig, project.WebhookSecret); err != nil {
			h.Logger.Warn("webhook signature rejected",
				slog.String("project_id", projectID.String()))
			writeError(w, http.StatusUnauthorized, "signature verification failed")
			return
		}
	}

	// Ping and other non-push events acknowledge without action.
	if ev := r.Header.Get("X-GitHub-Event"); ev != "" && ev != "push" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "event": ev})
		return
	}

	push, err := webhook.ParsePush(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unparseable push payload")
		return
	}

	decision := webhook.ShouldTrigger(project, push)
	if !decision.Trigger {
		h.Logger.Info("webhook push skipped",
			slog.String("project_id", projectID.String()),
			slog.String("reason", decision.Reason))
		writeJSON(w, http.StatusOK, map[string]string{"status": "skipped", "reason": decision.Reason})
		return
	}

	dep, err := h.Orch.CreateDeployment(r.Context(), orchestrator.CreateParams{
		ProjectID:     project.ID,
		Trigger:       domain.TriggerWebhook,
		Branch:        push.Branch,
		CommitHash:    push.CommitHash,
		CommitMessage: push.CommitMessage,
		Author:        push.AuthorName,
		TriggeredBy:   "github-webhook",
	})
	if err != nil {
		h.Logger.Error("webhook deployment creation failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "could not create deployment")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":        "queued",
		"deployment_id": dep.ID.String(),
	})
}
