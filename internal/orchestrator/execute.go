package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/irgordon/deploycenter/internal/core/domain"
	"github.com/irgordon/deploycenter/internal/pipeline"
	"github.com/irgordon/deploycenter/internal/recovery"
	"github.com/irgordon/deploycenter/internal/sshkey"
	"github.com/irgordon/deploycenter/internal/syncer"
)

// execute runs one deployment end to end on the dispatcher goroutine. The
// deferred block releases every acquired resource on all exit paths.
func (o *Orchestrator) execute(deploymentID, projectID uuid.UUID) {
	ctx := context.Background()
	log := o.logger.With(
		slog.String("deployment_id", deploymentID.String()),
		slog.String("project_id", projectID.String()))

	// A cancel may have raced the dequeue; re-read before doing anything.
	dep, err := o.deployments.GetByID(ctx, deploymentID)
	if err != nil {
		log.Error("deployment record vanished before execution", slog.Any("error", err))
		return
	}
	if dep.Status != domain.StatusQueued {
		log.Info("skipping unit, deployment no longer queued", slog.String("status", string(dep.Status)))
		return
	}

	project, err := o.projects.GetByID(ctx, projectID)
	if err != nil {
		o.finish(ctx, dep, nil, false, fmt.Sprintf("cannot load project: %v", err))
		return
	}
	if !project.Active {
		o.finish(ctx, dep, project, false, domain.ErrProjectInactive.Error())
		return
	}
	if err := project.Validate(); err != nil {
		o.finish(ctx, dep, project, false, err.Error())
		return
	}

	emit := func(line string) { o.hub.EmitDeploymentLog(dep.ID, project.ID, line) }

	// SSH key materialisation, retried through transient failures.
	var key *sshkey.Handle
	if project.UseSSHKey {
		err := recovery.Retry(ctx, keyRetryAttempts, keyRetryBase, func() error {
			var kerr error
			key, kerr = o.keys.Materialise(project.EncryptedSSHKey, project.ID)
			return kerr
		}, func(attempt int, err error) {
			log.Warn("SSH key materialisation retry", slog.Int("attempt", attempt), slog.Any("error", err))
		})
		if err != nil {
			o.finish(ctx, dep, project, false, fmt.Sprintf("failed to prepare SSH key: %v", err))
			return
		}
	}

	var workspacePath string
	defer func() {
		if workspacePath != "" {
			// Build tooling may still hold handles inside the workspace;
			// give it a moment before teardown on every exit path.
			time.Sleep(o.settle)
			if err := o.workspaces.Cleanup(workspacePath, project.DeploymentPaths); err != nil {
				log.Error("workspace cleanup refused", slog.Any("error", err))
			}
		}
		if key != nil {
			key.Destroy()
		}
	}()

	// Webhook deliveries carry a concrete commit; manual triggers resolve
	// the remote tip up front so the record never publishes as "unknown".
	if dep.CommitHash == domain.CommitUnknown {
		if hash, err := o.git.LsRemote(ctx, project.RepoURL, dep.Branch, key); err != nil {
			log.Warn("cannot pre-resolve remote head, will resolve after clone", slog.Any("error", err))
		} else {
			dep.CommitHash = hash
			if err := o.deployments.UpdateCommit(ctx, dep.ID, hash); err != nil {
				log.Warn("cannot persist resolved commit", slog.Any("error", err))
			}
		}
	}

	startedAt := time.Now()
	if err := o.deployments.MarkStarted(ctx, dep.ID, startedAt); err != nil {
		// The repository only moves queued records to in_progress; a missing
		// row here means a cancel won the race after the re-read above.
		if errors.Is(err, domain.ErrNotFound) {
			log.Info("deployment left the queued state before start, skipping")
			return
		}
		log.Error("cannot mark deployment started", slog.Any("error", err))
	}
	dep.Status = domain.StatusInProgress
	dep.StartedAt = &startedAt
	o.hub.EmitDeploymentUpdated(dep)
	emit(fmt.Sprintf("Deployment started: %s @ %s", project.Name, dep.Branch))
	o.sendNotification(ctx, dep, project, 0, "")

	if err := o.workspaces.Preflight(ctx, project.ID, o.deployments); err != nil {
		log.Error("pre-flight failed", slog.Any("error", err))
		o.finish(ctx, dep, project, false, "Insufficient disk space")
		return
	}

	workspacePath, err = o.workspaces.Prepare(project.ID, dep.ID)
	if err != nil {
		o.finish(ctx, dep, project, false, fmt.Sprintf("workspace preparation failed: %v", err))
		return
	}

	if err := o.clone(ctx, dep, project, workspacePath, key, emit); err != nil {
		o.finish(ctx, dep, project, false, err.Error())
		return
	}

	deployCtx := o.buildContext(dep, project, workspacePath)

	if project.HasPipeline() {
		if err := pipeline.ValidatePipeline(project.Pipeline); err != nil {
			o.finish(ctx, dep, project, false, err.Error())
			return
		}
		res := o.runner.Execute(ctx, dep.ID, project.ID, project.Pipeline,
			deployCtx, workspacePath, key, project.Name)
		if !res.Success {
			o.finish(ctx, dep, project, false, res.ErrorMessage)
			return
		}
	}

	if err := o.publisher.Publish(ctx, workspacePath, project.DeploymentPaths, syncer.Options{
		BuildOutput:  project.BuildOutput,
		ExtraIgnores: project.SyncIgnorePatterns,
		RsyncOptions: project.RsyncOptions,
	}); err != nil {
		o.finish(ctx, dep, project, false, err.Error())
		return
	}
	emit("Published to all target paths")

	o.writeMarkers(dep, project, log)
	o.finish(ctx, dep, project, true, "")
}

// clone records the implicit step 0, retries the clone, pins the work tree
// to the requested commit (or resolves HEAD when it was never known) and
// audits SSH key usage.
func (o *Orchestrator) clone(
	ctx context.Context,
	dep *domain.Deployment,
	project *domain.Project,
	dir string,
	key *sshkey.Handle,
	emit func(string),
) error {
	record := &domain.DeploymentStep{
		ID:           uuid.New(),
		DeploymentID: dep.ID,
		StepNumber:   domain.CloneStepNumber,
		Name:         "Clone Repository",
		Status:       domain.StepRunning,
		StartedAt:    time.Now(),
	}
	if err := o.steps.CreateRunning(ctx, record); err != nil {
		o.logger.Error("cannot persist clone step", slog.Any("error", err))
	}
	emit(fmt.Sprintf("Cloning %s (branch %s)", project.RepoURL, dep.Branch))

	cloneErr := recovery.Retry(ctx, cloneRetryAttempts, cloneRetryBase, func() error {
		return o.git.Clone(ctx, project.RepoURL, dep.Branch, dir, key)
	}, func(attempt int, err error) {
		emit(fmt.Sprintf("Clone attempt %d failed: %v, retrying", attempt, err))
	})

	if cloneErr == nil {
		if dep.CommitHash != domain.CommitUnknown {
			cloneErr = o.git.Checkout(ctx, dir, dep.CommitHash, key)
		} else if hash, err := o.git.RevParseHead(ctx, dir); err == nil {
			dep.CommitHash = hash
			if uerr := o.deployments.UpdateCommit(ctx, dep.ID, hash); uerr != nil {
				o.logger.Warn("cannot persist cloned commit", slog.Any("error", uerr))
			}
		}
	}

	duration := time.Since(record.StartedAt).Seconds()
	if cloneErr != nil {
		o.finishStep(ctx, record.ID, domain.StepFailed, duration, "", cloneErr.Error())
		if key != nil {
			o.auditKeyUse(ctx, dep, key, false, cloneErr.Error())
		}
		return fmt.Errorf("clone failed: %v", cloneErr)
	}

	o.finishStep(ctx, record.ID, domain.StepSuccess, duration,
		fmt.Sprintf("Cloned %s at %s", project.RepoURL, dep.CommitHash), "")
	emit(fmt.Sprintf("Clone complete at %s", dep.CommitHash))
	if key != nil {
		o.auditKeyUse(ctx, dep, key, true, "")
	}
	return nil
}

func (o *Orchestrator) buildContext(dep *domain.Deployment, project *domain.Project, workspacePath string) domain.Context {
	c := domain.Context{
		domain.CtxProjectName:      project.Name,
		domain.CtxProjectID:        project.ID.String(),
		domain.CtxDeploymentID:     dep.ID.String(),
		domain.CtxRepoName:         repoName(project.RepoURL),
		domain.CtxRepoURL:          project.RepoURL,
		domain.CtxBranch:           dep.Branch,
		domain.CtxCommit:           dep.CommitHash,
		domain.CtxCommitHash:       dep.CommitHash,
		domain.CtxCommitMessage:    dep.CommitMessage,
		domain.CtxAuthor:           dep.Author,
		domain.CtxEnvironment:      project.Environment,
		domain.CtxWorkingDirectory: workspacePath,
		domain.CtxProjectPath:      workspacePath,
		domain.CtxBuildCommand:     project.BuildCommand,
		domain.CtxBuildOutput:      project.BuildOutput,
	}
	if len(project.DeploymentPaths) > 0 {
		c[domain.CtxTargetPath] = project.DeploymentPaths[0]
	}
	return c
}

// marker is the JSON body of the .deploy-center file.
type marker struct {
	DeploymentID  string  `json:"deploymentId"`
	ProjectID     string  `json:"projectId"`
	ProjectName   string  `json:"projectName"`
	Environment   string  `json:"environment"`
	RepoURL       string  `json:"repoUrl"`
	Branch        string  `json:"branch"`
	CommitHash    string  `json:"commitHash"`
	CommitMessage string  `json:"commitMessage,omitempty"`
	Author        string  `json:"author,omitempty"`
	TriggeredBy   string  `json:"triggeredBy"`
	Trigger       string  `json:"trigger"`
	Status        string  `json:"status"`
	QueuedAt      string  `json:"queuedAt"`
	StartedAt     string  `json:"startedAt,omitempty"`
	Duration      float64 `json:"durationSeconds"`
	DurationHuman string  `json:"durationHuman"`
	DeployedAt    string  `json:"deployedAt"`
}

// writeMarkers drops the metadata marker into every target path. A failed
// write on one path never fails the deployment.
func (o *Orchestrator) writeMarkers(dep *domain.Deployment, project *domain.Project, log *slog.Logger) {
	now := time.Now()
	duration := now.Sub(dep.CreatedAt).Seconds()
	if dep.StartedAt != nil {
		duration = now.Sub(*dep.StartedAt).Seconds()
	}

	m := marker{
		DeploymentID:  dep.ID.String(),
		ProjectID:     project.ID.String(),
		ProjectName:   project.Name,
		Environment:   project.Environment,
		RepoURL:       project.RepoURL,
		Branch:        dep.Branch,
		CommitHash:    dep.CommitHash,
		CommitMessage: dep.CommitMessage,
		Author:        dep.Author,
		TriggeredBy:   dep.TriggeredBy,
		Trigger:       string(dep.Trigger),
		Status:        string(domain.StatusSuccess),
		QueuedAt:      dep.CreatedAt.UTC().Format(time.RFC3339),
		Duration:      duration,
		DurationHuman: humanDuration(time.Duration(duration * float64(time.Second))),
		DeployedAt:    now.UTC().Format(time.RFC3339),
	}
	if dep.StartedAt != nil {
		m.StartedAt = dep.StartedAt.UTC().Format(time.RFC3339)
	}

	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		log.Error("cannot encode deployment marker", slog.Any("error", err))
		return
	}
	for _, target := range project.DeploymentPaths {
		p := filepath.Join(target, MarkerFileName)
		if err := os.WriteFile(p, body, 0o644); err != nil {
			log.Warn("cannot write deployment marker", slog.String("path", p), slog.Any("error", err))
		}
	}
}

// finish records the terminal transition, announces it and notifies.
func (o *Orchestrator) finish(ctx context.Context, dep *domain.Deployment, project *domain.Project, success bool, errMsg string) {
	status := domain.StatusFailed
	if success {
		status = domain.StatusSuccess
	}

	now := time.Now()
	var duration float64
	if dep.StartedAt != nil {
		duration = now.Sub(*dep.StartedAt).Seconds()
	}

	if err := o.deployments.MarkCompleted(ctx, dep.ID, status, now, duration, errMsg); err != nil {
		o.logger.Error("cannot mark deployment completed",
			slog.String("deployment_id", dep.ID.String()),
			slog.Any("error", err))
	}
	dep.Status = status
	dep.CompletedAt = &now
	dep.DurationSeconds = duration
	dep.ErrorMessage = errMsg

	if success {
		o.hub.EmitDeploymentLog(dep.ID, dep.ProjectID, fmt.Sprintf("Deployment succeeded in %s", humanDuration(now.Sub(valueOr(dep.StartedAt, dep.CreatedAt)))))
	} else {
		o.hub.EmitDeploymentLog(dep.ID, dep.ProjectID, "[ERROR] Deployment failed: "+errMsg)
	}
	o.hub.EmitDeploymentUpdated(dep)
	o.hub.EmitDeploymentCompleted(dep)

	o.sendNotification(ctx, dep, project, duration, errMsg)
}

// sendNotification posts a status card for the deployment's current state.
// It fires on queued, in_progress and the terminal transition.
func (o *Orchestrator) sendNotification(ctx context.Context, dep *domain.Deployment, project *domain.Project, duration float64, errMsg string) {
	if o.notifier == nil || project == nil {
		return
	}
	o.notifier.SendDeploymentNotification(ctx, domain.Notification{
		ProjectName:   project.Name,
		DeploymentID:  dep.ID.String(),
		Status:        string(dep.Status),
		Branch:        dep.Branch,
		CommitHash:    dep.CommitHash,
		CommitMessage: dep.CommitMessage,
		Author:        dep.Author,
		Duration:      duration,
		Error:         errMsg,
	})
}

func (o *Orchestrator) finishStep(ctx context.Context, id uuid.UUID, status domain.StepStatus, duration float64, output, errOutput string) {
	if err := o.steps.Finish(ctx, id, status, time.Now(), duration, output, errOutput); err != nil {
		o.logger.Error("cannot finalise step record", slog.Any("error", err))
	}
}

func (o *Orchestrator) auditKeyUse(ctx context.Context, dep *domain.Deployment, key *sshkey.Handle, success bool, errMsg string) {
	detail := fmt.Sprintf(`{"fingerprint":%q}`, key.Fingerprint)
	if !success {
		detail = fmt.Sprintf(`{"fingerprint":%q,"error":%q}`, key.Fingerprint, errMsg)
	}
	o.appendAudit(ctx, domain.AuditEntry{
		Action:     domain.AuditSSHKeyUsed,
		ResourceID: dep.ID.String(),
		Actor:      dep.TriggeredBy,
		Success:    success,
		Detail:     detail,
	})
}

func repoName(repoURL string) string {
	name := path.Base(strings.TrimSuffix(strings.TrimSuffix(repoURL, "/"), ".git"))
	if idx := strings.LastIndex(name, ":"); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}

func humanDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func valueOr(t *time.Time, fallback time.Time) time.Time {
	if t != nil {
		return *t
	}
	return fallback
}
