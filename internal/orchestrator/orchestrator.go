// Package orchestrator drives a deployment from queued record to terminal
// state: key materialisation, workspace preparation, clone, user pipeline,
// publish, marker, cleanup. It owns every resource a deployment acquires
// and guarantees release on all exit paths.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/irgordon/deploycenter/internal/core/domain"
	"github.com/irgordon/deploycenter/internal/gitexec"
	"github.com/irgordon/deploycenter/internal/pipeline"
	"github.com/irgordon/deploycenter/internal/queue"
	"github.com/irgordon/deploycenter/internal/sshkey"
	"github.com/irgordon/deploycenter/internal/syncer"
	"github.com/irgordon/deploycenter/internal/workspace"
)

const (
	keyRetryAttempts = 3
	keyRetryBase     = 500 * time.Millisecond

	cloneRetryAttempts = 3
	cloneRetryBase     = 2 * time.Second

	// settleDelay lets build processes release file handles between the
	// publish and the workspace teardown.
	settleDelay = 500 * time.Millisecond

	// MarkerFileName is written into every target path after a successful
	// publish.
	MarkerFileName = ".deploy-center"
)

var (
	ErrNotCancellable = errors.New("only queued deployments can be cancelled")
	ErrNotRetryable   = errors.New("only failed deployments can be retried")
)

// CreateParams describe one requested deployment. Zero-value fields fall
// back to project defaults.
type CreateParams struct {
	ProjectID     uuid.UUID
	Trigger       domain.TriggerType
	Branch        string
	CommitHash    string
	CommitMessage string
	Author        string
	TriggeredBy   string
}

// Orchestrator wires the queue, the pipeline runner and every supporting
// service together. External collaborators use exactly four operations:
// CreateDeployment, Cancel, Retry and the hub's log subscription.
type Orchestrator struct {
	projects    domain.ProjectRepository
	deployments domain.DeploymentRepository
	steps       domain.StepRepository
	audit       domain.AuditSink
	hub         domain.Broadcaster
	notifier    domain.Notifier

	dispatcher *queue.Dispatcher
	runner     *pipeline.Runner
	keys       *sshkey.Manager
	git        gitexec.Client
	workspaces *workspace.Manager
	publisher  *syncer.Syncer

	logger *slog.Logger

	// settle is overridable in tests.
	settle time.Duration
}

type Deps struct {
	Projects    domain.ProjectRepository
	Deployments domain.DeploymentRepository
	Steps       domain.StepRepository
	Audit       domain.AuditSink
	Hub         domain.Broadcaster
	Notifier    domain.Notifier

	Dispatcher *queue.Dispatcher
	Runner     *pipeline.Runner
	Keys       *sshkey.Manager
	Git        gitexec.Client
	Workspaces *workspace.Manager
	Publisher  *syncer.Syncer

	Logger *slog.Logger
}

func New(d Deps) *Orchestrator {
	return &Orchestrator{
		projects:    d.Projects,
		deployments: d.Deployments,
		steps:       d.Steps,
		audit:       d.Audit,
		hub:         d.Hub,
		notifier:    d.Notifier,
		dispatcher:  d.Dispatcher,
		runner:      d.Runner,
		keys:        d.Keys,
		git:         d.Git,
		workspaces:  d.Workspaces,
		publisher:   d.Publisher,
		logger:      d.Logger,
		settle:      settleDelay,
	}
}

// CreateDeployment persists a queued record, audits it, announces it and
// enqueues the work unit. It returns as soon as the unit is queued.
func (o *Orchestrator) CreateDeployment(ctx context.Context, p CreateParams) (*domain.Deployment, error) {
	project, err := o.projects.GetByID(ctx, p.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load project: %w", err)
	}
	if !project.Active {
		return nil, domain.ErrProjectInactive
	}
	if err := project.Validate(); err != nil {
		return nil, err
	}

	branch := p.Branch
	if branch == "" {
		branch = project.DefaultBranch
	}
	if branch == "" {
		branch = "main"
	}
	commit := p.CommitHash
	if commit == "" {
		commit = domain.CommitUnknown
	}
	trigger := p.Trigger
	if trigger == "" {
		trigger = domain.TriggerManual
	}
	principal := p.TriggeredBy
	if principal == "" {
		principal = "system"
	}

	dep := &domain.Deployment{
		ID:            uuid.New(),
		ProjectID:     project.ID,
		Status:        domain.StatusQueued,
		Trigger:       trigger,
		Branch:        branch,
		CommitHash:    commit,
		CommitMessage: p.CommitMessage,
		Author:        p.Author,
		TriggeredBy:   principal,
		CreatedAt:     time.Now(),
	}
	if err := o.deployments.Create(ctx, dep); err != nil {
		return nil, fmt.Errorf("orchestrator: persist deployment: %w", err)
	}

	o.appendAudit(ctx, domain.AuditEntry{
		Action:     domain.AuditDeploymentCreated,
		ResourceID: dep.ID.String(),
		Actor:      principal,
		Success:    true,
		Detail:     fmt.Sprintf(`{"project":%q,"branch":%q,"trigger":%q}`, project.Name, branch, trigger),
	})
	o.hub.EmitDeploymentUpdated(dep)
	o.sendNotification(ctx, dep, project, 0, "")

	priority := queue.PriorityManual
	if trigger == domain.TriggerWebhook {
		priority = queue.PriorityWebhook
	}
	o.dispatcher.Add(dep.ID, project.ID, func() {
		o.execute(dep.ID, project.ID)
	}, priority)

	return dep, nil
}

// Cancel moves a still-queued deployment to cancelled. Anything already
// running or terminal is rejected.
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID, userID string) error {
	dep, err := o.deployments.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("orchestrator: load deployment: %w", err)
	}
	if dep.Status != domain.StatusQueued {
		return fmt.Errorf("%w (status %s)", ErrNotCancellable, dep.Status)
	}

	o.dispatcher.CancelUnit(dep.ProjectID, dep.ID)

	now := time.Now()
	if err := o.deployments.MarkCompleted(ctx, dep.ID, domain.StatusCancelled, now, 0, ""); err != nil {
		return fmt.Errorf("orchestrator: mark cancelled: %w", err)
	}
	dep.Status = domain.StatusCancelled
	dep.CompletedAt = &now

	o.appendAudit(ctx, domain.AuditEntry{
		Action:     domain.AuditDeploymentCancelled,
		ResourceID: dep.ID.String(),
		Actor:      userID,
		Success:    true,
	})
	o.hub.EmitDeploymentUpdated(dep)
	o.hub.EmitDeploymentCompleted(dep)
	return nil
}

// Retry clones a failed deployment into a new queued one at manual
// priority, carrying the original commit so the retry rebuilds the same
// code.
func (o *Orchestrator) Retry(ctx context.Context, id uuid.UUID, userID string) (*domain.Deployment, error) {
	src, err := o.deployments.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load deployment: %w", err)
	}
	if src.Status != domain.StatusFailed {
		return nil, fmt.Errorf("%w (status %s)", ErrNotRetryable, src.Status)
	}

	return o.CreateDeployment(ctx, CreateParams{
		ProjectID:     src.ProjectID,
		Trigger:       domain.TriggerRetry,
		Branch:        src.Branch,
		CommitHash:    src.CommitHash,
		CommitMessage: src.CommitMessage,
		Author:        src.Author,
		TriggeredBy:   userID,
	})
}

// QueueStatus exposes the dispatcher state for the API surface.
func (o *Orchestrator) QueueStatus() []queue.ProjectStatus {
	return o.dispatcher.Status()
}

// Wait blocks until every queued unit has drained.
func (o *Orchestrator) Wait() {
	o.dispatcher.Wait()
}

func (o *Orchestrator) appendAudit(ctx context.Context, e domain.AuditEntry) {
	if o.audit == nil {
		return
	}
	if err := o.audit.Append(ctx, e); err != nil {
		o.logger.Warn("audit append failed", slog.String("action", e.Action), slog.Any("error", err))
	}
}
