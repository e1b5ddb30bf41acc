package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("record not found")

// ProjectRepository is the read side of project storage the core depends on.
type ProjectRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Project, error)
}

// DeploymentRepository persists deployment records and their transitions.
type DeploymentRepository interface {
	Create(ctx context.Context, d *Deployment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Deployment, error)
	// ListCompletedForProject returns terminal deployments for a project,
	// newest first. Used by the workspace pruner.
	ListCompletedForProject(ctx context.Context, projectID uuid.UUID, limit int) ([]Deployment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status DeploymentStatus) error
	MarkStarted(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkCompleted(ctx context.Context, id uuid.UUID, status DeploymentStatus, at time.Time, duration float64, errMsg string) error
	UpdateCommit(ctx context.Context, id uuid.UUID, commitHash string) error
}

// StepRepository persists per-step records. CreateRunning is called exactly
// once per attempted step.
type StepRepository interface {
	CreateRunning(ctx context.Context, s *DeploymentStep) error
	Finish(ctx context.Context, id uuid.UUID, status StepStatus, at time.Time, duration float64, output, errOutput string) error
	ListForDeployment(ctx context.Context, deploymentID uuid.UUID) ([]DeploymentStep, error)
}

// Audit action kinds observed by the core.
const (
	AuditDeploymentCreated   = "DeploymentCreated"
	AuditDeploymentCancelled = "DeploymentCancelled"
	AuditSSHKeyUsed          = "SSH_KEY_USED"
)

// AuditEntry is one append-only audit record.
type AuditEntry struct {
	ID         uuid.UUID `json:"id" db:"id"`
	Action     string    `json:"action" db:"action"`
	ResourceID string    `json:"resource_id" db:"resource_id"`
	Actor      string    `json:"actor" db:"actor"`
	Success    bool      `json:"success" db:"success"`
	Detail     string    `json:"detail" db:"detail"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// AuditSink appends audit entries. Append failures must never affect the
// operation being audited.
type AuditSink interface {
	Append(ctx context.Context, e AuditEntry) error
}

// Broadcaster is the real-time channel the core emits progress through. It is
// best-effort: implementations may drop events for slow subscribers.
type Broadcaster interface {
	EmitDeploymentUpdated(d *Deployment)
	EmitDeploymentLog(deploymentID, projectID uuid.UUID, line string)
	EmitDeploymentCompleted(d *Deployment)
}

// Notification is the payload handed to the notification sink.
type Notification struct {
	ProjectName   string  `json:"project_name"`
	DeploymentID  string  `json:"deployment_id"`
	Status        string  `json:"status"`
	Branch        string  `json:"branch"`
	CommitHash    string  `json:"commit_hash"`
	CommitMessage string  `json:"commit_message,omitempty"`
	Author        string  `json:"author,omitempty"`
	Duration      float64 `json:"duration,omitempty"`
	Error         string  `json:"error,omitempty"`
	URL           string  `json:"url,omitempty"`
}

// Notifier delivers deployment notifications. Delivery failures never affect
// deployment status.
type Notifier interface {
	SendDeploymentNotification(ctx context.Context, n Notification)
}
