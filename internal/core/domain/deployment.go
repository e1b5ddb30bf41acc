package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeploymentStatus is the lifecycle state of a deployment. Queued may move to
// InProgress or Cancelled; InProgress may move to Success or Failed; the rest
// are terminal.
type DeploymentStatus string

const (
	StatusQueued     DeploymentStatus = "queued"
	StatusInProgress DeploymentStatus = "in_progress"
	StatusSuccess    DeploymentStatus = "success"
	StatusFailed     DeploymentStatus = "failed"
	StatusCancelled  DeploymentStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s DeploymentStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// TriggerType records what started a deployment.
type TriggerType string

const (
	TriggerWebhook TriggerType = "webhook"
	TriggerManual  TriggerType = "manual"
	TriggerRetry   TriggerType = "retry"
)

// CommitUnknown is the sentinel commit hash carried by manual deployments
// until the remote head (or the cloned HEAD) resolves it.
const CommitUnknown = "unknown"

// Deployment is one attempt to build and publish a project at a commit.
type Deployment struct {
	ID        uuid.UUID        `json:"id"`
	ProjectID uuid.UUID        `json:"project_id"`
	Status    DeploymentStatus `json:"status"`
	Trigger   TriggerType      `json:"trigger"`

	Branch        string `json:"branch"`
	CommitHash    string `json:"commit_hash"`
	CommitMessage string `json:"commit_message,omitempty"`
	Author        string `json:"author,omitempty"`
	TriggeredBy   string `json:"triggered_by,omitempty"`

	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds"`

	ErrorMessage string `json:"error_message,omitempty"`
	LogPath      string `json:"log_path,omitempty"`
}

// StepStatus is the lifecycle state of a single recorded step.
type StepStatus string

const (
	StepRunning StepStatus = "running"
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// CloneStepNumber is reserved for the implicit repository clone; user steps
// are numbered 1..N.
const CloneStepNumber = 0

// DeploymentStep is the durable record of one attempted step.
type DeploymentStep struct {
	ID           uuid.UUID  `json:"id"`
	DeploymentID uuid.UUID  `json:"deployment_id"`
	StepNumber   int        `json:"step_number"`
	Name         string     `json:"name"`
	Status       StepStatus `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Duration     float64    `json:"duration_seconds"`
	Output       string     `json:"output,omitempty"`
	ErrorOutput  string     `json:"error_output,omitempty"`
}
