package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// EncryptedBlob is the stored form of a secret: AES-256-GCM ciphertext with
// its IV and authentication tag, all hex encoded. The three parts travel
// together; a blob missing any of them is unusable.
type EncryptedBlob struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	AuthTag    string `json:"auth_tag"`
}

// Complete reports whether all three parts of the blob are present.
func (b *EncryptedBlob) Complete() bool {
	return b != nil && b.Ciphertext != "" && b.IV != "" && b.AuthTag != ""
}

// PipelineStep is one named group of shell commands in a project pipeline.
// RunIf, when non-empty, is a boolean expression over the deployment context
// deciding whether the step executes.
type PipelineStep struct {
	Name  string   `json:"name"`
	Run   []string `json:"run"`
	RunIf string   `json:"run_if,omitempty"`
}

// Project is the unit of configuration the controller deploys. It is owned
// by the external persistence layer; the core only reads it.
type Project struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	RepoURL       string    `json:"repo_url"`
	DefaultBranch string    `json:"default_branch"`
	Environment   string    `json:"environment"`
	Active        bool      `json:"active"`

	// DeploymentPaths are the production directories the build is published
	// into. At least one is required.
	DeploymentPaths []string       `json:"deployment_paths"`
	Pipeline        []PipelineStep `json:"pipeline"`

	// BuildCommand is the project's canonical build invocation, surfaced to
	// pipelines as {{BuildCommand}}. It is informational; only Pipeline
	// steps actually run.
	BuildCommand string `json:"build_command,omitempty"`

	// BuildOutput, when set, names the workspace subdirectory that is
	// published instead of the workspace root.
	BuildOutput string `json:"build_output,omitempty"`

	UseSSHKey         bool           `json:"use_ssh_key"`
	EncryptedSSHKey   *EncryptedBlob `json:"-"`
	SSHKeyFingerprint string         `json:"ssh_key_fingerprint,omitempty"`

	WebhookSecret string   `json:"-"`
	AutoDeploy    bool     `json:"auto_deploy"`
	DeployOnPaths []string `json:"deploy_on_paths,omitempty"`

	SyncIgnorePatterns []string `json:"sync_ignore_patterns,omitempty"`
	RsyncOptions       string   `json:"rsync_options,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	ErrProjectInactive   = errors.New("project is not active")
	ErrNoDeploymentPaths = errors.New("project has no deployment paths")
	ErrIncompleteSSHKey  = errors.New("project requests SSH but the stored key blob is incomplete")
)

// Validate checks the structural invariants the core relies on.
func (p *Project) Validate() error {
	if len(p.DeploymentPaths) == 0 {
		return ErrNoDeploymentPaths
	}
	if p.UseSSHKey && !p.EncryptedSSHKey.Complete() {
		return ErrIncompleteSSHKey
	}
	return nil
}

// HasPipeline reports whether the project defines user steps. An empty
// pipeline is the legacy sync-only mode: clone then publish.
func (p *Project) HasPipeline() bool {
	return len(p.Pipeline) > 0
}
