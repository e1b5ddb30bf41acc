package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/irgordon/deploycenter/internal/core/domain"
)

// ProjectRepo implements domain.ProjectRepository for PostgreSQL. The
// pipeline, deployment paths and encrypted key blob live in JSONB columns
// so project shape changes never need a migration.
type ProjectRepo struct {
	pool *pgxpool.Pool
}

func NewProjectRepo(pool *pgxpool.Pool) *ProjectRepo {
	return &ProjectRepo{pool: pool}
}

func (r *ProjectRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	query := `
		SELECT id, name, repo_url, default_branch, environment, active,
		       deployment_paths, pipeline, build_command, build_output,
		       use_ssh_key, encrypted_ssh_key, ssh_key_fingerprint,
		       webhook_secret, auto_deploy, deploy_on_paths,
		       sync_ignore_patterns, rsync_options,
		       created_at, updated_at
		FROM projects
		WHERE id = $1
	`

	var p domain.Project
	var pathsJSON, pipelineJSON, keyJSON, deployOnJSON, ignoresJSON []byte

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.RepoURL, &p.DefaultBranch, &p.Environment, &p.Active,
		&pathsJSON, &pipelineJSON, &p.BuildCommand, &p.BuildOutput,
		&p.UseSSHKey, &keyJSON, &p.SSHKeyFingerprint,
		&p.WebhookSecret, &p.AutoDeploy, &deployOnJSON,
		&ignoresJSON, &p.RsyncOptions,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get project: %w", err)
	}

	for _, pair := range []struct {
		raw []byte
		dst any
	}{
		{pathsJSON, &p.DeploymentPaths},
		{pipelineJSON, &p.Pipeline},
		{deployOnJSON, &p.DeployOnPaths},
		{ignoresJSON, &p.SyncIgnorePatterns},
	} {
		if len(pair.raw) > 0 {
			if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
				return nil, fmt.Errorf("postgres: decode project field: %w", err)
			}
		}
	}
	if len(keyJSON) > 0 {
		var blob domain.EncryptedBlob
		if err := json.Unmarshal(keyJSON, &blob); err != nil {
			return nil, fmt.Errorf("postgres: decode key blob: %w", err)
		}
		if blob.Complete() {
			p.EncryptedSSHKey = &blob
		}
	}

	return &p, nil
}

// Create inserts a project and scans the generated timestamps back.
func (r *ProjectRepo) Create(ctx context.Context, p *domain.Project) error {
	query := `
		INSERT INTO projects (id, name, repo_url, default_branch, environment, active,
		                      deployment_paths, pipeline, build_command, build_output,
		                      use_ssh_key, encrypted_ssh_key, ssh_key_fingerprint,
		                      webhook_secret, auto_deploy, deploy_on_paths,
		                      sync_ignore_patterns, rsync_options)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING created_at, updated_at
	`
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	pathsJSON, _ := json.Marshal(p.DeploymentPaths)
	pipelineJSON, _ := json.Marshal(p.Pipeline)
	deployOnJSON, _ := json.Marshal(p.DeployOnPaths)
	ignoresJSON, _ := json.Marshal(p.SyncIgnorePatterns)
	var keyJSON []byte
	if p.EncryptedSSHKey != nil {
		keyJSON, _ = json.Marshal(p.EncryptedSSHKey)
	}

	err := r.pool.QueryRow(ctx, query,
		p.ID, p.Name, p.RepoURL, p.DefaultBranch, p.Environment, p.Active,
		pathsJSON, pipelineJSON, p.BuildCommand, p.BuildOutput,
		p.UseSSHKey, keyJSON, p.SSHKeyFingerprint,
		p.WebhookSecret, p.AutoDeploy, deployOnJSON,
		ignoresJSON, p.RsyncOptions,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create project: %w", err)
	}
	return nil
}

// List returns project summaries, newest first. Secrets and pipelines are
// not part of the list shape.
func (r *ProjectRepo) List(ctx context.Context) ([]domain.Project, error) {
	query := `
		SELECT id, name, repo_url, default_branch, environment, active,
		       auto_deploy, created_at, updated_at
		FROM projects
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list projects: %w", err)
	}
	defer rows.Close()

	summaries, err := pgx.CollectRows(rows, pgx.RowToStructByName[projectRow])
	if err != nil {
		return nil, fmt.Errorf("postgres: collect projects: %w", err)
	}

	out := make([]domain.Project, len(summaries))
	for i, s := range summaries {
		out[i] = domain.Project{
			ID:            s.ID,
			Name:          s.Name,
			RepoURL:       s.RepoURL,
			DefaultBranch: s.DefaultBranch,
			Environment:   s.Environment,
			Active:        s.Active,
			AutoDeploy:    s.AutoDeploy,
			CreatedAt:     s.CreatedAt,
			UpdatedAt:     s.UpdatedAt,
		}
	}
	return out, nil
}

// projectRow is the summary shape of the project list endpoint.
type projectRow struct {
	ID            uuid.UUID `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	RepoURL       string    `json:"repo_url" db:"repo_url"`
	DefaultBranch string    `json:"default_branch" db:"default_branch"`
	Environment   string    `json:"environment" db:"environment"`
	Active        bool      `json:"active" db:"active"`
	AutoDeploy    bool      `json:"auto_deploy" db:"auto_deploy"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}
