package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/irgordon/deploycenter/internal/core/domain"
)

// DeploymentRepo implements domain.DeploymentRepository for PostgreSQL.
type DeploymentRepo struct {
	pool *pgxpool.Pool
}

func NewDeploymentRepo(pool *pgxpool.Pool) *DeploymentRepo {
	return &DeploymentRepo{pool: pool}
}

const deploymentColumns = `
	id, project_id, status, trigger_type, branch, commit_hash, commit_message,
	author, triggered_by, created_at, started_at, completed_at,
	duration_seconds, error_message
`

func (r *DeploymentRepo) Create(ctx context.Context, d *domain.Deployment) error {
	query := `
		INSERT INTO deployments (id, project_id, status, trigger_type, branch,
		                         commit_hash, commit_message, author, triggered_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`
	err := r.pool.QueryRow(ctx, query,
		d.ID, d.ProjectID, d.Status, d.Trigger, d.Branch,
		d.CommitHash, d.CommitMessage, d.Author, d.TriggeredBy,
	).Scan(&d.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create deployment: %w", err)
	}
	return nil
}

func (r *DeploymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`

	var d domain.Deployment
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&d.ID, &d.ProjectID, &d.Status, &d.Trigger, &d.Branch,
		&d.CommitHash, &d.CommitMessage, &d.Author, &d.TriggeredBy,
		&d.CreatedAt, &d.StartedAt, &d.CompletedAt,
		&d.DurationSeconds, &d.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get deployment: %w", err)
	}
	return &d, nil
}

func (r *DeploymentRepo) ListCompletedForProject(ctx context.Context, projectID uuid.UUID, limit int) ([]domain.Deployment, error) {
	query := `
		SELECT ` + deploymentColumns + `
		FROM deployments
		WHERE project_id = $1 AND status IN ('success', 'failed', 'cancelled')
		ORDER BY created_at DESC
	`
	args := []any{projectID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list completed deployments: %w", err)
	}
	defer rows.Close()

	return collectDeployments(rows)
}

// ListForProject returns recent deployments in every state, newest first.
func (r *DeploymentRepo) ListForProject(ctx context.Context, projectID uuid.UUID, limit int) ([]domain.Deployment, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `
		SELECT ` + deploymentColumns + `
		FROM deployments
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list deployments: %w", err)
	}
	defer rows.Close()

	return collectDeployments(rows)
}

func (r *DeploymentRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.DeploymentStatus) error {
	// Terminal states are immutable; the guard keeps a racing cancel from
	// clobbering a finished record.
	query := `
		UPDATE deployments SET status = $1
		WHERE id = $2 AND status NOT IN ('success', 'failed', 'cancelled')
	`
	tag, err := r.pool.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("postgres: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *DeploymentRepo) MarkStarted(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE deployments SET status = 'in_progress', started_at = $1
		WHERE id = $2 AND status = 'queued'
	`
	tag, err := r.pool.Exec(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("postgres: mark started: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *DeploymentRepo) MarkCompleted(ctx context.Context, id uuid.UUID, status domain.DeploymentStatus, at time.Time, duration float64, errMsg string) error {
	query := `
		UPDATE deployments
		SET status = $1, completed_at = $2, duration_seconds = $3, error_message = $4
		WHERE id = $5 AND status NOT IN ('success', 'failed', 'cancelled')
	`
	tag, err := r.pool.Exec(ctx, query, status, at, duration, errMsg, id)
	if err != nil {
		return fmt.Errorf("postgres: mark completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *DeploymentRepo) UpdateCommit(ctx context.Context, id uuid.UUID, commitHash string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE deployments SET commit_hash = $1 WHERE id = $2`, commitHash, id)
	if err != nil {
		return fmt.Errorf("postgres: update commit: %w", err)
	}
	return nil
}

func collectDeployments(rows pgx.Rows) ([]domain.Deployment, error) {
	var out []domain.Deployment
	for rows.Next() {
		var d domain.Deployment
		if err := rows.Scan(
			&d.ID, &d.ProjectID, &d.Status, &d.Trigger, &d.Branch,
			&d.CommitHash, &d.CommitMessage, &d.Author, &d.TriggeredBy,
			&d.CreatedAt, &d.StartedAt, &d.CompletedAt,
			&d.DurationSeconds, &d.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan deployment: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
