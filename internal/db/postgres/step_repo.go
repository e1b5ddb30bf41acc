package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/irgordon/deploycenter/internal/core/domain"
)

// StepRepo implements domain.StepRepository for PostgreSQL.
type StepRepo struct {
	pool *pgxpool.Pool
}

func NewStepRepo(pool *pgxpool.Pool) *StepRepo {
	return &StepRepo{pool: pool}
}

func (r *StepRepo) CreateRunning(ctx context.Context, s *domain.DeploymentStep) error {
	query := `
		INSERT INTO deployment_steps (id, deployment_id, step_number, name, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, query,
		s.ID, s.DeploymentID, s.StepNumber, s.Name, s.Status, s.StartedAt)
	if err != nil {
		return fmt.Errorf("postgres: create step: %w", err)
	}
	return nil
}

func (r *StepRepo) Finish(ctx context.Context, id uuid.UUID, status domain.StepStatus, at time.Time, duration float64, output, errOutput string) error {
	query := `
		UPDATE deployment_steps
		SET status = $1, completed_at = $2, duration_seconds = $3, output = $4, error_output = $5
		WHERE id = $6
	`
	tag, err := r.pool.Exec(ctx, query, status, at, duration, output, errOutput, id)
	if err != nil {
		return fmt.Errorf("postgres: finish step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *StepRepo) ListForDeployment(ctx context.Context, deploymentID uuid.UUID) ([]domain.DeploymentStep, error) {
	query := `
		SELECT id, deployment_id, step_number, name, status, started_at,
		       completed_at, duration_seconds, output, error_output
		FROM deployment_steps
		WHERE deployment_id = $1
		ORDER BY step_number ASC
	`
	rows, err := r.pool.Query(ctx, query, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list steps: %w", err)
	}
	defer rows.Close()

	var out []domain.DeploymentStep
	for rows.Next() {
		var s domain.DeploymentStep
		if err := rows.Scan(
			&s.ID, &s.DeploymentID, &s.StepNumber, &s.Name, &s.Status,
			&s.StartedAt, &s.CompletedAt, &s.Duration, &s.Output, &s.ErrorOutput,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan step: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
