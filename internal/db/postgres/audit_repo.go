package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/irgordon/deploycenter/internal/core/domain"
)

// AuditRepo is the append-only audit sink, backed by sqlx over the pgx
// stdlib driver. The audit trail lives apart from the operational tables
// so it can point at a separate database if the operator wants.
type AuditRepo struct {
	db *sqlx.DB
}

// NewAuditRepo opens its own connection; audit writes must not compete
// with the deployment pool.
func NewAuditRepo(databaseURL string) (*AuditRepo, error) {
	db, err := sqlx.Connect("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: audit connect: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(time.Hour)
	return &AuditRepo{db: db}, nil
}

func (r *AuditRepo) Close() error { return r.db.Close() }

func (r *AuditRepo) Append(ctx context.Context, e domain.AuditEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Detail == "" {
		e.Detail = "{}"
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO audit_log (id, action, resource_id, actor, success, detail, created_at)
		VALUES (:id, :action, :resource_id, :actor, :success, :detail, :created_at)
	`, e)
	if err != nil {
		return fmt.Errorf("postgres: audit append: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (r *AuditRepo) Recent(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	var out []domain.AuditEntry
	err := r.db.SelectContext(ctx, &out, `
		SELECT id, action, resource_id, actor, success, detail, created_at
		FROM audit_log
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: audit list: %w", err)
	}
	return out, nil
}
