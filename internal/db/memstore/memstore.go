// Package memstore provides in-memory implementations of the persistence
// interfaces for tests and single-binary development mode.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/irgordon/deploycenter/internal/core/domain"
)

// Store holds every record type behind one mutex. The typed views returned
// by Projects/Deployments/Steps/Audit satisfy the domain interfaces.
type Store struct {
	mu          sync.RWMutex
	projects    map[uuid.UUID]*domain.Project
	deployments map[uuid.UUID]*domain.Deployment
	steps       map[uuid.UUID]*domain.DeploymentStep
	audit       []domain.AuditEntry
}

func New() *Store {
	return &Store{
		projects:    make(map[uuid.UUID]*domain.Project),
		deployments: make(map[uuid.UUID]*domain.Deployment),
		steps:       make(map[uuid.UUID]*domain.DeploymentStep),
	}
}

func (s *Store) Projects() ProjectView                    { return ProjectView{s} }
func (s *Store) Deployments() domain.DeploymentRepository { return deploymentView{s} }
func (s *Store) Steps() domain.StepRepository             { return stepView{s} }
func (s *Store) Audit() domain.AuditSink                  { return auditView{s} }

// PutProject inserts or replaces a project.
func (s *Store) PutProject(p *domain.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.projects[p.ID] = &cp
}

// AuditEntries returns a copy of everything appended so far.
func (s *Store) AuditEntries() []domain.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.AuditEntry(nil), s.audit...)
}

// ---- projects ----

// ProjectView implements domain.ProjectRepository plus the write surface
// the HTTP gateway needs in development mode.
type ProjectView struct{ s *Store }

func (v ProjectView) GetByID(ctx context.Context, id uuid.UUID) (*domain.Project, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	p, ok := v.s.projects[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (v ProjectView) Create(ctx context.Context, p *domain.Project) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	v.s.projects[p.ID] = &cp
	return nil
}

func (v ProjectView) List(ctx context.Context) ([]domain.Project, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	out := make([]domain.Project, 0, len(v.s.projects))
	for _, p := range v.s.projects {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ---- deployments ----

type deploymentView struct{ s *Store }

func (v deploymentView) Create(ctx context.Context, d *domain.Deployment) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	cp := *d
	v.s.deployments[d.ID] = &cp
	return nil
}

func (v deploymentView) GetByID(ctx context.Context, id uuid.UUID) (*domain.Deployment, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	d, ok := v.s.deployments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (v deploymentView) ListCompletedForProject(ctx context.Context, projectID uuid.UUID, limit int) ([]domain.Deployment, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []domain.Deployment
	for _, d := range v.s.deployments {
		if d.ProjectID == projectID && d.Status.Terminal() {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// The transition guards mirror the SQL repository: terminal records never
// move again, and only queued records can start.
func (v deploymentView) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.DeploymentStatus) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	d, ok := v.s.deployments[id]
	if !ok || d.Status.Terminal() {
		return domain.ErrNotFound
	}
	d.Status = status
	return nil
}

func (v deploymentView) MarkStarted(ctx context.Context, id uuid.UUID, at time.Time) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	d, ok := v.s.deployments[id]
	if !ok || d.Status != domain.StatusQueued {
		return domain.ErrNotFound
	}
	d.Status = domain.StatusInProgress
	d.StartedAt = &at
	return nil
}

func (v deploymentView) MarkCompleted(ctx context.Context, id uuid.UUID, status domain.DeploymentStatus, at time.Time, duration float64, errMsg string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	d, ok := v.s.deployments[id]
	if !ok || d.Status.Terminal() {
		return domain.ErrNotFound
	}
	d.Status = status
	d.CompletedAt = &at
	d.DurationSeconds = duration
	d.ErrorMessage = errMsg
	return nil
}

func (v deploymentView) UpdateCommit(ctx context.Context, id uuid.UUID, commitHash string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	d, ok := v.s.deployments[id]
	if !ok {
		return domain.ErrNotFound
	}
	d.CommitHash = commitHash
	return nil
}

// ---- steps ----

type stepView struct{ s *Store }

func (v stepView) CreateRunning(ctx context.Context, step *domain.DeploymentStep) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	cp := *step
	v.s.steps[step.ID] = &cp
	return nil
}

func (v stepView) Finish(ctx context.Context, id uuid.UUID, status domain.StepStatus, at time.Time, duration float64, output, errOutput string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	st, ok := v.s.steps[id]
	if !ok {
		return domain.ErrNotFound
	}
	st.Status = status
	st.CompletedAt = &at
	st.Duration = duration
	st.Output = output
	st.ErrorOutput = errOutput
	return nil
}

func (v stepView) ListForDeployment(ctx context.Context, deploymentID uuid.UUID) ([]domain.DeploymentStep, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []domain.DeploymentStep
	for _, st := range v.s.steps {
		if st.DeploymentID == deploymentID {
			out = append(out, *st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out, nil
}

// ---- audit ----

type auditView struct{ s *Store }

func (v auditView) Append(ctx context.Context, e domain.AuditEntry) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	v.s.audit = append(v.s.audit, e)
	return nil
}
