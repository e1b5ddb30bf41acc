package queue

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Priority convention: manual triggers preempt webhook pushes but never an
// already-running unit.
const (
	PriorityWebhook = 0
	PriorityManual  = 10
)

// Unit is one pending piece of work for a project.
type Unit struct {
	DeploymentID uuid.UUID
	Priority     int
	Run          func()
}

// EventKind tags dispatcher lifecycle events.
type EventKind string

const (
	UnitQueued    EventKind = "queued"
	UnitStarted   EventKind = "started"
	UnitCompleted EventKind = "completed"
	UnitFailed    EventKind = "failed"
)

// Event is the observable hook emitted around unit execution.
type Event struct {
	Kind         EventKind
	ProjectID    uuid.UUID
	DeploymentID uuid.UUID
}

// ProjectStatus is one row of Dispatcher.Status.
type ProjectStatus struct {
	ProjectID uuid.UUID `json:"project_id"`
	Pending   int       `json:"pending"`
	Running   bool      `json:"running"`
}

type projectQueue struct {
	pending []Unit
	running bool
}

// Dispatcher serialises execution per project while allowing parallelism
// across projects: one cooperative processor goroutine per project, created
// lazily on first Add and exiting when the project's list drains.
type Dispatcher struct {
	mu       sync.Mutex
	projects map[uuid.UUID]*projectQueue
	onEvent  func(Event)
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewDispatcher builds a dispatcher. onEvent may be nil.
func NewDispatcher(logger *slog.Logger, onEvent func(Event)) *Dispatcher {
	return &Dispatcher{
		projects: make(map[uuid.UUID]*projectQueue),
		onEvent:  onEvent,
		logger:   logger,
	}
}

// Add appends a unit to the project's pending list, keeping the list sorted
// by priority descending with insertion order preserved among equals, and
// starts the project's processor if none is running. Add is synchronous: the
// work itself always runs on the processor goroutine.
func (d *Dispatcher) Add(deploymentID, projectID uuid.UUID, work func(), priority int) {
	unit := Unit{DeploymentID: deploymentID, Priority: priority, Run: work}

	d.mu.Lock()
	pq, ok := d.projects[projectID]
	if !ok {
		pq = &projectQueue{}
		d.projects[projectID] = pq
	}

	// Stable priority-descending insertion: walk past every unit with
	// priority >= ours so equal priorities stay FIFO.
	idx := len(pq.pending)
	for i, u := range pq.pending {
		if u.Priority < priority {
			idx = i
			break
		}
	}
	pq.pending = append(pq.pending, Unit{})
	copy(pq.pending[idx+1:], pq.pending[idx:])
	pq.pending[idx] = unit

	start := !pq.running
	if start {
		pq.running = true
		d.wg.Add(1)
	}
	d.mu.Unlock()

	d.emit(Event{Kind: UnitQueued, ProjectID: projectID, DeploymentID: deploymentID})

	if start {
		go d.process(projectID)
	}
}

// CancelPending drops every still-pending unit for a project and returns how
// many were removed. A running unit is not affected.
func (d *Dispatcher) CancelPending(projectID uuid.UUID) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	pq, ok := d.projects[projectID]
	if !ok {
		return 0
	}
	n := len(pq.pending)
	pq.pending = nil
	return n
}

// CancelUnit removes one pending unit by deployment id. Returns false when
// the unit is not pending (already running or unknown).
func (d *Dispatcher) CancelUnit(projectID, deploymentID uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	pq, ok := d.projects[projectID]
	if !ok {
		return false
	}
	for i, u := range pq.pending {
		if u.DeploymentID == deploymentID {
			pq.pending = append(pq.pending[:i], pq.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Status reports pending counts and running flags for every known project.
func (d *Dispatcher) Status() []ProjectStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]ProjectStatus, 0, len(d.projects))
	for id, pq := range d.projects {
		out = append(out, ProjectStatus{ProjectID: id, Pending: len(pq.pending), Running: pq.running})
	}
	return out
}

// Wait blocks until every processor has drained. Used on shutdown and in
// tests; new Adds during Wait extend it.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// process is the per-project cooperative processor: pop the head, run it,
// repeat until the list drains, then exit. Panics are contained so a broken
// unit never takes the processor down with pending work behind it.
func (d *Dispatcher) process(projectID uuid.UUID) {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		pq := d.projects[projectID]
		if len(pq.pending) == 0 {
			pq.running = false
			d.mu.Unlock()
			return
		}
		unit := pq.pending[0]
		pq.pending = pq.pending[1:]
		d.mu.Unlock()

		d.emit(Event{Kind: UnitStarted, ProjectID: projectID, DeploymentID: unit.DeploymentID})
		if err := d.runUnit(unit); err != nil {
			d.logger.Error("queued unit failed",
				slog.String("project_id", projectID.String()),
				slog.String("deployment_id", unit.DeploymentID.String()),
				slog.Any("error", err))
			d.emit(Event{Kind: UnitFailed, ProjectID: projectID, DeploymentID: unit.DeploymentID})
			continue
		}
		d.emit(Event{Kind: UnitCompleted, ProjectID: projectID, DeploymentID: unit.DeploymentID})
	}
}

func (d *Dispatcher) runUnit(u Unit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue: unit panicked: %v", r)
		}
	}()
	u.Run()
	return nil
}

func (d *Dispatcher) emit(ev Event) {
	if d.onEvent != nil {
		d.onEvent(ev)
	}
}
