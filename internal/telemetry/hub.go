package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/irgordon/deploycenter/internal/core/domain"
)

// EventKind is the type tag carried by every hub event.
type EventKind string

const (
	EventDeploymentUpdated   EventKind = "deployment:updated"
	EventDeploymentLog       EventKind = "deployment:log"
	EventDeploymentCompleted EventKind = "deployment:completed"
)

// Event is one real-time message delivered to subscribers.
type Event struct {
	Kind         EventKind          `json:"event"`
	DeploymentID uuid.UUID          `json:"deployment_id"`
	ProjectID    uuid.UUID          `json:"project_id"`
	Line         string             `json:"line,omitempty"`
	Deployment   *domain.Deployment `json:"deployment,omitempty"`
	At           time.Time          `json:"at"`
}

// Hub fans deployment progress out to subscribers joined to per-deployment
// and per-project rooms. Delivery is best-effort: a subscriber whose buffer
// is full misses events rather than stalling the producer.
type Hub struct {
	mu          sync.RWMutex
	deployRooms map[uuid.UUID][]chan Event
	projRooms   map[uuid.UUID][]chan Event
}

func NewHub() *Hub {
	return &Hub{
		deployRooms: make(map[uuid.UUID][]chan Event),
		projRooms:   make(map[uuid.UUID][]chan Event),
	}
}

// Subscribe joins the room for one deployment.
func (h *Hub) Subscribe(deploymentID uuid.UUID) chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, 100) // Buffer to prevent slow clients from blocking the worker
	h.deployRooms[deploymentID] = append(h.deployRooms[deploymentID], ch)
	return ch
}

// SubscribeProject joins the room carrying every deployment of a project.
func (h *Hub) SubscribeProject(projectID uuid.UUID) chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, 100)
	h.projRooms[projectID] = append(h.projRooms[projectID], ch)
	return ch
}

// Unsubscribe removes a client channel from a deployment room and closes it.
func (h *Hub) Unsubscribe(deploymentID uuid.UUID, ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deployRooms[deploymentID] = removeChan(h.deployRooms[deploymentID], ch)
	if len(h.deployRooms[deploymentID]) == 0 {
		delete(h.deployRooms, deploymentID)
	}
}

// UnsubscribeProject removes a client channel from a project room.
func (h *Hub) UnsubscribeProject(projectID uuid.UUID, ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.projRooms[projectID] = removeChan(h.projRooms[projectID], ch)
	if len(h.projRooms[projectID]) == 0 {
		delete(h.projRooms, projectID)
	}
}

func removeChan(subs []chan Event, ch chan Event) []chan Event {
	for i, sub := range subs {
		if sub == ch {
			close(ch)
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}

// EmitDeploymentUpdated broadcasts a status change.
func (h *Hub) EmitDeploymentUpdated(d *domain.Deployment) {
	h.broadcast(Event{
		Kind:         EventDeploymentUpdated,
		DeploymentID: d.ID,
		ProjectID:    d.ProjectID,
		Deployment:   d,
		At:           time.Now(),
	})
}

// EmitDeploymentLog broadcasts one log line.
func (h *Hub) EmitDeploymentLog(deploymentID, projectID uuid.UUID, line string) {
	h.broadcast(Event{
		Kind:         EventDeploymentLog,
		DeploymentID: deploymentID,
		ProjectID:    projectID,
		Line:         line,
		At:           time.Now(),
	})
}

// EmitDeploymentCompleted broadcasts the terminal transition.
func (h *Hub) EmitDeploymentCompleted(d *domain.Deployment) {
	h.broadcast(Event{
		Kind:         EventDeploymentCompleted,
		DeploymentID: d.ID,
		ProjectID:    d.ProjectID,
		Deployment:   d,
		At:           time.Now(),
	})
}

func (h *Hub) broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.deployRooms[ev.DeploymentID] {
		select {
		case ch <- ev:
		default: // Drop event if buffer is full; progress must never block
		}
	}
	for _, ch := range h.projRooms[ev.ProjectID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
