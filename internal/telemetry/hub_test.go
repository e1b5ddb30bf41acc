package telemetry

import (
	"testing"

	"github.com/google/uuid"

	"github.com/irgordon/deploycenter/internal/core/domain"
)

func TestHub_DeploymentRoom(t *testing.T) {
	hub := NewHub()
	depID := uuid.New()
	projID := uuid.New()

	ch := hub.Subscribe(depID)
	defer hub.Unsubscribe(depID, ch)

	hub.EmitDeploymentLog(depID, projID, "cloning repository")

	ev := <-ch
	if ev.Kind != EventDeploymentLog {
		t.Errorf("Expected %s, got %s", EventDeploymentLog, ev.Kind)
	}
	if ev.Line != "cloning repository" {
		t.Errorf("Unexpected line %q", ev.Line)
	}

	// A different deployment's events never reach this room.
	hub.EmitDeploymentLog(uuid.New(), projID, "other")
	select {
	case ev := <-ch:
		t.Errorf("Received foreign event: %+v", ev)
	default:
	}
}

func TestHub_ProjectRoomSeesAllDeployments(t *testing.T) {
	hub := NewHub()
	projID := uuid.New()

	ch := hub.SubscribeProject(projID)
	defer hub.UnsubscribeProject(projID, ch)

	d1 := &domain.Deployment{ID: uuid.New(), ProjectID: projID, Status: domain.StatusQueued}
	d2 := &domain.Deployment{ID: uuid.New(), ProjectID: projID, Status: domain.StatusInProgress}

	hub.EmitDeploymentUpdated(d1)
	hub.EmitDeploymentUpdated(d2)

	first := <-ch
	second := <-ch
	if first.DeploymentID != d1.ID || second.DeploymentID != d2.ID {
		t.Error("Project room missed deployment updates")
	}
}

func TestHub_DropOnFullBuffer(t *testing.T) {
	hub := NewHub()
	depID := uuid.New()
	projID := uuid.New()

	ch := hub.Subscribe(depID)
	defer hub.Unsubscribe(depID, ch)

	// Flood past the buffer; the producer must not block.
	for i := 0; i < 500; i++ {
		hub.EmitDeploymentLog(depID, projID, "line")
	}

	if len(ch) != cap(ch) {
		t.Errorf("Expected full buffer %d, got %d", cap(ch), len(ch))
	}
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	depID := uuid.New()

	ch := hub.Subscribe(depID)
	hub.Unsubscribe(depID, ch)

	if _, open := <-ch; open {
		t.Error("Expected channel closed after unsubscribe")
	}

	// Emitting after the last unsubscribe is a no-op.
	hub.EmitDeploymentCompleted(&domain.Deployment{ID: depID})
}
