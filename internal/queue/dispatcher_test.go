package queue

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcher_FIFOWithinProject(t *testing.T) {
	d := NewDispatcher(testLogger(), nil)
	projID := uuid.New()

	var mu sync.Mutex
	var order []int

	// A gate so every unit is enqueued before the first one runs.
	gate := make(chan struct{})
	d.Add(uuid.New(), projID, func() { <-gate }, PriorityWebhook)
	for i := 0; i < 5; i++ {
		i := i
		d.Add(uuid.New(), projID, func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}, PriorityWebhook)
	}
	close(gate)
	d.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestDispatcher_PriorityPreemptsPending(t *testing.T) {
	d := NewDispatcher(testLogger(), nil)
	projID := uuid.New()

	var mu sync.Mutex
	var order []string

	gate := make(chan struct{})
	d.Add(uuid.New(), projID, func() { <-gate }, PriorityWebhook)

	record := func(tag string) func() {
		return func() {
			mu.Lock()
			order = append(order, tag)
			mu.Unlock()
		}
	}
	d.Add(uuid.New(), projID, record("hook-1"), PriorityWebhook)
	d.Add(uuid.New(), projID, record("hook-2"), PriorityWebhook)
	d.Add(uuid.New(), projID, record("manual-1"), PriorityManual)
	d.Add(uuid.New(), projID, record("manual-2"), PriorityManual)
	close(gate)
	d.Wait()

	// Manual units jump the webhook queue but stay FIFO among themselves.
	assert.Equal(t, []string{"manual-1", "manual-2", "hook-1", "hook-2"}, order)
}

func TestDispatcher_AtMostOneExecutorPerProject(t *testing.T) {
	d := NewDispatcher(testLogger(), nil)
	projID := uuid.New()

	var inFlight, maxInFlight int32
	for i := 0; i < 10; i++ {
		d.Add(uuid.New(), projID, func() {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				m := atomic.LoadInt32(&maxInFlight)
				if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		}, PriorityWebhook)
	}
	d.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))
}

func TestDispatcher_CrossProjectParallelism(t *testing.T) {
	d := NewDispatcher(testLogger(), nil)

	var wg sync.WaitGroup
	wg.Add(2)
	bothRunning := make(chan struct{})
	var running int32

	work := func() {
		if atomic.AddInt32(&running, 1) == 2 {
			close(bothRunning)
		}
		wg.Done()
		<-bothRunning // hold until both projects are in flight
	}

	d.Add(uuid.New(), uuid.New(), work, PriorityWebhook)
	d.Add(uuid.New(), uuid.New(), work, PriorityWebhook)

	select {
	case <-bothRunning:
	case <-time.After(2 * time.Second):
		t.Fatal("projects did not run in parallel")
	}
	d.Wait()
}

func TestDispatcher_CancelPending(t *testing.T) {
	d := NewDispatcher(testLogger(), nil)
	projID := uuid.New()

	gate := make(chan struct{})
	ran := int32(0)
	d.Add(uuid.New(), projID, func() { <-gate }, PriorityWebhook)
	for i := 0; i < 3; i++ {
		d.Add(uuid.New(), projID, func() { atomic.AddInt32(&ran, 1) }, PriorityWebhook)
	}

	n := d.CancelPending(projID)
	assert.Equal(t, 3, n)

	close(gate)
	d.Wait()
	assert.Equal(t, int32(0), atomic.LoadInt32(&ran), "cancelled units must not run")

	// The running unit was unaffected and a fresh Add restarts the processor.
	done := make(chan struct{})
	d.Add(uuid.New(), projID, func() { close(done) }, PriorityWebhook)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not restart after drain")
	}
}

func TestDispatcher_CancelUnit(t *testing.T) {
	d := NewDispatcher(testLogger(), nil)
	projID := uuid.New()
	target := uuid.New()

	gate := make(chan struct{})
	d.Add(uuid.New(), projID, func() { <-gate }, PriorityWebhook)
	d.Add(target, projID, func() { t.Error("cancelled unit ran") }, PriorityWebhook)

	require.True(t, d.CancelUnit(projID, target))
	require.False(t, d.CancelUnit(projID, target), "second cancel finds nothing")

	close(gate)
	d.Wait()
}

func TestDispatcher_PanicDoesNotKillProcessor(t *testing.T) {
	events := make(chan Event, 16)
	d := NewDispatcher(testLogger(), func(ev Event) { events <- ev })
	projID := uuid.New()

	done := make(chan struct{})
	d.Add(uuid.New(), projID, func() { panic("boom") }, PriorityWebhook)
	d.Add(uuid.New(), projID, func() { close(done) }, PriorityWebhook)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("unit after panic never ran")
	}
	d.Wait()

	var kinds []EventKind
	close(events)
	for ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Contains(t, kinds, UnitFailed)
	assert.Contains(t, kinds, UnitCompleted)
}

func TestDispatcher_Status(t *testing.T) {
	d := NewDispatcher(testLogger(), nil)
	projID := uuid.New()

	gate := make(chan struct{})
	d.Add(uuid.New(), projID, func() { <-gate }, PriorityWebhook)
	d.Add(uuid.New(), projID, func() {}, PriorityWebhook)

	// Give the processor a moment to pick up the head unit.
	deadline := time.Now().Add(2 * time.Second)
	for {
		st := d.Status()
		if len(st) == 1 && st[0].Running && st[0].Pending == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("unexpected status: %+v", st)
		}
		time.Sleep(time.Millisecond)
	}

	close(gate)
	d.Wait()
}
